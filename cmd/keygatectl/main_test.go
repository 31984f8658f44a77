package main

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MacJediWizard/keygate/internal/license"
	"github.com/MacJediWizard/keygate/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockMigrator struct {
	applied int
	version int
	err     error
}

func (m *mockMigrator) Migrate(context.Context) (int, error)        { return m.applied, m.err }
func (m *mockMigrator) CurrentVersion(context.Context) (int, error) { return m.version, nil }

type mockStore struct {
	products  map[string]*models.Product
	licenses  []*models.License
	customers []*models.Customer
	endpoints []*models.WebhookEndpoint
	createErr error
}

func (m *mockStore) GetProductBySlug(_ context.Context, slug string) (*models.Product, error) {
	if p, ok := m.products[slug]; ok {
		return p, nil
	}
	return nil, models.ErrNotFound
}

func (m *mockStore) FindOrCreateCustomer(_ context.Context, c *models.Customer) (*models.Customer, error) {
	for _, existing := range m.customers {
		if existing.Email == c.Email {
			return existing, nil
		}
	}
	m.customers = append(m.customers, c)
	return c, nil
}

func (m *mockStore) GetCustomerByID(_ context.Context, id uuid.UUID) (*models.Customer, error) {
	for _, c := range m.customers {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *mockStore) GetLicenseByID(_ context.Context, id uuid.UUID) (*models.License, error) {
	for _, l := range m.licenses {
		if l.ID == id {
			return l, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *mockStore) GetLicenseByKey(_ context.Context, key uuid.UUID) (*models.License, error) {
	for _, l := range m.licenses {
		if l.Key == key {
			return l, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *mockStore) ListActivations(context.Context, uuid.UUID) ([]*models.Activation, error) {
	return nil, nil
}

func (m *mockStore) ListWebhookEndpoints(context.Context) ([]*models.WebhookEndpoint, error) {
	return m.endpoints, nil
}

func (m *mockStore) CreateWebhookEndpoint(_ context.Context, e *models.WebhookEndpoint) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.endpoints = append(m.endpoints, e)
	return nil
}

type mockLicenses struct {
	issued    []*models.License
	actor     models.Actor
	trigger   license.Trigger
	changeErr error
	store     *mockStore
}

func (m *mockLicenses) Issue(_ context.Context, actor models.Actor, l *models.License) error {
	m.actor = actor
	m.issued = append(m.issued, l)
	m.store.licenses = append(m.store.licenses, l)
	return nil
}

func (m *mockLicenses) ChangeStatus(_ context.Context, actor models.Actor, licenseID uuid.UUID, trigger license.Trigger) (*models.License, error) {
	m.actor = actor
	m.trigger = trigger
	if m.changeErr != nil {
		return nil, m.changeErr
	}
	l, err := m.store.GetLicenseByID(context.Background(), licenseID)
	if err != nil {
		return nil, err
	}
	updated := *l
	updated.Status = models.LicenseStatusSuspended
	return &updated, nil
}

type mockEncrypter struct{}

func (mockEncrypter) Encrypt(p []byte) ([]byte, error) { return append([]byte("sealed:"), p...), nil }

type auditEntry struct {
	action models.AuditAction
	result models.AuditResult
}

type recordingAuditor struct {
	entries []auditEntry
}

func (r *recordingAuditor) Record(_ context.Context, _ models.Actor, action models.AuditAction, _ string, _ uuid.UUID, result models.AuditResult, _ map[string]any) {
	r.entries = append(r.entries, auditEntry{action: action, result: result})
}

type mockPurger struct {
	retention time.Duration
}

func (m *mockPurger) Purge(_ context.Context, retention time.Duration) (int64, error) {
	m.retention = retention
	return 7, nil
}

type fixture struct {
	migrator *mockMigrator
	store    *mockStore
	licenses *mockLicenses
	auditor  *recordingAuditor
	purger   *mockPurger
	product  *models.Product
}

func newFixture() *fixture {
	product := &models.Product{ID: uuid.New(), Slug: "my-plugin", Name: "My Plugin"}
	store := &mockStore{products: map[string]*models.Product{product.Slug: product}}
	return &fixture{
		migrator: &mockMigrator{applied: 2, version: 3},
		store:    store,
		licenses: &mockLicenses{store: store},
		auditor:  &recordingAuditor{},
		purger:   &mockPurger{},
		product:  product,
	}
}

func (f *fixture) open(context.Context, *globalOptions) (*app, error) {
	return &app{
		Migrator:       f.migrator,
		Store:          f.store,
		Licenses:       f.licenses,
		Encrypter:      mockEncrypter{},
		Auditor:        f.auditor,
		Events:         f.purger,
		EventRetention: 90 * 24 * time.Hour,
	}, nil
}

func (f *fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(f.open)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMigrate(t *testing.T) {
	f := newFixture()

	out, err := f.run(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "Applied 2 migration(s); schema version 3")

	out, err = f.run(t, "migrate", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Current schema version: 3")

	f.migrator.err = errors.New("syntax error")
	_, err = f.run(t, "migrate")
	assert.ErrorContains(t, err, "syntax error")
}

func TestLicenseCreate(t *testing.T) {
	f := newFixture()

	out, err := f.run(t, "license", "create",
		"--email", "ops@example.com", "--product", "my-plugin",
		"--limit", "0", "--expires", "2027-01-01", "--with-secret", "--operator", "alice")
	require.NoError(t, err)

	require.Len(t, f.licenses.issued, 1)
	l := f.licenses.issued[0]
	assert.Equal(t, f.product.ID, l.ProductID)
	assert.Equal(t, models.LicenseTypeLifetime, l.Type)
	assert.Equal(t, 0, l.ActivationLimit)
	require.NotNil(t, l.ExpiresAt)
	assert.Equal(t, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), *l.ExpiresAt)
	assert.True(t, bytes.HasPrefix(l.SigningSecretEncrypted, []byte("sealed:")))
	assert.Equal(t, models.Actor{Type: models.ActorOperator, ID: "alice"}, f.licenses.actor)

	assert.Contains(t, out, l.Key.String())
	assert.Contains(t, out, "Signing secret (shown once)")
}

func TestLicenseCreate_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"unknown product", []string{"--email", "a@b.co", "--product", "nope"}, `product "nope" not found`},
		{"bad type", []string{"--email", "a@b.co", "--product", "my-plugin", "--type", "trial"}, "--type must be"},
		{"negative limit", []string{"--email", "a@b.co", "--product", "my-plugin", "--limit", "-1"}, "--limit must be"},
		{"bad expiry", []string{"--email", "a@b.co", "--product", "my-plugin", "--expires", "soon"}, "--expires must be"},
		{"missing email", []string{"--product", "my-plugin"}, "email"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			_, err := f.run(t, append([]string{"license", "create"}, tt.args...)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Empty(t, f.licenses.issued)
		})
	}
}

func TestLicenseTransition(t *testing.T) {
	f := newFixture()
	l := models.NewLicense(uuid.New(), f.product.ID, models.LicenseTypeLifetime, 1)
	f.store.licenses = append(f.store.licenses, l)

	t.Run("by key", func(t *testing.T) {
		out, err := f.run(t, "license", "suspend", l.Key.String())
		require.NoError(t, err)
		assert.Equal(t, license.TriggerOperatorSuspend, f.licenses.trigger)
		assert.Contains(t, out, "active -> suspended")
	})

	t.Run("each trigger", func(t *testing.T) {
		for cmd, trigger := range map[string]license.Trigger{
			"revoke":     license.TriggerOperatorRevoke,
			"expire":     license.TriggerOperatorExpire,
			"reactivate": license.TriggerOperatorReactivate,
		} {
			_, err := f.run(t, "license", cmd, l.ID.String())
			require.NoError(t, err, cmd)
			assert.Equal(t, trigger, f.licenses.trigger, cmd)
		}
	})

	t.Run("invalid transition", func(t *testing.T) {
		f.licenses.changeErr = license.ErrInvalidTransition
		defer func() { f.licenses.changeErr = nil }()
		_, err := f.run(t, "license", "revoke", l.ID.String())
		assert.ErrorContains(t, err, "cannot revoke a active license")
	})

	t.Run("unknown license", func(t *testing.T) {
		_, err := f.run(t, "license", "suspend", uuid.NewString())
		assert.ErrorContains(t, err, "not found")
	})

	t.Run("not a uuid", func(t *testing.T) {
		_, err := f.run(t, "license", "suspend", "abc")
		assert.ErrorContains(t, err, "expected a UUID")
	})
}

func TestLicenseShow(t *testing.T) {
	f := newFixture()
	customer := models.NewCustomer("buyer@example.com", "Buyer", "")
	f.store.customers = append(f.store.customers, customer)
	l := models.NewLicense(customer.ID, f.product.ID, models.LicenseTypeSubscription, 3)
	f.store.licenses = append(f.store.licenses, l)

	out, err := f.run(t, "license", "show", l.ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "buyer@example.com")
	assert.Contains(t, out, "Activations: 0 of 3")
	assert.Contains(t, out, "Expires:     never")

	out, err = f.run(t, "license", "show", "--json", l.Key.String())
	require.NoError(t, err)
	assert.Contains(t, out, `"license_key": "`+l.Key.String()+`"`)
}

func TestEndpointAdd(t *testing.T) {
	t.Run("generated secret", func(t *testing.T) {
		f := newFixture()
		out, err := f.run(t, "endpoint", "add", "--name", "crm",
			"--url", "https://crm.example.com/hooks", "--events", "license.created,license.revoked")
		require.NoError(t, err)

		require.Len(t, f.store.endpoints, 1)
		ep := f.store.endpoints[0]
		assert.Equal(t, []models.WebhookEventType{"license.created", "license.revoked"}, ep.EventTypes)
		assert.True(t, bytes.HasPrefix(ep.SecretEncrypted, []byte("sealed:")))
		assert.Contains(t, out, "Secret (shown once)")
		assert.Equal(t, []auditEntry{{models.AuditActionEndpointCreate, models.AuditResultSuccess}}, f.auditor.entries)
	})

	t.Run("all events", func(t *testing.T) {
		f := newFixture()
		_, err := f.run(t, "endpoint", "add", "--name", "all", "--url", "http://localhost:9000",
			"--events", "all", "--secret", "0123456789abcdef")
		require.NoError(t, err)
		require.Len(t, f.store.endpoints, 1)
		assert.Equal(t, models.AllWebhookEventTypes(), f.store.endpoints[0].EventTypes)
	})

	t.Run("store failure is audited", func(t *testing.T) {
		f := newFixture()
		f.store.createErr = errors.New("db down")
		_, err := f.run(t, "endpoint", "add", "--name", "crm", "--url", "https://crm.example.com",
			"--events", "license.created")
		require.Error(t, err)
		assert.Equal(t, []auditEntry{{models.AuditActionEndpointCreate, models.AuditResultFailure}}, f.auditor.entries)
	})

	rejections := []struct {
		name string
		args []string
		want string
	}{
		{"relative url", []string{"--url", "/hooks", "--events", "license.created"}, "absolute http or https"},
		{"ftp url", []string{"--url", "ftp://example.com", "--events", "license.created"}, "absolute http or https"},
		{"unknown event", []string{"--url", "https://example.com", "--events", "license.exploded"}, "unknown event type"},
		{"short secret", []string{"--url", "https://example.com", "--events", "license.created", "--secret", "short"}, "at least 16"},
	}
	for _, tt := range rejections {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			_, err := f.run(t, append([]string{"endpoint", "add", "--name", "x"}, tt.args...)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Empty(t, f.store.endpoints)
		})
	}
}

func TestEndpointList(t *testing.T) {
	f := newFixture()

	out, err := f.run(t, "endpoint", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No webhook endpoints registered")

	f.store.endpoints = append(f.store.endpoints,
		models.NewWebhookEndpoint("crm", "https://crm.example.com", nil, []models.WebhookEventType{"license.created"}))
	out, err = f.run(t, "endpoints", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "https://crm.example.com")
	assert.Contains(t, out, "license.created")
}

func TestEventsPurge(t *testing.T) {
	f := newFixture()

	out, err := f.run(t, "events", "purge")
	require.NoError(t, err)
	assert.Equal(t, 90*24*time.Hour, f.purger.retention)
	assert.Contains(t, out, "Purged 7 processed event(s)")

	_, err = f.run(t, "events", "purge", "--older-than", "48h")
	require.NoError(t, err)
	assert.Equal(t, 48*time.Hour, f.purger.retention)
}
