package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/MacJediWizard/keygate/internal/models"
	"github.com/MacJediWizard/keygate/internal/webhooks"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockWebhooksStore struct {
	endpoints map[uuid.UUID]*models.WebhookEndpoint
	logs      map[uuid.UUID]*models.WebhookLog
	created   *models.WebhookEndpoint
	updated   *models.WebhookEndpoint
	deleted   uuid.UUID
	createErr error

	lastLogEndpoint *uuid.UUID
	lastLimit       int
}

func (m *mockWebhooksStore) ListWebhookEndpoints(_ context.Context) ([]*models.WebhookEndpoint, error) {
	var out []*models.WebhookEndpoint
	for _, e := range m.endpoints {
		out = append(out, e)
	}
	return out, nil
}

func (m *mockWebhooksStore) GetWebhookEndpointByID(_ context.Context, id uuid.UUID) (*models.WebhookEndpoint, error) {
	if e, ok := m.endpoints[id]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("webhook endpoint: %w", models.ErrNotFound)
}

func (m *mockWebhooksStore) CreateWebhookEndpoint(_ context.Context, e *models.WebhookEndpoint) error {
	m.created = e
	return m.createErr
}

func (m *mockWebhooksStore) UpdateWebhookEndpoint(_ context.Context, e *models.WebhookEndpoint) error {
	m.updated = e
	return nil
}

func (m *mockWebhooksStore) DeleteWebhookEndpoint(_ context.Context, id uuid.UUID) error {
	m.deleted = id
	return nil
}

func (m *mockWebhooksStore) ListWebhookLogs(_ context.Context, endpointID *uuid.UUID, limit, _ int) ([]*models.WebhookLog, int, error) {
	m.lastLogEndpoint = endpointID
	m.lastLimit = limit
	var out []*models.WebhookLog
	for _, l := range m.logs {
		if endpointID == nil || l.EndpointID == *endpointID {
			out = append(out, l)
		}
	}
	return out, len(out), nil
}

func (m *mockWebhooksStore) GetWebhookLogByID(_ context.Context, id uuid.UUID) (*models.WebhookLog, error) {
	if l, ok := m.logs[id]; ok {
		return l, nil
	}
	return nil, fmt.Errorf("webhook log: %w", models.ErrNotFound)
}

type mockRedeliverer struct {
	log *models.WebhookLog
	err error
}

func (m *mockRedeliverer) Redeliver(_ context.Context, _ uuid.UUID) (*models.WebhookLog, error) {
	return m.log, m.err
}

type auditCall struct {
	actor      models.Actor
	action     models.AuditAction
	resourceID uuid.UUID
	result     models.AuditResult
	details    map[string]any
}

type recordingAuditor struct {
	calls []auditCall
}

func (a *recordingAuditor) Record(_ context.Context, actor models.Actor, action models.AuditAction, _ string, resourceID uuid.UUID, result models.AuditResult, details map[string]any) {
	a.calls = append(a.calls, auditCall{actor: actor, action: action, resourceID: resourceID, result: result, details: details})
}

type webhooksFixture struct {
	store       *mockWebhooksStore
	redeliverer *mockRedeliverer
	auditor     *recordingAuditor
	endpoint    *models.WebhookEndpoint
	log         *models.WebhookLog
	router      http.Handler
}

func newWebhooksFixture() *webhooksFixture {
	endpoint := models.NewWebhookEndpoint("crm", "https://crm.example.com/hooks", []byte("sealed"),
		[]models.WebhookEventType{models.WebhookEventLicenseCreated})
	log := models.NewWebhookLog(endpoint.ID, models.WebhookEventLicenseCreated, []byte(`{}`), 1700000000, 3)
	log.MarkFailed()
	redelivery := models.NewWebhookLog(endpoint.ID, log.EventName, log.Payload, log.Timestamp, 3)

	f := &webhooksFixture{
		store: &mockWebhooksStore{
			endpoints: map[uuid.UUID]*models.WebhookEndpoint{endpoint.ID: endpoint},
			logs:      map[uuid.UUID]*models.WebhookLog{log.ID: log},
		},
		redeliverer: &mockRedeliverer{log: redelivery},
		auditor:     &recordingAuditor{},
		endpoint:    endpoint,
		log:         log,
	}
	r := newTestRouter(&testOperator)
	NewWebhooksHandler(f.store, &mockEncrypter{}, f.redeliverer, f.auditor, zerolog.Nop()).RegisterRoutes(r.Group("/admin"))
	f.router = r
	return f
}

func TestAdminWebhookEventTypes(t *testing.T) {
	f := newWebhooksFixture()

	w := doRequest(t, f.router, http.MethodGet, "/admin/webhooks/event-types", nil)

	require.Equal(t, http.StatusOK, w.Code)
	types := decodeJSON(t, w)["event_types"].([]any)
	assert.Len(t, types, len(models.AllWebhookEventTypes()))
}

func TestAdminCreateWebhookEndpoint(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		f := newWebhooksFixture()

		w := doRequest(t, f.router, http.MethodPost, "/admin/webhooks/endpoints", map[string]any{
			"name":        "fulfilment",
			"url":         "https://fulfil.example.com/in",
			"secret":      "0123456789abcdef0123",
			"event_types": []string{"license.created", "payment.completed"},
		})

		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		require.NotNil(t, f.store.created)
		assert.Equal(t, "sealed:0123456789abcdef0123", string(f.store.created.SecretEncrypted))
		assert.True(t, f.store.created.Active)
		assert.NotContains(t, w.Body.String(), "0123456789abcdef0123")
		require.Len(t, f.auditor.calls, 1)
		assert.Equal(t, models.AuditActionEndpointCreate, f.auditor.calls[0].action)
		assert.Equal(t, testOperator, f.auditor.calls[0].actor)
	})

	tests := []struct {
		name string
		body map[string]any
	}{
		{"short secret", map[string]any{"name": "x", "url": "https://x.example.com", "secret": "short", "event_types": []string{"license.created"}}},
		{"unknown event", map[string]any{"name": "x", "url": "https://x.example.com", "secret": "0123456789abcdef", "event_types": []string{"license.deleted"}}},
		{"no events", map[string]any{"name": "x", "url": "https://x.example.com", "secret": "0123456789abcdef", "event_types": []string{}}},
		{"ftp url", map[string]any{"name": "x", "url": "ftp://x.example.com", "secret": "0123456789abcdef", "event_types": []string{"license.created"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newWebhooksFixture()

			w := doRequest(t, f.router, http.MethodPost, "/admin/webhooks/endpoints", tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Nil(t, f.store.created)
			assert.Empty(t, f.auditor.calls)
		})
	}
}

func TestAdminUpdateWebhookEndpoint(t *testing.T) {
	t.Run("partial update", func(t *testing.T) {
		f := newWebhooksFixture()

		w := doRequest(t, f.router, http.MethodPut, "/admin/webhooks/endpoints/"+f.endpoint.ID.String(), map[string]any{
			"active":      false,
			"event_types": []string{"license.revoked"},
		})

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		require.NotNil(t, f.store.updated)
		assert.False(t, f.store.updated.Active)
		assert.Equal(t, []models.WebhookEventType{models.WebhookEventLicenseRevoked}, f.store.updated.EventTypes)
		assert.Equal(t, "crm", f.store.updated.Name)
		require.Len(t, f.auditor.calls, 1)
		assert.Equal(t, models.AuditActionEndpointUpdate, f.auditor.calls[0].action)
	})

	t.Run("not found", func(t *testing.T) {
		f := newWebhooksFixture()

		w := doRequest(t, f.router, http.MethodPut, "/admin/webhooks/endpoints/"+uuid.NewString(), map[string]any{"name": "x"})

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("invalid event type", func(t *testing.T) {
		f := newWebhooksFixture()

		w := doRequest(t, f.router, http.MethodPut, "/admin/webhooks/endpoints/"+f.endpoint.ID.String(), map[string]any{
			"event_types": []string{"nope"},
		})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Nil(t, f.store.updated)
	})
}

func TestAdminDeleteWebhookEndpoint(t *testing.T) {
	f := newWebhooksFixture()

	w := doRequest(t, f.router, http.MethodDelete, "/admin/webhooks/endpoints/"+f.endpoint.ID.String(), nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, f.endpoint.ID, f.store.deleted)
	require.Len(t, f.auditor.calls, 1)
	assert.Equal(t, models.AuditActionEndpointDelete, f.auditor.calls[0].action)
}

func TestAdminListWebhookLogs(t *testing.T) {
	t.Run("all", func(t *testing.T) {
		f := newWebhooksFixture()

		w := doRequest(t, f.router, http.MethodGet, "/admin/webhooks/logs?limit=1000", nil)

		require.Equal(t, http.StatusOK, w.Code)
		var resp models.WebhookLogsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, 1, resp.Total)
		assert.Nil(t, f.store.lastLogEndpoint)
		assert.Equal(t, 50, f.store.lastLimit)
	})

	t.Run("by endpoint", func(t *testing.T) {
		f := newWebhooksFixture()

		w := doRequest(t, f.router, http.MethodGet, "/admin/webhooks/endpoints/"+f.endpoint.ID.String()+"/logs?limit=5", nil)

		require.Equal(t, http.StatusOK, w.Code)
		require.NotNil(t, f.store.lastLogEndpoint)
		assert.Equal(t, f.endpoint.ID, *f.store.lastLogEndpoint)
		assert.Equal(t, 5, f.store.lastLimit)
	})

	t.Run("get one", func(t *testing.T) {
		f := newWebhooksFixture()

		w := doRequest(t, f.router, http.MethodGet, "/admin/webhooks/logs/"+f.log.ID.String(), nil)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "failed", decodeJSON(t, w)["status"])
	})
}

func TestAdminRedeliverWebhook(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantResult models.AuditResult
	}{
		{"accepted", nil, http.StatusAccepted, models.AuditResultSuccess},
		{"in progress", webhooks.ErrDeliveryInProgress, http.StatusConflict, ""},
		{"missing", fmt.Errorf("webhook log: %w", models.ErrNotFound), http.StatusNotFound, ""},
		{"store failure", errors.New("db down"), http.StatusInternalServerError, models.AuditResultFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newWebhooksFixture()
			f.redeliverer.err = tt.err

			w := doRequest(t, f.router, http.MethodPost, "/admin/webhooks/logs/"+f.log.ID.String()+"/redeliver", nil)

			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantResult == "" {
				assert.Empty(t, f.auditor.calls)
				return
			}
			require.Len(t, f.auditor.calls, 1)
			assert.Equal(t, models.AuditActionWebhookRedeliver, f.auditor.calls[0].action)
			assert.Equal(t, tt.wantResult, f.auditor.calls[0].result)
			assert.Equal(t, f.log.ID, f.auditor.calls[0].resourceID)
			if tt.err == nil {
				assert.Equal(t, f.redeliverer.log.ID.String(), decodeJSON(t, w)["id"])
				assert.Equal(t, f.redeliverer.log.ID.String(), f.auditor.calls[0].details["redelivery_log"])
			}
		})
	}
}
