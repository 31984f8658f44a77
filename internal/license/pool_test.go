package license

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MacJediWizard/keygate/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_ActivationScenario(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	l := store.addLicense(uuid.New(), 2)
	pool := NewPool(store, DevDomainAllow)

	res, err := pool.Activate(ctx, l, "https://a.com", models.ActivationMetadata{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.Equal(t, "a.com", res.Activation.Domain)
	assertCount(t, pool, l, 1)

	res, err = pool.Activate(ctx, l, "b.com", models.ActivationMetadata{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
	assertCount(t, pool, l, 2)

	ok, err := pool.CanActivate(ctx, l)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = pool.Activate(ctx, l, "c.com", models.ActivationMetadata{})
	assert.ErrorIs(t, err, ErrLimitReached)
	assertCount(t, pool, l, 2)

	deactivated, err := pool.Deactivate(ctx, l, "A.com/")
	require.NoError(t, err)
	assert.False(t, deactivated.IsActive)
	assert.NotNil(t, deactivated.DeactivatedAt)
	assertCount(t, pool, l, 1)

	res, err = pool.Activate(ctx, l, "www.a.com", models.ActivationMetadata{PluginVersion: "2.0.0"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeReactivated, res.Outcome)
	assert.Nil(t, res.Activation.DeactivatedAt)
	assert.Equal(t, "2.0.0", res.Activation.PluginVersion)
	assertCount(t, pool, l, 2)

	assert.Equal(t, 2, store.rows(l.ID), "reactivation must reuse the existing row")
}

func TestPool_ReactivationRespectsCapacity(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	l := store.addLicense(uuid.New(), 1)
	pool := NewPool(store, DevDomainAllow)

	_, err := pool.Activate(ctx, l, "a.com", models.ActivationMetadata{})
	require.NoError(t, err)
	_, err = pool.Deactivate(ctx, l, "a.com")
	require.NoError(t, err)
	_, err = pool.Activate(ctx, l, "b.com", models.ActivationMetadata{})
	require.NoError(t, err)

	_, err = pool.Activate(ctx, l, "a.com", models.ActivationMetadata{})
	assert.ErrorIs(t, err, ErrLimitReached)
	assertCount(t, pool, l, 1)
}

func TestPool_AlreadyActiveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	l := store.addLicense(uuid.New(), 1)
	pool := NewPool(store, DevDomainAllow)

	first, err := pool.Activate(ctx, l, "a.com", models.ActivationMetadata{})
	require.NoError(t, err)

	second, err := pool.Activate(ctx, l, "HTTP://A.COM/", models.ActivationMetadata{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyActive, second.Outcome)
	assert.Equal(t, first.Activation.ID, second.Activation.ID)
	assertCount(t, pool, l, 1)
}

func TestPool_Unlimited(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	l := store.addLicense(uuid.New(), models.UnlimitedActivations)
	pool := NewPool(store, DevDomainAllow)

	for _, d := range []string{"a.com", "b.com", "c.com", "d.com", "e.com"} {
		_, err := pool.Activate(ctx, l, d, models.ActivationMetadata{})
		require.NoError(t, err)
	}
	assertCount(t, pool, l, 5)

	ok, err := pool.CanActivate(ctx, l)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPool_RejectsInactiveLicense(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	pool := NewPool(store, DevDomainAllow)

	suspended := store.addLicense(uuid.New(), 0)
	suspended.Status = models.LicenseStatusSuspended
	_, err := pool.Activate(ctx, suspended, "a.com", models.ActivationMetadata{})
	assert.ErrorIs(t, err, ErrLicenseInactive)

	past := time.Now().Add(-time.Hour)
	dateExpired := store.addLicense(uuid.New(), 0)
	dateExpired.ExpiresAt = &past
	_, err = pool.Activate(ctx, dateExpired, "a.com", models.ActivationMetadata{})
	assert.ErrorIs(t, err, ErrLicenseInactive)

	ok, err := pool.CanActivate(ctx, dateExpired)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPool_InvalidDomain(t *testing.T) {
	store := newMemStore()
	l := store.addLicense(uuid.New(), 1)
	pool := NewPool(store, DevDomainAllow)

	_, err := pool.Activate(context.Background(), l, "https://", models.ActivationMetadata{})
	assert.ErrorIs(t, err, ErrInvalidDomain)

	_, err = pool.Deactivate(context.Background(), l, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPool_DevDomainPolicy(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	l := store.addLicense(uuid.New(), 1)

	strict := NewPool(store, DevDomainReject)
	_, err := strict.Activate(ctx, l, "mysite.local", models.ActivationMetadata{})
	assert.ErrorIs(t, err, ErrDevDomainRejected)
	assertCount(t, strict, l, 0)

	lenient := NewPool(store, DevDomainAllow)
	res, err := lenient.Activate(ctx, l, "mysite.local", models.ActivationMetadata{})
	require.NoError(t, err)
	assert.True(t, res.Activation.IsDevelopment)
}

func TestPool_DeactivateMissing(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	l := store.addLicense(uuid.New(), 2)
	pool := NewPool(store, DevDomainAllow)

	_, err := pool.Deactivate(ctx, l, "never.com")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = pool.Activate(ctx, l, "a.com", models.ActivationMetadata{})
	require.NoError(t, err)
	_, err = pool.Deactivate(ctx, l, "a.com")
	require.NoError(t, err)

	_, err = pool.Deactivate(ctx, l, "a.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPool_ConcurrentSameDomain(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	l := store.addLicense(uuid.New(), 5)
	pool := NewPool(store, DevDomainAllow)

	const callers = 16
	var wg sync.WaitGroup
	errs := make([]error, callers)
	results := make([]*ActivationResult, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = pool.Activate(ctx, l, "example.com", models.ActivationMetadata{})
		}()
	}
	wg.Wait()

	created := 0
	for i := range callers {
		require.NoError(t, errs[i])
		if results[i].Outcome == OutcomeCreated {
			created++
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, store.rows(l.ID))
	assertCount(t, pool, l, 1)
}

func TestPool_ConcurrentSameDomainLastSlot(t *testing.T) {
	tests := []struct {
		name          string
		capacityFirst bool
	}{
		{name: "row checked first"},
		{name: "capacity checked first", capacityFirst: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := newMemStore()
			store.capacityFirst = tt.capacityFirst
			l := store.addLicense(uuid.New(), 1)
			pool := NewPool(store, DevDomainAllow)

			const callers = 8
			var wg sync.WaitGroup
			errs := make([]error, callers)
			results := make([]*ActivationResult, callers)
			for i := range callers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					results[i], errs[i] = pool.Activate(ctx, l, "a.com", models.ActivationMetadata{})
				}()
			}
			wg.Wait()

			created := 0
			for i := range callers {
				require.NoError(t, errs[i])
				if results[i].Outcome == OutcomeCreated {
					created++
				}
			}
			assert.Equal(t, 1, created)
			assert.Equal(t, 1, store.rows(l.ID))
			assertCount(t, pool, l, 1)
		})
	}
}

func TestPool_LimitReachedWhenAnotherDomainHoldsLastSlot(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.capacityFirst = true
	l := store.addLicense(uuid.New(), 1)
	pool := NewPool(store, DevDomainAllow)

	_, err := pool.Activate(ctx, l, "a.com", models.ActivationMetadata{})
	require.NoError(t, err)

	_, err = pool.Activate(ctx, l, "b.com", models.ActivationMetadata{})
	assert.ErrorIs(t, err, ErrLimitReached)
	assertCount(t, pool, l, 1)
}

func TestPool_ConcurrentDistinctDomainsNeverOvershoot(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	l := store.addLicense(uuid.New(), 3)
	pool := NewPool(store, DevDomainAllow)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			domain := uuid.NewString()[:8] + ".com"
			if i%4 == 0 {
				domain = "shared.com"
			}
			_, _ = pool.Activate(ctx, l, domain, models.ActivationMetadata{})
		}()
	}
	wg.Wait()

	count, err := pool.CountActive(ctx, l)
	require.NoError(t, err)
	assert.LessOrEqual(t, count, 3)
	assert.Equal(t, 3, count)
}

func TestPool_LookupAndTouch(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	l := store.addLicense(uuid.New(), 1)
	pool := NewPool(store, DevDomainAllow)

	_, err := pool.Lookup(ctx, l, "a.com")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = pool.Activate(ctx, l, "a.com", models.ActivationMetadata{IPAddress: "203.0.113.7"})
	require.NoError(t, err)

	a, err := pool.Lookup(ctx, l, "https://a.com/")
	require.NoError(t, err)
	assert.Nil(t, a.LastCheckedAt)

	require.NoError(t, pool.Touch(ctx, a, models.ActivationMetadata{PluginVersion: "1.2.3"}))

	stored, err := store.GetActivation(ctx, l.ID, "a.com")
	require.NoError(t, err)
	assert.NotNil(t, stored.LastCheckedAt)
	assert.Equal(t, "1.2.3", stored.PluginVersion)
	assert.Equal(t, "203.0.113.7", stored.IPAddress)
}

func assertCount(t *testing.T, pool *Pool, l *models.License, want int) {
	t.Helper()
	got, err := pool.CountActive(context.Background(), l)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
