package license

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MacJediWizard/keygate/internal/models"
	"github.com/google/uuid"
)

// ActivationStore persists activations. Capacity is enforced by the store
// atomically with the write, so concurrent activations for different domains
// cannot overshoot the limit.
type ActivationStore interface {
	// GetActivation returns models.ErrNotFound when no row exists for the pair.
	GetActivation(ctx context.Context, licenseID uuid.UUID, domain string) (*models.Activation, error)
	// CreateActivation inserts a new row. It returns models.ErrConflict when a
	// row for (license, domain) already exists, checked before capacity, and
	// models.ErrLimitReached when the license has no free slot (limit 0 means
	// unlimited).
	CreateActivation(ctx context.Context, activation *models.Activation, limit int) error
	// ReactivateActivation flips an existing inactive row active, subject to
	// the same capacity rule. It returns models.ErrConflict when the row is no
	// longer inactive.
	ReactivateActivation(ctx context.Context, activation *models.Activation, limit int) error
	// UpdateActivation persists deactivation and liveness changes.
	UpdateActivation(ctx context.Context, activation *models.Activation) error
	CountActiveActivations(ctx context.Context, licenseID uuid.UUID) (int, error)
	ListActivations(ctx context.Context, licenseID uuid.UUID) ([]*models.Activation, error)
}

// ActivationOutcome describes which path Activate took.
type ActivationOutcome string

const (
	OutcomeCreated       ActivationOutcome = "created"
	OutcomeReactivated   ActivationOutcome = "reactivated"
	OutcomeAlreadyActive ActivationOutcome = "already_active"
)

// ActivationResult is returned by Pool.Activate.
type ActivationResult struct {
	Activation *models.Activation
	Outcome    ActivationOutcome
}

// maxInsertRaces bounds how often Activate re-reads after losing an insert race.
const maxInsertRaces = 3

// Pool tracks which normalized domains hold a license's activation slots.
type Pool struct {
	store  ActivationStore
	policy DevDomainPolicy
	now    func() time.Time
}

// NewPool creates an activation pool.
func NewPool(store ActivationStore, policy DevDomainPolicy) *Pool {
	return &Pool{
		store:  store,
		policy: policy,
		now:    time.Now,
	}
}

// Usable reports whether l may hold new activations: stored status active and
// not expired by date.
func Usable(l *models.License, now time.Time) bool {
	return l.IsActive() && !l.IsExpired(now)
}

// CanActivate reports whether l has a free slot for a new domain.
func (p *Pool) CanActivate(ctx context.Context, l *models.License) (bool, error) {
	if !Usable(l, p.now()) {
		return false, nil
	}
	if l.HasUnlimitedActivations() {
		return true, nil
	}
	count, err := p.store.CountActiveActivations(ctx, l.ID)
	if err != nil {
		return false, fmt.Errorf("count active activations: %w", err)
	}
	return count < l.ActivationLimit, nil
}

// CountActive returns the number of domains currently holding a slot.
func (p *Pool) CountActive(ctx context.Context, l *models.License) (int, error) {
	return p.store.CountActiveActivations(ctx, l.ID)
}

// Activate binds domain to l.
//
// An already active row is returned unchanged. An inactive row is flipped
// active, which still requires a free slot because a deactivated row does not
// hold one. A missing row is inserted if a slot is free. Losing an insert race
// to a concurrent caller for the same domain is resolved by re-reading the row.
func (p *Pool) Activate(ctx context.Context, l *models.License, rawDomain string, meta models.ActivationMetadata) (*ActivationResult, error) {
	domain := NormalizeDomain(rawDomain)
	if domain == "" {
		return nil, ErrInvalidDomain
	}
	if !Usable(l, p.now()) {
		return nil, ErrLicenseInactive
	}

	class := ClassifyDomain(domain)
	if class.Development && p.policy == DevDomainReject {
		return nil, fmt.Errorf("%w: %s", ErrDevDomainRejected, class.Reason)
	}

	for range maxInsertRaces {
		existing, err := p.store.GetActivation(ctx, l.ID, domain)
		switch {
		case err == nil && existing.IsActive:
			return &ActivationResult{Activation: existing, Outcome: OutcomeAlreadyActive}, nil

		case err == nil:
			existing.Reactivate(meta, p.now())
			existing.IsDevelopment = class.Development
			err := p.store.ReactivateActivation(ctx, existing, l.ActivationLimit)
			if errors.Is(err, models.ErrConflict) {
				continue
			}
			if res, ok := p.wonElsewhere(ctx, l, domain, err); ok {
				return res, nil
			}
			if err != nil {
				return nil, fmt.Errorf("reactivate %s: %w", domain, err)
			}
			return &ActivationResult{Activation: existing, Outcome: OutcomeReactivated}, nil

		case errors.Is(err, models.ErrNotFound):
			activation := models.NewActivation(l.ID, domain, meta)
			activation.IsDevelopment = class.Development
			err := p.store.CreateActivation(ctx, activation, l.ActivationLimit)
			if errors.Is(err, models.ErrConflict) {
				continue
			}
			if res, ok := p.wonElsewhere(ctx, l, domain, err); ok {
				return res, nil
			}
			if err != nil {
				return nil, fmt.Errorf("activate %s: %w", domain, err)
			}
			return &ActivationResult{Activation: activation, Outcome: OutcomeCreated}, nil

		default:
			return nil, fmt.Errorf("get activation: %w", err)
		}
	}

	return nil, fmt.Errorf("activate %s: %w", domain, models.ErrConflict)
}

// wonElsewhere reports the domain as already active when a capacity refusal
// was caused by a concurrent caller activating the same domain.
func (p *Pool) wonElsewhere(ctx context.Context, l *models.License, domain string, err error) (*ActivationResult, bool) {
	if !errors.Is(err, models.ErrLimitReached) {
		return nil, false
	}
	current, gerr := p.store.GetActivation(ctx, l.ID, domain)
	if gerr != nil || !current.IsActive {
		return nil, false
	}
	return &ActivationResult{Activation: current, Outcome: OutcomeAlreadyActive}, true
}

// Deactivate releases the slot held by domain. The row is kept for audit.
func (p *Pool) Deactivate(ctx context.Context, l *models.License, rawDomain string) (*models.Activation, error) {
	domain := NormalizeDomain(rawDomain)
	if domain == "" {
		return nil, ErrNotFound
	}

	activation, err := p.store.GetActivation(ctx, l.ID, domain)
	if err != nil {
		return nil, err
	}
	if !activation.IsActive {
		return nil, ErrNotFound
	}

	activation.Deactivate(p.now())
	if err := p.store.UpdateActivation(ctx, activation); err != nil {
		return nil, fmt.Errorf("deactivate %s: %w", domain, err)
	}
	return activation, nil
}

// Lookup returns the active activation for domain, or ErrNotFound.
func (p *Pool) Lookup(ctx context.Context, l *models.License, rawDomain string) (*models.Activation, error) {
	domain := NormalizeDomain(rawDomain)
	if domain == "" {
		return nil, ErrNotFound
	}
	activation, err := p.store.GetActivation(ctx, l.ID, domain)
	if err != nil {
		return nil, err
	}
	if !activation.IsActive {
		return nil, ErrNotFound
	}
	return activation, nil
}

// Touch records a liveness check on an active activation.
func (p *Pool) Touch(ctx context.Context, activation *models.Activation, meta models.ActivationMetadata) error {
	activation.Touch(meta, p.now())
	return p.store.UpdateActivation(ctx, activation)
}

// List returns every activation row of l, active or not.
func (p *Pool) List(ctx context.Context, l *models.License) ([]*models.Activation, error) {
	return p.store.ListActivations(ctx, l.ID)
}
