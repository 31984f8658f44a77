package license

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MacJediWizard/keygate/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Store is the persistence the license service needs.
type Store interface {
	ActivationStore
	GetLicenseByKey(ctx context.Context, key uuid.UUID) (*models.License, error)
	GetLicenseByID(ctx context.Context, id uuid.UUID) (*models.License, error)
	CreateLicense(ctx context.Context, l *models.License) error
	UpdateLicense(ctx context.Context, l *models.License) error
	GetProductBySlug(ctx context.Context, slug string) (*models.Product, error)
}

// Auditor records mutating operations on behalf of an explicit actor.
type Auditor interface {
	Record(ctx context.Context, actor models.Actor, action models.AuditAction, resourceType string, resourceID uuid.UUID, result models.AuditResult, details map[string]any)
}

// Notifier relays internal events to webhook subscribers.
type Notifier interface {
	Dispatch(ctx context.Context, event models.WebhookEventType, data map[string]any, productID *uuid.UUID) error
}

// Rejection is a caller-facing refusal carrying a machine-readable reason.
type Rejection struct {
	Reason string
	Err    error
}

func (r *Rejection) Error() string {
	return r.Reason + ": " + r.Err.Error()
}

func (r *Rejection) Unwrap() error {
	return r.Err
}

func reject(reason string, err error) error {
	return &Rejection{Reason: reason, Err: err}
}

// ReasonOf returns the reason code carried by err, if any.
func ReasonOf(err error) (string, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej.Reason, true
	}
	return "", false
}

// Service implements the plugin-facing verify, activate and deactivate
// operations and operator status changes.
type Service struct {
	store    Store
	pool     *Pool
	auditor  Auditor
	notifier Notifier
	logger   zerolog.Logger
	now      func() time.Time
}

// NewService creates a license service.
func NewService(store Store, pool *Pool, auditor Auditor, notifier Notifier, logger zerolog.Logger) *Service {
	return &Service{
		store:    store,
		pool:     pool,
		auditor:  auditor,
		notifier: notifier,
		logger:   logger.With().Str("component", "license_service").Logger(),
		now:      time.Now,
	}
}

// Pool returns the activation pool used by the service.
func (s *Service) Pool() *Pool {
	return s.pool
}

// VerifyRequest is a plugin's periodic license check.
type VerifyRequest struct {
	LicenseKey  string
	ProductSlug string
	Domain      string
	Meta        models.ActivationMetadata
}

// Verdict is the outcome of Verify.
type Verdict struct {
	Valid      bool
	Reason     string
	License    *models.License
	Activation *models.Activation
}

// Verify checks that the license is usable for the product and that the
// domain holds an active slot. Only infrastructure failures return an error.
func (s *Service) Verify(ctx context.Context, req VerifyRequest) (*Verdict, error) {
	l, err := s.resolve(ctx, req.LicenseKey, req.ProductSlug)
	if err != nil {
		if reason, ok := ReasonOf(err); ok {
			return &Verdict{Reason: reason}, nil
		}
		return nil, err
	}

	if reason := blockedReason(l, s.now()); reason != "" {
		return &Verdict{Reason: reason, License: l}, nil
	}

	activation, err := s.pool.Lookup(ctx, l, req.Domain)
	if errors.Is(err, ErrNotFound) {
		return &Verdict{Reason: ReasonDomainNotActivated, License: l}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup activation: %w", err)
	}

	if err := s.pool.Touch(ctx, activation, req.Meta); err != nil {
		s.logger.Warn().Err(err).Str("activation_id", activation.ID.String()).Msg("failed to record liveness check")
	}

	return &Verdict{Valid: true, License: l, Activation: activation}, nil
}

// ActivateRequest binds a domain to a license.
type ActivateRequest struct {
	LicenseKey  string
	ProductSlug string
	Domain      string
	Meta        models.ActivationMetadata
}

// Activate binds a domain to a license. Refusals are returned as *Rejection.
func (s *Service) Activate(ctx context.Context, actor models.Actor, req ActivateRequest) (*ActivationResult, error) {
	l, err := s.resolve(ctx, req.LicenseKey, req.ProductSlug)
	if err != nil {
		return nil, err
	}
	if reason := blockedReason(l, s.now()); reason != "" {
		return nil, reject(reason, ErrLicenseInactive)
	}

	result, err := s.pool.Activate(ctx, l, req.Domain, req.Meta)
	if err != nil {
		switch {
		case errors.Is(err, ErrLimitReached):
			s.auditor.Record(ctx, actor, models.AuditActionActivate, "license", l.ID, models.AuditResultFailure, map[string]any{
				"domain": NormalizeDomain(req.Domain),
				"reason": ReasonLimitReached,
			})
			return nil, reject(ReasonLimitReached, err)
		case errors.Is(err, ErrInvalidDomain):
			return nil, reject(ReasonInvalidDomain, err)
		case errors.Is(err, ErrDevDomainRejected):
			return nil, reject(ReasonDevDomainNotAllowed, err)
		case errors.Is(err, ErrLicenseInactive):
			return nil, reject(blockedReason(l, s.now()), err)
		}
		return nil, err
	}

	if result.Outcome == OutcomeAlreadyActive {
		return result, nil
	}

	s.auditor.Record(ctx, actor, models.AuditActionActivate, "license", l.ID, models.AuditResultSuccess, map[string]any{
		"domain":  result.Activation.Domain,
		"outcome": string(result.Outcome),
	})
	s.notify(ctx, models.WebhookEventLicenseActivated, l, map[string]any{
		"domain":         result.Activation.Domain,
		"is_development": result.Activation.IsDevelopment,
	})

	s.logger.Info().
		Str("license_id", l.ID.String()).
		Str("domain", result.Activation.Domain).
		Str("outcome", string(result.Outcome)).
		Msg("domain activated")

	return result, nil
}

// Deactivate releases the slot held by domain on the license.
func (s *Service) Deactivate(ctx context.Context, actor models.Actor, licenseKey, domain string) (*models.Activation, error) {
	l, err := s.resolve(ctx, licenseKey, "")
	if err != nil {
		return nil, err
	}
	return s.deactivate(ctx, actor, l, domain)
}

// ForceDeactivate is the operator variant of Deactivate addressed by license id.
func (s *Service) ForceDeactivate(ctx context.Context, actor models.Actor, licenseID uuid.UUID, domain string) (*models.Activation, error) {
	l, err := s.store.GetLicenseByID(ctx, licenseID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, reject(ReasonLicenseNotFound, ErrNotFound)
		}
		return nil, fmt.Errorf("get license: %w", err)
	}
	return s.deactivate(ctx, actor, l, domain)
}

func (s *Service) deactivate(ctx context.Context, actor models.Actor, l *models.License, domain string) (*models.Activation, error) {
	activation, err := s.pool.Deactivate(ctx, l, domain)
	if errors.Is(err, ErrNotFound) {
		return nil, reject(ReasonActivationNotFound, err)
	}
	if err != nil {
		return nil, err
	}

	s.auditor.Record(ctx, actor, models.AuditActionDeactivate, "license", l.ID, models.AuditResultSuccess, map[string]any{
		"domain": activation.Domain,
	})
	s.notify(ctx, models.WebhookEventLicenseDeactivated, l, map[string]any{
		"domain": activation.Domain,
	})
	return activation, nil
}

// Issue persists a new license and announces it.
func (s *Service) Issue(ctx context.Context, actor models.Actor, l *models.License) error {
	if err := s.store.CreateLicense(ctx, l); err != nil {
		return fmt.Errorf("create license: %w", err)
	}

	s.auditor.Record(ctx, actor, models.AuditActionLicenseCreate, "license", l.ID, models.AuditResultSuccess, map[string]any{
		"type":             string(l.Type),
		"activation_limit": l.ActivationLimit,
	})
	s.notify(ctx, models.WebhookEventLicenseCreated, l, nil)
	return nil
}

// ApplyTransition runs the state machine against l, persists any change and
// audits it. It does not emit webhooks; callers announce the transition with
// the event that fits their context.
func (s *Service) ApplyTransition(ctx context.Context, actor models.Actor, l *models.License, ev StatusEvent) (TransitionResult, error) {
	result, err := Apply(l, ev, s.now())
	if err != nil {
		s.auditor.Record(ctx, actor, models.AuditActionLicenseTransition, "license", l.ID, models.AuditResultFailure, map[string]any{
			"trigger": string(ev.Trigger),
			"from":    string(result.From),
			"error":   err.Error(),
		})
		return result, err
	}
	if !result.Changed() {
		return result, nil
	}

	if err := s.store.UpdateLicense(ctx, l); err != nil {
		return result, fmt.Errorf("update license: %w", err)
	}

	details := map[string]any{
		"trigger": string(ev.Trigger),
		"from":    string(result.From),
		"to":      string(result.To),
	}
	if l.ExpiresAt != nil {
		details["expires_at"] = l.ExpiresAt.UTC().Format(time.RFC3339)
	}
	s.auditor.Record(ctx, actor, models.AuditActionLicenseTransition, "license", l.ID, models.AuditResultSuccess, details)

	s.logger.Info().
		Str("license_id", l.ID.String()).
		Str("trigger", string(ev.Trigger)).
		Str("from", string(result.From)).
		Str("to", string(result.To)).
		Msg("license transitioned")

	return result, nil
}

// ChangeStatus applies an operator or system trigger to the license and
// announces the resulting status.
func (s *Service) ChangeStatus(ctx context.Context, actor models.Actor, licenseID uuid.UUID, trigger Trigger) (*models.License, error) {
	l, err := s.store.GetLicenseByID(ctx, licenseID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, reject(ReasonLicenseNotFound, ErrNotFound)
		}
		return nil, fmt.Errorf("get license: %w", err)
	}

	result, err := s.ApplyTransition(ctx, actor, l, StatusEvent{Trigger: trigger})
	if err != nil {
		return nil, err
	}
	if event, ok := EventForStatus(result.From, result.To); ok {
		s.notify(ctx, event, l, map[string]any{"previous_status": string(result.From)})
	}
	return l, nil
}

// Notify announces event for l to webhook subscribers scoped to its product.
func (s *Service) Notify(ctx context.Context, event models.WebhookEventType, l *models.License, extra map[string]any) {
	s.notify(ctx, event, l, extra)
}

func (s *Service) notify(ctx context.Context, event models.WebhookEventType, l *models.License, extra map[string]any) {
	if s.notifier == nil {
		return
	}
	data := EventData(l)
	for k, v := range extra {
		data[k] = v
	}
	productID := l.ProductID
	if err := s.notifier.Dispatch(ctx, event, data, &productID); err != nil {
		s.logger.Error().Err(err).Str("event", string(event)).Str("license_id", l.ID.String()).Msg("failed to dispatch webhook")
	}
}

// EventData is the license snapshot embedded in outbound events.
func EventData(l *models.License) map[string]any {
	data := map[string]any{
		"license_id":       l.ID.String(),
		"license_key":      l.Key.String(),
		"customer_id":      l.CustomerID.String(),
		"product_id":       l.ProductID.String(),
		"status":           string(l.Status),
		"type":             string(l.Type),
		"activation_limit": l.ActivationLimit,
		"expires_at":       nil,
	}
	if l.ExpiresAt != nil {
		data["expires_at"] = l.ExpiresAt.UTC().Format(time.RFC3339)
	}
	if l.ExternalSubscriptionID != "" {
		data["subscription_id"] = l.ExternalSubscriptionID
	}
	return data
}

func (s *Service) resolve(ctx context.Context, rawKey, productSlug string) (*models.License, error) {
	key, err := uuid.Parse(rawKey)
	if err != nil {
		return nil, reject(ReasonLicenseNotFound, ErrNotFound)
	}

	l, err := s.store.GetLicenseByKey(ctx, key)
	if errors.Is(err, models.ErrNotFound) {
		return nil, reject(ReasonLicenseNotFound, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get license: %w", err)
	}

	if productSlug != "" {
		product, err := s.store.GetProductBySlug(ctx, productSlug)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("get product: %w", err)
		}
		if product == nil || product.ID != l.ProductID {
			return nil, reject(ReasonProductMismatch, ErrProductMismatch)
		}
	}

	return l, nil
}

// blockedReason returns the reason a license cannot be used, or "".
func blockedReason(l *models.License, now time.Time) string {
	if l.IsExpired(now) {
		return ReasonLicenseExpired
	}
	if !l.IsActive() {
		return StatusReason(l.Status)
	}
	return ""
}

// Resolve looks up a license by key and optional product slug, returning a
// *Rejection for unknown keys and product mismatches.
func (s *Service) Resolve(ctx context.Context, licenseKey, productSlug string) (*models.License, error) {
	return s.resolve(ctx, licenseKey, productSlug)
}

// LookupActivation returns the active activation of domain on l, or ErrNotFound.
func (s *Service) LookupActivation(ctx context.Context, l *models.License, domain string) (*models.Activation, error) {
	return s.pool.Lookup(ctx, l, domain)
}

// BlockedReason exposes the gating rule for other plugin-facing services.
func BlockedReason(l *models.License, now time.Time) string {
	return blockedReason(l, now)
}
