package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MacJediWizard/keygate/internal/license"
	"github.com/MacJediWizard/keygate/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Outcome summarizes what processing did with an event.
type Outcome string

const (
	// OutcomeApplied means the event's effects were applied.
	OutcomeApplied Outcome = "applied"
	// OutcomeDuplicate means the event id was already claimed, or its effect
	// already exists.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeIgnored means the event was acknowledged without side effects.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeError means the event was claimed but applying it failed.
	OutcomeError Outcome = "error"
)

// Store is the catalog and invoice persistence the processor needs.
type Store interface {
	GetPriceByExternalID(ctx context.Context, externalID string) (*models.Price, error)
	// FindOrCreateCustomer returns the customer matching the external id or,
	// failing that, the email; otherwise it inserts c.
	FindOrCreateCustomer(ctx context.Context, c *models.Customer) (*models.Customer, error)
	GetLicenseBySubscriptionID(ctx context.Context, subscriptionID string) (*models.License, error)
	// UpsertInvoice inserts or updates the row keyed by ExternalInvoiceID.
	UpsertInvoice(ctx context.Context, inv *models.Invoice) error
}

// Licenses applies license lifecycle changes.
type Licenses interface {
	Issue(ctx context.Context, actor models.Actor, l *models.License) error
	ApplyTransition(ctx context.Context, actor models.Actor, l *models.License, ev license.StatusEvent) (license.TransitionResult, error)
	Notify(ctx context.Context, event models.WebhookEventType, l *models.License, extra map[string]any)
}

// Notifier relays payment events to webhook subscribers.
type Notifier interface {
	Dispatch(ctx context.Context, event models.WebhookEventType, data map[string]any, productID *uuid.UUID) error
}

// Observer receives one call per processed event.
type Observer interface {
	ObserveBillingEvent(eventType string, outcome string)
}

// Processor applies billing events to licenses exactly once per event id.
type Processor struct {
	ledger   *Ledger
	store    Store
	licenses Licenses
	notifier Notifier
	observer Observer
	logger   zerolog.Logger
	now      func() time.Time
}

// NewProcessor creates a billing event processor.
func NewProcessor(ledger *Ledger, store Store, licenses Licenses, notifier Notifier, logger zerolog.Logger) *Processor {
	return &Processor{
		ledger:   ledger,
		store:    store,
		licenses: licenses,
		notifier: notifier,
		logger:   logger.With().Str("component", "billing_processor").Logger(),
		now:      time.Now,
	}
}

// SetObserver registers a metrics observer.
func (p *Processor) SetObserver(o Observer) {
	p.observer = o
}

// Process claims ev in the ledger and applies it. A returned error with
// OutcomeError means the claim stands and the event needs a manual replay;
// an error with any other outcome means nothing was claimed.
func (p *Processor) Process(ctx context.Context, ev *Event) (Outcome, error) {
	outcome, err := p.process(ctx, ev)
	if p.observer != nil {
		p.observer.ObserveBillingEvent(string(ev.Type), string(outcome))
	}
	return outcome, err
}

func (p *Processor) process(ctx context.Context, ev *Event) (Outcome, error) {
	log := p.logger.With().Str("event_id", ev.ID).Str("event_type", string(ev.Type)).Logger()

	if !ev.Type.Supported() {
		log.Debug().Msg("ignoring unhandled event type")
		return OutcomeIgnored, nil
	}
	if err := ev.validate(); err != nil {
		log.Warn().Err(err).Msg("rejecting malformed event")
		return OutcomeIgnored, err
	}

	claimed, err := p.ledger.TryClaim(ctx, ev.ID, string(ev.Type))
	if err != nil {
		return OutcomeIgnored, err
	}
	if !claimed {
		log.Info().Msg("event already processed")
		return OutcomeDuplicate, nil
	}

	outcome, err := p.apply(ctx, ev)
	switch {
	case errors.Is(err, ErrDuplicate):
		log.Info().Err(err).Msg("event effect already present")
		return OutcomeDuplicate, nil
	case err != nil:
		log.Error().Err(err).Msg("event claimed but not applied; manual replay required")
		return OutcomeError, err
	}

	log.Info().Str("outcome", string(outcome)).Msg("billing event processed")
	return outcome, nil
}

func (p *Processor) apply(ctx context.Context, ev *Event) (Outcome, error) {
	actor := models.Actor{Type: models.ActorBilling, ID: ev.ID}

	switch ev.Type {
	case EventCheckoutCompleted:
		return p.handleCheckout(ctx, actor, ev.Checkout)
	case EventSubscriptionCreated:
		return p.handleSubscriptionCreated(ctx, actor, ev.Subscription)
	case EventSubscriptionUpdated:
		return p.handleSubscriptionUpdated(ctx, actor, ev.Subscription)
	case EventSubscriptionDeleted:
		return p.handleSubscriptionDeleted(ctx, actor, ev.Subscription)
	case EventInvoicePaid:
		return p.handleInvoicePaid(ctx, actor, ev.Invoice)
	case EventInvoicePaymentFailed:
		return p.handleInvoiceFailed(ctx, actor, ev.Invoice)
	}
	return OutcomeIgnored, nil
}

// handleCheckout issues lifetime licenses. Recurring purchases are issued by
// the subscription-created event instead.
func (p *Processor) handleCheckout(ctx context.Context, actor models.Actor, c *Checkout) (Outcome, error) {
	if c.Mode == CheckoutModeSubscription || c.SubscriptionID != "" {
		return OutcomeIgnored, nil
	}

	price, err := p.price(ctx, c.PriceExternalID)
	if err != nil || price == nil {
		return OutcomeIgnored, err
	}
	if price.Recurring {
		return OutcomeIgnored, nil
	}

	customer, err := p.customer(ctx, c.Customer)
	if err != nil {
		return OutcomeError, err
	}

	l := models.NewLicense(customer.ID, price.ProductID, price.LicenseType(), price.ActivationLimit)
	l.PriceID = &price.ID
	if price.DurationDays > 0 {
		expires := p.now().AddDate(0, 0, price.DurationDays).UTC()
		l.ExpiresAt = &expires
	}

	if err := p.licenses.Issue(ctx, actor, l); err != nil {
		return OutcomeError, err
	}
	return OutcomeApplied, nil
}

func (p *Processor) handleSubscriptionCreated(ctx context.Context, actor models.Actor, s *Subscription) (Outcome, error) {
	existing, err := p.store.GetLicenseBySubscriptionID(ctx, s.ID)
	if err == nil && existing != nil {
		return OutcomeDuplicate, fmt.Errorf("%w: license %s already bound to subscription %s", ErrDuplicate, existing.ID, s.ID)
	}
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return OutcomeError, fmt.Errorf("get license by subscription: %w", err)
	}

	price, err := p.price(ctx, s.PriceExternalID)
	if err != nil || price == nil {
		return OutcomeIgnored, err
	}

	customer, err := p.customer(ctx, s.Customer)
	if err != nil {
		return OutcomeError, err
	}

	l := models.NewLicense(customer.ID, price.ProductID, models.LicenseTypeSubscription, price.ActivationLimit)
	l.PriceID = &price.ID
	l.ExternalSubscriptionID = s.ID
	if s.CurrentPeriodEnd != nil {
		end := s.CurrentPeriodEnd.UTC()
		l.ExpiresAt = &end
	}
	status, err := license.Transition(l.Status, license.StatusEvent{
		Trigger:            license.TriggerSubscriptionUpdated,
		SubscriptionStatus: s.Status,
	})
	if err == nil {
		l.Status = status
	}

	if err := p.licenses.Issue(ctx, actor, l); err != nil {
		if errors.Is(err, models.ErrConflict) {
			return OutcomeDuplicate, fmt.Errorf("%w: subscription %s already has a license", ErrDuplicate, s.ID)
		}
		return OutcomeError, err
	}
	return OutcomeApplied, nil
}

func (p *Processor) handleSubscriptionUpdated(ctx context.Context, actor models.Actor, s *Subscription) (Outcome, error) {
	l, err := p.subscriptionLicense(ctx, s.ID)
	if err != nil || l == nil {
		return OutcomeIgnored, err
	}

	result, err := p.licenses.ApplyTransition(ctx, actor, l, license.StatusEvent{
		Trigger:            license.TriggerSubscriptionUpdated,
		SubscriptionStatus: s.Status,
		PeriodEnd:          s.CurrentPeriodEnd,
	})
	if err != nil {
		return OutcomeError, err
	}
	if event, ok := license.EventForStatus(result.From, result.To); ok {
		p.licenses.Notify(ctx, event, l, map[string]any{
			"previous_status":     string(result.From),
			"subscription_status": s.Status,
		})
	}
	return OutcomeApplied, nil
}

func (p *Processor) handleSubscriptionDeleted(ctx context.Context, actor models.Actor, s *Subscription) (Outcome, error) {
	l, err := p.subscriptionLicense(ctx, s.ID)
	if err != nil || l == nil {
		return OutcomeIgnored, err
	}

	result, err := p.licenses.ApplyTransition(ctx, actor, l, license.StatusEvent{Trigger: license.TriggerSubscriptionDeleted})
	if err != nil {
		return OutcomeError, err
	}
	if result.StatusChanged() {
		p.licenses.Notify(ctx, models.WebhookEventLicenseExpired, l, map[string]any{
			"previous_status": string(result.From),
		})
	}
	return OutcomeApplied, nil
}

func (p *Processor) handleInvoicePaid(ctx context.Context, actor models.Actor, inv *Invoice) (Outcome, error) {
	l, err := p.invoiceLicense(ctx, inv)
	if err != nil {
		return OutcomeError, err
	}

	paidAt := inv.PaidAt
	if paidAt == nil {
		now := p.now().UTC()
		paidAt = &now
	}
	if err := p.upsertInvoice(ctx, inv, l, models.InvoiceStatusPaid, paidAt); err != nil {
		return OutcomeError, err
	}

	if l != nil {
		result, err := p.licenses.ApplyTransition(ctx, actor, l, license.StatusEvent{
			Trigger:   license.TriggerInvoicePaid,
			PeriodEnd: inv.PeriodEnd,
		})
		if err != nil {
			return OutcomeError, err
		}
		if result.Changed() {
			p.licenses.Notify(ctx, models.WebhookEventLicenseRenewed, l, map[string]any{
				"previous_status": string(result.From),
			})
		}
	}

	p.notifyPayment(ctx, models.WebhookEventPaymentCompleted, inv, l)
	return OutcomeApplied, nil
}

func (p *Processor) handleInvoiceFailed(ctx context.Context, actor models.Actor, inv *Invoice) (Outcome, error) {
	l, err := p.invoiceLicense(ctx, inv)
	if err != nil {
		return OutcomeError, err
	}
	if err := p.upsertInvoice(ctx, inv, l, models.InvoiceStatusFailed, nil); err != nil {
		return OutcomeError, err
	}

	if l != nil {
		result, err := p.licenses.ApplyTransition(ctx, actor, l, license.StatusEvent{Trigger: license.TriggerInvoicePaymentFailed})
		if err != nil {
			return OutcomeError, err
		}
		if event, ok := license.EventForStatus(result.From, result.To); ok {
			p.licenses.Notify(ctx, event, l, map[string]any{"previous_status": string(result.From)})
		}
	}

	p.notifyPayment(ctx, models.WebhookEventPaymentFailed, inv, l)
	return OutcomeApplied, nil
}

// price resolves a processor price. An unknown price yields (nil, nil) so the
// event is acknowledged without effect.
func (p *Processor) price(ctx context.Context, externalID string) (*models.Price, error) {
	if externalID == "" {
		p.logger.Warn().Msg("billing event carries no price")
		return nil, nil
	}
	price, err := p.store.GetPriceByExternalID(ctx, externalID)
	if errors.Is(err, models.ErrNotFound) {
		p.logger.Warn().Str("price_id", externalID).Msg("unknown price; no license issued")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get price: %w", err)
	}
	return price, nil
}

func (p *Processor) customer(ctx context.Context, ref CustomerRef) (*models.Customer, error) {
	if ref.ExternalID == "" && ref.Email == "" {
		return nil, fmt.Errorf("%w: customer has neither id nor email", ErrMalformed)
	}
	c, err := p.store.FindOrCreateCustomer(ctx, models.NewCustomer(ref.Email, ref.Name, ref.ExternalID))
	if err != nil {
		return nil, fmt.Errorf("find or create customer: %w", err)
	}
	return c, nil
}

// subscriptionLicense returns (nil, nil) when no license is bound to the
// subscription; the event is then acknowledged and logged.
func (p *Processor) subscriptionLicense(ctx context.Context, subscriptionID string) (*models.License, error) {
	if subscriptionID == "" {
		return nil, nil
	}
	l, err := p.store.GetLicenseBySubscriptionID(ctx, subscriptionID)
	if errors.Is(err, models.ErrNotFound) {
		p.logger.Warn().Str("subscription_id", subscriptionID).Msg("no license bound to subscription")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get license by subscription: %w", err)
	}
	return l, nil
}

func (p *Processor) invoiceLicense(ctx context.Context, inv *Invoice) (*models.License, error) {
	return p.subscriptionLicense(ctx, inv.SubscriptionID)
}

func (p *Processor) upsertInvoice(ctx context.Context, inv *Invoice, l *models.License, status models.InvoiceStatus, paidAt *time.Time) error {
	now := p.now().UTC()
	record := &models.Invoice{
		ID:                     uuid.New(),
		ExternalInvoiceID:      inv.ID,
		ExternalSubscriptionID: inv.SubscriptionID,
		Status:                 status,
		Currency:               inv.Currency,
		AmountPaid:             inv.AmountPaid,
		PeriodEnd:              inv.PeriodEnd,
		PaidAt:                 paidAt,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if l != nil {
		record.LicenseID = &l.ID
		record.CustomerID = &l.CustomerID
	}
	if err := p.store.UpsertInvoice(ctx, record); err != nil {
		return fmt.Errorf("upsert invoice %s: %w", inv.ID, err)
	}
	return nil
}

func (p *Processor) notifyPayment(ctx context.Context, event models.WebhookEventType, inv *Invoice, l *models.License) {
	if p.notifier == nil {
		return
	}

	data := map[string]any{
		"invoice_id":      inv.ID,
		"subscription_id": inv.SubscriptionID,
		"amount":          inv.AmountPaid,
		"currency":        inv.Currency,
	}
	var productID *uuid.UUID
	if l != nil {
		data["license"] = license.EventData(l)
		pid := l.ProductID
		productID = &pid
	}
	if err := p.notifier.Dispatch(ctx, event, data, productID); err != nil {
		p.logger.Error().Err(err).Str("event", string(event)).Str("invoice_id", inv.ID).Msg("failed to dispatch webhook")
	}
}
