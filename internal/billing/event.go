package billing

import (
	"errors"
	"time"
)

// ErrMalformed indicates an inbound event that cannot be interpreted.
var ErrMalformed = errors.New("malformed billing event")

// EventType is the processor's event type tag.
type EventType string

// Handled event types.
const (
	EventCheckoutCompleted    EventType = "checkout.session.completed"
	EventSubscriptionCreated  EventType = "customer.subscription.created"
	EventSubscriptionUpdated  EventType = "customer.subscription.updated"
	EventSubscriptionDeleted  EventType = "customer.subscription.deleted"
	EventInvoicePaid          EventType = "invoice.paid"
	EventInvoicePaymentFailed EventType = "invoice.payment_failed"
)

// CheckoutModeSubscription is the checkout mode that starts a subscription.
const CheckoutModeSubscription = "subscription"

// Supported reports whether the processor acts on events of this type.
func (t EventType) Supported() bool {
	switch t {
	case EventCheckoutCompleted, EventSubscriptionCreated, EventSubscriptionUpdated,
		EventSubscriptionDeleted, EventInvoicePaid, EventInvoicePaymentFailed:
		return true
	}
	return false
}

// Event is a processor-neutral billing event. Exactly one of Checkout,
// Subscription or Invoice is set for supported types.
type Event struct {
	ID           string
	Type         EventType
	Created      time.Time
	Checkout     *Checkout
	Subscription *Subscription
	Invoice      *Invoice
}

// CustomerRef identifies the paying customer.
type CustomerRef struct {
	ExternalID string
	Email      string
	Name       string
}

// Checkout is a completed checkout session.
type Checkout struct {
	SessionID       string
	Mode            string
	Customer        CustomerRef
	PriceExternalID string
	SubscriptionID  string
}

// Subscription is a processor subscription snapshot.
type Subscription struct {
	ID               string
	Status           string
	Customer         CustomerRef
	PriceExternalID  string
	CurrentPeriodEnd *time.Time
}

// Invoice is a processor invoice snapshot.
type Invoice struct {
	ID             string
	SubscriptionID string
	Customer       CustomerRef
	Currency       string
	AmountPaid     int64
	PeriodEnd      *time.Time
	PaidAt         *time.Time
}

// validate checks that the payload required by the event type is present.
func (e *Event) validate() error {
	if e.ID == "" {
		return errors.Join(ErrMalformed, errors.New("missing event id"))
	}
	switch e.Type {
	case EventCheckoutCompleted:
		if e.Checkout == nil {
			return errors.Join(ErrMalformed, errors.New("missing checkout session"))
		}
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		if e.Subscription == nil || e.Subscription.ID == "" {
			return errors.Join(ErrMalformed, errors.New("missing subscription"))
		}
	case EventInvoicePaid, EventInvoicePaymentFailed:
		if e.Invoice == nil || e.Invoice.ID == "" {
			return errors.Join(ErrMalformed, errors.New("missing invoice"))
		}
	}
	return nil
}
