package billing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/MacJediWizard/keygate/internal/auth"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

// Checkout session metadata key that names the purchased price when line
// items are not expanded in the event payload.
const metadataPriceID = "price_id"

// StripeVerifier authenticates and decodes Stripe webhook deliveries.
type StripeVerifier struct {
	secret    string
	tolerance time.Duration
}

// NewStripeVerifier creates a verifier for the endpoint's signing secret.
func NewStripeVerifier(secret string, tolerance time.Duration) *StripeVerifier {
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &StripeVerifier{secret: secret, tolerance: tolerance}
}

// ParseEvent verifies the Stripe-Signature header over payload and translates
// the event. Signature failures wrap auth.ErrInvalidSignature; undecodable
// payloads wrap ErrMalformed.
func (v *StripeVerifier) ParseEvent(payload []byte, signatureHeader string) (*Event, error) {
	if signatureHeader == "" {
		return nil, fmt.Errorf("%w: missing Stripe-Signature header", auth.ErrMissingCredential)
	}

	se, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrInvalidSignature, err)
	}
	return TranslateStripeEvent(&se)
}

// TranslateStripeEvent converts a verified Stripe event. Unsupported types
// translate to an Event without a payload.
func TranslateStripeEvent(se *stripe.Event) (*Event, error) {
	ev := &Event{
		ID:      se.ID,
		Type:    EventType(se.Type),
		Created: time.Unix(se.Created, 0).UTC(),
	}
	if !ev.Type.Supported() {
		return ev, nil
	}
	if se.Data == nil || len(se.Data.Raw) == 0 {
		return nil, fmt.Errorf("%w: event %s has no data object", ErrMalformed, se.ID)
	}

	switch ev.Type {
	case EventCheckoutCompleted:
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(se.Data.Raw, &cs); err != nil {
			return nil, fmt.Errorf("%w: checkout session: %v", ErrMalformed, err)
		}
		ev.Checkout = checkoutFromStripe(&cs)

	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(se.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("%w: subscription: %v", ErrMalformed, err)
		}
		ev.Subscription = subscriptionFromStripe(&sub)

	case EventInvoicePaid, EventInvoicePaymentFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(se.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("%w: invoice: %v", ErrMalformed, err)
		}
		ev.Invoice = invoiceFromStripe(&inv)
	}

	return ev, nil
}

func checkoutFromStripe(cs *stripe.CheckoutSession) *Checkout {
	c := &Checkout{
		SessionID: cs.ID,
		Mode:      string(cs.Mode),
		Customer:  CustomerRef{Email: cs.CustomerEmail},
	}
	if cs.Customer != nil {
		c.Customer.ExternalID = cs.Customer.ID
	}
	if cs.CustomerDetails != nil {
		if cs.CustomerDetails.Email != "" {
			c.Customer.Email = cs.CustomerDetails.Email
		}
		c.Customer.Name = cs.CustomerDetails.Name
	}
	if cs.Subscription != nil {
		c.SubscriptionID = cs.Subscription.ID
	}

	c.PriceExternalID = cs.Metadata[metadataPriceID]
	if cs.LineItems != nil {
		for _, item := range cs.LineItems.Data {
			if item != nil && item.Price != nil {
				c.PriceExternalID = item.Price.ID
				break
			}
		}
	}
	return c
}

func subscriptionFromStripe(sub *stripe.Subscription) *Subscription {
	s := &Subscription{
		ID:     sub.ID,
		Status: string(sub.Status),
	}
	if sub.Customer != nil {
		s.Customer = CustomerRef{
			ExternalID: sub.Customer.ID,
			Email:      sub.Customer.Email,
			Name:       sub.Customer.Name,
		}
	}
	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		s.CurrentPeriodEnd = &end
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item != nil && item.Price != nil {
				s.PriceExternalID = item.Price.ID
				break
			}
		}
	}
	if s.PriceExternalID == "" {
		s.PriceExternalID = sub.Metadata[metadataPriceID]
	}
	return s
}

func invoiceFromStripe(inv *stripe.Invoice) *Invoice {
	i := &Invoice{
		ID:         inv.ID,
		Currency:   string(inv.Currency),
		AmountPaid: inv.AmountPaid,
		Customer: CustomerRef{
			Email: inv.CustomerEmail,
			Name:  inv.CustomerName,
		},
	}
	if inv.Customer != nil {
		i.Customer.ExternalID = inv.Customer.ID
	}
	if inv.Subscription != nil {
		i.SubscriptionID = inv.Subscription.ID
	}
	if inv.StatusTransitions != nil && inv.StatusTransitions.PaidAt > 0 {
		paid := time.Unix(inv.StatusTransitions.PaidAt, 0).UTC()
		i.PaidAt = &paid
	}

	// The subscription line's period end is the new billing period end; the
	// invoice's own period fields describe the period just billed.
	if inv.Lines != nil {
		for _, line := range inv.Lines.Data {
			if line != nil && line.Period != nil && line.Period.End > 0 {
				end := time.Unix(line.Period.End, 0).UTC()
				i.PeriodEnd = &end
				break
			}
		}
	}
	return i
}
