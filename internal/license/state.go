package license

import (
	"fmt"
	"time"

	"github.com/MacJediWizard/keygate/internal/models"
)

// Trigger identifies what is driving a status transition.
type Trigger string

const (
	// TriggerSubscriptionUpdated carries the processor's subscription status.
	TriggerSubscriptionUpdated Trigger = "subscription.updated"
	// TriggerSubscriptionDeleted means the subscription has ended.
	TriggerSubscriptionDeleted Trigger = "subscription.deleted"
	// TriggerInvoicePaid means a renewal invoice for the subscription was paid.
	TriggerInvoicePaid Trigger = "invoice.paid"
	// TriggerInvoicePaymentFailed means a renewal payment attempt failed.
	TriggerInvoicePaymentFailed Trigger = "invoice.payment_failed"

	TriggerOperatorSuspend    Trigger = "operator.suspend"
	TriggerOperatorRevoke     Trigger = "operator.revoke"
	TriggerOperatorExpire     Trigger = "operator.expire"
	TriggerOperatorReactivate Trigger = "operator.reactivate"
	// TriggerExpirySweep moves a date-expired license to the expired status.
	TriggerExpirySweep Trigger = "system.expiry_sweep"
)

// IsBilling reports whether the trigger comes from the payment processor.
func (t Trigger) IsBilling() bool {
	switch t {
	case TriggerSubscriptionUpdated, TriggerSubscriptionDeleted, TriggerInvoicePaid, TriggerInvoicePaymentFailed:
		return true
	}
	return false
}

// Processor subscription statuses.
const (
	SubscriptionActive            = "active"
	SubscriptionTrialing          = "trialing"
	SubscriptionPastDue           = "past_due"
	SubscriptionCanceled          = "canceled"
	SubscriptionUnpaid            = "unpaid"
	SubscriptionIncomplete        = "incomplete"
	SubscriptionIncompleteExpired = "incomplete_expired"
	SubscriptionPaused            = "paused"
)

// StatusEvent is the input of the state machine.
type StatusEvent struct {
	Trigger Trigger
	// SubscriptionStatus is set for TriggerSubscriptionUpdated.
	SubscriptionStatus string
	// PeriodEnd is the end of the current billing period, if known.
	PeriodEnd *time.Time
}

// Transition maps the current status and an event to the next status.
//
// Billing events never move a license out of revoked; only an explicit
// operator reactivation does. Unknown subscription statuses keep the current
// status. Operator triggers that are not allowed from the current status
// return ErrInvalidTransition.
func Transition(current models.LicenseStatus, ev StatusEvent) (models.LicenseStatus, error) {
	if ev.Trigger.IsBilling() && current == models.LicenseStatusRevoked {
		return current, nil
	}

	switch ev.Trigger {
	case TriggerSubscriptionUpdated:
		switch ev.SubscriptionStatus {
		case SubscriptionActive, SubscriptionTrialing:
			return models.LicenseStatusActive, nil
		case SubscriptionPastDue:
			return models.LicenseStatusSuspended, nil
		case SubscriptionCanceled, SubscriptionUnpaid:
			return models.LicenseStatusRevoked, nil
		default:
			return current, nil
		}

	case TriggerSubscriptionDeleted:
		return models.LicenseStatusExpired, nil

	case TriggerInvoicePaid:
		return models.LicenseStatusActive, nil

	case TriggerInvoicePaymentFailed:
		return models.LicenseStatusSuspended, nil

	case TriggerOperatorSuspend:
		if current != models.LicenseStatusActive && current != models.LicenseStatusSuspended {
			return current, fmt.Errorf("%w: cannot suspend a %s license", ErrInvalidTransition, current)
		}
		return models.LicenseStatusSuspended, nil

	case TriggerOperatorRevoke:
		return models.LicenseStatusRevoked, nil

	case TriggerOperatorExpire, TriggerExpirySweep:
		if current == models.LicenseStatusRevoked {
			return current, fmt.Errorf("%w: cannot expire a revoked license", ErrInvalidTransition)
		}
		return models.LicenseStatusExpired, nil

	case TriggerOperatorReactivate:
		return models.LicenseStatusActive, nil
	}

	return current, fmt.Errorf("%w: unknown trigger %q", ErrInvalidTransition, ev.Trigger)
}

// TransitionResult describes the effect of Apply.
type TransitionResult struct {
	From           models.LicenseStatus
	To             models.LicenseStatus
	ExpiresChanged bool
}

// StatusChanged reports whether the status moved.
func (r TransitionResult) StatusChanged() bool {
	return r.From != r.To
}

// Changed reports whether anything on the license was modified.
func (r TransitionResult) Changed() bool {
	return r.StatusChanged() || r.ExpiresChanged
}

// Apply runs Transition against l and updates its status and, when the event
// carries a billing period end, its expiry date. Billing events against a
// revoked license leave it untouched.
func Apply(l *models.License, ev StatusEvent, now time.Time) (TransitionResult, error) {
	result := TransitionResult{From: l.Status, To: l.Status}

	next, err := Transition(l.Status, ev)
	if err != nil {
		return result, err
	}
	if ev.Trigger.IsBilling() && l.Status == models.LicenseStatusRevoked {
		return result, nil
	}

	result.To = next
	l.Status = next

	if ev.PeriodEnd != nil && (l.ExpiresAt == nil || !l.ExpiresAt.Equal(*ev.PeriodEnd)) {
		end := *ev.PeriodEnd
		l.ExpiresAt = &end
		result.ExpiresChanged = true
	}

	if result.Changed() {
		l.UpdatedAt = now
	}
	return result, nil
}

// EventForStatus returns the outbound event announcing a move into status.
func EventForStatus(from, to models.LicenseStatus) (models.WebhookEventType, bool) {
	if from == to {
		return "", false
	}
	switch to {
	case models.LicenseStatusActive:
		return models.WebhookEventLicenseReactivated, true
	case models.LicenseStatusSuspended:
		return models.WebhookEventLicenseSuspended, true
	case models.LicenseStatusExpired:
		return models.WebhookEventLicenseExpired, true
	case models.LicenseStatusRevoked:
		return models.WebhookEventLicenseRevoked, true
	}
	return "", false
}
