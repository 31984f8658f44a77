package models

import (
	"time"

	"github.com/google/uuid"
)

// InvoiceStatus defines the status of an invoice.
type InvoiceStatus string

const (
	// InvoiceStatusPaid is a settled invoice.
	InvoiceStatusPaid InvoiceStatus = "paid"
	// InvoiceStatusFailed is an invoice whose payment attempt failed.
	InvoiceStatusFailed InvoiceStatus = "failed"
)

// Invoice mirrors a processor invoice. ExternalInvoiceID is unique so that
// redelivered events update the same row.
type Invoice struct {
	ID                     uuid.UUID     `json:"id"`
	ExternalInvoiceID      string        `json:"external_invoice_id"`
	CustomerID             *uuid.UUID    `json:"customer_id,omitempty"`
	LicenseID              *uuid.UUID    `json:"license_id,omitempty"`
	ExternalSubscriptionID string        `json:"external_subscription_id,omitempty"`
	Status                 InvoiceStatus `json:"status"`
	Currency               string        `json:"currency"`
	AmountPaid             int64         `json:"amount_paid"` // Amount in cents
	PeriodEnd              *time.Time    `json:"period_end,omitempty"`
	PaidAt                 *time.Time    `json:"paid_at,omitempty"`
	CreatedAt              time.Time     `json:"created_at"`
	UpdatedAt              time.Time     `json:"updated_at"`
}
