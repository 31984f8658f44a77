package db

import (
	"context"
	"fmt"
	"time"

	"github.com/MacJediWizard/keygate/internal/models"
	"github.com/google/uuid"
)

// Processed events

// InsertProcessedEvent claims an event id. It reports false when the id was
// already claimed; the primary key arbitrates concurrent claims.
func (db *DB) InsertProcessedEvent(ctx context.Context, e *models.ProcessedEvent) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `
		INSERT INTO processed_events (event_id, event_type, processed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO NOTHING
	`, e.EventID, e.EventType, e.ProcessedAt)
	if err != nil {
		return false, fmt.Errorf("insert processed event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteProcessedEventsBefore removes claims older than cutoff.
func (db *DB) DeleteProcessedEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM processed_events WHERE processed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete processed events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Invoices

// UpsertInvoice inserts an invoice or updates the row with the same external id.
// The row keeps its original ID on update.
func (db *DB) UpsertInvoice(ctx context.Context, inv *models.Invoice) error {
	now := time.Now()
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = now
	}
	inv.UpdatedAt = now

	err := db.Pool.QueryRow(ctx, `
		INSERT INTO invoices (id, external_invoice_id, customer_id, license_id, external_subscription_id,
		                      status, currency, amount_paid, period_end, paid_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (external_invoice_id) DO UPDATE
		SET customer_id = COALESCE(EXCLUDED.customer_id, invoices.customer_id),
		    license_id = COALESCE(EXCLUDED.license_id, invoices.license_id),
		    status = EXCLUDED.status,
		    currency = EXCLUDED.currency,
		    amount_paid = EXCLUDED.amount_paid,
		    period_end = COALESCE(EXCLUDED.period_end, invoices.period_end),
		    paid_at = COALESCE(EXCLUDED.paid_at, invoices.paid_at),
		    updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`, inv.ID, inv.ExternalInvoiceID, inv.CustomerID, inv.LicenseID, inv.ExternalSubscriptionID,
		string(inv.Status), inv.Currency, inv.AmountPaid, inv.PeriodEnd, inv.PaidAt,
		inv.CreatedAt, inv.UpdatedAt,
	).Scan(&inv.ID, &inv.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert invoice: %w", err)
	}
	return nil
}

// ListInvoicesByLicense returns the invoices of a license, newest first.
func (db *DB) ListInvoicesByLicense(ctx context.Context, licenseID uuid.UUID) ([]*models.Invoice, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, external_invoice_id, customer_id, license_id, external_subscription_id,
		       status, currency, amount_paid, period_end, paid_at, created_at, updated_at
		FROM invoices
		WHERE license_id = $1
		ORDER BY created_at DESC
	`, licenseID)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []*models.Invoice
	for rows.Next() {
		var inv models.Invoice
		var status string
		if err := rows.Scan(&inv.ID, &inv.ExternalInvoiceID, &inv.CustomerID, &inv.LicenseID,
			&inv.ExternalSubscriptionID, &status, &inv.Currency, &inv.AmountPaid,
			&inv.PeriodEnd, &inv.PaidAt, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		inv.Status = models.InvoiceStatus(status)
		invoices = append(invoices, &inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invoices: %w", err)
	}
	return invoices, nil
}
