package db

import (
	"context"
	"fmt"
	"time"

	"github.com/MacJediWizard/keygate/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const licenseColumns = `id, license_key, customer_id, product_id, price_id, status, type,
	expires_at, activation_limit, COALESCE(external_subscription_id, ''),
	signing_secret_encrypted, created_at, updated_at`

func scanLicense(row rowScanner) (*models.License, error) {
	var l models.License
	var status, licenseType string
	err := row.Scan(
		&l.ID, &l.Key, &l.CustomerID, &l.ProductID, &l.PriceID, &status, &licenseType,
		&l.ExpiresAt, &l.ActivationLimit, &l.ExternalSubscriptionID,
		&l.SigningSecretEncrypted, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	l.Status = models.LicenseStatus(status)
	l.Type = models.LicenseType(licenseType)
	return &l, nil
}

func scanLicenses(rows pgx.Rows) ([]*models.License, error) {
	defer rows.Close()

	var licenses []*models.License
	for rows.Next() {
		l, err := scanLicense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan license: %w", err)
		}
		licenses = append(licenses, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate licenses: %w", err)
	}
	return licenses, nil
}

// nullIfEmpty stores empty optional identifiers as NULL so that unique
// constraints only apply to real values.
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// GetLicenseByKey returns the license with the given key.
func (db *DB) GetLicenseByKey(ctx context.Context, key uuid.UUID) (*models.License, error) {
	l, err := scanLicense(db.Pool.QueryRow(ctx,
		`SELECT `+licenseColumns+` FROM licenses WHERE license_key = $1`, key))
	if err != nil {
		return nil, notFound(err, "license")
	}
	return l, nil
}

// GetLicenseByID returns the license with the given ID.
func (db *DB) GetLicenseByID(ctx context.Context, id uuid.UUID) (*models.License, error) {
	l, err := scanLicense(db.Pool.QueryRow(ctx,
		`SELECT `+licenseColumns+` FROM licenses WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "license")
	}
	return l, nil
}

// GetLicenseBySubscriptionID returns the license bound to a processor subscription.
func (db *DB) GetLicenseBySubscriptionID(ctx context.Context, subscriptionID string) (*models.License, error) {
	l, err := scanLicense(db.Pool.QueryRow(ctx,
		`SELECT `+licenseColumns+` FROM licenses WHERE external_subscription_id = $1`, subscriptionID))
	if err != nil {
		return nil, notFound(err, "license")
	}
	return l, nil
}

// CreateLicense inserts a license. A duplicate key or subscription id yields
// models.ErrConflict.
func (db *DB) CreateLicense(ctx context.Context, l *models.License) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO licenses (id, license_key, customer_id, product_id, price_id, status, type,
		                      expires_at, activation_limit, external_subscription_id,
		                      signing_secret_encrypted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, l.ID, l.Key, l.CustomerID, l.ProductID, l.PriceID, string(l.Status), string(l.Type),
		l.ExpiresAt, l.ActivationLimit, nullIfEmpty(l.ExternalSubscriptionID),
		l.SigningSecretEncrypted, l.CreatedAt, l.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("create license: %w", models.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("create license: %w", err)
	}
	return nil
}

// UpdateLicense persists the mutable fields of a license.
func (db *DB) UpdateLicense(ctx context.Context, l *models.License) error {
	l.UpdatedAt = time.Now()
	tag, err := db.Pool.Exec(ctx, `
		UPDATE licenses
		SET status = $2, expires_at = $3, activation_limit = $4, price_id = $5,
		    external_subscription_id = $6, signing_secret_encrypted = $7, updated_at = $8
		WHERE id = $1
	`, l.ID, string(l.Status), l.ExpiresAt, l.ActivationLimit, l.PriceID,
		nullIfEmpty(l.ExternalSubscriptionID), l.SigningSecretEncrypted, l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update license: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update license: %w", models.ErrNotFound)
	}
	return nil
}

// ListLicenses returns licenses newest first.
func (db *DB) ListLicenses(ctx context.Context, f models.LicenseFilter) ([]*models.License, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	rows, err := db.Pool.Query(ctx, `
		SELECT `+licenseColumns+`
		FROM licenses
		WHERE ($1 = '' OR status = $1)
		  AND ($2::uuid IS NULL OR customer_id = $2)
		  AND ($3::uuid IS NULL OR product_id = $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`, string(f.Status), f.CustomerID, f.ProductID, f.Limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	return scanLicenses(rows)
}

// ListDateExpiredLicenses returns active licenses whose expiry date has passed.
func (db *DB) ListDateExpiredLicenses(ctx context.Context, now time.Time, limit int) ([]*models.License, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+licenseColumns+`
		FROM licenses
		WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list date-expired licenses: %w", err)
	}
	return scanLicenses(rows)
}

// CountLicensesByStatus returns the number of licenses per stored status.
func (db *DB) CountLicensesByStatus(ctx context.Context) (map[models.LicenseStatus]int64, error) {
	rows, err := db.Pool.Query(ctx, `SELECT status, COUNT(*) FROM licenses GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count licenses by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.LicenseStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan license count: %w", err)
		}
		counts[models.LicenseStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate license counts: %w", err)
	}
	return counts, nil
}
