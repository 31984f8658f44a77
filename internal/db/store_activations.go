package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MacJediWizard/keygate/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const activationColumns = `id, license_id, domain, is_active, activated_at, deactivated_at,
	last_checked_at, ip_address, local_ip, plugin_version, is_development, created_at, updated_at`

func scanActivation(row rowScanner) (*models.Activation, error) {
	var a models.Activation
	err := row.Scan(
		&a.ID, &a.LicenseID, &a.Domain, &a.IsActive, &a.ActivatedAt, &a.DeactivatedAt,
		&a.LastCheckedAt, &a.IPAddress, &a.LocalIP, &a.PluginVersion, &a.IsDevelopment,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetActivation returns the row for (licenseID, domain), active or not.
func (db *DB) GetActivation(ctx context.Context, licenseID uuid.UUID, domain string) (*models.Activation, error) {
	a, err := scanActivation(db.Pool.QueryRow(ctx,
		`SELECT `+activationColumns+` FROM activations WHERE license_id = $1 AND domain = $2`,
		licenseID, domain))
	if err != nil {
		return nil, notFound(err, "activation")
	}
	return a, nil
}

// reserveSlot locks the license row and reports whether domain may take a
// slot. Holding the lock until commit serializes concurrent activations of the
// same license. The domain's own row is checked before capacity: when reviving
// is false any existing row is a conflict, otherwise only an active one is.
func reserveSlot(ctx context.Context, tx pgx.Tx, licenseID uuid.UUID, domain string, limit int, reviving bool) error {
	var locked uuid.UUID
	if err := tx.QueryRow(ctx, `SELECT id FROM licenses WHERE id = $1 FOR UPDATE`, licenseID).Scan(&locked); err != nil {
		return notFound(err, "license")
	}

	var active bool
	err := tx.QueryRow(ctx,
		`SELECT is_active FROM activations WHERE license_id = $1 AND domain = $2`, licenseID, domain,
	).Scan(&active)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if reviving {
			return models.ErrConflict
		}
	case err != nil:
		return fmt.Errorf("get activation: %w", err)
	case !reviving || active:
		return models.ErrConflict
	}

	if limit == models.UnlimitedActivations {
		return nil
	}

	var count int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM activations WHERE license_id = $1 AND is_active`, licenseID,
	).Scan(&count); err != nil {
		return fmt.Errorf("count active activations: %w", err)
	}
	if count >= limit {
		return models.ErrLimitReached
	}
	return nil
}

// CreateActivation inserts a new activation if the license has a free slot.
func (db *DB) CreateActivation(ctx context.Context, a *models.Activation, limit int) error {
	return db.ExecTx(ctx, func(tx pgx.Tx) error {
		if err := reserveSlot(ctx, tx, a.LicenseID, a.Domain, limit, false); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO activations (id, license_id, domain, is_active, activated_at, deactivated_at,
			                         last_checked_at, ip_address, local_ip, plugin_version,
			                         is_development, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`, a.ID, a.LicenseID, a.Domain, a.IsActive, a.ActivatedAt, a.DeactivatedAt,
			a.LastCheckedAt, a.IPAddress, a.LocalIP, a.PluginVersion,
			a.IsDevelopment, a.CreatedAt, a.UpdatedAt)
		if isUniqueViolation(err) {
			return models.ErrConflict
		}
		if err != nil {
			return fmt.Errorf("insert activation: %w", err)
		}
		return nil
	})
}

// ReactivateActivation flips an inactive row back on if the license has a
// free slot. It returns models.ErrConflict when the row is already active.
func (db *DB) ReactivateActivation(ctx context.Context, a *models.Activation, limit int) error {
	return db.ExecTx(ctx, func(tx pgx.Tx) error {
		if err := reserveSlot(ctx, tx, a.LicenseID, a.Domain, limit, true); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			UPDATE activations
			SET is_active = true, activated_at = $2, deactivated_at = NULL,
			    ip_address = $3, local_ip = $4, plugin_version = $5,
			    is_development = $6, updated_at = $7
			WHERE id = $1 AND NOT is_active
		`, a.ID, a.ActivatedAt, a.IPAddress, a.LocalIP, a.PluginVersion, a.IsDevelopment, a.UpdatedAt)
		if err != nil {
			return fmt.Errorf("reactivate activation: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return models.ErrConflict
		}
		return nil
	})
}

// UpdateActivation persists deactivation and liveness fields.
func (db *DB) UpdateActivation(ctx context.Context, a *models.Activation) error {
	a.UpdatedAt = time.Now()
	tag, err := db.Pool.Exec(ctx, `
		UPDATE activations
		SET is_active = $2, deactivated_at = $3, last_checked_at = $4,
		    ip_address = $5, local_ip = $6, plugin_version = $7, updated_at = $8
		WHERE id = $1
	`, a.ID, a.IsActive, a.DeactivatedAt, a.LastCheckedAt,
		a.IPAddress, a.LocalIP, a.PluginVersion, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update activation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update activation: %w", models.ErrNotFound)
	}
	return nil
}

// CountActiveActivations returns the number of slots held on a license.
func (db *DB) CountActiveActivations(ctx context.Context, licenseID uuid.UUID) (int, error) {
	var n int
	err := db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM activations WHERE license_id = $1 AND is_active`, licenseID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active activations: %w", err)
	}
	return n, nil
}

// CountAllActiveActivations returns the number of held slots across all licenses.
func (db *DB) CountAllActiveActivations(ctx context.Context) (int64, error) {
	var n int64
	if err := db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM activations WHERE is_active`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count all active activations: %w", err)
	}
	return n, nil
}

// ListActivations returns every activation of a license, active first.
func (db *DB) ListActivations(ctx context.Context, licenseID uuid.UUID) ([]*models.Activation, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+activationColumns+`
		FROM activations
		WHERE license_id = $1
		ORDER BY is_active DESC, activated_at DESC
	`, licenseID)
	if err != nil {
		return nil, fmt.Errorf("list activations: %w", err)
	}
	defer rows.Close()

	var activations []*models.Activation
	for rows.Next() {
		a, err := scanActivation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activation: %w", err)
		}
		activations = append(activations, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activations: %w", err)
	}
	return activations, nil
}
