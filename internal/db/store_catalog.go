package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MacJediWizard/keygate/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Products

// GetProductBySlug returns the product with the given slug.
func (db *DB) GetProductBySlug(ctx context.Context, slug string) (*models.Product, error) {
	var p models.Product
	err := db.Pool.QueryRow(ctx, `
		SELECT id, slug, name, created_at FROM products WHERE slug = $1
	`, slug).Scan(&p.ID, &p.Slug, &p.Name, &p.CreatedAt)
	if err != nil {
		return nil, notFound(err, "product")
	}
	return &p, nil
}

// GetProductByID returns the product with the given ID.
func (db *DB) GetProductByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var p models.Product
	err := db.Pool.QueryRow(ctx, `
		SELECT id, slug, name, created_at FROM products WHERE id = $1
	`, id).Scan(&p.ID, &p.Slug, &p.Name, &p.CreatedAt)
	if err != nil {
		return nil, notFound(err, "product")
	}
	return &p, nil
}

// CreateProduct inserts a product.
func (db *DB) CreateProduct(ctx context.Context, p *models.Product) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO products (id, slug, name, created_at) VALUES ($1, $2, $3, $4)
	`, p.ID, p.Slug, p.Name, p.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("create product: %w", models.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("create product: %w", err)
	}
	return nil
}

// Prices

// GetPriceByExternalID returns the price mirrored from a processor price id.
func (db *DB) GetPriceByExternalID(ctx context.Context, externalID string) (*models.Price, error) {
	var p models.Price
	err := db.Pool.QueryRow(ctx, `
		SELECT id, product_id, external_price_id, recurring, activation_limit, duration_days, created_at
		FROM prices
		WHERE external_price_id = $1
	`, externalID).Scan(&p.ID, &p.ProductID, &p.ExternalPriceID, &p.Recurring,
		&p.ActivationLimit, &p.DurationDays, &p.CreatedAt)
	if err != nil {
		return nil, notFound(err, "price")
	}
	return &p, nil
}

// CreatePrice inserts a price.
func (db *DB) CreatePrice(ctx context.Context, p *models.Price) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO prices (id, product_id, external_price_id, recurring, activation_limit, duration_days, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.ID, p.ProductID, p.ExternalPriceID, p.Recurring, p.ActivationLimit, p.DurationDays, p.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("create price: %w", models.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("create price: %w", err)
	}
	return nil
}

// Releases

const releaseColumns = `id, product_id, version, changelog, artifact_key,
	min_php_version, min_platform_version, published_at`

func scanRelease(row rowScanner) (*models.Release, error) {
	var r models.Release
	err := row.Scan(&r.ID, &r.ProductID, &r.Version, &r.Changelog, &r.ArtifactKey,
		&r.MinPHPVersion, &r.MinPlatformVersion, &r.PublishedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetLatestRelease returns the most recently published release of a product.
// Releases scheduled in the future are not visible yet.
func (db *DB) GetLatestRelease(ctx context.Context, productID uuid.UUID) (*models.Release, error) {
	r, err := scanRelease(db.Pool.QueryRow(ctx, `
		SELECT `+releaseColumns+`
		FROM releases
		WHERE product_id = $1 AND published_at <= NOW()
		ORDER BY published_at DESC
		LIMIT 1
	`, productID))
	if err != nil {
		return nil, notFound(err, "release")
	}
	return r, nil
}

// GetReleaseByID returns the release with the given ID.
func (db *DB) GetReleaseByID(ctx context.Context, id uuid.UUID) (*models.Release, error) {
	r, err := scanRelease(db.Pool.QueryRow(ctx,
		`SELECT `+releaseColumns+` FROM releases WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "release")
	}
	return r, nil
}

// CreateRelease inserts a release.
func (db *DB) CreateRelease(ctx context.Context, r *models.Release) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO releases (id, product_id, version, changelog, artifact_key,
		                      min_php_version, min_platform_version, published_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, r.ID, r.ProductID, r.Version, r.Changelog, r.ArtifactKey,
		r.MinPHPVersion, r.MinPlatformVersion, r.PublishedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("create release: %w", models.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("create release: %w", err)
	}
	return nil
}

// Customers

func scanCustomer(row rowScanner) (*models.Customer, error) {
	var c models.Customer
	err := row.Scan(&c.ID, &c.Email, &c.Name, &c.ExternalCustomerID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

const customerColumns = `id, email, name, COALESCE(external_customer_id, ''), created_at, updated_at`

// GetCustomerByID returns the customer with the given ID.
func (db *DB) GetCustomerByID(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	c, err := scanCustomer(db.Pool.QueryRow(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "customer")
	}
	return c, nil
}

// FindOrCreateCustomer returns the customer matching c's external id or,
// failing that, its email. A customer found by email without an external id
// adopts c's. Otherwise c is inserted. Losing an insert race to a concurrent
// caller re-reads the winner.
func (db *DB) FindOrCreateCustomer(ctx context.Context, c *models.Customer) (*models.Customer, error) {
	found, err := db.findOrCreateCustomer(ctx, c)
	if errors.Is(err, models.ErrConflict) {
		return db.findOrCreateCustomer(ctx, c)
	}
	return found, err
}

func (db *DB) findOrCreateCustomer(ctx context.Context, c *models.Customer) (*models.Customer, error) {
	email := strings.ToLower(strings.TrimSpace(c.Email))

	var found *models.Customer
	err := db.ExecTx(ctx, func(tx pgx.Tx) error {
		if c.ExternalCustomerID != "" {
			existing, err := scanCustomer(tx.QueryRow(ctx,
				`SELECT `+customerColumns+` FROM customers WHERE external_customer_id = $1`,
				c.ExternalCustomerID))
			if err == nil {
				found = existing
				return nil
			}
			if !errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("get customer by external id: %w", err)
			}
		}

		if email != "" {
			existing, err := scanCustomer(tx.QueryRow(ctx,
				`SELECT `+customerColumns+` FROM customers WHERE email = $1 ORDER BY created_at LIMIT 1`,
				email))
			if err == nil {
				if existing.ExternalCustomerID == "" && c.ExternalCustomerID != "" {
					existing.ExternalCustomerID = c.ExternalCustomerID
					existing.UpdatedAt = time.Now()
					if _, err := tx.Exec(ctx,
						`UPDATE customers SET external_customer_id = $2, updated_at = $3 WHERE id = $1`,
						existing.ID, existing.ExternalCustomerID, existing.UpdatedAt,
					); err != nil {
						return fmt.Errorf("link customer external id: %w", err)
					}
				}
				found = existing
				return nil
			}
			if !errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("get customer by email: %w", err)
			}
		}

		c.Email = email
		if _, err := tx.Exec(ctx, `
			INSERT INTO customers (id, email, name, external_customer_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, c.ID, c.Email, c.Name, nullIfEmpty(c.ExternalCustomerID), c.CreatedAt, c.UpdatedAt); err != nil {
			if isUniqueViolation(err) {
				return models.ErrConflict
			}
			return fmt.Errorf("create customer: %w", err)
		}
		found = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}
