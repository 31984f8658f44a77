package models

import (
	"time"

	"github.com/google/uuid"
)

// Product is a distributable plugin.
type Product struct {
	ID        uuid.UUID `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Price is a purchasable offer for a product, mirrored from the payment processor.
type Price struct {
	ID              uuid.UUID `json:"id"`
	ProductID       uuid.UUID `json:"product_id"`
	ExternalPriceID string    `json:"external_price_id"`
	Recurring       bool      `json:"recurring"`
	ActivationLimit int       `json:"activation_limit"`
	// DurationDays bounds a one-off purchase; zero means lifetime.
	DurationDays int       `json:"duration_days"`
	CreatedAt    time.Time `json:"created_at"`
}

// LicenseType returns the license type issued for this price.
func (p *Price) LicenseType() LicenseType {
	if p.Recurring {
		return LicenseTypeSubscription
	}
	return LicenseTypeLifetime
}

// Release is a published plugin version.
type Release struct {
	ID                 uuid.UUID `json:"id"`
	ProductID          uuid.UUID `json:"product_id"`
	Version            string    `json:"version"`
	Changelog          string    `json:"changelog"`
	ArtifactKey        string    `json:"-"`
	MinPHPVersion      string    `json:"min_php_version,omitempty"`
	MinPlatformVersion string    `json:"min_platform_version,omitempty"`
	PublishedAt        time.Time `json:"published_at"`
}
