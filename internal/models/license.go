package models

import (
	"time"

	"github.com/google/uuid"
)

// LicenseStatus represents the current status of a license.
type LicenseStatus string

const (
	// LicenseStatusActive means the license is valid and may hold activations.
	LicenseStatusActive LicenseStatus = "active"
	// LicenseStatusSuspended means a payment is outstanding.
	LicenseStatusSuspended LicenseStatus = "suspended"
	// LicenseStatusExpired means the subscription ended or the license was expired manually.
	LicenseStatusExpired LicenseStatus = "expired"
	// LicenseStatusRevoked means the license was revoked. Only an explicit reactivation leaves it.
	LicenseStatusRevoked LicenseStatus = "revoked"
)

// ValidLicenseStatuses returns all valid license statuses.
func ValidLicenseStatuses() []LicenseStatus {
	return []LicenseStatus{
		LicenseStatusActive,
		LicenseStatusSuspended,
		LicenseStatusExpired,
		LicenseStatusRevoked,
	}
}

// IsValid checks if the status is a recognized value.
func (s LicenseStatus) IsValid() bool {
	for _, valid := range ValidLicenseStatuses() {
		if s == valid {
			return true
		}
	}
	return false
}

// LicenseType distinguishes one-off purchases from subscriptions.
type LicenseType string

const (
	// LicenseTypeLifetime is a non-recurring purchase.
	LicenseTypeLifetime LicenseType = "lifetime"
	// LicenseTypeSubscription is bound to a recurring billing subscription.
	LicenseTypeSubscription LicenseType = "subscription"
)

// UnlimitedActivations is the activation limit that disables slot accounting.
const UnlimitedActivations = 0

// License is a purchased entitlement identified by an opaque UUID key.
type License struct {
	ID                     uuid.UUID     `json:"id"`
	Key                    uuid.UUID     `json:"license_key"`
	CustomerID             uuid.UUID     `json:"customer_id"`
	ProductID              uuid.UUID     `json:"product_id"`
	PriceID                *uuid.UUID    `json:"price_id,omitempty"`
	Status                 LicenseStatus `json:"status"`
	Type                   LicenseType   `json:"type"`
	ExpiresAt              *time.Time    `json:"expires_at,omitempty"`
	ActivationLimit        int           `json:"activation_limit"`
	ExternalSubscriptionID string        `json:"external_subscription_id,omitempty"`
	SigningSecretEncrypted []byte        `json:"-"`
	CreatedAt              time.Time     `json:"created_at"`
	UpdatedAt              time.Time     `json:"updated_at"`
}

// NewLicense creates an active license with a freshly generated key.
func NewLicense(customerID, productID uuid.UUID, licenseType LicenseType, activationLimit int) *License {
	now := time.Now()
	return &License{
		ID:              uuid.New(),
		Key:             uuid.New(),
		CustomerID:      customerID,
		ProductID:       productID,
		Status:          LicenseStatusActive,
		Type:            licenseType,
		ActivationLimit: activationLimit,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// IsActive reports whether the stored status is active.
func (l *License) IsActive() bool {
	return l.Status == LicenseStatusActive
}

// IsExpired reports whether the license is expired by status or by date.
// A license whose expiry date has passed is expired even if its stored status
// still reads active; gating must use this rather than the raw status.
func (l *License) IsExpired(now time.Time) bool {
	if l.Status == LicenseStatusExpired {
		return true
	}
	return l.ExpiresAt != nil && l.ExpiresAt.Before(now)
}

// IsLifetime reports whether the license has no expiry date.
func (l *License) IsLifetime() bool {
	return l.ExpiresAt == nil
}

// HasUnlimitedActivations reports whether slot accounting is disabled.
func (l *License) HasUnlimitedActivations() bool {
	return l.ActivationLimit == UnlimitedActivations
}

// HasSigningSecret reports whether a dedicated per-license signing secret is set.
func (l *License) HasSigningSecret() bool {
	return len(l.SigningSecretEncrypted) > 0
}

// LicenseFilter narrows license listings. Zero fields match everything.
type LicenseFilter struct {
	Status     LicenseStatus
	CustomerID *uuid.UUID
	ProductID  *uuid.UUID
	Limit      int
	Offset     int
}

// CreateLicenseRequest is the operator request to issue a license manually.
type CreateLicenseRequest struct {
	CustomerEmail   string     `json:"customer_email" binding:"required,email"`
	CustomerName    string     `json:"customer_name"`
	ProductSlug     string     `json:"product_slug" binding:"required"`
	Type            string     `json:"type"`
	ActivationLimit *int       `json:"activation_limit,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	WithSecret      bool       `json:"with_signing_secret"`
}
