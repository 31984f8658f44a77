package models

import (
	"time"

	"github.com/google/uuid"
)

// Activation is one domain's claim on a license's slot pool.
// At most one row exists per (license, domain); reactivation mutates it.
type Activation struct {
	ID            uuid.UUID  `json:"id"`
	LicenseID     uuid.UUID  `json:"license_id"`
	Domain        string     `json:"domain"`
	IsActive      bool       `json:"is_active"`
	ActivatedAt   time.Time  `json:"activated_at"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
	IPAddress     string     `json:"ip_address,omitempty"`
	LocalIP       string     `json:"local_ip,omitempty"`
	PluginVersion string     `json:"plugin_version,omitempty"`
	IsDevelopment bool       `json:"is_development"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// ActivationMetadata carries caller-reported details stored on an activation.
type ActivationMetadata struct {
	IPAddress     string
	LocalIP       string
	PluginVersion string
}

// NewActivation creates an active activation for an already normalized domain.
func NewActivation(licenseID uuid.UUID, domain string, meta ActivationMetadata) *Activation {
	now := time.Now()
	return &Activation{
		ID:            uuid.New(),
		LicenseID:     licenseID,
		Domain:        domain,
		IsActive:      true,
		ActivatedAt:   now,
		IPAddress:     meta.IPAddress,
		LocalIP:       meta.LocalIP,
		PluginVersion: meta.PluginVersion,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Reactivate flips an inactive activation back on and refreshes its metadata.
func (a *Activation) Reactivate(meta ActivationMetadata, now time.Time) {
	a.IsActive = true
	a.ActivatedAt = now
	a.DeactivatedAt = nil
	a.applyMetadata(meta)
	a.UpdatedAt = now
}

// Deactivate releases the slot held by this activation. The row is retained.
func (a *Activation) Deactivate(now time.Time) {
	a.IsActive = false
	a.DeactivatedAt = &now
	a.UpdatedAt = now
}

// Touch records a liveness check from the installed plugin.
func (a *Activation) Touch(meta ActivationMetadata, now time.Time) {
	a.LastCheckedAt = &now
	a.applyMetadata(meta)
	a.UpdatedAt = now
}

func (a *Activation) applyMetadata(meta ActivationMetadata) {
	if meta.IPAddress != "" {
		a.IPAddress = meta.IPAddress
	}
	if meta.LocalIP != "" {
		a.LocalIP = meta.LocalIP
	}
	if meta.PluginVersion != "" {
		a.PluginVersion = meta.PluginVersion
	}
}
