// Package license owns license entitlement: domain normalization, the license
// status state machine, and activation slot accounting.
package license

import (
	"errors"

	"github.com/MacJediWizard/keygate/internal/models"
)

var (
	// ErrNotFound indicates the license, domain, or activation does not exist.
	ErrNotFound = models.ErrNotFound
	// ErrLimitReached indicates the activation capacity is exhausted.
	ErrLimitReached = models.ErrLimitReached
	// ErrLicenseInactive indicates the license cannot take new activations.
	ErrLicenseInactive = errors.New("license is not active")
	// ErrInvalidDomain indicates the domain normalized to the empty string.
	ErrInvalidDomain = errors.New("invalid domain")
	// ErrDevDomainRejected indicates the policy forbids development domains.
	ErrDevDomainRejected = errors.New("development domains may not consume activation slots")
	// ErrProductMismatch indicates the license belongs to another product.
	ErrProductMismatch = errors.New("license does not belong to product")
	// ErrInvalidTransition indicates an operator transition not allowed from the current status.
	ErrInvalidTransition = errors.New("invalid license status transition")
)

// Reason codes returned to plugins.
const (
	ReasonLicenseNotFound      = "license_not_found"
	ReasonProductMismatch      = "product_mismatch"
	ReasonLicenseExpired       = "license_expired"
	ReasonDomainNotActivated   = "domain_not_activated"
	ReasonLimitReached         = "limit_reached"
	ReasonInvalidDomain        = "invalid_domain"
	ReasonDevDomainNotAllowed  = "dev_domain_not_allowed"
	ReasonActivationNotFound   = "activation_not_found"
	ReasonRequirementsNotMet   = "requirements_not_met"
	ReasonInvalidDownloadToken = "invalid_download_token"
)

// StatusReason returns the reason code for a license blocked by its status.
func StatusReason(status models.LicenseStatus) string {
	return "license_" + string(status)
}
