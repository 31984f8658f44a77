// Package updates answers plugin update checks and serves release artifacts
// through time-limited, license-scoped download links.
package updates

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MacJediWizard/keygate/internal/license"
	"github.com/MacJediWizard/keygate/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultCacheTTL is how long the latest release of a product is cached.
const DefaultCacheTTL = time.Minute

// Store reads published releases.
type Store interface {
	// GetLatestRelease returns models.ErrNotFound when the product has no release.
	GetLatestRelease(ctx context.Context, productID uuid.UUID) (*models.Release, error)
	GetReleaseByID(ctx context.Context, id uuid.UUID) (*models.Release, error)
}

// Licenses resolves and gates licenses.
type Licenses interface {
	Resolve(ctx context.Context, licenseKey, productSlug string) (*models.License, error)
	LookupActivation(ctx context.Context, l *models.License, domain string) (*models.Activation, error)
}

// ArtifactPresigner issues short-lived URLs for stored release artifacts.
type ArtifactPresigner interface {
	PresignArtifact(ctx context.Context, key string) (string, error)
}

// CheckRequest is an update check from an installed plugin.
type CheckRequest struct {
	LicenseKey      string
	ProductSlug     string
	Domain          string
	CurrentVersion  string
	PHPVersion      string
	PlatformVersion string
}

// Requirements lists the minimum runtime versions of a release.
type Requirements struct {
	PHP      string `json:"php,omitempty"`
	Platform string `json:"platform,omitempty"`
}

// UpdateInfo is the answer to an update check.
type UpdateInfo struct {
	UpdateAvailable   bool          `json:"update_available"`
	CurrentVersion    string        `json:"current_version"`
	LatestVersion     string        `json:"latest_version,omitempty"`
	Changelog         string        `json:"changelog,omitempty"`
	DownloadURL       string        `json:"download_url,omitempty"`
	DownloadExpiresAt string        `json:"download_expires_at,omitempty"`
	PublishedAt       string        `json:"published_at,omitempty"`
	Reason            string        `json:"reason,omitempty"`
	Requirements      *Requirements `json:"requirements,omitempty"`
	CheckedAt         string        `json:"checked_at"`
}

type cachedRelease struct {
	release   *models.Release
	fetchedAt time.Time
}

// Checker handles update checks and download redemption.
type Checker struct {
	store     Store
	licenses  Licenses
	signer    *URLSigner
	presigner ArtifactPresigner
	cacheTTL  time.Duration
	logger    zerolog.Logger
	now       func() time.Time

	mu    sync.RWMutex
	cache map[uuid.UUID]cachedRelease
}

// NewChecker creates a new update Checker. presigner may be nil when no
// artifact storage is configured; downloads then fail.
func NewChecker(store Store, licenses Licenses, signer *URLSigner, presigner ArtifactPresigner, cacheTTL time.Duration, logger zerolog.Logger) *Checker {
	if cacheTTL == 0 {
		cacheTTL = DefaultCacheTTL
	}
	return &Checker{
		store:     store,
		licenses:  licenses,
		signer:    signer,
		presigner: presigner,
		cacheTTL:  cacheTTL,
		logger:    logger.With().Str("component", "update_checker").Logger(),
		now:       time.Now,
		cache:     make(map[uuid.UUID]cachedRelease),
	}
}

// Check answers an update check. The license must resolve, be usable and be
// activated on the calling domain; refusals are returned as *license.Rejection.
func (c *Checker) Check(ctx context.Context, req CheckRequest) (*UpdateInfo, error) {
	l, err := c.licenses.Resolve(ctx, req.LicenseKey, req.ProductSlug)
	if err != nil {
		return nil, err
	}
	now := c.now()
	if reason := license.BlockedReason(l, now); reason != "" {
		return nil, &license.Rejection{Reason: reason, Err: license.ErrLicenseInactive}
	}
	if _, err := c.licenses.LookupActivation(ctx, l, req.Domain); err != nil {
		if errors.Is(err, license.ErrNotFound) {
			return nil, &license.Rejection{Reason: license.ReasonDomainNotActivated, Err: err}
		}
		return nil, fmt.Errorf("lookup activation: %w", err)
	}

	info := &UpdateInfo{
		CurrentVersion: req.CurrentVersion,
		CheckedAt:      now.UTC().Format(time.RFC3339),
	}

	release, err := c.latestRelease(ctx, l.ProductID)
	if errors.Is(err, models.ErrNotFound) {
		return info, nil
	}
	if err != nil {
		return nil, err
	}

	info.LatestVersion = release.Version
	info.Changelog = release.Changelog
	info.PublishedAt = release.PublishedAt.UTC().Format(time.RFC3339)
	if !isNewerVersion(release.Version, req.CurrentVersion) {
		return info, nil
	}

	if !meetsMinimum(req.PHPVersion, release.MinPHPVersion) || !meetsMinimum(req.PlatformVersion, release.MinPlatformVersion) {
		info.Reason = license.ReasonRequirementsNotMet
		info.Requirements = &Requirements{PHP: release.MinPHPVersion, Platform: release.MinPlatformVersion}
		return info, nil
	}

	downloadURL, expires := c.signer.SignedURL(release.ID, l.Key.String())
	info.UpdateAvailable = true
	info.DownloadURL = downloadURL
	info.DownloadExpiresAt = expires.UTC().Format(time.RFC3339)

	c.logger.Debug().
		Str("license_id", l.ID.String()).
		Str("current_version", req.CurrentVersion).
		Str("latest_version", release.Version).
		Msg("update available")

	return info, nil
}

// ArtifactURL redeems a signed download link: it re-checks the link, the
// license and the release, and returns a short-lived storage URL.
func (c *Checker) ArtifactURL(ctx context.Context, releaseID uuid.UUID, licenseKey, expires, signature string) (string, error) {
	if err := c.signer.Verify(releaseID, licenseKey, expires, signature); err != nil {
		return "", &license.Rejection{Reason: license.ReasonInvalidDownloadToken, Err: err}
	}

	release, err := c.store.GetReleaseByID(ctx, releaseID)
	if errors.Is(err, models.ErrNotFound) {
		return "", &license.Rejection{Reason: license.ReasonInvalidDownloadToken, Err: err}
	}
	if err != nil {
		return "", fmt.Errorf("get release: %w", err)
	}

	l, err := c.licenses.Resolve(ctx, licenseKey, "")
	if err != nil {
		return "", err
	}
	if l.ProductID != release.ProductID {
		return "", &license.Rejection{Reason: license.ReasonProductMismatch, Err: license.ErrProductMismatch}
	}
	if reason := license.BlockedReason(l, c.now()); reason != "" {
		return "", &license.Rejection{Reason: reason, Err: license.ErrLicenseInactive}
	}

	if c.presigner == nil {
		return "", ErrStorageNotConfigured
	}
	return c.presigner.PresignArtifact(ctx, release.ArtifactKey)
}

func (c *Checker) latestRelease(ctx context.Context, productID uuid.UUID) (*models.Release, error) {
	now := c.now()

	c.mu.RLock()
	cached, ok := c.cache[productID]
	c.mu.RUnlock()
	if ok && now.Sub(cached.fetchedAt) < c.cacheTTL {
		return cached.release, nil
	}

	release, err := c.store.GetLatestRelease(ctx, productID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get latest release: %w", err)
	}

	c.mu.Lock()
	c.cache[productID] = cachedRelease{release: release, fetchedAt: now}
	c.mu.Unlock()
	return release, nil
}
