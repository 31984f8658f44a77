package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/MacJediWizard/keygate/internal/api/middleware"
	"github.com/MacJediWizard/keygate/internal/license"
	"github.com/MacJediWizard/keygate/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// LicenseService is the plugin-facing license API.
type LicenseService interface {
	Verify(ctx context.Context, req license.VerifyRequest) (*license.Verdict, error)
	Activate(ctx context.Context, actor models.Actor, req license.ActivateRequest) (*license.ActivationResult, error)
	Deactivate(ctx context.Context, actor models.Actor, licenseKey, domain string) (*models.Activation, error)
}

// ActivationObserver counts activation outcomes.
type ActivationObserver interface {
	RecordActivation(outcome string)
}

// ReasonInternalError is returned to plugins when the server failed.
const ReasonInternalError = "internal_error"

// PluginLicenseRequest is the body of the plugin license endpoints.
type PluginLicenseRequest struct {
	LicenseKey    string `json:"license_key" binding:"required"`
	ProductSlug   string `json:"product_slug"`
	Domain        string `json:"domain" binding:"required"`
	LocalIP       string `json:"local_ip"`
	PluginVersion string `json:"plugin_version"`
}

// PluginLicense is the license view returned to plugins. It carries no
// internal identifiers.
type PluginLicense struct {
	Status          models.LicenseStatus `json:"status"`
	Type            models.LicenseType   `json:"type"`
	ExpiresAt       *time.Time           `json:"expires_at"`
	ActivationLimit int                  `json:"activation_limit"`
}

// PluginActivation is the activation view returned to plugins.
type PluginActivation struct {
	Domain        string     `json:"domain"`
	IsActive      bool       `json:"is_active"`
	IsDevelopment bool       `json:"is_development"`
	ActivatedAt   time.Time  `json:"activated_at"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
}

// VerifyResponse is the answer to POST /license/verify.
type VerifyResponse struct {
	Valid      bool              `json:"valid"`
	Reason     string            `json:"reason,omitempty"`
	License    *PluginLicense    `json:"license,omitempty"`
	Activation *PluginActivation `json:"activation,omitempty"`
}

// ActivateResponse is the answer to a successful POST /license/activate.
type ActivateResponse struct {
	Success    bool              `json:"success"`
	Outcome    string            `json:"outcome"`
	Activation *PluginActivation `json:"activation"`
}

// LicenseHandler serves the plugin license endpoints.
type LicenseHandler struct {
	service  LicenseService
	observer ActivationObserver
	logger   zerolog.Logger
}

// NewLicenseHandler creates a new LicenseHandler. observer may be nil.
func NewLicenseHandler(service LicenseService, observer ActivationObserver, logger zerolog.Logger) *LicenseHandler {
	return &LicenseHandler{
		service:  service,
		observer: observer,
		logger:   logger.With().Str("component", "license_handler").Logger(),
	}
}

// RegisterRoutes registers the plugin license routes on the given router group.
func (h *LicenseHandler) RegisterRoutes(r *gin.RouterGroup) {
	licenses := r.Group("/license")
	{
		licenses.POST("/verify", h.Verify)
		licenses.POST("/activate", h.Activate)
		licenses.POST("/deactivate", h.Deactivate)
	}
}

// Verify answers a plugin's periodic license check. Refusals are reported
// with valid=false and a reason, not an error status.
// POST /license/verify
func (h *LicenseHandler) Verify(c *gin.Context) {
	var req PluginLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.PluginFailure(c, http.StatusBadRequest, middleware.ReasonMalformedRequest, "license_key and domain are required")
		return
	}

	verdict, err := h.service.Verify(c.Request.Context(), license.VerifyRequest{
		LicenseKey:  req.LicenseKey,
		ProductSlug: req.ProductSlug,
		Domain:      req.Domain,
		Meta:        metadata(c, req),
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to verify license")
		middleware.PluginFailure(c, http.StatusInternalServerError, ReasonInternalError, "license could not be verified")
		return
	}

	resp := VerifyResponse{
		Valid:  verdict.Valid,
		Reason: verdict.Reason,
	}
	if verdict.License != nil {
		resp.License = pluginLicense(verdict.License)
	}
	if verdict.Activation != nil {
		resp.Activation = pluginActivation(verdict.Activation)
	}
	c.JSON(http.StatusOK, resp)
}

// Activate binds the calling domain to a license slot. A new activation
// answers 201; reactivations and repeat calls answer 200.
// POST /license/activate
func (h *LicenseHandler) Activate(c *gin.Context) {
	var req PluginLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.PluginFailure(c, http.StatusBadRequest, middleware.ReasonMalformedRequest, "license_key and domain are required")
		return
	}

	actor := middleware.GetActor(c, models.ActorPlugin)
	result, err := h.service.Activate(c.Request.Context(), actor, license.ActivateRequest{
		LicenseKey:  req.LicenseKey,
		ProductSlug: req.ProductSlug,
		Domain:      req.Domain,
		Meta:        metadata(c, req),
	})
	if err != nil {
		reason, ok := license.ReasonOf(err)
		if !ok {
			h.recordActivation("error")
			h.logger.Error().Err(err).Msg("failed to activate license")
			middleware.PluginFailure(c, http.StatusInternalServerError, ReasonInternalError, "license could not be activated")
			return
		}
		h.recordActivation(reason)
		middleware.PluginFailure(c, pluginStatus(reason), reason, pluginMessage(reason))
		return
	}

	h.recordActivation(string(result.Outcome))

	status := http.StatusOK
	if result.Outcome == license.OutcomeCreated {
		status = http.StatusCreated
	}
	c.JSON(status, ActivateResponse{
		Success:    true,
		Outcome:    string(result.Outcome),
		Activation: pluginActivation(result.Activation),
	})
}

// DeactivateRequest is the body of POST /license/deactivate.
type DeactivateRequest struct {
	LicenseKey string `json:"license_key" binding:"required"`
	Domain     string `json:"domain" binding:"required"`
}

// Deactivate releases the slot held by the calling domain.
// POST /license/deactivate
func (h *LicenseHandler) Deactivate(c *gin.Context) {
	var req DeactivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.PluginFailure(c, http.StatusBadRequest, middleware.ReasonMalformedRequest, "license_key and domain are required")
		return
	}

	actor := middleware.GetActor(c, models.ActorPlugin)
	if _, err := h.service.Deactivate(c.Request.Context(), actor, req.LicenseKey, req.Domain); err != nil {
		if reason, ok := license.ReasonOf(err); ok {
			middleware.PluginFailure(c, pluginStatus(reason), reason, pluginMessage(reason))
			return
		}
		h.logger.Error().Err(err).Msg("failed to deactivate license")
		middleware.PluginFailure(c, http.StatusInternalServerError, ReasonInternalError, "license could not be deactivated")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *LicenseHandler) recordActivation(outcome string) {
	if h.observer != nil {
		h.observer.RecordActivation(outcome)
	}
}

func metadata(c *gin.Context, req PluginLicenseRequest) models.ActivationMetadata {
	return models.ActivationMetadata{
		IPAddress:     c.ClientIP(),
		LocalIP:       req.LocalIP,
		PluginVersion: req.PluginVersion,
	}
}

func pluginLicense(l *models.License) *PluginLicense {
	return &PluginLicense{
		Status:          l.Status,
		Type:            l.Type,
		ExpiresAt:       l.ExpiresAt,
		ActivationLimit: l.ActivationLimit,
	}
}

func pluginActivation(a *models.Activation) *PluginActivation {
	return &PluginActivation{
		Domain:        a.Domain,
		IsActive:      a.IsActive,
		IsDevelopment: a.IsDevelopment,
		ActivatedAt:   a.ActivatedAt,
		LastCheckedAt: a.LastCheckedAt,
	}
}

// pluginStatus maps a refusal reason to its HTTP status.
func pluginStatus(reason string) int {
	switch {
	case reason == license.ReasonLicenseNotFound, reason == license.ReasonActivationNotFound:
		return http.StatusNotFound
	case reason == license.ReasonProductMismatch,
		reason == license.ReasonLicenseExpired,
		reason == license.ReasonDomainNotActivated,
		strings.HasPrefix(reason, "license_"):
		return http.StatusForbidden
	case reason == license.ReasonInvalidDownloadToken:
		return http.StatusUnauthorized
	default:
		return http.StatusBadRequest
	}
}

var pluginMessages = map[string]string{
	license.ReasonLicenseNotFound:      "license not found",
	license.ReasonProductMismatch:      "license does not belong to this product",
	license.ReasonLicenseExpired:       "license has expired",
	license.ReasonDomainNotActivated:   "domain is not activated for this license",
	license.ReasonLimitReached:         "activation limit reached",
	license.ReasonInvalidDomain:        "domain is invalid",
	license.ReasonDevDomainNotAllowed:  "development domains cannot be activated",
	license.ReasonActivationNotFound:   "domain has no active activation",
	license.ReasonInvalidDownloadToken: "download link is invalid or has expired",
}

func pluginMessage(reason string) string {
	if msg, ok := pluginMessages[reason]; ok {
		return msg
	}
	if status, ok := strings.CutPrefix(reason, "license_"); ok {
		return "license is " + status
	}
	return "request refused"
}
