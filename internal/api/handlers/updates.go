package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/MacJediWizard/keygate/internal/api/middleware"
	"github.com/MacJediWizard/keygate/internal/license"
	"github.com/MacJediWizard/keygate/internal/updates"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// UpdateChecker answers update checks and redeems signed download links.
type UpdateChecker interface {
	Check(ctx context.Context, req updates.CheckRequest) (*updates.UpdateInfo, error)
	ArtifactURL(ctx context.Context, releaseID uuid.UUID, licenseKey, expires, signature string) (string, error)
}

// UpdateCheckRequest is the body or query of an update check.
type UpdateCheckRequest struct {
	LicenseKey      string `json:"license_key" form:"license_key" binding:"required"`
	ProductSlug     string `json:"product_slug" form:"product_slug"`
	Domain          string `json:"domain" form:"domain" binding:"required"`
	CurrentVersion  string `json:"current_version" form:"current_version" binding:"required"`
	PHPVersion      string `json:"php_version" form:"php_version"`
	PlatformVersion string `json:"platform_version" form:"platform_version"`
}

// UpdatesHandler handles update checking and artifact download endpoints.
type UpdatesHandler struct {
	checker UpdateChecker
	logger  zerolog.Logger
}

// NewUpdatesHandler creates a new UpdatesHandler.
func NewUpdatesHandler(checker UpdateChecker, logger zerolog.Logger) *UpdatesHandler {
	return &UpdatesHandler{
		checker: checker,
		logger:  logger.With().Str("component", "updates_handler").Logger(),
	}
}

// RegisterRoutes registers the signed update check routes on the given router group.
func (h *UpdatesHandler) RegisterRoutes(r *gin.RouterGroup) {
	updateGroup := r.Group("/update")
	{
		updateGroup.GET("/check", h.Check)
		updateGroup.POST("/check", h.Check)
	}
}

// RegisterPublicRoutes registers the download route. Download links carry
// their own signature, so the route sits outside plugin request signing.
func (h *UpdatesHandler) RegisterPublicRoutes(r gin.IRoutes) {
	r.GET("/download/:release_id", h.Download)
}

// Check reports whether a newer release is available for the caller.
// GET /update/check, POST /update/check
func (h *UpdatesHandler) Check(c *gin.Context) {
	var req UpdateCheckRequest
	var err error
	if c.Request.Method == http.MethodGet {
		err = c.ShouldBindQuery(&req)
	} else {
		err = c.ShouldBindJSON(&req)
	}
	if err != nil {
		middleware.PluginFailure(c, http.StatusBadRequest, middleware.ReasonMalformedRequest, "license_key, domain and current_version are required")
		return
	}

	info, err := h.checker.Check(c.Request.Context(), updates.CheckRequest{
		LicenseKey:      req.LicenseKey,
		ProductSlug:     req.ProductSlug,
		Domain:          req.Domain,
		CurrentVersion:  req.CurrentVersion,
		PHPVersion:      req.PHPVersion,
		PlatformVersion: req.PlatformVersion,
	})
	if err != nil {
		if reason, ok := license.ReasonOf(err); ok {
			middleware.PluginFailure(c, pluginStatus(reason), reason, pluginMessage(reason))
			return
		}
		h.logger.Error().Err(err).Msg("failed to check for updates")
		middleware.PluginFailure(c, http.StatusInternalServerError, ReasonInternalError, "failed to check for updates")
		return
	}

	c.JSON(http.StatusOK, info)
}

// Download redeems a signed download link by redirecting to a short-lived
// storage URL for the release artifact.
// GET /download/:release_id?license=&expires=&signature=
func (h *UpdatesHandler) Download(c *gin.Context) {
	releaseID, err := uuid.Parse(c.Param("release_id"))
	if err != nil {
		middleware.PluginFailure(c, http.StatusNotFound, license.ReasonInvalidDownloadToken, pluginMessage(license.ReasonInvalidDownloadToken))
		return
	}

	target, err := h.checker.ArtifactURL(c.Request.Context(), releaseID,
		c.Query("license"), c.Query("expires"), c.Query("signature"))
	if err != nil {
		if reason, ok := license.ReasonOf(err); ok {
			middleware.PluginFailure(c, pluginStatus(reason), reason, pluginMessage(reason))
			return
		}
		if errors.Is(err, updates.ErrStorageNotConfigured) {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"success": false,
				"reason":  "downloads_unavailable",
				"message": "artifact storage is not configured",
			})
			return
		}
		h.logger.Error().Err(err).Str("release_id", releaseID.String()).Msg("failed to presign artifact")
		middleware.PluginFailure(c, http.StatusInternalServerError, ReasonInternalError, "download could not be prepared")
		return
	}

	h.logger.Debug().Str("release_id", releaseID.String()).Msg("download redeemed")
	c.Redirect(http.StatusFound, target)
}
