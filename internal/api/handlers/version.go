package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// SchemaVersioner reports the applied database schema version.
type SchemaVersioner interface {
	CurrentVersion(ctx context.Context) (int, error)
}

// VersionInfo contains server build and schema information.
type VersionInfo struct {
	Version       string `json:"version"`
	Commit        string `json:"commit,omitempty"`
	BuildDate     string `json:"build_date,omitempty"`
	SchemaVersion *int   `json:"schema_version,omitempty"`
}

// VersionHandler serves the server version.
type VersionHandler struct {
	info   VersionInfo
	schema SchemaVersioner
	logger zerolog.Logger
}

// NewVersionHandler creates a new VersionHandler. schema may be nil.
func NewVersionHandler(version, commit, buildDate string, schema SchemaVersioner, logger zerolog.Logger) *VersionHandler {
	return &VersionHandler{
		info: VersionInfo{
			Version:   version,
			Commit:    commit,
			BuildDate: buildDate,
		},
		schema: schema,
		logger: logger.With().Str("component", "version_handler").Logger(),
	}
}

// RegisterPublicRoutes registers the version route.
func (h *VersionHandler) RegisterPublicRoutes(r gin.IRoutes) {
	r.GET("/version", h.Get)
}

// Get returns the server version information. The schema version is omitted
// when the database cannot be read.
// GET /version
func (h *VersionHandler) Get(c *gin.Context) {
	info := h.info
	if h.schema != nil {
		v, err := h.schema.CurrentVersion(c.Request.Context())
		if err != nil {
			h.logger.Warn().Err(err).Msg("failed to read schema version")
		} else {
			info.SchemaVersion = &v
		}
	}
	c.JSON(http.StatusOK, info)
}
