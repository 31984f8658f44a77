package handlers

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"time"

	"github.com/MacJediWizard/keygate/internal/models"
	"github.com/MacJediWizard/keygate/internal/updates"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CatalogStore defines the catalog persistence operations used by operators.
type CatalogStore interface {
	GetProductBySlug(ctx context.Context, slug string) (*models.Product, error)
	CreateProduct(ctx context.Context, p *models.Product) error
	CreatePrice(ctx context.Context, p *models.Price) error
	CreateRelease(ctx context.Context, r *models.Release) error
	GetLatestRelease(ctx context.Context, productID uuid.UUID) (*models.Release, error)
}

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,99}$`)

// CreateProductRequest registers a product.
type CreateProductRequest struct {
	Slug string `json:"slug" binding:"required"`
	Name string `json:"name" binding:"required"`
}

// CreatePriceRequest mirrors a payment processor price onto a product.
type CreatePriceRequest struct {
	ExternalPriceID string `json:"external_price_id" binding:"required"`
	Recurring       bool   `json:"recurring"`
	ActivationLimit int    `json:"activation_limit" binding:"min=0"`
	DurationDays    int    `json:"duration_days" binding:"min=0"`
}

// CreateReleaseRequest publishes a product version.
type CreateReleaseRequest struct {
	Version            string     `json:"version" binding:"required"`
	Changelog          string     `json:"changelog"`
	ArtifactKey        string     `json:"artifact_key" binding:"required"`
	MinPHPVersion      string     `json:"min_php_version"`
	MinPlatformVersion string     `json:"min_platform_version"`
	PublishedAt        *time.Time `json:"published_at,omitempty"`
}

// CatalogHandler handles operator catalog endpoints.
type CatalogHandler struct {
	store  CatalogStore
	logger zerolog.Logger
}

// NewCatalogHandler creates a new CatalogHandler.
func NewCatalogHandler(store CatalogStore, logger zerolog.Logger) *CatalogHandler {
	return &CatalogHandler{
		store:  store,
		logger: logger.With().Str("component", "catalog_handler").Logger(),
	}
}

// RegisterRoutes registers catalog routes on the given router group.
func (h *CatalogHandler) RegisterRoutes(r *gin.RouterGroup) {
	products := r.Group("/products")
	{
		products.POST("", h.CreateProduct)
		products.GET("/:slug", h.GetProduct)
		products.POST("/:slug/prices", h.CreatePrice)
		products.POST("/:slug/releases", h.CreateRelease)
	}
}

// CreateProduct registers a new product.
// POST /admin/products
func (h *CatalogHandler) CreateProduct(c *gin.Context) {
	var req CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if !slugPattern.MatchString(req.Slug) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "slug must be lowercase letters, digits and dashes"})
		return
	}

	p := &models.Product{
		ID:        uuid.New(),
		Slug:      req.Slug,
		Name:      req.Name,
		CreatedAt: time.Now(),
	}
	if err := h.store.CreateProduct(c.Request.Context(), p); err != nil {
		h.writeError(c, err, "product", "failed to create product")
		return
	}

	h.logger.Info().Str("product", p.Slug).Msg("product created")
	c.JSON(http.StatusCreated, p)
}

// GetProduct returns a product and its latest published release.
// GET /admin/products/:slug
func (h *CatalogHandler) GetProduct(c *gin.Context) {
	p, ok := h.product(c)
	if !ok {
		return
	}

	resp := gin.H{"product": p}
	latest, err := h.store.GetLatestRelease(c.Request.Context(), p.ID)
	switch {
	case err == nil:
		resp["latest_release"] = latest
	case !errors.Is(err, models.ErrNotFound):
		h.logger.Error().Err(err).Str("product", p.Slug).Msg("failed to get latest release")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get product"})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// CreatePrice attaches a processor price to a product.
// POST /admin/products/:slug/prices
func (h *CatalogHandler) CreatePrice(c *gin.Context) {
	p, ok := h.product(c)
	if !ok {
		return
	}

	var req CreatePriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if req.Recurring && req.DurationDays > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "duration_days applies to one-off prices only"})
		return
	}

	price := &models.Price{
		ID:              uuid.New(),
		ProductID:       p.ID,
		ExternalPriceID: req.ExternalPriceID,
		Recurring:       req.Recurring,
		ActivationLimit: req.ActivationLimit,
		DurationDays:    req.DurationDays,
		CreatedAt:       time.Now(),
	}
	if err := h.store.CreatePrice(c.Request.Context(), price); err != nil {
		h.writeError(c, err, "price", "failed to create price")
		return
	}

	h.logger.Info().Str("product", p.Slug).Str("external_price_id", price.ExternalPriceID).Msg("price created")
	c.JSON(http.StatusCreated, price)
}

// CreateRelease publishes a version of a product.
// POST /admin/products/:slug/releases
func (h *CatalogHandler) CreateRelease(c *gin.Context) {
	p, ok := h.product(c)
	if !ok {
		return
	}

	var req CreateReleaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if !updates.IsVersion(req.Version) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "version must be dotted numeric"})
		return
	}

	release := &models.Release{
		ID:                 uuid.New(),
		ProductID:          p.ID,
		Version:            req.Version,
		Changelog:          req.Changelog,
		ArtifactKey:        req.ArtifactKey,
		MinPHPVersion:      req.MinPHPVersion,
		MinPlatformVersion: req.MinPlatformVersion,
		PublishedAt:        time.Now().UTC(),
	}
	if req.PublishedAt != nil {
		release.PublishedAt = req.PublishedAt.UTC()
	}
	if err := h.store.CreateRelease(c.Request.Context(), release); err != nil {
		h.writeError(c, err, "release", "failed to create release")
		return
	}

	h.logger.Info().Str("product", p.Slug).Str("version", release.Version).Msg("release published")
	c.JSON(http.StatusCreated, release)
}

func (h *CatalogHandler) product(c *gin.Context) (*models.Product, bool) {
	slug := c.Param("slug")
	p, err := h.store.GetProductBySlug(c.Request.Context(), slug)
	if errors.Is(err, models.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
		return nil, false
	}
	if err != nil {
		h.logger.Error().Err(err).Str("product", slug).Msg("failed to get product")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get product"})
		return nil, false
	}
	return p, true
}

func (h *CatalogHandler) writeError(c *gin.Context, err error, what, msg string) {
	if errors.Is(err, models.ErrConflict) {
		c.JSON(http.StatusConflict, gin.H{"error": what + " already exists"})
		return
	}
	h.logger.Error().Err(err).Msg(msg)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}
