package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/MacJediWizard/keygate/internal/api/middleware"
	"github.com/MacJediWizard/keygate/internal/crypto"
	"github.com/MacJediWizard/keygate/internal/license"
	"github.com/MacJediWizard/keygate/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AdminLicenseService performs audited license operations for operators.
type AdminLicenseService interface {
	Issue(ctx context.Context, actor models.Actor, l *models.License) error
	ChangeStatus(ctx context.Context, actor models.Actor, licenseID uuid.UUID, trigger license.Trigger) (*models.License, error)
	ForceDeactivate(ctx context.Context, actor models.Actor, licenseID uuid.UUID, domain string) (*models.Activation, error)
}

// AdminLicenseStore reads licenses and their related records.
type AdminLicenseStore interface {
	GetLicenseByID(ctx context.Context, id uuid.UUID) (*models.License, error)
	ListLicenses(ctx context.Context, f models.LicenseFilter) ([]*models.License, error)
	GetProductBySlug(ctx context.Context, slug string) (*models.Product, error)
	GetCustomerByID(ctx context.Context, id uuid.UUID) (*models.Customer, error)
	FindOrCreateCustomer(ctx context.Context, c *models.Customer) (*models.Customer, error)
	ListActivations(ctx context.Context, licenseID uuid.UUID) ([]*models.Activation, error)
	ListInvoicesByLicense(ctx context.Context, licenseID uuid.UUID) ([]*models.Invoice, error)
	ListAuditLogsForResource(ctx context.Context, resourceType string, resourceID uuid.UUID, limit int) ([]*models.AuditLog, error)
}

// Encrypter seals secrets for storage.
type Encrypter interface {
	Encrypt(plaintext []byte) ([]byte, error)
}

// defaultActivationLimit applies to manual licenses that do not name a limit.
const defaultActivationLimit = 1

// LicenseDetailResponse is the operator view of one license.
type LicenseDetailResponse struct {
	License     *models.License      `json:"license"`
	Customer    *models.Customer     `json:"customer,omitempty"`
	Activations []*models.Activation `json:"activations"`
	Invoices    []*models.Invoice    `json:"invoices"`
	AuditLogs   []*models.AuditLog   `json:"audit_logs"`
}

// CreateLicenseResponse carries the new license and, when requested, its
// signing secret. The secret is only ever returned here.
type CreateLicenseResponse struct {
	License       *models.License `json:"license"`
	SigningSecret string          `json:"signing_secret,omitempty"`
}

// ForceDeactivateRequest names the domain whose slot to release.
type ForceDeactivateRequest struct {
	Domain string `json:"domain" binding:"required"`
}

// AdminLicensesHandler serves operator license management endpoints.
type AdminLicensesHandler struct {
	service   AdminLicenseService
	store     AdminLicenseStore
	encrypter Encrypter
	logger    zerolog.Logger
}

// NewAdminLicensesHandler creates a new AdminLicensesHandler.
func NewAdminLicensesHandler(service AdminLicenseService, store AdminLicenseStore, encrypter Encrypter, logger zerolog.Logger) *AdminLicensesHandler {
	return &AdminLicensesHandler{
		service:   service,
		store:     store,
		encrypter: encrypter,
		logger:    logger.With().Str("component", "admin_licenses_handler").Logger(),
	}
}

// RegisterRoutes registers operator license routes on the given router group.
func (h *AdminLicensesHandler) RegisterRoutes(r *gin.RouterGroup) {
	licenses := r.Group("/licenses")
	{
		licenses.GET("", h.List)
		licenses.POST("", h.Create)
		licenses.GET("/:id", h.Get)
		licenses.POST("/:id/suspend", h.transition(license.TriggerOperatorSuspend))
		licenses.POST("/:id/revoke", h.transition(license.TriggerOperatorRevoke))
		licenses.POST("/:id/expire", h.transition(license.TriggerOperatorExpire))
		licenses.POST("/:id/reactivate", h.transition(license.TriggerOperatorReactivate))
		licenses.GET("/:id/activations", h.ListActivations)
		licenses.POST("/:id/deactivate", h.ForceDeactivate)
	}
}

// List returns licenses, newest first.
// GET /admin/licenses?status=&customer_id=&product_id=&limit=&offset=
func (h *AdminLicensesHandler) List(c *gin.Context) {
	var filter models.LicenseFilter

	if status := c.Query("status"); status != "" {
		filter.Status = models.LicenseStatus(status)
		if !filter.Status.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
	}
	for param, dst := range map[string]**uuid.UUID{"customer_id": &filter.CustomerID, "product_id": &filter.ProductID} {
		raw := c.Query(param)
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + param})
			return
		}
		*dst = &id
	}
	filter.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	filter.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	licenses, err := h.store.ListLicenses(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list licenses")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list licenses"})
		return
	}
	if licenses == nil {
		licenses = []*models.License{}
	}

	c.JSON(http.StatusOK, gin.H{"licenses": licenses})
}

// Create issues a license manually.
// POST /admin/licenses
func (h *AdminLicensesHandler) Create(c *gin.Context) {
	var req models.CreateLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	licenseType := models.LicenseTypeLifetime
	switch strings.ToLower(req.Type) {
	case "", string(models.LicenseTypeLifetime):
	case string(models.LicenseTypeSubscription):
		licenseType = models.LicenseTypeSubscription
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be lifetime or subscription"})
		return
	}

	limit := defaultActivationLimit
	if req.ActivationLimit != nil {
		if *req.ActivationLimit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "activation_limit must be zero (unlimited) or positive"})
			return
		}
		limit = *req.ActivationLimit
	}

	ctx := c.Request.Context()

	product, err := h.store.GetProductBySlug(ctx, req.ProductSlug)
	if errors.Is(err, models.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("product_slug", req.ProductSlug).Msg("failed to get product")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create license"})
		return
	}

	customer, err := h.store.FindOrCreateCustomer(ctx, models.NewCustomer(req.CustomerEmail, req.CustomerName, ""))
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to find or create customer")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create license"})
		return
	}

	l := models.NewLicense(customer.ID, product.ID, licenseType, limit)
	if req.ExpiresAt != nil {
		expires := req.ExpiresAt.UTC()
		l.ExpiresAt = &expires
	}

	resp := CreateLicenseResponse{License: l}
	if req.WithSecret {
		secret, err := crypto.GenerateSecret()
		if err != nil {
			h.logger.Error().Err(err).Msg("failed to generate signing secret")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create license"})
			return
		}
		sealed, err := h.encrypter.Encrypt([]byte(secret))
		if err != nil {
			h.logger.Error().Err(err).Msg("failed to encrypt signing secret")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encrypt secret"})
			return
		}
		l.SigningSecretEncrypted = sealed
		resp.SigningSecret = secret
	}

	actor := middleware.GetActor(c, models.ActorOperator)
	if err := h.service.Issue(ctx, actor, l); err != nil {
		h.logger.Error().Err(err).Msg("failed to issue license")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create license"})
		return
	}

	h.logger.Info().
		Str("license_id", l.ID.String()).
		Str("product", product.Slug).
		Str("operator", actor.ID).
		Msg("license issued manually")

	c.JSON(http.StatusCreated, resp)
}

// Get returns a license with its customer, activations, invoices and audit trail.
// GET /admin/licenses/:id
func (h *AdminLicensesHandler) Get(c *gin.Context) {
	l, ok := h.lookup(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	resp := LicenseDetailResponse{License: l}

	customer, err := h.store.GetCustomerByID(ctx, l.CustomerID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		h.logger.Warn().Err(err).Str("license_id", l.ID.String()).Msg("failed to get license customer")
	}
	resp.Customer = customer

	if resp.Activations, err = h.store.ListActivations(ctx, l.ID); err != nil {
		h.logger.Error().Err(err).Str("license_id", l.ID.String()).Msg("failed to list activations")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get license"})
		return
	}
	if resp.Invoices, err = h.store.ListInvoicesByLicense(ctx, l.ID); err != nil {
		h.logger.Error().Err(err).Str("license_id", l.ID.String()).Msg("failed to list invoices")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get license"})
		return
	}
	if resp.AuditLogs, err = h.store.ListAuditLogsForResource(ctx, "license", l.ID, 50); err != nil {
		h.logger.Error().Err(err).Str("license_id", l.ID.String()).Msg("failed to list audit logs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get license"})
		return
	}

	if resp.Activations == nil {
		resp.Activations = []*models.Activation{}
	}
	if resp.Invoices == nil {
		resp.Invoices = []*models.Invoice{}
	}
	if resp.AuditLogs == nil {
		resp.AuditLogs = []*models.AuditLog{}
	}

	c.JSON(http.StatusOK, resp)
}

// transition returns a handler applying an operator status trigger.
// POST /admin/licenses/:id/{suspend,revoke,expire,reactivate}
func (h *AdminLicensesHandler) transition(trigger license.Trigger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c, "license")
		if !ok {
			return
		}

		actor := middleware.GetActor(c, models.ActorOperator)
		l, err := h.service.ChangeStatus(c.Request.Context(), actor, id, trigger)
		if err != nil {
			switch {
			case errors.Is(err, license.ErrNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "license not found"})
			case errors.Is(err, license.ErrInvalidTransition):
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			default:
				h.logger.Error().Err(err).Str("license_id", id.String()).Str("trigger", string(trigger)).Msg("failed to change license status")
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to change license status"})
			}
			return
		}

		c.JSON(http.StatusOK, gin.H{"license": l})
	}
}

// ListActivations returns every activation row of a license, active or not.
// GET /admin/licenses/:id/activations
func (h *AdminLicensesHandler) ListActivations(c *gin.Context) {
	l, ok := h.lookup(c)
	if !ok {
		return
	}

	activations, err := h.store.ListActivations(c.Request.Context(), l.ID)
	if err != nil {
		h.logger.Error().Err(err).Str("license_id", l.ID.String()).Msg("failed to list activations")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list activations"})
		return
	}
	if activations == nil {
		activations = []*models.Activation{}
	}

	c.JSON(http.StatusOK, gin.H{"activations": activations})
}

// ForceDeactivate releases a domain's slot on behalf of the customer.
// POST /admin/licenses/:id/deactivate
func (h *AdminLicensesHandler) ForceDeactivate(c *gin.Context) {
	id, ok := parseID(c, "license")
	if !ok {
		return
	}

	var req ForceDeactivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	actor := middleware.GetActor(c, models.ActorOperator)
	activation, err := h.service.ForceDeactivate(c.Request.Context(), actor, id, req.Domain)
	if err != nil {
		if reason, ok := license.ReasonOf(err); ok {
			c.JSON(http.StatusNotFound, gin.H{"error": pluginMessage(reason)})
			return
		}
		h.logger.Error().Err(err).Str("license_id", id.String()).Msg("failed to force deactivate")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to deactivate domain"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"activation": activation})
}

func (h *AdminLicensesHandler) lookup(c *gin.Context) (*models.License, bool) {
	id, ok := parseID(c, "license")
	if !ok {
		return nil, false
	}

	l, err := h.store.GetLicenseByID(c.Request.Context(), id)
	if errors.Is(err, models.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "license not found"})
		return nil, false
	}
	if err != nil {
		h.logger.Error().Err(err).Str("license_id", id.String()).Msg("failed to get license")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get license"})
		return nil, false
	}
	return l, true
}

// parseID parses the :id path parameter, answering 400 when it is not a UUID.
func parseID(c *gin.Context, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + what + " ID"})
		return uuid.Nil, false
	}
	return id, true
}
