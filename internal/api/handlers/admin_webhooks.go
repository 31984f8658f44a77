package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/MacJediWizard/keygate/internal/api/middleware"
	"github.com/MacJediWizard/keygate/internal/models"
	"github.com/MacJediWizard/keygate/internal/webhooks"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// WebhooksStore defines the interface for webhook persistence operations.
type WebhooksStore interface {
	ListWebhookEndpoints(ctx context.Context) ([]*models.WebhookEndpoint, error)
	GetWebhookEndpointByID(ctx context.Context, id uuid.UUID) (*models.WebhookEndpoint, error)
	CreateWebhookEndpoint(ctx context.Context, endpoint *models.WebhookEndpoint) error
	UpdateWebhookEndpoint(ctx context.Context, endpoint *models.WebhookEndpoint) error
	DeleteWebhookEndpoint(ctx context.Context, id uuid.UUID) error
	ListWebhookLogs(ctx context.Context, endpointID *uuid.UUID, limit, offset int) ([]*models.WebhookLog, int, error)
	GetWebhookLogByID(ctx context.Context, id uuid.UUID) (*models.WebhookLog, error)
}

// Redeliverer queues the payload of a finished webhook log as a new log.
type Redeliverer interface {
	Redeliver(ctx context.Context, logID uuid.UUID) (*models.WebhookLog, error)
}

// Auditor records operator actions.
type Auditor interface {
	Record(ctx context.Context, actor models.Actor, action models.AuditAction, resourceType string, resourceID uuid.UUID, result models.AuditResult, details map[string]any)
}

// minSecretLength is the shortest accepted endpoint signing secret.
const minSecretLength = 16

// WebhooksHandler handles operator webhook endpoint and delivery log endpoints.
type WebhooksHandler struct {
	store       WebhooksStore
	encrypter   Encrypter
	redeliverer Redeliverer
	auditor     Auditor
	logger      zerolog.Logger
}

// NewWebhooksHandler creates a new WebhooksHandler.
func NewWebhooksHandler(store WebhooksStore, encrypter Encrypter, redeliverer Redeliverer, auditor Auditor, logger zerolog.Logger) *WebhooksHandler {
	return &WebhooksHandler{
		store:       store,
		encrypter:   encrypter,
		redeliverer: redeliverer,
		auditor:     auditor,
		logger:      logger.With().Str("component", "webhooks_handler").Logger(),
	}
}

// RegisterRoutes registers webhook routes on the given router group.
func (h *WebhooksHandler) RegisterRoutes(r *gin.RouterGroup) {
	wh := r.Group("/webhooks")
	{
		wh.GET("/event-types", h.ListEventTypes)

		wh.GET("/endpoints", h.ListEndpoints)
		wh.POST("/endpoints", h.CreateEndpoint)
		wh.GET("/endpoints/:id", h.GetEndpoint)
		wh.PUT("/endpoints/:id", h.UpdateEndpoint)
		wh.DELETE("/endpoints/:id", h.DeleteEndpoint)
		wh.GET("/endpoints/:id/logs", h.ListEndpointLogs)

		wh.GET("/logs", h.ListLogs)
		wh.GET("/logs/:id", h.GetLog)
		wh.POST("/logs/:id/redeliver", h.Redeliver)
	}
}

// ListEventTypes returns all available webhook event types.
// GET /admin/webhooks/event-types
func (h *WebhooksHandler) ListEventTypes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"event_types": models.AllWebhookEventTypes()})
}

// ListEndpoints returns all webhook endpoints.
// GET /admin/webhooks/endpoints
func (h *WebhooksHandler) ListEndpoints(c *gin.Context) {
	endpoints, err := h.store.ListWebhookEndpoints(c.Request.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list webhook endpoints")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list webhook endpoints"})
		return
	}
	if endpoints == nil {
		endpoints = []*models.WebhookEndpoint{}
	}

	c.JSON(http.StatusOK, models.WebhookEndpointsResponse{Endpoints: endpoints})
}

// GetEndpoint returns a specific webhook endpoint by ID.
// GET /admin/webhooks/endpoints/:id
func (h *WebhooksHandler) GetEndpoint(c *gin.Context) {
	endpoint, ok := h.lookupEndpoint(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, endpoint)
}

// CreateEndpoint creates a new webhook endpoint.
// POST /admin/webhooks/endpoints
func (h *WebhooksHandler) CreateEndpoint(c *gin.Context) {
	var req models.CreateWebhookEndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	if msg := validateEndpoint(req.URL, req.Secret, req.EventTypes); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	secretEncrypted, err := h.encrypter.Encrypt([]byte(req.Secret))
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to encrypt webhook secret")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encrypt secret"})
		return
	}

	endpoint := models.NewWebhookEndpoint(req.Name, req.URL, secretEncrypted, req.EventTypes)
	if req.ProductIDs != nil {
		endpoint.ProductIDs = req.ProductIDs
	}
	if req.Headers != nil {
		endpoint.Headers = req.Headers
	}

	if err := h.store.CreateWebhookEndpoint(c.Request.Context(), endpoint); err != nil {
		h.logger.Error().Err(err).Msg("failed to create webhook endpoint")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create webhook endpoint"})
		return
	}

	h.audit(c, models.AuditActionEndpointCreate, endpoint.ID, map[string]any{
		"name":        endpoint.Name,
		"url":         endpoint.URL,
		"event_types": endpoint.EventTypes,
	})

	h.logger.Info().
		Str("endpoint_id", endpoint.ID.String()).
		Str("name", endpoint.Name).
		Msg("webhook endpoint created")

	c.JSON(http.StatusCreated, endpoint)
}

// UpdateEndpoint updates an existing webhook endpoint.
// PUT /admin/webhooks/endpoints/:id
func (h *WebhooksHandler) UpdateEndpoint(c *gin.Context) {
	endpoint, ok := h.lookupEndpoint(c)
	if !ok {
		return
	}

	var req models.UpdateWebhookEndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	changed := []string{}
	if req.Name != nil {
		endpoint.Name = *req.Name
		changed = append(changed, "name")
	}
	if req.URL != nil {
		if msg := validateEndpointURL(*req.URL); msg != "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": msg})
			return
		}
		endpoint.URL = *req.URL
		changed = append(changed, "url")
	}
	if req.Secret != nil {
		if len(*req.Secret) < minSecretLength {
			c.JSON(http.StatusBadRequest, gin.H{"error": "secret must be at least 16 characters"})
			return
		}
		secretEncrypted, err := h.encrypter.Encrypt([]byte(*req.Secret))
		if err != nil {
			h.logger.Error().Err(err).Msg("failed to encrypt webhook secret")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encrypt secret"})
			return
		}
		endpoint.SecretEncrypted = secretEncrypted
		changed = append(changed, "secret")
	}
	if req.Active != nil {
		endpoint.Active = *req.Active
		changed = append(changed, "active")
	}
	if req.EventTypes != nil {
		if msg := validateEventTypes(req.EventTypes); msg != "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": msg})
			return
		}
		endpoint.EventTypes = req.EventTypes
		changed = append(changed, "event_types")
	}
	if req.ProductIDs != nil {
		endpoint.ProductIDs = req.ProductIDs
		changed = append(changed, "product_ids")
	}
	if req.Headers != nil {
		endpoint.Headers = req.Headers
		changed = append(changed, "headers")
	}

	if err := h.store.UpdateWebhookEndpoint(c.Request.Context(), endpoint); err != nil {
		h.logger.Error().Err(err).Str("endpoint_id", endpoint.ID.String()).Msg("failed to update webhook endpoint")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update webhook endpoint"})
		return
	}

	h.audit(c, models.AuditActionEndpointUpdate, endpoint.ID, map[string]any{"changed": changed})

	h.logger.Info().Str("endpoint_id", endpoint.ID.String()).Msg("webhook endpoint updated")
	c.JSON(http.StatusOK, endpoint)
}

// DeleteEndpoint deletes a webhook endpoint.
// DELETE /admin/webhooks/endpoints/:id
func (h *WebhooksHandler) DeleteEndpoint(c *gin.Context) {
	endpoint, ok := h.lookupEndpoint(c)
	if !ok {
		return
	}

	if err := h.store.DeleteWebhookEndpoint(c.Request.Context(), endpoint.ID); err != nil {
		h.logger.Error().Err(err).Str("endpoint_id", endpoint.ID.String()).Msg("failed to delete webhook endpoint")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete webhook endpoint"})
		return
	}

	h.audit(c, models.AuditActionEndpointDelete, endpoint.ID, map[string]any{"name": endpoint.Name})

	h.logger.Info().Str("endpoint_id", endpoint.ID.String()).Msg("webhook endpoint deleted")
	c.JSON(http.StatusOK, gin.H{"message": "endpoint deleted"})
}

// ListLogs returns delivery logs across all endpoints, newest first.
// GET /admin/webhooks/logs?limit=&offset=
func (h *WebhooksHandler) ListLogs(c *gin.Context) {
	h.listLogs(c, nil)
}

// ListEndpointLogs returns the delivery logs of one endpoint.
// GET /admin/webhooks/endpoints/:id/logs
func (h *WebhooksHandler) ListEndpointLogs(c *gin.Context) {
	endpoint, ok := h.lookupEndpoint(c)
	if !ok {
		return
	}
	h.listLogs(c, &endpoint.ID)
}

func (h *WebhooksHandler) listLogs(c *gin.Context, endpointID *uuid.UUID) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	logs, total, err := h.store.ListWebhookLogs(c.Request.Context(), endpointID, limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list webhook logs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list webhook logs"})
		return
	}
	if logs == nil {
		logs = []*models.WebhookLog{}
	}

	c.JSON(http.StatusOK, models.WebhookLogsResponse{Logs: logs, Total: total})
}

// GetLog returns a specific delivery log by ID.
// GET /admin/webhooks/logs/:id
func (h *WebhooksHandler) GetLog(c *gin.Context) {
	id, ok := parseID(c, "log")
	if !ok {
		return
	}

	log, err := h.store.GetWebhookLogByID(c.Request.Context(), id)
	if errors.Is(err, models.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "log not found"})
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("log_id", id.String()).Msg("failed to get webhook log")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get webhook log"})
		return
	}

	c.JSON(http.StatusOK, log)
}

// Redeliver queues a delivered or failed log again. The response is the new log.
// POST /admin/webhooks/logs/:id/redeliver
func (h *WebhooksHandler) Redeliver(c *gin.Context) {
	id, ok := parseID(c, "log")
	if !ok {
		return
	}

	log, err := h.redeliverer.Redeliver(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "log not found"})
		case errors.Is(err, webhooks.ErrDeliveryInProgress):
			c.JSON(http.StatusConflict, gin.H{"error": "delivery is still in progress"})
		default:
			h.logger.Error().Err(err).Str("log_id", id.String()).Msg("failed to redeliver webhook")
			h.auditResult(c, models.AuditActionWebhookRedeliver, id, models.AuditResultFailure, nil)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to redeliver webhook"})
		}
		return
	}

	h.audit(c, models.AuditActionWebhookRedeliver, id, map[string]any{
		"endpoint_id":    log.EndpointID.String(),
		"event":          string(log.EventName),
		"redelivery_log": log.ID.String(),
	})

	c.JSON(http.StatusAccepted, log)
}

func (h *WebhooksHandler) lookupEndpoint(c *gin.Context) (*models.WebhookEndpoint, bool) {
	id, ok := parseID(c, "endpoint")
	if !ok {
		return nil, false
	}

	endpoint, err := h.store.GetWebhookEndpointByID(c.Request.Context(), id)
	if errors.Is(err, models.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
		return nil, false
	}
	if err != nil {
		h.logger.Error().Err(err).Str("endpoint_id", id.String()).Msg("failed to get webhook endpoint")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get webhook endpoint"})
		return nil, false
	}
	return endpoint, true
}

func (h *WebhooksHandler) audit(c *gin.Context, action models.AuditAction, resourceID uuid.UUID, details map[string]any) {
	h.auditResult(c, action, resourceID, models.AuditResultSuccess, details)
}

func (h *WebhooksHandler) auditResult(c *gin.Context, action models.AuditAction, resourceID uuid.UUID, result models.AuditResult, details map[string]any) {
	if h.auditor == nil {
		return
	}
	resourceType := "webhook_endpoint"
	if action == models.AuditActionWebhookRedeliver {
		resourceType = "webhook_log"
	}
	h.auditor.Record(c.Request.Context(), middleware.GetActor(c, models.ActorOperator), action, resourceType, resourceID, result, details)
}

func validateEndpoint(rawURL, secret string, eventTypes []models.WebhookEventType) string {
	if msg := validateEndpointURL(rawURL); msg != "" {
		return msg
	}
	if len(secret) < minSecretLength {
		return "secret must be at least 16 characters"
	}
	return validateEventTypes(eventTypes)
}

func validateEndpointURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return "url must be an absolute http or https URL"
	}
	return ""
}

func validateEventTypes(eventTypes []models.WebhookEventType) string {
	if len(eventTypes) == 0 {
		return "at least one event type is required"
	}
	for _, et := range eventTypes {
		if !et.IsValid() {
			return "unknown event type: " + string(et)
		}
	}
	return ""
}
