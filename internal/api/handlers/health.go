package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDraining  HealthStatus = "draining"
)

// HealthCheckResult represents the result of a health check.
type HealthCheckResult struct {
	Status   HealthStatus   `json:"status"`
	Duration string         `json:"duration,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// HealthResponse is the response for health check endpoints.
type HealthResponse struct {
	Status HealthStatus                  `json:"status"`
	Checks map[string]*HealthCheckResult `json:"checks,omitempty"`
	Error  string                        `json:"error,omitempty"`
}

// DatabaseHealthChecker defines the interface for database health checking.
type DatabaseHealthChecker interface {
	Ping(ctx context.Context) error
	Health() map[string]any
}

// RedisHealthChecker is satisfied by *redis.Client.
type RedisHealthChecker interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// ShutdownStatusProvider reports whether the server has started shutting down.
type ShutdownStatusProvider interface {
	Draining() bool
}

// HealthHandler handles health-related HTTP endpoints.
type HealthHandler struct {
	db       DatabaseHealthChecker
	redis    RedisHealthChecker
	shutdown ShutdownStatusProvider
	logger   zerolog.Logger
}

// NewHealthHandler creates a new HealthHandler. redis may be nil when no
// shared limiter store is configured.
func NewHealthHandler(db DatabaseHealthChecker, redis RedisHealthChecker, logger zerolog.Logger) *HealthHandler {
	return &HealthHandler{
		db:     db,
		redis:  redis,
		logger: logger.With().Str("component", "health_handler").Logger(),
	}
}

// SetShutdownStatus makes /health fail while the server drains.
func (h *HealthHandler) SetShutdownStatus(p ShutdownStatusProvider) {
	h.shutdown = p
}

// RegisterPublicRoutes registers health check routes that don't require authentication.
func (h *HealthHandler) RegisterPublicRoutes(r *gin.Engine) {
	health := r.Group("/health")
	{
		health.GET("", h.Overall)
		health.GET("/db", h.Database)
		health.GET("/redis", h.Redis)
	}
}

// Overall returns the overall server health status.
// GET /health
func (h *HealthHandler) Overall(c *gin.Context) {
	if h.shutdown != nil && h.shutdown.Draining() {
		c.JSON(http.StatusServiceUnavailable, &HealthResponse{
			Status: HealthStatusDraining,
			Error:  "server is shutting down",
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	response := &HealthResponse{
		Status: HealthStatusHealthy,
		Checks: make(map[string]*HealthCheckResult),
	}

	dbResult := h.checkDatabase(ctx)
	response.Checks["database"] = dbResult

	redisResult := h.checkRedis(ctx)
	response.Checks["redis"] = redisResult

	if dbResult.Status == HealthStatusUnhealthy || redisResult.Status == HealthStatusUnhealthy {
		response.Status = HealthStatusUnhealthy
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	c.JSON(http.StatusOK, response)
}

// Database returns the database health status.
// GET /health/db
func (h *HealthHandler) Database(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	h.single(c, "database", h.checkDatabase(ctx))
}

// Redis returns the health of the shared limiter store.
// GET /health/redis
func (h *HealthHandler) Redis(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	h.single(c, "redis", h.checkRedis(ctx))
}

func (h *HealthHandler) single(c *gin.Context, name string, result *HealthCheckResult) {
	response := &HealthResponse{
		Status: result.Status,
		Checks: map[string]*HealthCheckResult{
			name: result,
		},
	}

	if result.Status == HealthStatusUnhealthy {
		response.Error = result.Error
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	c.JSON(http.StatusOK, response)
}

// checkDatabase performs a database health check.
func (h *HealthHandler) checkDatabase(ctx context.Context) *HealthCheckResult {
	start := time.Now()
	result := &HealthCheckResult{
		Status: HealthStatusHealthy,
	}

	if h.db == nil {
		result.Status = HealthStatusUnhealthy
		result.Error = "database not configured"
		result.Duration = time.Since(start).String()
		return result
	}

	err := h.db.Ping(ctx)
	result.Duration = time.Since(start).String()

	if err != nil {
		result.Status = HealthStatusUnhealthy
		result.Error = "database ping failed"
		h.logger.Warn().Err(err).Msg("database health check failed")
		return result
	}

	result.Details = h.db.Health()

	return result
}

// checkRedis pings Redis when it is configured. Running without Redis is healthy.
func (h *HealthHandler) checkRedis(ctx context.Context) *HealthCheckResult {
	start := time.Now()
	result := &HealthCheckResult{
		Status: HealthStatusHealthy,
	}

	if h.redis == nil {
		result.Details = map[string]any{"configured": false}
		result.Duration = time.Since(start).String()
		return result
	}

	err := h.redis.Ping(ctx).Err()
	result.Duration = time.Since(start).String()

	if err != nil {
		result.Status = HealthStatusUnhealthy
		result.Error = "redis unreachable"
		h.logger.Warn().Err(err).Msg("redis health check failed")
		return result
	}

	return result
}
