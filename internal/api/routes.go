// Package api provides the HTTP API for the keygate server.
package api

import (
	"fmt"
	"time"

	"github.com/MacJediWizard/keygate/internal/api/handlers"
	"github.com/MacJediWizard/keygate/internal/api/middleware"
	"github.com/MacJediWizard/keygate/internal/auth"
	"github.com/MacJediWizard/keygate/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Config holds configuration for the API router.
type Config struct {
	// AdminToken guards /admin. Empty disables the admin API.
	AdminToken string
	// RateLimitRequests is the number of requests allowed per client IP and period
	// on the plugin and billing routes.
	RateLimitRequests int
	RateLimitPeriod   time.Duration
	// PluginMaxBodyBytes bounds plugin request bodies.
	PluginMaxBodyBytes int64
	// BillingMaxBodyBytes bounds processor webhook bodies.
	BillingMaxBodyBytes int64
	// Version information for the version endpoint.
	Version   string
	Commit    string
	BuildDate string
}

// DefaultConfig returns a Config with sensible defaults for development.
func DefaultConfig() Config {
	return Config{
		RateLimitRequests:   120,
		RateLimitPeriod:     time.Minute,
		PluginMaxBodyBytes:  middleware.DefaultMaxBodyBytes,
		BillingMaxBodyBytes: 1 << 20,
		Version:             "dev",
		Commit:              "unknown",
		BuildDate:           "unknown",
	}
}

// Store is the persistence surface the HTTP layer reads and writes directly.
type Store interface {
	handlers.DatabaseHealthChecker
	handlers.SchemaVersioner
	handlers.AdminLicenseStore
	handlers.CatalogStore
	handlers.WebhooksStore
}

// LicenseService serves both the plugin and the operator license endpoints.
type LicenseService interface {
	handlers.LicenseService
	handlers.AdminLicenseService
}

// Services are the domain components behind the routes.
type Services struct {
	Licenses       LicenseService
	Updates        handlers.UpdateChecker
	BillingParser  handlers.BillingEventParser
	Billing        handlers.BillingEventProcessor
	Redeliverer    handlers.Redeliverer
	Auditor        handlers.Auditor
	Encrypter      handlers.Encrypter
	PluginVerifier *auth.PluginVerifier
	SigningSecrets middleware.SigningSecrets
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
	// Redis is optional. When set it backs rate limiting and the redis health check.
	Redis *redis.Client
	// Shutdown is optional. When set /health fails while the server drains.
	Shutdown handlers.ShutdownStatusProvider
}

// Router wraps a Gin engine with configured middleware and routes.
type Router struct {
	Engine *gin.Engine
	logger zerolog.Logger
}

// NewRouter creates a new Router with the given dependencies.
func NewRouter(cfg Config, store Store, svc Services, logger zerolog.Logger) (*Router, error) {
	r := &Router{
		Engine: gin.New(),
		logger: logger.With().Str("component", "router").Logger(),
	}

	// Global middleware
	r.Engine.Use(gin.Recovery())
	r.Engine.Use(middleware.RequestLogger(logger))
	r.Engine.Use(middleware.SecurityHeaders())
	r.Engine.Use(middleware.HTTPMetrics(svc.Metrics))

	// Health, version and metrics (no auth required)
	var redisChecker handlers.RedisHealthChecker
	if svc.Redis != nil {
		redisChecker = svc.Redis
	}
	healthHandler := handlers.NewHealthHandler(store, redisChecker, logger)
	if svc.Shutdown != nil {
		healthHandler.SetShutdownStatus(svc.Shutdown)
	}
	healthHandler.RegisterPublicRoutes(r.Engine)
	handlers.NewVersionHandler(cfg.Version, cfg.Commit, cfg.BuildDate, store, logger).RegisterPublicRoutes(r.Engine)
	r.Engine.GET("/metrics", gin.WrapH(metrics.Handler(svc.Gatherer)))

	// Plugin routes: rate limited, size bounded, optionally signed
	pluginLimiter, err := middleware.NewRateLimiter(middleware.RateLimitConfig{
		Requests: cfg.RateLimitRequests,
		Period:   cfg.RateLimitPeriod,
		Redis:    svc.Redis,
		Name:     "plugin",
	})
	if err != nil {
		return nil, fmt.Errorf("plugin rate limiter: %w", err)
	}

	updatesHandler := handlers.NewUpdatesHandler(svc.Updates, logger)

	plugin := r.Engine.Group("")
	plugin.Use(pluginLimiter)
	plugin.Use(middleware.BodyLimitMiddleware(cfg.PluginMaxBodyBytes))

	signed := plugin.Group("")
	signed.Use(middleware.PluginSignatureMiddleware(svc.PluginVerifier, svc.SigningSecrets, svc.Metrics, logger))
	handlers.NewLicenseHandler(svc.Licenses, svc.Metrics, logger).RegisterRoutes(signed)
	updatesHandler.RegisterRoutes(signed)

	// Download links carry their own signature
	updatesHandler.RegisterPublicRoutes(plugin)

	// Payment processor webhooks
	billingLimiter, err := middleware.NewRateLimiter(middleware.RateLimitConfig{
		Requests: cfg.RateLimitRequests,
		Period:   cfg.RateLimitPeriod,
		Redis:    svc.Redis,
		Name:     "billing",
	})
	if err != nil {
		return nil, fmt.Errorf("billing rate limiter: %w", err)
	}

	billing := r.Engine.Group("")
	billing.Use(billingLimiter)
	billing.Use(middleware.BodyLimitMiddleware(cfg.BillingMaxBodyBytes))
	handlers.NewBillingHandler(svc.BillingParser, svc.Billing, svc.Metrics, logger).RegisterRoutes(billing)

	// Operator API
	admin := r.Engine.Group("/admin")
	admin.Use(middleware.AdminAuthMiddleware(cfg.AdminToken, svc.Metrics, logger))

	handlers.NewAdminLicensesHandler(svc.Licenses, store, svc.Encrypter, logger).RegisterRoutes(admin)
	handlers.NewCatalogHandler(store, logger).RegisterRoutes(admin)
	handlers.NewWebhooksHandler(store, svc.Encrypter, svc.Redeliverer, svc.Auditor, logger).RegisterRoutes(admin)

	r.logger.Info().Bool("admin_enabled", cfg.AdminToken != "").Msg("API router initialized")

	return r, nil
}
