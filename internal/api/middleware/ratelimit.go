package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// rateLimitPrefix namespaces limiter keys in a shared store.
const rateLimitPrefix = "keygate_limiter"

// RateLimitConfig configures NewRateLimiter.
type RateLimitConfig struct {
	// Requests is the number of requests allowed per client IP in Period.
	Requests int
	Period   time.Duration
	// Redis, when set, shares counters between server replicas. Otherwise
	// each process counts on its own.
	Redis *redis.Client
	// Name separates the counters of independently limited route groups.
	Name string
}

// NewRateLimiter creates a Gin middleware for per-IP rate limiting.
func NewRateLimiter(cfg RateLimitConfig) (gin.HandlerFunc, error) {
	if cfg.Requests <= 0 {
		return nil, fmt.Errorf("invalid rate limit requests %d", cfg.Requests)
	}
	if cfg.Period <= 0 {
		return nil, fmt.Errorf("invalid rate limit period %s", cfg.Period)
	}

	rate := limiter.Rate{
		Period: cfg.Period,
		Limit:  int64(cfg.Requests),
	}

	prefix := rateLimitPrefix
	if cfg.Name != "" {
		prefix += "_" + cfg.Name
	}

	var store limiter.Store
	if cfg.Redis != nil {
		s, err := sredis.NewStoreWithOptions(cfg.Redis, limiter.StoreOptions{Prefix: prefix})
		if err != nil {
			return nil, fmt.Errorf("create redis limiter store: %w", err)
		}
		store = s
	} else {
		store = memory.NewStoreWithOptions(limiter.StoreOptions{
			Prefix:          prefix,
			CleanUpInterval: limiter.DefaultCleanUpInterval,
		})
	}

	instance := limiter.New(store, rate)

	middleware := mgin.NewMiddleware(instance,
		mgin.WithLimitReachedHandler(func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"reason":  "rate_limited",
				"message": "too many requests",
			})
		}),
		mgin.WithErrorHandler(func(c *gin.Context, err error) {
			_ = c.Error(fmt.Errorf("rate limiter: %w", err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "rate limiter unavailable"})
		}),
	)
	return middleware, nil
}
