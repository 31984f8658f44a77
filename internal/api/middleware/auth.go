// Package middleware provides HTTP middleware for the keygate API.
package middleware

import (
	"net/http"
	"strings"

	"github.com/MacJediWizard/keygate/internal/auth"
	"github.com/MacJediWizard/keygate/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys used by this package.
type ContextKey string

const (
	// ActorContextKey is the context key for the authenticated actor.
	ActorContextKey ContextKey = "actor"
)

// OperatorHeader optionally names the operator behind an admin request in audit records.
const OperatorHeader = "X-Operator"

// defaultOperatorID identifies admin requests that do not name an operator.
const defaultOperatorID = "admin-token"

// RejectionObserver records authentication failures.
type RejectionObserver interface {
	RecordSignatureRejection(scheme, reason string)
}

// AdminAuthMiddleware returns a Gin middleware that requires the operator
// bearer token. With no token configured the admin API is disabled.
func AdminAuthMiddleware(token string, observer RejectionObserver, logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "admin_auth_middleware").Logger()

	return func(c *gin.Context) {
		if token == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "admin API disabled"})
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			log.Debug().Str("path", c.Request.URL.Path).Msg("missing authorization header")
			recordRejection(observer, "admin", "missing_token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}

		presented, ok := auth.BearerToken(authHeader)
		if !ok {
			log.Debug().Str("path", c.Request.URL.Path).Msg("invalid authorization header format")
			recordRejection(observer, "admin", "malformed_token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}

		if !auth.AdminTokenValid(presented, token) {
			log.Warn().Str("path", c.Request.URL.Path).Str("client_ip", c.ClientIP()).Msg("invalid admin token")
			recordRejection(observer, "admin", "invalid_token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid admin token"})
			return
		}

		operator := strings.TrimSpace(c.GetHeader(OperatorHeader))
		if operator == "" {
			operator = defaultOperatorID
		}
		c.Set(string(ActorContextKey), models.Actor{
			Type:      models.ActorOperator,
			ID:        operator,
			IPAddress: c.ClientIP(),
		})

		c.Next()
	}
}

// GetActor retrieves the authenticated actor from the Gin context. Requests
// without one are attributed to an anonymous actor of fallback type carrying
// the client IP.
func GetActor(c *gin.Context, fallback models.ActorType) models.Actor {
	if v, exists := c.Get(string(ActorContextKey)); exists {
		if actor, ok := v.(models.Actor); ok {
			return actor
		}
	}
	return models.Actor{Type: fallback, IPAddress: c.ClientIP()}
}

func recordRejection(observer RejectionObserver, scheme, reason string) {
	if observer != nil {
		observer.RecordSignatureRejection(scheme, reason)
	}
}
