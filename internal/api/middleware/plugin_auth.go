package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/MacJediWizard/keygate/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Reason codes for refused plugin requests.
const (
	ReasonInvalidSignature = "invalid_signature"
	ReasonExpiredTimestamp = "expired_timestamp"
	ReasonMissingSignature = "missing_signature"
	ReasonMalformedRequest = "malformed_request"
)

// SigningSecrets resolves the secret a plugin request must be signed with.
type SigningSecrets interface {
	SigningSecret(ctx context.Context, licenseKey string) ([]byte, error)
}

// PluginFailure aborts a plugin request with the plugin error envelope.
func PluginFailure(c *gin.Context, status int, reason, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"reason":  reason,
		"message": message,
	})
}

// PluginSignatureMiddleware returns a Gin middleware that verifies the HMAC
// signature of plugin requests. POST bodies are canonicalized as sorted-key
// JSON and GET requests by their query parameters. The body is restored for
// the handler after verification.
func PluginSignatureMiddleware(verifier *auth.PluginVerifier, secrets SigningSecrets, observer RejectionObserver, logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "plugin_auth_middleware").Logger()

	return func(c *gin.Context) {
		signature := c.GetHeader(auth.HeaderPluginSignature)
		timestamp := c.GetHeader(auth.HeaderPluginTimestamp)
		if !verifier.ShouldVerify(signature, timestamp) {
			c.Next()
			return
		}

		canonical, licenseKey, err := canonicalRequest(c)
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				PluginFailure(c, http.StatusRequestEntityTooLarge, ReasonMalformedRequest, "request body too large")
				return
			}
			log.Debug().Err(err).Str("path", c.Request.URL.Path).Msg("unparseable signed request")
			recordRejection(observer, "plugin", ReasonMalformedRequest)
			PluginFailure(c, http.StatusBadRequest, ReasonMalformedRequest, "request body is not a JSON object")
			return
		}

		secret, err := secrets.SigningSecret(c.Request.Context(), licenseKey)
		if err != nil {
			log.Error().Err(err).Msg("failed to resolve signing secret")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"reason":  "internal_error",
				"message": "could not verify request",
			})
			return
		}

		if err := verifier.Verify(signature, timestamp, canonical, secret); err != nil {
			reason := signatureReason(err)
			log.Warn().
				Str("path", c.Request.URL.Path).
				Str("client_ip", c.ClientIP()).
				Str("reason", reason).
				Msg("plugin request rejected")
			recordRejection(observer, "plugin", reason)
			PluginFailure(c, http.StatusUnauthorized, reason, err.Error())
			return
		}

		c.Next()
	}
}

// canonicalRequest returns the canonical signing form of the request and the
// license key it names.
func canonicalRequest(c *gin.Context) ([]byte, string, error) {
	if c.Request.Method == http.MethodGet {
		query := c.Request.URL.Query()
		canonical, err := auth.CanonicalQuery(query)
		return canonical, query.Get("license_key"), err
	}

	var body []byte
	if c.Request.Body != nil {
		var err error
		if body, err = io.ReadAll(c.Request.Body); err != nil {
			return nil, "", err
		}
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))

	canonical, err := auth.CanonicalJSON(body)
	if err != nil {
		return nil, "", err
	}

	var keyed struct {
		LicenseKey string `json:"license_key"`
	}
	_ = json.Unmarshal(body, &keyed)
	return canonical, keyed.LicenseKey, nil
}

func signatureReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrExpiredTimestamp):
		return ReasonExpiredTimestamp
	case errors.Is(err, auth.ErrMissingCredential):
		return ReasonMissingSignature
	default:
		return ReasonInvalidSignature
	}
}
