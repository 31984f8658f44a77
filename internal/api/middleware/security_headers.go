package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// csp is the Content-Security-Policy for every route. The server only answers
// with JSON, metrics text, and redirects.
const csp = "default-src 'none'; frame-ancestors 'none'"

// SecurityHeaders returns a middleware that sets security-related HTTP response headers.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Content-Security-Policy", csp)

		// HSTS - only in production with TLS
		if c.Request.TLS != nil {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		if carriesLicenseData(c.Request.URL.Path) {
			c.Header("Cache-Control", "no-store")
		}

		c.Next()
	}
}

// carriesLicenseData returns true for paths whose responses embed license
// keys, signed links, or customer data.
func carriesLicenseData(path string) bool {
	return strings.HasPrefix(path, "/license/") ||
		strings.HasPrefix(path, "/update/") ||
		strings.HasPrefix(path, "/download/") ||
		strings.HasPrefix(path, "/admin/")
}
