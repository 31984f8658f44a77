package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// DefaultMaxBodyBytes caps plugin and admin request bodies.
const DefaultMaxBodyBytes int64 = 64 << 10

// BodyLimitMiddleware returns a Gin middleware that limits the size of request bodies.
// Requests that declare a larger Content-Length are refused up front with 413;
// bodies that stream past maxBytes fail when the handler reads them.
func BodyLimitMiddleware(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}
