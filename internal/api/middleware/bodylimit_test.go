package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func readAllHandler(c *gin.Context) {
	if _, err := io.ReadAll(c.Request.Body); err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func TestBodyLimitMiddleware_UnderLimit(t *testing.T) {
	r := gin.New()
	r.Use(BodyLimitMiddleware(1024))
	r.POST("/test", readAllHandler)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/test", strings.NewReader(strings.Repeat("a", 512)))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
}

func TestBodyLimitMiddleware_DeclaredLengthOverLimit(t *testing.T) {
	called := false
	r := gin.New()
	r.Use(BodyLimitMiddleware(1024))
	r.POST("/test", func(c *gin.Context) {
		called = true
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/test", strings.NewReader(strings.Repeat("a", 2048)))
	r.ServeHTTP(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status 413, got %d", w.Code)
	}
	if called {
		t.Fatal("handler should not run for an oversized declared body")
	}
}

func TestBodyLimitMiddleware_StreamedOverLimit(t *testing.T) {
	r := gin.New()
	r.Use(BodyLimitMiddleware(1024))
	r.POST("/test", readAllHandler)

	w := httptest.NewRecorder()
	// io.MultiReader hides the length so the request is sent chunked.
	req, _ := http.NewRequest("POST", "/test", io.MultiReader(strings.NewReader(strings.Repeat("a", 2048))))
	r.ServeHTTP(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status 413, got %d", w.Code)
	}
}

func TestBodyLimitMiddleware_ExactLimit(t *testing.T) {
	r := gin.New()
	r.Use(BodyLimitMiddleware(1024))
	r.POST("/test", readAllHandler)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/test", strings.NewReader(strings.Repeat("a", 1024)))
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
}

func TestBodyLimitMiddleware_NilBody(t *testing.T) {
	r := gin.New()
	r.Use(BodyLimitMiddleware(1024))
	r.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/test", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
}
