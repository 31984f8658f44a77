package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func TestRequestLogger(t *testing.T) {
	mw := RequestLogger(zerolog.Nop())

	r := gin.New()
	r.Use(mw)
	r.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/error", func(c *gin.Context) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "fail"})
	})
	r.GET("/bad-request", func(c *gin.Context) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad"})
	})

	t.Run("successful request", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test?q=hello", nil)
		r.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", w.Code)
		}
	})

	t.Run("server error request", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/error", nil)
		r.ServeHTTP(w, req)

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected status 500, got %d", w.Code)
		}
	})

	t.Run("client error request", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/bad-request", nil)
		r.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", w.Code)
		}
	})
}

func TestRequestLogger_RedactsLicenseKeys(t *testing.T) {
	var buf bytes.Buffer
	r := gin.New()
	r.Use(RequestLogger(zerolog.New(&buf)))
	r.GET("/download/:id", func(c *gin.Context) {
		c.Status(http.StatusFound)
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/download/abc?license=5b3c-secret-key&expires=1700000000&signature=deadbeef", nil)
	r.ServeHTTP(w, req)

	out := buf.String()
	if strings.Contains(out, "5b3c-secret-key") {
		t.Fatalf("license key leaked into log: %s", out)
	}
	if strings.Contains(out, "deadbeef") {
		t.Fatalf("signature leaked into log: %s", out)
	}
	if !strings.Contains(out, "1700000000") {
		t.Fatalf("expected non-sensitive param to be logged: %s", out)
	}
}

func TestRedactQueryString(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"empty", "", ""},
		{"nothing sensitive", "product=seo&version=1.0", "product=seo&version=1.0"},
		{"license_key", "license_key=abc", "license_key=%5BREDACTED%5D"},
		{"case insensitive", "Token=abc", "Token=%5BREDACTED%5D"},
		{"unparseable", "a=%zz", "[UNPARSEABLE]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := redactQueryString(tt.query); got != tt.want {
				t.Errorf("redactQueryString(%q) = %q, want %q", tt.query, got, tt.want)
			}
		})
	}
}
