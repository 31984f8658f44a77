package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type observedRequest struct {
	method string
	route  string
	status int
}

type recordingHTTPObserver struct {
	mu       sync.Mutex
	requests []observedRequest
}

func (o *recordingHTTPObserver) ObserveHTTPRequest(method, route string, status int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.requests = append(o.requests, observedRequest{method, route, status})
}

func TestHTTPMetrics(t *testing.T) {
	observer := &recordingHTTPObserver{}

	r := gin.New()
	r.Use(HTTPMetrics(observer))
	r.GET("/download/:release_id", func(c *gin.Context) {
		c.Status(http.StatusFound)
	})

	for _, path := range []string{"/download/a", "/download/b", "/nope"} {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", path, nil)
		r.ServeHTTP(w, req)
	}

	want := []observedRequest{
		{"GET", "/download/:release_id", http.StatusFound},
		{"GET", "/download/:release_id", http.StatusFound},
		{"GET", unmatchedRoute, http.StatusNotFound},
	}
	if len(observer.requests) != len(want) {
		t.Fatalf("expected %d observations, got %d", len(want), len(observer.requests))
	}
	for i, got := range observer.requests {
		if got != want[i] {
			t.Errorf("observation %d: got %+v, want %+v", i, got, want[i])
		}
	}
}
