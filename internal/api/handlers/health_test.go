package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type mockDatabaseHealthChecker struct {
	pingErr error
	health  map[string]any
}

func (m *mockDatabaseHealthChecker) Ping(_ context.Context) error {
	return m.pingErr
}

func (m *mockDatabaseHealthChecker) Health() map[string]any {
	if m.health != nil {
		return m.health
	}
	return map[string]any{}
}

type mockRedisHealthChecker struct {
	pingErr error
}

func (m *mockRedisHealthChecker) Ping(_ context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", m.pingErr)
}

func setupHealthTestRouter(db DatabaseHealthChecker, rdb RedisHealthChecker) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := NewHealthHandler(db, rdb, zerolog.Nop())
	handler.RegisterPublicRoutes(r)
	return r
}

func TestHealthOverall(t *testing.T) {
	t.Run("all healthy", func(t *testing.T) {
		db := &mockDatabaseHealthChecker{health: map[string]any{"total_conns": int32(10)}}
		r := setupHealthTestRouter(db, &mockRedisHealthChecker{})

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/health", nil)
		r.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
		}

		var resp HealthResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to unmarshal: %v", err)
		}
		if resp.Status != HealthStatusHealthy {
			t.Fatalf("expected healthy status, got %q", resp.Status)
		}
		if _, ok := resp.Checks["redis"]; !ok {
			t.Fatal("expected redis check in response")
		}
	})

	t.Run("database unhealthy", func(t *testing.T) {
		db := &mockDatabaseHealthChecker{pingErr: errors.New("connection refused")}
		r := setupHealthTestRouter(db, nil)

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/health", nil)
		r.ServeHTTP(w, req)

		if w.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected status 503, got %d", w.Code)
		}
	})

	t.Run("redis unhealthy", func(t *testing.T) {
		db := &mockDatabaseHealthChecker{health: map[string]any{}}
		r := setupHealthTestRouter(db, &mockRedisHealthChecker{pingErr: errors.New("dial tcp: refused")})

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/health", nil)
		r.ServeHTTP(w, req)

		if w.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected status 503, got %d", w.Code)
		}
	})

	t.Run("nil db", func(t *testing.T) {
		r := setupHealthTestRouter(nil, nil)

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/health", nil)
		r.ServeHTTP(w, req)

		if w.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected status 503, got %d", w.Code)
		}
	})

	t.Run("nil redis is ok", func(t *testing.T) {
		db := &mockDatabaseHealthChecker{health: map[string]any{}}
		r := setupHealthTestRouter(db, nil)

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/health", nil)
		r.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", w.Code)
		}
	})
}

func TestHealthDatabase(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		db := &mockDatabaseHealthChecker{health: map[string]any{"total_conns": int32(5)}}
		r := setupHealthTestRouter(db, nil)

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/health/db", nil)
		r.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", w.Code)
		}
	})

	t.Run("unhealthy", func(t *testing.T) {
		db := &mockDatabaseHealthChecker{pingErr: errors.New("db down")}
		r := setupHealthTestRouter(db, nil)

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/health/db", nil)
		r.ServeHTTP(w, req)

		if w.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected status 503, got %d", w.Code)
		}

		var resp HealthResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to unmarshal: %v", err)
		}
		if resp.Error != "database ping failed" {
			t.Fatalf("expected generic error, got %q", resp.Error)
		}
	})
}

func TestHealthRedis(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		r := setupHealthTestRouter(nil, &mockRedisHealthChecker{})

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/health/redis", nil)
		r.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", w.Code)
		}
	})

	t.Run("unhealthy", func(t *testing.T) {
		r := setupHealthTestRouter(nil, &mockRedisHealthChecker{pingErr: errors.New("redis down")})

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/health/redis", nil)
		r.ServeHTTP(w, req)

		if w.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected status 503, got %d", w.Code)
		}
	})

	t.Run("not configured", func(t *testing.T) {
		r := setupHealthTestRouter(nil, nil)

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/health/redis", nil)
		r.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", w.Code)
		}
	})
}

type drainingFlag bool

func (d drainingFlag) Draining() bool { return bool(d) }

func TestHealthOverall_Draining(t *testing.T) {
	gin.SetMode(gin.TestMode)

	for _, draining := range []bool{false, true} {
		r := gin.New()
		handler := NewHealthHandler(&mockDatabaseHealthChecker{}, nil, zerolog.Nop())
		handler.SetShutdownStatus(drainingFlag(draining))
		handler.RegisterPublicRoutes(r)

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/health", nil)
		r.ServeHTTP(w, req)

		var resp HealthResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if draining {
			if w.Code != http.StatusServiceUnavailable || resp.Status != HealthStatusDraining {
				t.Errorf("expected 503 draining, got %d %s", w.Code, resp.Status)
			}
			continue
		}
		if w.Code != http.StatusOK || resp.Status != HealthStatusHealthy {
			t.Errorf("expected 200 healthy, got %d %s", w.Code, resp.Status)
		}
	}
}
