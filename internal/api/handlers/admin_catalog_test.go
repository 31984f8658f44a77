package handlers

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/MacJediWizard/keygate/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCatalogStore struct {
	products map[string]*models.Product
	latest   *models.Release
	price    *models.Price
	release  *models.Release
	conflict bool
}

func (m *mockCatalogStore) GetProductBySlug(_ context.Context, slug string) (*models.Product, error) {
	if p, ok := m.products[slug]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("product: %w", models.ErrNotFound)
}

func (m *mockCatalogStore) CreateProduct(_ context.Context, p *models.Product) error {
	if _, ok := m.products[p.Slug]; ok {
		return fmt.Errorf("create product: %w", models.ErrConflict)
	}
	m.products[p.Slug] = p
	return nil
}

func (m *mockCatalogStore) CreatePrice(_ context.Context, p *models.Price) error {
	if m.conflict {
		return fmt.Errorf("create price: %w", models.ErrConflict)
	}
	m.price = p
	return nil
}

func (m *mockCatalogStore) CreateRelease(_ context.Context, r *models.Release) error {
	m.release = r
	return nil
}

func (m *mockCatalogStore) GetLatestRelease(_ context.Context, _ uuid.UUID) (*models.Release, error) {
	if m.latest == nil {
		return nil, fmt.Errorf("release: %w", models.ErrNotFound)
	}
	return m.latest, nil
}

func setupCatalogTestRouter() (*mockCatalogStore, http.Handler) {
	store := &mockCatalogStore{products: map[string]*models.Product{
		"seo-pro": {ID: uuid.New(), Slug: "seo-pro", Name: "SEO Pro"},
	}}
	r := newTestRouter(&testOperator)
	NewCatalogHandler(store, zerolog.Nop()).RegisterRoutes(r.Group("/admin"))
	return store, r
}

func TestAdminCreateProduct(t *testing.T) {
	tests := []struct {
		name       string
		slug       string
		wantStatus int
	}{
		{"created", "forms-plus", http.StatusCreated},
		{"duplicate", "seo-pro", http.StatusConflict},
		{"bad slug", "Forms Plus", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, r := setupCatalogTestRouter()

			w := doRequest(t, r, http.MethodPost, "/admin/products", map[string]string{"slug": tt.slug, "name": "Forms"})

			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
		})
	}
}

func TestAdminGetProduct(t *testing.T) {
	t.Run("without release", func(t *testing.T) {
		_, r := setupCatalogTestRouter()

		w := doRequest(t, r, http.MethodGet, "/admin/products/seo-pro", nil)

		require.Equal(t, http.StatusOK, w.Code)
		resp := decodeJSON(t, w)
		assert.Contains(t, resp, "product")
		assert.NotContains(t, resp, "latest_release")
	})

	t.Run("with release", func(t *testing.T) {
		store, r := setupCatalogTestRouter()
		store.latest = &models.Release{ID: uuid.New(), Version: "2.1.0"}

		w := doRequest(t, r, http.MethodGet, "/admin/products/seo-pro", nil)

		require.Equal(t, http.StatusOK, w.Code)
		release := decodeJSON(t, w)["latest_release"].(map[string]any)
		assert.Equal(t, "2.1.0", release["version"])
	})

	t.Run("unknown", func(t *testing.T) {
		_, r := setupCatalogTestRouter()

		w := doRequest(t, r, http.MethodGet, "/admin/products/missing", nil)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestAdminCreatePrice(t *testing.T) {
	t.Run("one-off", func(t *testing.T) {
		store, r := setupCatalogTestRouter()

		w := doRequest(t, r, http.MethodPost, "/admin/products/seo-pro/prices", map[string]any{
			"external_price_id": "price_123",
			"activation_limit":  5,
			"duration_days":     365,
		})

		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		require.NotNil(t, store.price)
		assert.Equal(t, store.products["seo-pro"].ID, store.price.ProductID)
		assert.Equal(t, models.LicenseTypeLifetime, store.price.LicenseType())
	})

	t.Run("recurring with duration", func(t *testing.T) {
		_, r := setupCatalogTestRouter()

		w := doRequest(t, r, http.MethodPost, "/admin/products/seo-pro/prices", map[string]any{
			"external_price_id": "price_123",
			"recurring":         true,
			"duration_days":     30,
		})

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("duplicate", func(t *testing.T) {
		store, r := setupCatalogTestRouter()
		store.conflict = true

		w := doRequest(t, r, http.MethodPost, "/admin/products/seo-pro/prices", map[string]any{"external_price_id": "price_123"})

		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestAdminCreateRelease(t *testing.T) {
	t.Run("published now", func(t *testing.T) {
		store, r := setupCatalogTestRouter()

		w := doRequest(t, r, http.MethodPost, "/admin/products/seo-pro/releases", map[string]any{
			"version":         "2.2.0",
			"artifact_key":    "seo-pro/seo-pro-2.2.0.zip",
			"min_php_version": "7.4",
		})

		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		require.NotNil(t, store.release)
		assert.Equal(t, "seo-pro/seo-pro-2.2.0.zip", store.release.ArtifactKey)
		assert.False(t, store.release.PublishedAt.IsZero())
		assert.NotContains(t, decodeJSON(t, w), "artifact_key")
	})

	t.Run("bad version", func(t *testing.T) {
		_, r := setupCatalogTestRouter()

		w := doRequest(t, r, http.MethodPost, "/admin/products/seo-pro/releases", map[string]any{
			"version":      "next",
			"artifact_key": "x.zip",
		})

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
