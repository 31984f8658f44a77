package license

import (
	"context"
	"sync"

	"github.com/MacJediWizard/keygate/internal/models"
	"github.com/google/uuid"
)

// memStore is an in-memory Store with the same atomicity guarantees as the
// Postgres store: one mutex stands in for the row lock and unique index.
// capacityFirst makes writes check the limit before the domain's own row.
type memStore struct {
	mu            sync.Mutex
	licenses      map[uuid.UUID]*models.License
	products      map[string]*models.Product
	activations   map[uuid.UUID]map[string]*models.Activation
	creates       int
	capacityFirst bool
}

func newMemStore() *memStore {
	return &memStore{
		licenses:    make(map[uuid.UUID]*models.License),
		products:    make(map[string]*models.Product),
		activations: make(map[uuid.UUID]map[string]*models.Activation),
	}
}

func (m *memStore) addProduct(slug string) *models.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &models.Product{ID: uuid.New(), Slug: slug, Name: slug}
	m.products[slug] = p
	return p
}

func (m *memStore) addLicense(productID uuid.UUID, limit int) *models.License {
	l := models.NewLicense(uuid.New(), productID, models.LicenseTypeLifetime, limit)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.licenses[l.ID] = l
	return l
}

func (m *memStore) rows(licenseID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.activations[licenseID])
}

func (m *memStore) GetLicenseByKey(_ context.Context, key uuid.UUID) (*models.License, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.licenses {
		if l.Key == key {
			cp := *l
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *memStore) GetLicenseByID(_ context.Context, id uuid.UUID) (*models.License, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.licenses[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *memStore) CreateLicense(_ context.Context, l *models.License) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *l
	m.licenses[l.ID] = &cp
	return nil
}

func (m *memStore) UpdateLicense(_ context.Context, l *models.License) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.licenses[l.ID]; !ok {
		return models.ErrNotFound
	}
	cp := *l
	m.licenses[l.ID] = &cp
	return nil
}

func (m *memStore) GetProductBySlug(_ context.Context, slug string) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[slug]
	if !ok {
		return nil, models.ErrNotFound
	}
	return p, nil
}

func (m *memStore) GetActivation(_ context.Context, licenseID uuid.UUID, domain string) (*models.Activation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.activations[licenseID][domain]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) countActiveLocked(licenseID uuid.UUID) int {
	n := 0
	for _, a := range m.activations[licenseID] {
		if a.IsActive {
			n++
		}
	}
	return n
}

func (m *memStore) fullLocked(licenseID uuid.UUID, limit int) bool {
	return limit != models.UnlimitedActivations && m.countActiveLocked(licenseID) >= limit
}

func (m *memStore) CreateActivation(_ context.Context, a *models.Activation, limit int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if m.capacityFirst && m.fullLocked(a.LicenseID, limit) {
		return models.ErrLimitReached
	}
	if _, ok := m.activations[a.LicenseID][a.Domain]; ok {
		return models.ErrConflict
	}
	if m.fullLocked(a.LicenseID, limit) {
		return models.ErrLimitReached
	}
	if m.activations[a.LicenseID] == nil {
		m.activations[a.LicenseID] = make(map[string]*models.Activation)
	}
	cp := *a
	m.activations[a.LicenseID][a.Domain] = &cp
	return nil
}

func (m *memStore) ReactivateActivation(_ context.Context, a *models.Activation, limit int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.capacityFirst && m.fullLocked(a.LicenseID, limit) {
		return models.ErrLimitReached
	}
	current, ok := m.activations[a.LicenseID][a.Domain]
	if !ok || current.IsActive {
		return models.ErrConflict
	}
	if m.fullLocked(a.LicenseID, limit) {
		return models.ErrLimitReached
	}
	cp := *a
	m.activations[a.LicenseID][a.Domain] = &cp
	return nil
}

func (m *memStore) UpdateActivation(_ context.Context, a *models.Activation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.activations[a.LicenseID][a.Domain]; !ok {
		return models.ErrNotFound
	}
	cp := *a
	m.activations[a.LicenseID][a.Domain] = &cp
	return nil
}

func (m *memStore) CountActiveActivations(_ context.Context, licenseID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countActiveLocked(licenseID), nil
}

func (m *memStore) ListActivations(_ context.Context, licenseID uuid.UUID) ([]*models.Activation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Activation
	for _, a := range m.activations[licenseID] {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

type recordedAudit struct {
	Actor  models.Actor
	Action models.AuditAction
	Result models.AuditResult
}

type mockAuditor struct {
	mu      sync.Mutex
	records []recordedAudit
}

func (a *mockAuditor) Record(_ context.Context, actor models.Actor, action models.AuditAction, _ string, _ uuid.UUID, result models.AuditResult, _ map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, recordedAudit{Actor: actor, Action: action, Result: result})
}

type dispatched struct {
	Event     models.WebhookEventType
	Data      map[string]any
	ProductID *uuid.UUID
}

type mockNotifier struct {
	mu     sync.Mutex
	events []dispatched
}

func (n *mockNotifier) Dispatch(_ context.Context, event models.WebhookEventType, data map[string]any, productID *uuid.UUID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, dispatched{Event: event, Data: data, ProductID: productID})
	return nil
}

func (n *mockNotifier) names() []models.WebhookEventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []models.WebhookEventType
	for _, e := range n.events {
		out = append(out, e.Event)
	}
	return out
}
