package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/MacJediWizard/keygate/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type mockAuditStore struct {
	logs []*models.AuditLog
	err  error
}

func (m *mockAuditStore) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	if m.err != nil {
		return m.err
	}
	m.logs = append(m.logs, log)
	return nil
}

func TestRecorder_Record(t *testing.T) {
	store := &mockAuditStore{}
	r := NewRecorder(store, zerolog.Nop())
	resourceID := uuid.New()
	actor := models.Actor{Type: models.ActorOperator, ID: "ops", IPAddress: "203.0.113.7"}

	r.Record(context.Background(), actor, models.AuditActionLicenseTransition, "license", resourceID, models.AuditResultSuccess, map[string]any{"to": "revoked"})

	if len(store.logs) != 1 {
		t.Fatalf("expected 1 audit log, got %d", len(store.logs))
	}
	entry := store.logs[0]
	if entry.ActorType != models.ActorOperator || entry.ActorID != "ops" || entry.IPAddress != "203.0.113.7" {
		t.Errorf("actor not recorded: %+v", entry)
	}
	if entry.ResourceID == nil || *entry.ResourceID != resourceID {
		t.Errorf("ResourceID = %v, want %s", entry.ResourceID, resourceID)
	}
	if entry.Details["to"] != "revoked" {
		t.Errorf("Details = %v", entry.Details)
	}
	if !entry.IsSuccess() {
		t.Error("expected success result")
	}
}

func TestRecorder_NilResource(t *testing.T) {
	store := &mockAuditStore{}
	r := NewRecorder(store, zerolog.Nop())

	r.Record(context.Background(), models.SystemActor(), models.AuditActionLicenseCreate, "license", uuid.Nil, models.AuditResultFailure, nil)

	if len(store.logs) != 1 {
		t.Fatalf("expected 1 audit log, got %d", len(store.logs))
	}
	if store.logs[0].ResourceID != nil {
		t.Error("expected no resource id")
	}
}

func TestRecorder_CanceledContext(t *testing.T) {
	store := &mockAuditStore{}
	r := NewRecorder(store, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r.Record(ctx, models.SystemActor(), models.AuditActionActivate, "activation", uuid.New(), models.AuditResultSuccess, nil)
	if len(store.logs) != 1 {
		t.Fatalf("expected entry to be written after cancel, got %d", len(store.logs))
	}
}

func TestRecorder_StoreError(t *testing.T) {
	store := &mockAuditStore{err: errors.New("db down")}
	r := NewRecorder(store, zerolog.Nop())

	// Must not panic or propagate.
	r.Record(context.Background(), models.SystemActor(), models.AuditActionActivate, "activation", uuid.New(), models.AuditResultSuccess, nil)
}
