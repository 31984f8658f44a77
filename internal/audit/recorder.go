// Package audit writes audit log entries for mutating operations. Callers pass
// the acting principal explicitly.
package audit

import (
	"context"

	"github.com/MacJediWizard/keygate/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Store persists audit log entries.
type Store interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// Recorder writes audit entries. A failed write is logged and never fails the
// audited operation.
type Recorder struct {
	store  Store
	logger zerolog.Logger
}

// NewRecorder creates a new audit recorder.
func NewRecorder(store Store, logger zerolog.Logger) *Recorder {
	return &Recorder{
		store:  store,
		logger: logger.With().Str("component", "audit").Logger(),
	}
}

// Record writes one audit entry attributed to actor.
func (r *Recorder) Record(ctx context.Context, actor models.Actor, action models.AuditAction, resourceType string, resourceID uuid.UUID, result models.AuditResult, details map[string]any) {
	entry := models.NewAuditLog(actor, action, resourceType, result).WithDetails(details)
	if resourceID != uuid.Nil {
		entry.WithResource(resourceID)
	}

	// The entry outlives a canceled request.
	if err := r.store.CreateAuditLog(context.WithoutCancel(ctx), entry); err != nil {
		r.logger.Error().Err(err).
			Str("action", string(action)).
			Str("resource_type", resourceType).
			Str("actor_type", string(actor.Type)).
			Msg("failed to create audit log")
	}
}
