// Package billing ingests payment processor events: each event id is claimed
// exactly once in the ledger before its effects are applied to licenses.
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MacJediWizard/keygate/internal/models"
)

// ErrDuplicate marks an event whose effect has already been applied. It is
// reported as success to the sender.
var ErrDuplicate = errors.New("duplicate event")

// LedgerStore persists claimed event ids.
type LedgerStore interface {
	// InsertProcessedEvent inserts the row unless its event id already exists
	// and reports whether this call inserted it.
	InsertProcessedEvent(ctx context.Context, ev *models.ProcessedEvent) (bool, error)
	DeleteProcessedEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Ledger is the write-once set of processed external event ids.
type Ledger struct {
	store LedgerStore
	now   func() time.Time
}

// NewLedger creates a ledger backed by store.
func NewLedger(store LedgerStore) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// TryClaim records eventID and returns true if this is its first delivery.
// The insert itself decides; there is no prior existence check. A claim is
// never released, even when applying the event later fails.
func (l *Ledger) TryClaim(ctx context.Context, eventID, eventType string) (bool, error) {
	if eventID == "" {
		return false, fmt.Errorf("%w: event id is empty", ErrMalformed)
	}
	claimed, err := l.store.InsertProcessedEvent(ctx, &models.ProcessedEvent{
		EventID:     eventID,
		EventType:   eventType,
		ProcessedAt: l.now().UTC(),
	})
	if err != nil {
		return false, fmt.Errorf("claim event %s: %w", eventID, err)
	}
	return claimed, nil
}

// Purge deletes claims older than retention and returns how many were removed.
func (l *Ledger) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := l.now().Add(-retention)
	n, err := l.store.DeleteProcessedEventsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge processed events: %w", err)
	}
	return n, nil
}
