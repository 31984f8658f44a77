package maintenance

import (
	"context"
	"time"

	"github.com/MacJediWizard/keygate/internal/license"
	"github.com/MacJediWizard/keygate/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ExpiryStore lists licenses whose stored status is active but whose expiry
// date has passed.
type ExpiryStore interface {
	ListDateExpiredLicenses(ctx context.Context, now time.Time, limit int) ([]*models.License, error)
}

// StatusChanger applies a status trigger to a license and announces it.
type StatusChanger interface {
	ChangeStatus(ctx context.Context, actor models.Actor, licenseID uuid.UUID, trigger license.Trigger) (*models.License, error)
}

// ExpirySweeper moves date-expired licenses to the expired status so list
// views agree with gating.
type ExpirySweeper struct {
	store     ExpiryStore
	licenses  StatusChanger
	batchSize int
	logger    zerolog.Logger
	now       func() time.Time
}

// NewExpirySweeper creates an expiry sweeper.
func NewExpirySweeper(store ExpiryStore, licenses StatusChanger, batchSize int, logger zerolog.Logger) *ExpirySweeper {
	if batchSize <= 0 {
		batchSize = DefaultConfig().ExpirySweepBatchSize
	}
	return &ExpirySweeper{
		store:     store,
		licenses:  licenses,
		batchSize: batchSize,
		logger:    logger.With().Str("component", "expiry_sweep").Logger(),
		now:       time.Now,
	}
}

// Run expires one batch of date-expired licenses and returns how many moved.
func (s *ExpirySweeper) Run(ctx context.Context) int {
	expired, err := s.store.ListDateExpiredLicenses(ctx, s.now(), s.batchSize)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list date-expired licenses")
		return 0
	}

	moved := 0
	for _, l := range expired {
		if _, err := s.licenses.ChangeStatus(ctx, models.SystemActor(), l.ID, license.TriggerExpirySweep); err != nil {
			s.logger.Error().Err(err).Str("license_id", l.ID.String()).Msg("failed to expire license")
			continue
		}
		moved++
	}

	if moved > 0 || len(expired) > 0 {
		s.logger.Info().
			Int("candidates", len(expired)).
			Int("expired", moved).
			Msg("expiry sweep completed")
	}
	return moved
}
