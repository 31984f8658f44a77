// Package maintenance runs scheduled housekeeping: retention purges of the
// processed-event ledger and webhook logs, and the optional expiry sweep.
package maintenance

import (
	"context"
	"errors"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Cron schedules (UTC).
const (
	EventPurgeSchedule      = "0 3 * * *"
	WebhookLogPurgeSchedule = "30 3 * * *"
	ExpirySweepSchedule     = "0 * * * *"
)

// Config controls which jobs run and their retention windows.
type Config struct {
	EventRetentionDays      int
	WebhookLogRetentionDays int
	ExpirySweepEnabled      bool
	ExpirySweepBatchSize    int
}

// DefaultConfig returns the default maintenance configuration.
func DefaultConfig() Config {
	return Config{
		EventRetentionDays:      30,
		WebhookLogRetentionDays: 90,
		ExpirySweepBatchSize:    500,
	}
}

// Scheduler runs the maintenance jobs on a cron schedule.
type Scheduler struct {
	config    Config
	retention *Retention
	sweeper   *ExpirySweeper
	cron      *cron.Cron
	logger    zerolog.Logger
	mu        sync.Mutex
	running   bool
}

// NewScheduler creates a maintenance scheduler. sweeper may be nil when the
// expiry sweep is disabled.
func NewScheduler(config Config, retention *Retention, sweeper *ExpirySweeper, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		config:    config,
		retention: retention,
		sweeper:   sweeper,
		cron:      cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:    logger.With().Str("component", "maintenance").Logger(),
	}
}

// Start registers the jobs and starts the cron runner.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("maintenance scheduler already running")
	}

	if _, err := s.cron.AddFunc("CRON_TZ=UTC "+EventPurgeSchedule, func() {
		s.retention.PurgeEvents(context.Background())
	}); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("CRON_TZ=UTC "+WebhookLogPurgeSchedule, func() {
		s.retention.PurgeWebhookLogs(context.Background())
	}); err != nil {
		return err
	}
	if s.config.ExpirySweepEnabled && s.sweeper != nil {
		if _, err := s.cron.AddFunc("CRON_TZ=UTC "+ExpirySweepSchedule, func() {
			s.sweeper.Run(context.Background())
		}); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Int("event_retention_days", s.config.EventRetentionDays).
		Int("webhook_log_retention_days", s.config.WebhookLogRetentionDays).
		Bool("expiry_sweep", s.config.ExpirySweepEnabled).
		Msg("maintenance scheduler started")

	return nil
}

// Stop stops the scheduler. The returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}

	s.running = false
	s.logger.Info().Msg("stopping maintenance scheduler")
	return s.cron.Stop()
}

// Entries returns the number of scheduled jobs.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// RunNow runs every enabled job once, synchronously.
func (s *Scheduler) RunNow(ctx context.Context) {
	s.retention.PurgeEvents(ctx)
	s.retention.PurgeWebhookLogs(ctx)
	if s.config.ExpirySweepEnabled && s.sweeper != nil {
		s.sweeper.Run(ctx)
	}
}
