package maintenance

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// EventLedger purges processed-event claims older than the retention window.
type EventLedger interface {
	Purge(ctx context.Context, retention time.Duration) (int64, error)
}

// WebhookLogStore deletes terminal webhook logs.
type WebhookLogStore interface {
	DeleteTerminalWebhookLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Retention purges aged rows.
type Retention struct {
	ledger                  EventLedger
	logs                    WebhookLogStore
	eventRetentionDays      int
	webhookLogRetentionDays int
	logger                  zerolog.Logger
	now                     func() time.Time
}

// NewRetention creates the retention jobs.
func NewRetention(ledger EventLedger, logs WebhookLogStore, config Config, logger zerolog.Logger) *Retention {
	return &Retention{
		ledger:                  ledger,
		logs:                    logs,
		eventRetentionDays:      config.EventRetentionDays,
		webhookLogRetentionDays: config.WebhookLogRetentionDays,
		logger:                  logger.With().Str("component", "retention").Logger(),
		now:                     time.Now,
	}
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

// PurgeEvents deletes ledger rows older than the event retention window.
// Claims are only needed while a sender may still redeliver.
func (r *Retention) PurgeEvents(ctx context.Context) int64 {
	if r.eventRetentionDays <= 0 {
		return 0
	}

	r.logger.Info().
		Int("retention_days", r.eventRetentionDays).
		Msg("starting processed event purge")

	deleted, err := r.ledger.Purge(ctx, days(r.eventRetentionDays))
	if err != nil {
		r.logger.Error().Err(err).Msg("processed event purge failed")
		return 0
	}

	r.logger.Info().
		Int64("deleted_rows", deleted).
		Int("retention_days", r.eventRetentionDays).
		Msg("processed event purge completed")
	return deleted
}

// PurgeWebhookLogs deletes delivered and failed webhook logs older than the
// log retention window. Pending and retrying logs are kept.
func (r *Retention) PurgeWebhookLogs(ctx context.Context) int64 {
	if r.webhookLogRetentionDays <= 0 {
		return 0
	}

	cutoff := r.now().Add(-days(r.webhookLogRetentionDays))
	deleted, err := r.logs.DeleteTerminalWebhookLogsBefore(ctx, cutoff)
	if err != nil {
		r.logger.Error().Err(err).Msg("webhook log purge failed")
		return 0
	}

	r.logger.Info().
		Int64("deleted_rows", deleted).
		Int("retention_days", r.webhookLogRetentionDays).
		Msg("webhook log purge completed")
	return deleted
}
