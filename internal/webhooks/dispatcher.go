// Package webhooks fans internal events out to subscriber endpoints as signed,
// retried HTTP deliveries.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/MacJediWizard/keygate/internal/jobs"
	"github.com/MacJediWizard/keygate/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Outbound headers.
const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderEvent     = "X-Webhook-Event"
	HeaderTimestamp = "X-Webhook-Timestamp"
	HeaderDelivery  = "X-Webhook-Delivery"
)

// maxResponseBody bounds how much of a subscriber response is stored.
const maxResponseBody = 64 * 1024

var (
	// ErrUpstreamUnavailable marks a delivery attempt that got no 2xx response.
	ErrUpstreamUnavailable = errors.New("subscriber unavailable")
	// ErrDeliveryInProgress is returned when redelivering a log that is still being retried.
	ErrDeliveryInProgress = errors.New("webhook delivery still in progress")
)

// Store defines the interface for webhook persistence operations.
type Store interface {
	ListActiveWebhookEndpoints(ctx context.Context) ([]*models.WebhookEndpoint, error)
	GetWebhookEndpointByID(ctx context.Context, id uuid.UUID) (*models.WebhookEndpoint, error)
	CreateWebhookLog(ctx context.Context, log *models.WebhookLog) error
	UpdateWebhookLog(ctx context.Context, log *models.WebhookLog) error
	GetWebhookLogByID(ctx context.Context, id uuid.UUID) (*models.WebhookLog, error)
	ListPendingWebhookLogs(ctx context.Context, limit int) ([]*models.WebhookLog, error)
}

// Decrypter opens endpoint secrets stored encrypted at rest.
type Decrypter interface {
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Queue runs delivery tasks and owns their retry scheduling.
type Queue interface {
	Submit(ctx context.Context, task jobs.Task, policy jobs.RetryPolicy) error
	SubmitAt(task jobs.Task, policy jobs.RetryPolicy, attempt int, at time.Time) error
}

// Observer receives one call per delivery attempt.
type Observer interface {
	ObserveWebhookDelivery(event string, delivered bool, duration time.Duration)
}

// Config holds configuration for the webhook dispatcher.
type Config struct {
	// MaxAttempts and Backoff form the retry policy of every delivery.
	MaxAttempts int
	Backoff     []time.Duration
	// ResumeBatchSize bounds how many unfinished logs are resumed on start.
	ResumeBatchSize int
}

// DefaultConfig returns default dispatcher configuration.
func DefaultConfig() Config {
	policy := jobs.DefaultRetryPolicy()
	return Config{
		MaxAttempts:     policy.MaxAttempts,
		Backoff:         policy.Backoff,
		ResumeBatchSize: 500,
	}
}

// Dispatcher handles sending webhooks to registered endpoints.
type Dispatcher struct {
	store     Store
	decrypter Decrypter
	queue     Queue
	client    *http.Client
	policy    jobs.RetryPolicy
	config    Config
	observer  Observer
	logger    zerolog.Logger
	now       func() time.Time
}

// NewDispatcher creates a new webhook dispatcher. The client should carry the
// outbound timeout; a timeout counts as a failed attempt.
func NewDispatcher(store Store, decrypter Decrypter, queue Queue, client *http.Client, cfg Config, logger zerolog.Logger) *Dispatcher {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.ResumeBatchSize < 1 {
		cfg.ResumeBatchSize = DefaultConfig().ResumeBatchSize
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Dispatcher{
		store:     store,
		decrypter: decrypter,
		queue:     queue,
		client:    client,
		policy:    jobs.RetryPolicy{MaxAttempts: cfg.MaxAttempts, Backoff: cfg.Backoff},
		config:    cfg,
		logger:    logger.With().Str("component", "webhook_dispatcher").Logger(),
		now:       time.Now,
	}
}

// SetObserver registers a delivery observer, typically the metrics collector.
func (d *Dispatcher) SetObserver(o Observer) {
	d.observer = o
}

// Dispatch sends eventType to every active endpoint subscribed to it whose
// product allowlist admits productID. Deliveries run in the background.
func (d *Dispatcher) Dispatch(ctx context.Context, eventType models.WebhookEventType, data map[string]any, productID *uuid.UUID) error {
	endpoints, err := d.store.ListActiveWebhookEndpoints(ctx)
	if err != nil {
		return fmt.Errorf("list webhook endpoints: %w", err)
	}

	var matched []*models.WebhookEndpoint
	for _, ep := range endpoints {
		if ep.Matches(eventType, productID) {
			matched = append(matched, ep)
		}
	}
	if len(matched) == 0 {
		return nil
	}

	timestamp := d.now().Unix()
	body, err := json.Marshal(models.WebhookEnvelope{
		Event:     eventType,
		Timestamp: timestamp,
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook envelope: %w", err)
	}

	d.logger.Debug().
		Str("event_type", string(eventType)).
		Int("endpoint_count", len(matched)).
		Msg("dispatching webhook event")

	var errs []error
	for _, ep := range matched {
		log := models.NewWebhookLog(ep.ID, eventType, body, timestamp, d.policy.MaxAttempts)
		if err := d.store.CreateWebhookLog(ctx, log); err != nil {
			d.logger.Error().Err(err).Str("endpoint_id", ep.ID.String()).Msg("failed to create webhook log")
			errs = append(errs, err)
			continue
		}
		if err := d.queue.Submit(ctx, d.task(log.ID), d.policy); err != nil {
			// The log stays pending and is picked up by Resume on the next start.
			d.logger.Error().Err(err).Str("log_id", log.ID.String()).Msg("failed to enqueue webhook delivery")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Resume re-enqueues deliveries that were pending or waiting for a retry when
// the process last stopped.
func (d *Dispatcher) Resume(ctx context.Context) (int, error) {
	logs, err := d.store.ListPendingWebhookLogs(ctx, d.config.ResumeBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list pending webhook logs: %w", err)
	}

	resumed := 0
	for _, log := range logs {
		at := d.now()
		if log.NextRetryAt != nil {
			at = *log.NextRetryAt
		}
		if err := d.queue.SubmitAt(d.task(log.ID), d.policy, log.Attempt+1, at); err != nil {
			return resumed, fmt.Errorf("resume webhook log %s: %w", log.ID, err)
		}
		resumed++
	}

	if resumed > 0 {
		d.logger.Info().Int("count", resumed).Msg("resumed unfinished webhook deliveries")
	}
	return resumed, nil
}

// Redeliver queues the payload of a delivered or failed log again as a new
// log. The terminal log keeps its final attempt as recorded.
func (d *Dispatcher) Redeliver(ctx context.Context, logID uuid.UUID) (*models.WebhookLog, error) {
	original, err := d.store.GetWebhookLogByID(ctx, logID)
	if err != nil {
		return nil, err
	}
	if !original.Status.IsTerminal() {
		return nil, ErrDeliveryInProgress
	}

	log := models.NewWebhookLog(original.EndpointID, original.EventName, original.Payload, original.Timestamp, d.policy.MaxAttempts)
	if err := d.store.CreateWebhookLog(ctx, log); err != nil {
		return nil, fmt.Errorf("create redelivery log: %w", err)
	}

	if err := d.queue.Submit(ctx, d.task(log.ID), d.policy); err != nil {
		return nil, fmt.Errorf("enqueue redelivery: %w", err)
	}

	d.logger.Info().
		Str("log_id", log.ID.String()).
		Str("original_log_id", original.ID.String()).
		Msg("webhook redelivery queued")
	return log, nil
}

func (d *Dispatcher) task(logID uuid.UUID) jobs.Task {
	return &deliveryTask{dispatcher: d, logID: logID}
}

// deliveryTask performs one attempt of one log's delivery per Run call.
type deliveryTask struct {
	dispatcher *Dispatcher
	logID      uuid.UUID
}

func (t *deliveryTask) Name() string {
	return "webhook_delivery:" + t.logID.String()
}

func (t *deliveryTask) Run(ctx context.Context, attempt jobs.Attempt) error {
	d := t.dispatcher
	logger := d.logger.With().Str("log_id", t.logID.String()).Int("attempt", attempt.Number).Logger()

	log, err := d.store.GetWebhookLogByID(ctx, t.logID)
	if err != nil {
		return jobs.Permanent(fmt.Errorf("load webhook log: %w", err))
	}
	if log.Status.IsTerminal() {
		return nil
	}

	endpoint, err := d.store.GetWebhookEndpointByID(ctx, log.EndpointID)
	if err != nil {
		return d.abandon(ctx, log, attempt, fmt.Sprintf("endpoint unavailable: %v", err))
	}
	if !endpoint.Active {
		return d.abandon(ctx, log, attempt, "endpoint disabled")
	}

	secret, err := d.decrypter.Decrypt(endpoint.SecretEncrypted)
	if err != nil {
		logger.Error().Err(err).Msg("failed to decrypt webhook secret")
		return d.abandon(ctx, log, attempt, "failed to decrypt secret")
	}

	result, sendErr := d.send(ctx, endpoint, log, secret)
	delivered := sendErr == nil
	status, duration := result.status, result.duration

	errMsg := ""
	if sendErr != nil {
		errMsg = sendErr.Error()
	}
	log.RecordResponse(attempt.Number, status, result.body, errMsg, d.now())

	switch {
	case delivered:
		log.MarkDelivered()
		logger.Info().
			Str("endpoint_id", endpoint.ID.String()).
			Int("status", status).
			Dur("duration", duration).
			Msg("webhook delivered successfully")
	case attempt.NextRetryAt != nil:
		log.MarkRetrying(*attempt.NextRetryAt)
		logger.Warn().
			Int("max_attempts", attempt.Max).
			Time("next_retry", *attempt.NextRetryAt).
			Int("status", status).
			Str("error", errMsg).
			Msg("webhook delivery failed, scheduling retry")
	default:
		log.MarkFailed()
		logger.Error().
			Int("attempts", attempt.Number).
			Int("status", status).
			Str("error", errMsg).
			Msg("webhook delivery failed permanently")
	}

	if d.observer != nil {
		d.observer.ObserveWebhookDelivery(string(log.EventName), delivered, duration)
	}

	if err := d.store.UpdateWebhookLog(ctx, log); err != nil {
		logger.Error().Err(err).Msg("failed to update webhook log")
	}
	return sendErr
}

// abandon records a failure that no retry can fix and stops the task.
func (d *Dispatcher) abandon(ctx context.Context, log *models.WebhookLog, attempt jobs.Attempt, reason string) error {
	log.RecordResponse(attempt.Number, models.TransportErrorStatus, "", reason, d.now())
	log.MarkFailed()
	if err := d.store.UpdateWebhookLog(ctx, log); err != nil {
		d.logger.Error().Err(err).Str("log_id", log.ID.String()).Msg("failed to update webhook log")
	}
	return jobs.Permanent(errors.New(reason))
}

type sendResult struct {
	status   int
	body     string
	duration time.Duration
}

// send posts the stored envelope. A nil error means a 2xx response.
func (d *Dispatcher) send(ctx context.Context, endpoint *models.WebhookEndpoint, log *models.WebhookLog, secret []byte) (sendResult, error) {
	result := sendResult{status: models.TransportErrorStatus}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(log.Payload))
	if err != nil {
		return result, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Keygate-Webhook/1.0")
	for key, value := range endpoint.Headers {
		req.Header.Set(key, value)
	}
	req.Header.Set(HeaderDelivery, log.ID.String())
	req.Header.Set(HeaderEvent, string(log.EventName))
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(log.Timestamp, 10))
	req.Header.Set(HeaderSignature, Sign(log.Payload, secret))

	start := time.Now()
	resp, err := d.client.Do(req)
	result.duration = time.Since(start)
	if err != nil {
		return result, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	result.status = resp.StatusCode
	result.body = string(bodyBytes)
	if !models.IsSuccessStatus(resp.StatusCode) {
		return result, fmt.Errorf("%w: unexpected status code %d", ErrUpstreamUnavailable, resp.StatusCode)
	}
	return result, nil
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature verifies an outbound webhook signature. Subscribers can use
// it to check deliveries from keygate.
func VerifySignature(payload []byte, signature string, secret []byte) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}
