package db

import (
	"context"
	"fmt"
	"time"

	"github.com/MacJediWizard/keygate/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Webhook endpoints

const webhookEndpointColumns = `id, name, url, secret_encrypted, event_types, product_ids,
	headers, active, created_at, updated_at`

func scanWebhookEndpoint(row rowScanner) (*models.WebhookEndpoint, error) {
	var e models.WebhookEndpoint
	var eventTypesBytes, productIDsBytes, headersBytes []byte

	err := row.Scan(
		&e.ID, &e.Name, &e.URL, &e.SecretEncrypted, &eventTypesBytes, &productIDsBytes,
		&headersBytes, &e.Active, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := e.SetEventTypes(eventTypesBytes); err != nil {
		return nil, fmt.Errorf("parse event types: %w", err)
	}
	if err := e.SetProductIDs(productIDsBytes); err != nil {
		return nil, fmt.Errorf("parse product ids: %w", err)
	}
	if err := e.SetHeaders(headersBytes); err != nil {
		return nil, fmt.Errorf("parse headers: %w", err)
	}
	return &e, nil
}

func scanWebhookEndpoints(rows pgx.Rows) ([]*models.WebhookEndpoint, error) {
	defer rows.Close()

	var endpoints []*models.WebhookEndpoint
	for rows.Next() {
		e, err := scanWebhookEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook endpoint: %w", err)
		}
		endpoints = append(endpoints, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate webhook endpoints: %w", err)
	}
	return endpoints, nil
}

// ListWebhookEndpoints returns every endpoint ordered by name.
func (db *DB) ListWebhookEndpoints(ctx context.Context) ([]*models.WebhookEndpoint, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT `+webhookEndpointColumns+` FROM webhook_endpoints ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list webhook endpoints: %w", err)
	}
	return scanWebhookEndpoints(rows)
}

// ListActiveWebhookEndpoints returns the endpoints eligible for fan-out.
func (db *DB) ListActiveWebhookEndpoints(ctx context.Context) ([]*models.WebhookEndpoint, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT `+webhookEndpointColumns+` FROM webhook_endpoints WHERE active ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list active webhook endpoints: %w", err)
	}
	return scanWebhookEndpoints(rows)
}

// GetWebhookEndpointByID returns a webhook endpoint by ID.
func (db *DB) GetWebhookEndpointByID(ctx context.Context, id uuid.UUID) (*models.WebhookEndpoint, error) {
	e, err := scanWebhookEndpoint(db.Pool.QueryRow(ctx,
		`SELECT `+webhookEndpointColumns+` FROM webhook_endpoints WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "webhook endpoint")
	}
	return e, nil
}

// CreateWebhookEndpoint creates a new webhook endpoint.
func (db *DB) CreateWebhookEndpoint(ctx context.Context, e *models.WebhookEndpoint) error {
	eventTypesJSON, productIDsJSON, headersJSON, err := endpointJSON(e)
	if err != nil {
		return err
	}

	_, err = db.Pool.Exec(ctx, `
		INSERT INTO webhook_endpoints (id, name, url, secret_encrypted, event_types, product_ids,
		                               headers, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.ID, e.Name, e.URL, e.SecretEncrypted, eventTypesJSON, productIDsJSON,
		headersJSON, e.Active, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create webhook endpoint: %w", err)
	}
	return nil
}

// UpdateWebhookEndpoint updates an existing webhook endpoint.
func (db *DB) UpdateWebhookEndpoint(ctx context.Context, e *models.WebhookEndpoint) error {
	e.UpdatedAt = time.Now()

	eventTypesJSON, productIDsJSON, headersJSON, err := endpointJSON(e)
	if err != nil {
		return err
	}

	tag, err := db.Pool.Exec(ctx, `
		UPDATE webhook_endpoints
		SET name = $2, url = $3, secret_encrypted = $4, event_types = $5, product_ids = $6,
		    headers = $7, active = $8, updated_at = $9
		WHERE id = $1
	`, e.ID, e.Name, e.URL, e.SecretEncrypted, eventTypesJSON, productIDsJSON,
		headersJSON, e.Active, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update webhook endpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update webhook endpoint: %w", models.ErrNotFound)
	}
	return nil
}

// DeleteWebhookEndpoint deletes an endpoint and, by cascade, its logs.
func (db *DB) DeleteWebhookEndpoint(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM webhook_endpoints WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete webhook endpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete webhook endpoint: %w", models.ErrNotFound)
	}
	return nil
}

func endpointJSON(e *models.WebhookEndpoint) (eventTypes, productIDs, headers []byte, err error) {
	if eventTypes, err = e.EventTypesJSON(); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal event types: %w", err)
	}
	if productIDs, err = e.ProductIDsJSON(); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal product ids: %w", err)
	}
	if headers, err = e.HeadersJSON(); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal headers: %w", err)
	}
	return eventTypes, productIDs, headers, nil
}

// Webhook logs

const webhookLogColumns = `id, endpoint_id, event_name, payload, timestamp, response_status,
	response_body, error_message, attempt, max_attempts, status, next_retry_at, sent_at, created_at`

func scanWebhookLog(row rowScanner) (*models.WebhookLog, error) {
	var l models.WebhookLog
	var eventName, status, payload string

	err := row.Scan(
		&l.ID, &l.EndpointID, &eventName, &payload, &l.Timestamp, &l.ResponseStatus,
		&l.ResponseBody, &l.ErrorMessage, &l.Attempt, &l.MaxAttempts, &status,
		&l.NextRetryAt, &l.SentAt, &l.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	l.EventName = models.WebhookEventType(eventName)
	l.Status = models.WebhookLogStatus(status)
	l.Payload = []byte(payload)
	return &l, nil
}

func scanWebhookLogs(rows pgx.Rows) ([]*models.WebhookLog, error) {
	defer rows.Close()

	var logs []*models.WebhookLog
	for rows.Next() {
		l, err := scanWebhookLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook log: %w", err)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate webhook logs: %w", err)
	}
	return logs, nil
}

// CreateWebhookLog creates a new webhook log. The payload is stored verbatim
// so that retries send and sign the same bytes.
func (db *DB) CreateWebhookLog(ctx context.Context, l *models.WebhookLog) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO webhook_logs (id, endpoint_id, event_name, payload, timestamp, response_status,
		                          response_body, error_message, attempt, max_attempts, status,
		                          next_retry_at, sent_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, l.ID, l.EndpointID, string(l.EventName), string(l.Payload), l.Timestamp, l.ResponseStatus,
		l.ResponseBody, l.ErrorMessage, l.Attempt, l.MaxAttempts, string(l.Status),
		l.NextRetryAt, l.SentAt, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("create webhook log: %w", err)
	}
	return nil
}

// UpdateWebhookLog persists the outcome of an attempt.
func (db *DB) UpdateWebhookLog(ctx context.Context, l *models.WebhookLog) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE webhook_logs
		SET response_status = $2, response_body = $3, error_message = $4, attempt = $5,
		    max_attempts = $6, status = $7, next_retry_at = $8, sent_at = $9
		WHERE id = $1
	`, l.ID, l.ResponseStatus, l.ResponseBody, l.ErrorMessage, l.Attempt,
		l.MaxAttempts, string(l.Status), l.NextRetryAt, l.SentAt)
	if err != nil {
		return fmt.Errorf("update webhook log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update webhook log: %w", models.ErrNotFound)
	}
	return nil
}

// GetWebhookLogByID returns a webhook log by ID.
func (db *DB) GetWebhookLogByID(ctx context.Context, id uuid.UUID) (*models.WebhookLog, error) {
	l, err := scanWebhookLog(db.Pool.QueryRow(ctx,
		`SELECT `+webhookLogColumns+` FROM webhook_logs WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "webhook log")
	}
	return l, nil
}

// ListPendingWebhookLogs returns unfinished deliveries, oldest first.
func (db *DB) ListPendingWebhookLogs(ctx context.Context, limit int) ([]*models.WebhookLog, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+webhookLogColumns+`
		FROM webhook_logs
		WHERE status IN ('pending', 'retrying')
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending webhook logs: %w", err)
	}
	return scanWebhookLogs(rows)
}

// ListWebhookLogs returns a page of logs, newest first, optionally for one
// endpoint, together with the total count.
func (db *DB) ListWebhookLogs(ctx context.Context, endpointID *uuid.UUID, limit, offset int) ([]*models.WebhookLog, int, error) {
	var total int
	err := db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM webhook_logs WHERE ($1::uuid IS NULL OR endpoint_id = $1)
	`, endpointID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count webhook logs: %w", err)
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT `+webhookLogColumns+`
		FROM webhook_logs
		WHERE ($1::uuid IS NULL OR endpoint_id = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, endpointID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list webhook logs: %w", err)
	}
	logs, err := scanWebhookLogs(rows)
	if err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

// DeleteTerminalWebhookLogsBefore removes delivered and failed logs created before cutoff.
func (db *DB) DeleteTerminalWebhookLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `
		DELETE FROM webhook_logs
		WHERE status IN ('delivered', 'failed') AND created_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete webhook logs: %w", err)
	}
	return tag.RowsAffected(), nil
}
