package models

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"
)

// WebhookEventType is the name of an internal event relayed to subscribers.
type WebhookEventType string

const (
	WebhookEventLicenseCreated     WebhookEventType = "license.created"
	WebhookEventLicenseActivated   WebhookEventType = "license.activated"
	WebhookEventLicenseDeactivated WebhookEventType = "license.deactivated"
	WebhookEventLicenseRenewed     WebhookEventType = "license.renewed"
	WebhookEventLicenseSuspended   WebhookEventType = "license.suspended"
	WebhookEventLicenseExpired     WebhookEventType = "license.expired"
	WebhookEventLicenseRevoked     WebhookEventType = "license.revoked"
	WebhookEventLicenseReactivated WebhookEventType = "license.reactivated"
	WebhookEventPaymentCompleted   WebhookEventType = "payment.completed"
	WebhookEventPaymentFailed      WebhookEventType = "payment.failed"
)

// AllWebhookEventTypes returns all available webhook event types.
func AllWebhookEventTypes() []WebhookEventType {
	return []WebhookEventType{
		WebhookEventLicenseCreated,
		WebhookEventLicenseActivated,
		WebhookEventLicenseDeactivated,
		WebhookEventLicenseRenewed,
		WebhookEventLicenseSuspended,
		WebhookEventLicenseExpired,
		WebhookEventLicenseRevoked,
		WebhookEventLicenseReactivated,
		WebhookEventPaymentCompleted,
		WebhookEventPaymentFailed,
	}
}

// IsValid checks if the event type is a recognized value.
func (t WebhookEventType) IsValid() bool {
	return slices.Contains(AllWebhookEventTypes(), t)
}

// WebhookLogStatus represents the delivery state of a webhook log row.
type WebhookLogStatus string

const (
	WebhookLogStatusPending   WebhookLogStatus = "pending"
	WebhookLogStatusRetrying  WebhookLogStatus = "retrying"
	WebhookLogStatusDelivered WebhookLogStatus = "delivered"
	WebhookLogStatusFailed    WebhookLogStatus = "failed"
)

// IsTerminal reports whether no further automatic attempt will be made.
func (s WebhookLogStatus) IsTerminal() bool {
	return s == WebhookLogStatusDelivered || s == WebhookLogStatusFailed
}

// TransportErrorStatus is recorded as the response status when no HTTP response
// was received. It is distinct from every real HTTP status code.
const TransportErrorStatus = 0

// WebhookEndpoint is an operator-registered subscriber.
type WebhookEndpoint struct {
	ID              uuid.UUID          `json:"id"`
	Name            string             `json:"name"`
	URL             string             `json:"url"`
	SecretEncrypted []byte             `json:"-"`
	EventTypes      []WebhookEventType `json:"event_types"`
	ProductIDs      []uuid.UUID        `json:"product_ids"`
	Headers         map[string]string  `json:"headers,omitempty"`
	Active          bool               `json:"active"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// NewWebhookEndpoint creates a new active webhook endpoint.
func NewWebhookEndpoint(name, url string, secretEncrypted []byte, eventTypes []WebhookEventType) *WebhookEndpoint {
	now := time.Now()
	return &WebhookEndpoint{
		ID:              uuid.New(),
		Name:            name,
		URL:             url,
		SecretEncrypted: secretEncrypted,
		EventTypes:      eventTypes,
		ProductIDs:      []uuid.UUID{},
		Headers:         make(map[string]string),
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// IsSubscribedTo checks if the endpoint is subscribed to an event type.
func (w *WebhookEndpoint) IsSubscribedTo(eventType WebhookEventType) bool {
	return slices.Contains(w.EventTypes, eventType)
}

// AllowsProduct checks the optional product allowlist. An empty allowlist or an
// absent scope matches everything.
func (w *WebhookEndpoint) AllowsProduct(productID *uuid.UUID) bool {
	if len(w.ProductIDs) == 0 || productID == nil {
		return true
	}
	return slices.Contains(w.ProductIDs, *productID)
}

// Matches reports whether an event should be fanned out to this endpoint.
func (w *WebhookEndpoint) Matches(eventType WebhookEventType, productID *uuid.UUID) bool {
	return w.Active && w.IsSubscribedTo(eventType) && w.AllowsProduct(productID)
}

// EventTypesJSON returns the event types as JSON bytes.
func (w *WebhookEndpoint) EventTypesJSON() ([]byte, error) {
	return json.Marshal(w.EventTypes)
}

// ProductIDsJSON returns the product allowlist as JSON bytes.
func (w *WebhookEndpoint) ProductIDsJSON() ([]byte, error) {
	if w.ProductIDs == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(w.ProductIDs)
}

// HeadersJSON returns the headers as JSON bytes.
func (w *WebhookEndpoint) HeadersJSON() ([]byte, error) {
	if w.Headers == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(w.Headers)
}

// SetEventTypes sets the event types from JSON bytes.
func (w *WebhookEndpoint) SetEventTypes(data []byte) error {
	if len(data) == 0 {
		w.EventTypes = []WebhookEventType{}
		return nil
	}
	return json.Unmarshal(data, &w.EventTypes)
}

// SetProductIDs sets the product allowlist from JSON bytes.
func (w *WebhookEndpoint) SetProductIDs(data []byte) error {
	if len(data) == 0 {
		w.ProductIDs = []uuid.UUID{}
		return nil
	}
	return json.Unmarshal(data, &w.ProductIDs)
}

// SetHeaders sets the headers from JSON bytes.
func (w *WebhookEndpoint) SetHeaders(data []byte) error {
	if len(data) == 0 {
		w.Headers = make(map[string]string)
		return nil
	}
	return json.Unmarshal(data, &w.Headers)
}

// WebhookEnvelope is the body posted to subscribers.
type WebhookEnvelope struct {
	Event     WebhookEventType `json:"event"`
	Timestamp int64            `json:"timestamp"`
	Data      map[string]any   `json:"data"`
}

// WebhookLog is the audit trail of delivery attempts for one event to one endpoint.
type WebhookLog struct {
	ID             uuid.UUID        `json:"id"`
	EndpointID     uuid.UUID        `json:"endpoint_id"`
	EventName      WebhookEventType `json:"event_name"`
	Payload        json.RawMessage  `json:"payload"`
	Timestamp      int64            `json:"timestamp"`
	ResponseStatus *int             `json:"response_status,omitempty"`
	ResponseBody   string           `json:"response_body,omitempty"`
	ErrorMessage   string           `json:"error_message,omitempty"`
	Attempt        int              `json:"attempt"`
	MaxAttempts    int              `json:"max_attempts"`
	Status         WebhookLogStatus `json:"status"`
	NextRetryAt    *time.Time       `json:"next_retry_at,omitempty"`
	SentAt         *time.Time       `json:"sent_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// NewWebhookLog creates a pending log for a serialized envelope.
func NewWebhookLog(endpointID uuid.UUID, eventName WebhookEventType, payload []byte, timestamp int64, maxAttempts int) *WebhookLog {
	return &WebhookLog{
		ID:          uuid.New(),
		EndpointID:  endpointID,
		EventName:   eventName,
		Payload:     payload,
		Timestamp:   timestamp,
		MaxAttempts: maxAttempts,
		Status:      WebhookLogStatusPending,
		CreatedAt:   time.Now(),
	}
}

// RecordResponse stores the outcome of one attempt.
func (w *WebhookLog) RecordResponse(attempt, status int, body, errMsg string, sentAt time.Time) {
	w.Attempt = attempt
	w.ResponseStatus = &status
	w.ResponseBody = body
	w.ErrorMessage = errMsg
	w.SentAt = &sentAt
}

// MarkDelivered marks the delivery as successful.
func (w *WebhookLog) MarkDelivered() {
	w.Status = WebhookLogStatusDelivered
	w.NextRetryAt = nil
}

// MarkRetrying marks the delivery for another attempt at nextRetry.
func (w *WebhookLog) MarkRetrying(nextRetry time.Time) {
	w.Status = WebhookLogStatusRetrying
	w.NextRetryAt = &nextRetry
}

// MarkFailed marks the delivery as permanently failed.
func (w *WebhookLog) MarkFailed() {
	w.Status = WebhookLogStatusFailed
	w.NextRetryAt = nil
}

// IsSuccessStatus reports whether an HTTP status counts as delivered.
func IsSuccessStatus(status int) bool {
	return status >= 200 && status < 300
}

// CreateWebhookEndpointRequest represents a request to create a webhook endpoint.
type CreateWebhookEndpointRequest struct {
	Name       string             `json:"name" binding:"required"`
	URL        string             `json:"url" binding:"required,url"`
	Secret     string             `json:"secret" binding:"required,min=16"`
	EventTypes []WebhookEventType `json:"event_types" binding:"required,min=1"`
	ProductIDs []uuid.UUID        `json:"product_ids,omitempty"`
	Headers    map[string]string  `json:"headers,omitempty"`
}

// UpdateWebhookEndpointRequest represents a request to update a webhook endpoint.
type UpdateWebhookEndpointRequest struct {
	Name       *string            `json:"name,omitempty"`
	URL        *string            `json:"url,omitempty"`
	Secret     *string            `json:"secret,omitempty"`
	Active     *bool              `json:"active,omitempty"`
	EventTypes []WebhookEventType `json:"event_types,omitempty"`
	ProductIDs []uuid.UUID        `json:"product_ids,omitempty"`
	Headers    map[string]string  `json:"headers,omitempty"`
}

// WebhookEndpointsResponse represents a list of webhook endpoints.
type WebhookEndpointsResponse struct {
	Endpoints []*WebhookEndpoint `json:"endpoints"`
}

// WebhookLogsResponse represents a page of webhook logs.
type WebhookLogsResponse struct {
	Logs  []*WebhookLog `json:"logs"`
	Total int           `json:"total"`
}
