package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

// --- License ---

func TestNewLicense(t *testing.T) {
	customerID, productID := uuid.New(), uuid.New()
	l := NewLicense(customerID, productID, LicenseTypeSubscription, 3)

	if l.ID == uuid.Nil || l.Key == uuid.Nil {
		t.Fatal("expected ID and Key to be set")
	}
	if l.ID == l.Key {
		t.Error("expected ID and Key to differ")
	}
	if l.Status != LicenseStatusActive {
		t.Errorf("expected status active, got %s", l.Status)
	}
	if l.CustomerID != customerID || l.ProductID != productID {
		t.Error("expected customer and product to be set")
	}
	if !l.IsLifetime() {
		t.Error("expected a license without expiry to be lifetime")
	}
	if l.HasSigningSecret() {
		t.Error("expected no signing secret")
	}
}

func TestLicense_IsExpired(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name      string
		status    LicenseStatus
		expiresAt *time.Time
		want      bool
	}{
		{"active lifetime", LicenseStatusActive, nil, false},
		{"active future expiry", LicenseStatusActive, &future, false},
		{"active past expiry", LicenseStatusActive, &past, true},
		{"expired status without date", LicenseStatusExpired, nil, true},
		{"suspended future expiry", LicenseStatusSuspended, &future, false},
		{"revoked past expiry", LicenseStatusRevoked, &past, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &License{Status: tt.status, ExpiresAt: tt.expiresAt}
			if got := l.IsExpired(now); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLicense_ExpiryAtExactInstant(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	l := &License{Status: LicenseStatusActive, ExpiresAt: &now}
	if l.IsExpired(now) {
		t.Error("expected a license expiring exactly now to still be valid")
	}
}

func TestLicenseStatus_IsValid(t *testing.T) {
	for _, s := range ValidLicenseStatuses() {
		if !s.IsValid() {
			t.Errorf("expected %s to be valid", s)
		}
	}
	if LicenseStatus("trialing").IsValid() {
		t.Error("expected trialing to be invalid")
	}
}

func TestLicense_HasUnlimitedActivations(t *testing.T) {
	if !(&License{ActivationLimit: UnlimitedActivations}).HasUnlimitedActivations() {
		t.Error("expected limit 0 to be unlimited")
	}
	if (&License{ActivationLimit: 1}).HasUnlimitedActivations() {
		t.Error("expected limit 1 to be limited")
	}
}

// --- Activation ---

func TestActivation_Lifecycle(t *testing.T) {
	licenseID := uuid.New()
	a := NewActivation(licenseID, "example.com", ActivationMetadata{IPAddress: "203.0.113.9", PluginVersion: "1.0.0"})

	if !a.IsActive {
		t.Fatal("expected new activation to be active")
	}
	if a.IPAddress != "203.0.113.9" || a.PluginVersion != "1.0.0" {
		t.Error("expected metadata to be applied")
	}

	later := a.ActivatedAt.Add(time.Hour)
	a.Deactivate(later)
	if a.IsActive {
		t.Error("expected activation to be inactive")
	}
	if a.DeactivatedAt == nil || !a.DeactivatedAt.Equal(later) {
		t.Error("expected DeactivatedAt to be set")
	}

	again := later.Add(time.Hour)
	a.Reactivate(ActivationMetadata{PluginVersion: "1.1.0"}, again)
	if !a.IsActive || a.DeactivatedAt != nil {
		t.Error("expected activation to be active again")
	}
	if !a.ActivatedAt.Equal(again) {
		t.Errorf("expected ActivatedAt %v, got %v", again, a.ActivatedAt)
	}
	if a.IPAddress != "203.0.113.9" {
		t.Error("expected empty metadata fields to keep previous values")
	}
	if a.PluginVersion != "1.1.0" {
		t.Errorf("expected plugin version 1.1.0, got %s", a.PluginVersion)
	}
}

func TestActivation_Touch(t *testing.T) {
	a := NewActivation(uuid.New(), "example.com", ActivationMetadata{})
	now := time.Now().Add(time.Minute)

	a.Touch(ActivationMetadata{LocalIP: "10.0.0.2"}, now)

	if a.LastCheckedAt == nil || !a.LastCheckedAt.Equal(now) {
		t.Error("expected LastCheckedAt to be set")
	}
	if a.LocalIP != "10.0.0.2" {
		t.Errorf("expected local IP 10.0.0.2, got %s", a.LocalIP)
	}
}

// --- Catalog ---

func TestPrice_LicenseType(t *testing.T) {
	if (&Price{Recurring: true}).LicenseType() != LicenseTypeSubscription {
		t.Error("expected recurring price to issue subscriptions")
	}
	if (&Price{}).LicenseType() != LicenseTypeLifetime {
		t.Error("expected one-off price to issue lifetime licenses")
	}
}

func TestNewCustomer_NormalizesEmail(t *testing.T) {
	c := NewCustomer("  Buyer@Example.COM ", "Buyer", "cus_123")
	if c.Email != "buyer@example.com" {
		t.Errorf("expected normalized email, got %q", c.Email)
	}
	if c.ExternalCustomerID != "cus_123" {
		t.Errorf("expected external id cus_123, got %q", c.ExternalCustomerID)
	}
}

// --- Webhooks ---

func TestWebhookEndpoint_Matches(t *testing.T) {
	productA, productB := uuid.New(), uuid.New()
	ep := NewWebhookEndpoint("crm", "https://crm.example.com", nil,
		[]WebhookEventType{WebhookEventLicenseCreated, WebhookEventPaymentFailed})

	if !ep.Matches(WebhookEventLicenseCreated, nil) {
		t.Error("expected subscribed event without product scope to match")
	}
	if ep.Matches(WebhookEventLicenseRevoked, nil) {
		t.Error("expected unsubscribed event not to match")
	}

	ep.ProductIDs = []uuid.UUID{productA}
	if !ep.Matches(WebhookEventLicenseCreated, &productA) {
		t.Error("expected allowlisted product to match")
	}
	if ep.Matches(WebhookEventLicenseCreated, &productB) {
		t.Error("expected other product not to match")
	}
	if !ep.Matches(WebhookEventLicenseCreated, nil) {
		t.Error("expected unscoped event to match an allowlisted endpoint")
	}

	ep.Active = false
	if ep.Matches(WebhookEventLicenseCreated, &productA) {
		t.Error("expected inactive endpoint not to match")
	}
}

func TestWebhookEndpoint_JSONColumns(t *testing.T) {
	ep := &WebhookEndpoint{}

	ids, err := ep.ProductIDsJSON()
	if err != nil || string(ids) != "[]" {
		t.Errorf("expected empty product list, got %s (%v)", ids, err)
	}
	headers, err := ep.HeadersJSON()
	if err != nil || string(headers) != "{}" {
		t.Errorf("expected empty headers, got %s (%v)", headers, err)
	}

	if err := ep.SetEventTypes([]byte(`["license.created"]`)); err != nil {
		t.Fatalf("SetEventTypes: %v", err)
	}
	if !ep.IsSubscribedTo(WebhookEventLicenseCreated) {
		t.Error("expected event types to be decoded")
	}
	if err := ep.SetHeaders(nil); err != nil || ep.Headers == nil {
		t.Error("expected nil headers column to decode to an empty map")
	}
}

func TestWebhookEventType_IsValid(t *testing.T) {
	if len(AllWebhookEventTypes()) != 10 {
		t.Errorf("expected 10 event types, got %d", len(AllWebhookEventTypes()))
	}
	if WebhookEventType("license.deleted").IsValid() {
		t.Error("expected unknown event type to be invalid")
	}
}

func TestWebhookLog_StatusTransitions(t *testing.T) {
	log := NewWebhookLog(uuid.New(), WebhookEventLicenseCreated, []byte(`{}`), 1700000000, 3)
	if log.Status != WebhookLogStatusPending || log.Status.IsTerminal() {
		t.Fatalf("expected pending non-terminal log, got %s", log.Status)
	}

	sent := time.Now()
	log.RecordResponse(1, TransportErrorStatus, "", "connection refused", sent)
	next := sent.Add(time.Minute)
	log.MarkRetrying(next)
	if log.Status != WebhookLogStatusRetrying || log.NextRetryAt == nil {
		t.Error("expected retrying with next retry time")
	}
	if *log.ResponseStatus != TransportErrorStatus {
		t.Errorf("expected transport error status, got %d", *log.ResponseStatus)
	}

	log.RecordResponse(2, 200, "ok", "", sent)
	log.MarkDelivered()
	if !log.Status.IsTerminal() || log.NextRetryAt != nil {
		t.Error("expected delivered to be terminal and clear next retry")
	}

	log.MarkFailed()
	if log.Status != WebhookLogStatusFailed || !log.Status.IsTerminal() {
		t.Error("expected failed to be terminal")
	}
}

func TestIsSuccessStatus(t *testing.T) {
	for status, want := range map[int]bool{199: false, 200: true, 204: true, 299: true, 300: false, 500: false, 0: false} {
		if got := IsSuccessStatus(status); got != want {
			t.Errorf("IsSuccessStatus(%d) = %v, want %v", status, got, want)
		}
	}
}

// --- Audit ---

func TestNewAuditLog(t *testing.T) {
	actor := Actor{Type: ActorOperator, ID: "alice", IPAddress: "198.51.100.4"}
	resourceID := uuid.New()
	log := NewAuditLog(actor, AuditActionLicenseCreate, "license", AuditResultSuccess).
		WithResource(resourceID).
		WithDetails(map[string]any{"product": "my-plugin"})

	if log.ActorType != ActorOperator || log.ActorID != "alice" || log.IPAddress != "198.51.100.4" {
		t.Error("expected actor to be copied")
	}
	if log.ResourceID == nil || *log.ResourceID != resourceID {
		t.Error("expected resource ID to be set")
	}
	if !log.IsSuccess() {
		t.Error("expected success")
	}
	if SystemActor().Type != ActorSystem {
		t.Error("expected system actor type")
	}
}
