package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of action that was audited.
type AuditAction string

const (
	AuditActionLicenseCreate     AuditAction = "license.create"
	AuditActionLicenseTransition AuditAction = "license.transition"
	AuditActionActivate          AuditAction = "activation.activate"
	AuditActionDeactivate        AuditAction = "activation.deactivate"
	AuditActionEndpointCreate    AuditAction = "webhook_endpoint.create"
	AuditActionEndpointUpdate    AuditAction = "webhook_endpoint.update"
	AuditActionEndpointDelete    AuditAction = "webhook_endpoint.delete"
	AuditActionWebhookRedeliver  AuditAction = "webhook_log.redeliver"
)

// AuditResult represents the outcome of an audited action.
type AuditResult string

const (
	// AuditResultSuccess indicates the action completed successfully.
	AuditResultSuccess AuditResult = "success"
	// AuditResultFailure indicates the action failed.
	AuditResultFailure AuditResult = "failure"
)

// ActorType identifies who performed an audited action.
type ActorType string

const (
	ActorSystem   ActorType = "system"
	ActorOperator ActorType = "operator"
	ActorPlugin   ActorType = "plugin"
	ActorBilling  ActorType = "billing"
)

// Actor is the principal passed explicitly through the call chain into any
// operation that writes an audit record.
type Actor struct {
	Type      ActorType `json:"type"`
	ID        string    `json:"id,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"`
}

// SystemActor is the actor for scheduled jobs.
func SystemActor() Actor {
	return Actor{Type: ActorSystem, ID: "system"}
}

// AuditLog represents a single audit log entry.
type AuditLog struct {
	ID           uuid.UUID      `json:"id"`
	ActorType    ActorType      `json:"actor_type"`
	ActorID      string         `json:"actor_id,omitempty"`
	IPAddress    string         `json:"ip_address,omitempty"`
	Action       AuditAction    `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   *uuid.UUID     `json:"resource_id,omitempty"`
	Result       AuditResult    `json:"result"`
	Details      map[string]any `json:"details,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// NewAuditLog creates a new AuditLog entry attributed to actor.
func NewAuditLog(actor Actor, action AuditAction, resourceType string, result AuditResult) *AuditLog {
	return &AuditLog{
		ID:           uuid.New(),
		ActorType:    actor.Type,
		ActorID:      actor.ID,
		IPAddress:    actor.IPAddress,
		Action:       action,
		ResourceType: resourceType,
		Result:       result,
		CreatedAt:    time.Now(),
	}
}

// WithResource sets the resource being acted upon.
func (a *AuditLog) WithResource(resourceID uuid.UUID) *AuditLog {
	a.ResourceID = &resourceID
	return a
}

// WithDetails sets additional details about the action.
func (a *AuditLog) WithDetails(details map[string]any) *AuditLog {
	a.Details = details
	return a
}

// IsSuccess returns true if the action was successful.
func (a *AuditLog) IsSuccess() bool {
	return a.Result == AuditResultSuccess
}
