package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MacJediWizard/keygate/internal/models"
	"github.com/google/uuid"
)

// CreateAuditLog inserts a new audit log entry.
func (db *DB) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	var details []byte
	if len(log.Details) > 0 {
		var err error
		if details, err = json.Marshal(log.Details); err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
	}

	_, err := db.Pool.Exec(ctx, `
		INSERT INTO audit_logs (id, actor_type, actor_id, ip_address, action, resource_type,
		                        resource_id, result, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, log.ID, string(log.ActorType), log.ActorID, log.IPAddress, string(log.Action), log.ResourceType,
		log.ResourceID, string(log.Result), details, log.CreatedAt)
	if err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}

// ListAuditLogsForResource returns the newest entries recorded against one resource.
func (db *DB) ListAuditLogsForResource(ctx context.Context, resourceType string, resourceID uuid.UUID, limit int) ([]*models.AuditLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Pool.Query(ctx, `
		SELECT id, actor_type, actor_id, ip_address, action, resource_type,
		       resource_id, result, details, created_at
		FROM audit_logs
		WHERE resource_type = $1 AND resource_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`, resourceType, resourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.AuditLog
	for rows.Next() {
		var log models.AuditLog
		var actorType, action, result string
		var details []byte
		if err := rows.Scan(&log.ID, &actorType, &log.ActorID, &log.IPAddress, &action,
			&log.ResourceType, &log.ResourceID, &result, &details, &log.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		log.ActorType = models.ActorType(actorType)
		log.Action = models.AuditAction(action)
		log.Result = models.AuditResult(result)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &log.Details); err != nil {
				return nil, fmt.Errorf("parse audit details: %w", err)
			}
		}
		logs = append(logs, &log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit logs: %w", err)
	}
	return logs, nil
}
