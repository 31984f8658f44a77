package models

import "time"

// ProcessedEvent records that an externally sourced event id has been claimed.
// Rows are write-once; the primary key on EventID arbitrates duplicate delivery.
type ProcessedEvent struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	ProcessedAt time.Time `json:"processed_at"`
}
