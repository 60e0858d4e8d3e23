package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type OutboxEvent struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	EventType     string          `db:"event_type" json:"event_type"`
	AggregateID   uuid.UUID       `db:"aggregate_id" json:"aggregate_id"`
	AggregateType string          `db:"aggregate_type" json:"aggregate_type"`
	Status        string          `db:"status" json:"status"`
	Payload       json.RawMessage `db:"payload" json:"payload"`
	OccurredAt    time.Time       `db:"occurred_at" json:"occurred_at"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// AuditEntry is the materialised form of an outbox event, kept per aggregate.
type AuditEntry struct {
	EventID       uuid.UUID       `db:"event_id" json:"event_id"`
	AggregateID   uuid.UUID       `db:"aggregate_id" json:"aggregate_id"`
	AggregateType string          `db:"aggregate_type" json:"aggregate_type"`
	EventType     string          `db:"event_type" json:"event_type"`
	Payload       json.RawMessage `db:"payload" json:"payload"`
	OccurredAt    time.Time       `db:"occurred_at" json:"occurred_at"`
	RecordedAt    time.Time       `db:"recorded_at" json:"recorded_at"`
}
