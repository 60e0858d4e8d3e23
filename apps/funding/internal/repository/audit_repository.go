package repository

import (
	"context"
	"database/sql"
	"fmt"

	"aside/apps/funding/internal/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuditRepository stores the materialised settlement audit trail.
type AuditRepository interface {
	Record(ctx context.Context, e *model.AuditEntry) error
	ListByAggregate(ctx context.Context, aggregateID uuid.UUID) ([]model.AuditEntry, error)
}

type PostgresAuditRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewAuditRepository(db *sql.DB, logger *zap.Logger) *PostgresAuditRepository {
	return &PostgresAuditRepository{db: db, logger: logger}
}

// Record is idempotent on the event id so redelivered messages are harmless.
func (a *PostgresAuditRepository) Record(ctx context.Context, e *model.AuditEntry) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO settlement_audit (event_id, aggregate_id, aggregate_type, event_type, payload, occurred_at, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id) DO NOTHING
	`, e.EventID, e.AggregateID, e.AggregateType, e.EventType, []byte(e.Payload), e.OccurredAt, e.RecordedAt)
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	a.logger.Debug("Recorded audit entry",
		zap.String("event_id", e.EventID.String()),
		zap.String("event_type", e.EventType),
		zap.String("aggregate_id", e.AggregateID.String()))
	return nil
}

func (a *PostgresAuditRepository) ListByAggregate(ctx context.Context, aggregateID uuid.UUID) ([]model.AuditEntry, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT event_id, aggregate_id, aggregate_type, event_type, payload, occurred_at, recorded_at
		FROM settlement_audit
		WHERE aggregate_id = $1
		ORDER BY occurred_at, recorded_at
	`, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var payload []byte
		if err := rows.Scan(&e.EventID, &e.AggregateID, &e.AggregateType, &e.EventType, &payload, &e.OccurredAt, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Payload = payload
		out = append(out, e)
	}
	return out, rows.Err()
}
