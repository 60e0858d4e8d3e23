package repository

import (
	"context"
	"database/sql"
	"fmt"

	"aside/apps/funding/internal/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type outboxWriter struct {
	q querier
}

func (o *outboxWriter) Append(ctx context.Context, e *model.OutboxEvent) error {
	_, err := o.q.ExecContext(ctx, `
		INSERT INTO event_outbox (id, event_type, aggregate_id, aggregate_type, status, payload, occurred_at, created_at)
		VALUES ($1, $2, $3, $4, 'unsent', $5, $6, $7)
	`, e.ID, e.EventType, e.AggregateID, e.AggregateType, []byte(e.Payload), e.OccurredAt, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to store outbox event: %w", err)
	}
	return nil
}

// OutboxRepository is the publisher side of the outbox: it hands out batches of
// unsent events and records the delivery outcome.
type OutboxRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewOutboxRepository(db *sql.DB, logger *zap.Logger) *OutboxRepository {
	return &OutboxRepository{db: db, logger: logger}
}

func (o *OutboxRepository) GetUnsentEventsForProcessing(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Lock a batch so concurrent publishers never pick the same rows.
	rows, err := tx.QueryContext(ctx, `
		SELECT id, event_type, aggregate_id, aggregate_type, status, payload, occurred_at, created_at
		FROM event_outbox
		WHERE status = 'unsent'
		ORDER BY created_at, id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.OutboxEvent
	for rows.Next() {
		var event model.OutboxEvent
		var payload []byte
		if err := rows.Scan(&event.ID, &event.EventType, &event.AggregateID, &event.AggregateType,
			&event.Status, &payload, &event.OccurredAt, &event.CreatedAt); err != nil {
			return nil, err
		}
		event.Payload = payload
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for _, event := range events {
		_, err = tx.ExecContext(ctx, `
			UPDATE event_outbox SET status = 'processing'
			WHERE id = $1 AND status = 'unsent'
		`, event.ID)
		if err != nil {
			return nil, err
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return events, nil
}

func (o *OutboxRepository) MarkEventAsSent(ctx context.Context, id uuid.UUID) error {
	_, err := o.db.ExecContext(ctx, `UPDATE event_outbox SET status = 'sent' WHERE id = $1`, id)
	return err
}

func (o *OutboxRepository) MarkEventAsFailed(ctx context.Context, id uuid.UUID) error {
	_, err := o.db.ExecContext(ctx, `
		UPDATE event_outbox SET status = 'unsent'
		WHERE id = $1 AND status = 'processing'
	`, id)
	return err
}
