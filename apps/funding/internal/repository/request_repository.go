package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"aside/apps/funding/internal/model"

	"github.com/google/uuid"
)

const requestColumns = `id, side, wallet_id, user_id, currency, amount, amount_remaining, is_fully_matched,
	is_completed, opted_in, opted_in_at, merge_cycle_id, created_at, matched_at,
	is_priority, priority_timestamp, failed_match_count, is_defaulted`

type requestRepository struct {
	q querier
}

func scanRequest(s scanner) (*model.Request, error) {
	var r model.Request
	err := s.Scan(&r.ID, &r.Side, &r.WalletID, &r.UserID, &r.Currency, &r.Amount, &r.AmountRemaining,
		&r.IsFullyMatched, &r.IsCompleted, &r.OptedIn, &r.OptedInAt, &r.MergeCycleID, &r.CreatedAt,
		&r.MatchedAt, &r.IsPriority, &r.PriorityTimestamp, &r.FailedMatchCount, &r.IsDefaulted)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *requestRepository) Create(ctx context.Context, req *model.Request) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO transfer_requests (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`, req.ID, req.Side, req.WalletID, req.UserID, req.Currency, req.Amount, req.AmountRemaining,
		req.IsFullyMatched, req.IsCompleted, req.OptedIn, req.OptedInAt, req.MergeCycleID, req.CreatedAt,
		req.MatchedAt, req.IsPriority, req.PriorityTimestamp, req.FailedMatchCount, req.IsDefaulted)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return nil
}

func (r *requestRepository) get(ctx context.Context, id uuid.UUID, lock string) (*model.Request, error) {
	req, err := scanRequest(r.q.QueryRowContext(ctx, `
		SELECT `+requestColumns+` FROM transfer_requests WHERE id = $1 `+lock, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	return req, nil
}

func (r *requestRepository) Get(ctx context.Context, id uuid.UUID) (*model.Request, error) {
	return r.get(ctx, id, "")
}

func (r *requestRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Request, error) {
	return r.get(ctx, id, "FOR UPDATE")
}

func (r *requestRepository) Update(ctx context.Context, req *model.Request) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE transfer_requests SET
			amount_remaining = $2,
			is_fully_matched = $3,
			is_completed = $4,
			opted_in = $5,
			opted_in_at = $6,
			merge_cycle_id = $7,
			matched_at = $8,
			is_priority = $9,
			priority_timestamp = $10,
			failed_match_count = $11,
			is_defaulted = $12
		WHERE id = $1
	`, req.ID, req.AmountRemaining, req.IsFullyMatched, req.IsCompleted, req.OptedIn, req.OptedInAt,
		req.MergeCycleID, req.MatchedAt, req.IsPriority, req.PriorityTimestamp, req.FailedMatchCount, req.IsDefaulted)
	if err != nil {
		return fmt.Errorf("failed to update request: %w", err)
	}
	return nil
}

func (r *requestRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM transfer_requests WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete request: %w", err)
	}
	return nil
}

func (r *requestRepository) list(ctx context.Context, query string, args ...any) ([]model.Request, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	defer rows.Close()

	var out []model.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

func (r *requestRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Request, error) {
	return r.list(ctx, `
		SELECT `+requestColumns+` FROM transfer_requests
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
}

func (r *requestRepository) HasOpenForUser(ctx context.Context, userID uuid.UUID) (bool, error) {
	var exists bool
	err := r.q.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM transfer_requests WHERE user_id = $1 AND NOT is_completed AND NOT is_defaulted)
	`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check open requests: %w", err)
	}
	return exists, nil
}

func (r *requestRepository) ListOutstanding(ctx context.Context, side model.Side, currency string, createdBefore time.Time) ([]model.Request, error) {
	return r.list(ctx, `
		SELECT `+requestColumns+` FROM transfer_requests
		WHERE side = $1 AND currency = $2 AND created_at < $3
		  AND NOT is_completed AND NOT is_defaulted AND amount_remaining > 0
		  AND NOT EXISTS (
		      SELECT 1 FROM wallets w WHERE w.id = transfer_requests.wallet_id AND w.is_blocked
		  )
		ORDER BY created_at, id
		FOR UPDATE
	`, side, currency, createdBefore)
}

func (r *requestRepository) ListUnmatched(ctx context.Context, currency string) ([]model.Request, error) {
	return r.list(ctx, `
		SELECT `+requestColumns+` FROM transfer_requests
		WHERE currency = $1 AND NOT is_fully_matched AND NOT is_completed AND NOT is_defaulted
		ORDER BY created_at, id
	`, currency)
}
