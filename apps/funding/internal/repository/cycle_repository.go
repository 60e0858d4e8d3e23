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

const cycleColumns = `id, scheduled_time, cutoff_time, join_window_closes, status,
	total_funding_requests, total_withdrawal_requests, matched_pairs, unmatched_funding,
	unmatched_withdrawal, admin_funded, admin_withdrew, started_at, completed_at, created_at`

type cycleRepository struct {
	q querier
}

func scanCycle(s scanner) (*model.MergeCycle, error) {
	var c model.MergeCycle
	err := s.Scan(&c.ID, &c.ScheduledTime, &c.CutoffTime, &c.JoinWindowCloses, &c.Status,
		&c.TotalFundingRequests, &c.TotalWithdrawalRequests, &c.MatchedPairs, &c.UnmatchedFunding,
		&c.UnmatchedWithdrawal, &c.AdminFunded, &c.AdminWithdrew, &c.StartedAt, &c.CompletedAt, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *cycleRepository) Create(ctx context.Context, c *model.MergeCycle) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO merge_cycles (id, scheduled_time, cutoff_time, join_window_closes, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (scheduled_time) DO NOTHING
	`, c.ID, c.ScheduledTime, c.CutoffTime, c.JoinWindowCloses, c.Status, c.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to create merge cycle: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

func (r *cycleRepository) Get(ctx context.Context, id uuid.UUID) (*model.MergeCycle, error) {
	c, err := scanCycle(r.q.QueryRowContext(ctx, `SELECT `+cycleColumns+` FROM merge_cycles WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get merge cycle: %w", err)
	}
	return c, nil
}

func (r *cycleRepository) Claim(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE merge_cycles SET status = 'processing', started_at = $2
		WHERE id = $1 AND status = 'pending'
	`, id, now)
	if err != nil {
		return false, fmt.Errorf("failed to claim merge cycle: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

func (r *cycleRepository) AddCounters(ctx context.Context, id uuid.UUID, c model.CycleCounters) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE merge_cycles SET
			total_funding_requests = total_funding_requests + $2,
			total_withdrawal_requests = total_withdrawal_requests + $3,
			matched_pairs = matched_pairs + $4,
			unmatched_funding = unmatched_funding + $5,
			unmatched_withdrawal = unmatched_withdrawal + $6,
			admin_funded = admin_funded + $7,
			admin_withdrew = admin_withdrew + $8
		WHERE id = $1 AND status = 'processing'
	`, id, c.TotalFundingRequests, c.TotalWithdrawalRequests, c.MatchedPairs, c.UnmatchedFunding,
		c.UnmatchedWithdrawal, c.AdminFunded, c.AdminWithdrew)
	if err != nil {
		return fmt.Errorf("failed to update merge cycle counters: %w", err)
	}
	return nil
}

func (r *cycleRepository) Finish(ctx context.Context, id uuid.UUID, status model.CycleStatus, now time.Time) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE merge_cycles SET status = $2, completed_at = $3
		WHERE id = $1 AND status = 'processing'
	`, id, status, now)
	if err != nil {
		return fmt.Errorf("failed to finish merge cycle: %w", err)
	}
	return nil
}

func (r *cycleRepository) list(ctx context.Context, query string, args ...any) ([]model.MergeCycle, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list merge cycles: %w", err)
	}
	defer rows.Close()

	var out []model.MergeCycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan merge cycle: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *cycleRepository) ListDue(ctx context.Context, now time.Time, afterJoinWindow bool) ([]model.MergeCycle, error) {
	return r.list(ctx, `
		SELECT `+cycleColumns+` FROM merge_cycles
		WHERE status = 'pending'
		  AND CASE WHEN $2 THEN join_window_closes ELSE scheduled_time END <= $1
		ORDER BY scheduled_time
	`, now, afterJoinWindow)
}

func (r *cycleRepository) NextPending(ctx context.Context, now time.Time) (*model.MergeCycle, error) {
	c, err := scanCycle(r.q.QueryRowContext(ctx, `
		SELECT `+cycleColumns+` FROM merge_cycles
		WHERE status = 'pending' AND scheduled_time >= $1
		ORDER BY scheduled_time
		LIMIT 1
	`, now))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get next merge cycle: %w", err)
	}
	return c, nil
}

func (r *cycleRepository) ListRecent(ctx context.Context, limit int) ([]model.MergeCycle, error) {
	return r.list(ctx, `
		SELECT `+cycleColumns+` FROM merge_cycles
		WHERE status <> 'pending'
		ORDER BY scheduled_time DESC
		LIMIT $1
	`, limit)
}
