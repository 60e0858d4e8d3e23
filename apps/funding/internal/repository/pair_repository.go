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

const pairColumns = `id, funding_request_id, withdrawal_request_id, merge_cycle_id, currency, amount,
	proof_uploaded, proof_url, proof_uploaded_at, proof_confirmed, proof_confirmed_at, completed_at,
	proof_deadline, confirmation_deadline, extension_requested, extension_granted, extended_deadline,
	funder_missed_deadline, withdrawer_missed_deadline, in_dispute, dispute_reason, dispute_resolution,
	dispute_resolved_at, created_at`

type pairRepository struct {
	q querier
}

func scanPair(s scanner) (*model.MatchPair, error) {
	var p model.MatchPair
	err := s.Scan(&p.ID, &p.FundingRequestID, &p.WithdrawalRequestID, &p.MergeCycleID, &p.Currency, &p.Amount,
		&p.ProofUploaded, &p.ProofURL, &p.ProofUploadedAt, &p.ProofConfirmed, &p.ProofConfirmedAt, &p.CompletedAt,
		&p.ProofDeadline, &p.ConfirmationDeadline, &p.ExtensionRequested, &p.ExtensionGranted, &p.ExtendedDeadline,
		&p.FunderMissedDeadline, &p.WithdrawerMissedDeadline, &p.InDispute, &p.DisputeReason, &p.DisputeResolution,
		&p.DisputeResolvedAt, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *pairRepository) Create(ctx context.Context, p *model.MatchPair) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO match_pairs (`+pairColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
	`, p.ID, p.FundingRequestID, p.WithdrawalRequestID, p.MergeCycleID, p.Currency, p.Amount,
		p.ProofUploaded, p.ProofURL, p.ProofUploadedAt, p.ProofConfirmed, p.ProofConfirmedAt, p.CompletedAt,
		p.ProofDeadline, p.ConfirmationDeadline, p.ExtensionRequested, p.ExtensionGranted, p.ExtendedDeadline,
		p.FunderMissedDeadline, p.WithdrawerMissedDeadline, p.InDispute, p.DisputeReason, p.DisputeResolution,
		p.DisputeResolvedAt, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create match pair: %w", err)
	}
	return nil
}

func (r *pairRepository) get(ctx context.Context, id uuid.UUID, lock string) (*model.MatchPair, error) {
	p, err := scanPair(r.q.QueryRowContext(ctx, `SELECT `+pairColumns+` FROM match_pairs WHERE id = $1 `+lock, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get match pair: %w", err)
	}
	return p, nil
}

func (r *pairRepository) Get(ctx context.Context, id uuid.UUID) (*model.MatchPair, error) {
	return r.get(ctx, id, "")
}

func (r *pairRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.MatchPair, error) {
	return r.get(ctx, id, "FOR UPDATE")
}

func (r *pairRepository) Update(ctx context.Context, p *model.MatchPair) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE match_pairs SET
			proof_uploaded = $2,
			proof_url = $3,
			proof_uploaded_at = $4,
			proof_confirmed = $5,
			proof_confirmed_at = $6,
			completed_at = $7,
			confirmation_deadline = $8,
			extension_requested = $9,
			extension_granted = $10,
			extended_deadline = $11,
			funder_missed_deadline = $12,
			withdrawer_missed_deadline = $13,
			in_dispute = $14,
			dispute_reason = $15,
			dispute_resolution = $16,
			dispute_resolved_at = $17
		WHERE id = $1
	`, p.ID, p.ProofUploaded, p.ProofURL, p.ProofUploadedAt, p.ProofConfirmed, p.ProofConfirmedAt, p.CompletedAt,
		p.ConfirmationDeadline, p.ExtensionRequested, p.ExtensionGranted, p.ExtendedDeadline,
		p.FunderMissedDeadline, p.WithdrawerMissedDeadline, p.InDispute, p.DisputeReason, p.DisputeResolution,
		p.DisputeResolvedAt)
	if err != nil {
		return fmt.Errorf("failed to update match pair: %w", err)
	}
	return nil
}

func (r *pairRepository) list(ctx context.Context, query string, args ...any) ([]model.MatchPair, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list match pairs: %w", err)
	}
	defer rows.Close()

	var out []model.MatchPair
	for rows.Next() {
		p, err := scanPair(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match pair: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r *pairRepository) ids(ctx context.Context, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list match pair ids: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan match pair id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *pairRepository) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]model.MatchPair, error) {
	return r.list(ctx, `
		SELECT `+pairColumns+` FROM match_pairs
		WHERE funding_request_id = $1 OR withdrawal_request_id = $1
		ORDER BY seq
	`, requestID)
}

func (r *pairRepository) ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]model.MatchPair, error) {
	return r.list(ctx, `
		SELECT `+prefixed("p", pairColumns)+` FROM match_pairs p
		JOIN transfer_requests f ON f.id = p.funding_request_id
		JOIN transfer_requests w ON w.id = p.withdrawal_request_id
		WHERE (f.user_id = $1 OR w.user_id = $1)
		  AND NOT p.proof_confirmed
		  AND NOT p.funder_missed_deadline
		  AND NOT p.withdrawer_missed_deadline
		  AND p.dispute_resolution = ''
		ORDER BY p.seq
	`, userID)
}

func (r *pairRepository) ListExpiredProof(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	return r.ids(ctx, `
		SELECT id FROM match_pairs
		WHERE NOT proof_uploaded
		  AND NOT funder_missed_deadline
		  AND NOT withdrawer_missed_deadline
		  AND dispute_resolution = ''
		  AND CASE WHEN extension_granted AND extended_deadline IS NOT NULL
		           THEN extended_deadline ELSE proof_deadline END < $1
		ORDER BY proof_deadline, id
	`, now)
}

func (r *pairRepository) ListExpiredConfirmation(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	return r.ids(ctx, `
		SELECT id FROM match_pairs
		WHERE proof_uploaded
		  AND NOT proof_confirmed
		  AND NOT funder_missed_deadline
		  AND NOT withdrawer_missed_deadline
		  AND dispute_resolution = ''
		  AND confirmation_deadline < $1
		ORDER BY confirmation_deadline, id
	`, now)
}

func (r *pairRepository) ListDisputed(ctx context.Context) ([]model.MatchPair, error) {
	return r.list(ctx, `
		SELECT `+pairColumns+` FROM match_pairs
		WHERE in_dispute
		ORDER BY seq
	`)
}
