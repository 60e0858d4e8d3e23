package repository

import (
	"context"
	"fmt"

	"aside/apps/funding/internal/model"

	"github.com/google/uuid"
)

type poolRepository struct {
	q querier
}

func (r *poolRepository) GetForUpdate(ctx context.Context, currency string) (*model.AdminWallet, error) {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO admin_wallets (id, currency) VALUES ($1, $2)
		ON CONFLICT (currency) DO NOTHING
	`, uuid.New(), currency)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure admin wallet: %w", err)
	}

	var w model.AdminWallet
	err = r.q.QueryRowContext(ctx, `
		SELECT id, currency, balance, total_funded, total_received, updated_at
		FROM admin_wallets WHERE currency = $1
		FOR UPDATE
	`, currency).Scan(&w.ID, &w.Currency, &w.Balance, &w.TotalFunded, &w.TotalReceived, &w.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to lock admin wallet: %w", err)
	}
	return &w, nil
}

func (r *poolRepository) Update(ctx context.Context, w *model.AdminWallet) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE admin_wallets SET balance = $2, total_funded = $3, total_received = $4, updated_at = $5
		WHERE id = $1
	`, w.ID, w.Balance, w.TotalFunded, w.TotalReceived, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update admin wallet: %w", err)
	}
	return nil
}

func (r *poolRepository) List(ctx context.Context) ([]model.AdminWallet, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, currency, balance, total_funded, total_received, updated_at
		FROM admin_wallets ORDER BY currency
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list admin wallets: %w", err)
	}
	defer rows.Close()

	var out []model.AdminWallet
	for rows.Next() {
		var w model.AdminWallet
		if err := rows.Scan(&w.ID, &w.Currency, &w.Balance, &w.TotalFunded, &w.TotalReceived, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan admin wallet: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
