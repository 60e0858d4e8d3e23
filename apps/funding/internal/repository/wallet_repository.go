package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"aside/apps/funding/internal/model"

	"github.com/google/uuid"
)

const walletColumns = `id, user_id, currency, balance, total_deposited, is_blocked, block_reason,
	bank_details_id, wallet_address, created_at`

type walletRepository struct {
	q querier
}

func scanWallet(s scanner) (*model.Wallet, error) {
	var w model.Wallet
	err := s.Scan(&w.ID, &w.UserID, &w.Currency, &w.Balance, &w.TotalDeposited, &w.IsBlocked, &w.BlockReason,
		&w.BankDetailsID, &w.WalletAddress, &w.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *walletRepository) Create(ctx context.Context, w *model.Wallet) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO wallets (`+walletColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, w.ID, w.UserID, w.Currency, w.Balance, w.TotalDeposited, w.IsBlocked, w.BlockReason,
		w.BankDetailsID, w.WalletAddress, w.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create wallet: %w", err)
	}
	return nil
}

func (r *walletRepository) one(ctx context.Context, query string, args ...any) (*model.Wallet, error) {
	w, err := scanWallet(r.q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return w, nil
}

func (r *walletRepository) Get(ctx context.Context, id uuid.UUID) (*model.Wallet, error) {
	return r.one(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, id)
}

func (r *walletRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Wallet, error) {
	return r.one(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE`, id)
}

func (r *walletRepository) GetByUserCurrency(ctx context.Context, userID uuid.UUID, currency string) (*model.Wallet, error) {
	return r.one(ctx, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1 AND currency = $2`, userID, currency)
}

func (r *walletRepository) Update(ctx context.Context, w *model.Wallet) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE wallets SET balance = $2, total_deposited = $3, is_blocked = $4, block_reason = $5
		WHERE id = $1
	`, w.ID, w.Balance, w.TotalDeposited, w.IsBlocked, w.BlockReason)
	if err != nil {
		return fmt.Errorf("failed to update wallet: %w", err)
	}
	return nil
}

func (r *walletRepository) list(ctx context.Context, query string, args ...any) ([]model.Wallet, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	defer rows.Close()

	var out []model.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wallet: %w", err)
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

func (r *walletRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Wallet, error) {
	return r.list(ctx, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1 ORDER BY currency`, userID)
}

func (r *walletRepository) ListBlocked(ctx context.Context) ([]model.Wallet, error) {
	return r.list(ctx, `SELECT `+walletColumns+` FROM wallets WHERE is_blocked ORDER BY user_id, currency`)
}

func (r *walletRepository) AppendLog(ctx context.Context, c *model.BalanceChange) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO wallet_logs (id, wallet_id, type, amount, balance_after, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, c.ID, c.WalletID, c.Type, c.Amount, c.BalanceAfter, c.Description, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append wallet log: %w", err)
	}
	return nil
}

func (r *walletRepository) ListLogs(ctx context.Context, walletID uuid.UUID) ([]model.BalanceChange, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, wallet_id, type, amount, balance_after, description, created_at
		FROM wallet_logs WHERE wallet_id = $1
		ORDER BY created_at, id
	`, walletID)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallet logs: %w", err)
	}
	defer rows.Close()

	var out []model.BalanceChange
	for rows.Next() {
		var c model.BalanceChange
		if err := rows.Scan(&c.ID, &c.WalletID, &c.Type, &c.Amount, &c.BalanceAfter, &c.Description, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan wallet log: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
