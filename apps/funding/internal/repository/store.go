package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

type PostgresStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresStore(db *sql.DB, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

func (s *PostgresStore) bind(q querier) Repositories {
	return Repositories{
		Requests: &requestRepository{q: q},
		Pairs:    &pairRepository{q: q},
		Cycles:   &cycleRepository{q: q},
		Wallets:  &walletRepository{q: q},
		Pool:     &poolRepository{q: q},
		Outbox:   &outboxWriter{q: q},
	}
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(Repositories) error) error {
	return s.run(ctx, nil, fn)
}

func (s *PostgresStore) View(ctx context.Context, fn func(Repositories) error) error {
	return s.run(ctx, &sql.TxOptions{ReadOnly: true}, fn)
}

func (s *PostgresStore) run(ctx context.Context, opts *sql.TxOptions, fn func(Repositories) error) error {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op after commit

	if err := fn(s.bind(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
