package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"aside/apps/funding/internal/model"

	"github.com/google/uuid"
)

// Lookups return (nil, nil) when the row does not exist. ForUpdate variants take a
// row lock that is held until the surrounding transaction ends.

type RequestRepository interface {
	Create(ctx context.Context, r *model.Request) error
	Get(ctx context.Context, id uuid.UUID) (*model.Request, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Request, error)
	Update(ctx context.Context, r *model.Request) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Request, error)
	// HasOpenForUser reports whether the user has any request, on either side, that is
	// neither completed nor defaulted.
	HasOpenForUser(ctx context.Context, userID uuid.UUID) (bool, error)
	// ListOutstanding locks and returns not-completed, not-defaulted requests with a
	// positive remaining amount, created before the given instant, oldest first. Requests
	// whose wallet is blocked are left out.
	ListOutstanding(ctx context.Context, side model.Side, currency string, createdBefore time.Time) ([]model.Request, error)
	// ListUnmatched returns not fully matched, not completed requests of a currency
	// without locking them, oldest first.
	ListUnmatched(ctx context.Context, currency string) ([]model.Request, error)
}

type PairRepository interface {
	Create(ctx context.Context, p *model.MatchPair) error
	Get(ctx context.Context, id uuid.UUID) (*model.MatchPair, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*model.MatchPair, error)
	Update(ctx context.Context, p *model.MatchPair) error
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]model.MatchPair, error)
	// ListActiveByUser returns pairs still awaiting proof or confirmation in which the user is either side.
	ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]model.MatchPair, error)
	ListExpiredProof(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	ListExpiredConfirmation(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	ListDisputed(ctx context.Context) ([]model.MatchPair, error)
}

type CycleRepository interface {
	// Create inserts a pending cycle unless one already exists for the same scheduled time.
	Create(ctx context.Context, c *model.MergeCycle) (bool, error)
	Get(ctx context.Context, id uuid.UUID) (*model.MergeCycle, error)
	// Claim moves a pending cycle to processing. It returns false when another worker got there first.
	Claim(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	AddCounters(ctx context.Context, id uuid.UUID, c model.CycleCounters) error
	Finish(ctx context.Context, id uuid.UUID, status model.CycleStatus, now time.Time) error
	// ListDue returns pending cycles whose due instant is at or before now. The due instant
	// is the join window close when afterJoinWindow is set, the scheduled time otherwise.
	ListDue(ctx context.Context, now time.Time, afterJoinWindow bool) ([]model.MergeCycle, error)
	NextPending(ctx context.Context, now time.Time) (*model.MergeCycle, error)
	ListRecent(ctx context.Context, limit int) ([]model.MergeCycle, error)
}

type WalletRepository interface {
	Create(ctx context.Context, w *model.Wallet) error
	Get(ctx context.Context, id uuid.UUID) (*model.Wallet, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Wallet, error)
	GetByUserCurrency(ctx context.Context, userID uuid.UUID, currency string) (*model.Wallet, error)
	Update(ctx context.Context, w *model.Wallet) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Wallet, error)
	ListBlocked(ctx context.Context) ([]model.Wallet, error)
	AppendLog(ctx context.Context, c *model.BalanceChange) error
	ListLogs(ctx context.Context, walletID uuid.UUID) ([]model.BalanceChange, error)
}

type PoolRepository interface {
	// GetForUpdate locks the pool row of a currency, creating an empty one if needed.
	GetForUpdate(ctx context.Context, currency string) (*model.AdminWallet, error)
	Update(ctx context.Context, w *model.AdminWallet) error
	List(ctx context.Context) ([]model.AdminWallet, error)
}

// OutboxWriter appends events in the same transaction as the state change they describe.
type OutboxWriter interface {
	Append(ctx context.Context, e *model.OutboxEvent) error
}

// Repositories is the set of repositories bound to one transaction.
type Repositories struct {
	Requests RequestRepository
	Pairs    PairRepository
	Cycles   CycleRepository
	Wallets  WalletRepository
	Pool     PoolRepository
	Outbox   OutboxWriter
}

// Store runs units of work. InTx commits when fn returns nil and rolls everything
// back otherwise. View is read only.
type Store interface {
	InTx(ctx context.Context, fn func(Repositories) error) error
	View(ctx context.Context, fn func(Repositories) error) error
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// prefixed qualifies every column of a comma separated list with a table alias.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, c := range parts {
		parts[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(parts, ", ")
}
