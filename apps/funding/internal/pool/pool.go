// Package pool settles requests against the per-currency admin liquidity pool.
// Every operation runs inside the caller's transaction and locks the pool row first,
// so concurrent manual and automatic matches cannot double-spend it.
package pool

import (
	"context"
	"fmt"
	"time"

	"aside/apps/funding/internal/apperr"
	"aside/apps/funding/internal/events"
	"aside/apps/funding/internal/metrics"
	"aside/apps/funding/internal/model"
	"aside/apps/funding/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DirectionAbsorb = "absorb"
	DirectionPayout = "payout"
)

type Pool struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func New(logger *zap.Logger, m *metrics.Metrics) *Pool {
	return &Pool{logger: logger, metrics: m}
}

// Result describes one pool settlement.
type Result struct {
	RequestID     uuid.UUID       `json:"request_id"`
	Side          model.Side      `json:"side"`
	Amount        decimal.Decimal `json:"amount"`
	PoolBalance   decimal.Decimal `json:"admin_wallet_new_balance"`
	WalletBalance decimal.Decimal `json:"user_wallet_new_balance"`
}

// Settle absorbs a funding request or pays out a withdrawal request, whichever side req is.
func (p *Pool) Settle(ctx context.Context, r repository.Repositories, req *model.Request, cycleID uuid.NullUUID, now time.Time) (*Result, error) {
	if req.Side == model.SideFunding {
		return p.Absorb(ctx, r, req, cycleID, now)
	}
	return p.PayOut(ctx, r, req, cycleID, now)
}

// Absorb takes the whole remaining amount of a funding request into the pool and
// credits the funder at once. The pool accepts any amount but never credits a blocked wallet.
func (p *Pool) Absorb(ctx context.Context, r repository.Repositories, req *model.Request, cycleID uuid.NullUUID, now time.Time) (*Result, error) {
	if req.Side != model.SideFunding {
		return nil, apperr.Validation("wrong_side", "only funding requests can be absorbed by the pool")
	}
	if !req.Outstanding() {
		return nil, apperr.Conflict("nothing_to_settle", "request has no remaining amount")
	}
	amount := req.AmountRemaining

	pool, err := r.Pool.GetForUpdate(ctx, req.Currency)
	if err != nil {
		return nil, err
	}
	wallet, err := lockWallet(ctx, r, req.WalletID)
	if err != nil {
		return nil, err
	}
	if wallet.IsBlocked {
		return nil, blockedError(wallet)
	}

	pool.Balance = pool.Balance.Add(amount)
	pool.TotalReceived = pool.TotalReceived.Add(amount)
	pool.UpdatedAt = now
	if err := r.Pool.Update(ctx, pool); err != nil {
		return nil, err
	}

	wallet.Balance = wallet.Balance.Add(amount)
	wallet.TotalDeposited = wallet.TotalDeposited.Add(amount)
	if err := r.Wallets.Update(ctx, wallet); err != nil {
		return nil, err
	}
	if err := r.Wallets.AppendLog(ctx, &model.BalanceChange{
		ID:           uuid.New(),
		WalletID:     wallet.ID,
		Type:         model.BalanceDeposit,
		Amount:       amount,
		BalanceAfter: wallet.Balance,
		Description:  "P2P funding (admin pool)",
		CreatedAt:    now,
	}); err != nil {
		return nil, err
	}

	if err := p.finish(ctx, r, req, amount, pool, cycleID, events.PoolAbsorbed, now); err != nil {
		return nil, err
	}
	p.metrics.PoolOperation(DirectionAbsorb)
	p.logger.Info("Pool absorbed funding request",
		zap.String("request_id", req.ID.String()),
		zap.String("currency", req.Currency),
		zap.String("amount", amount.String()))
	return &Result{RequestID: req.ID, Side: req.Side, Amount: amount, PoolBalance: pool.Balance, WalletBalance: wallet.Balance}, nil
}

// PayOut funds the whole remaining amount of a withdrawal request from the pool. It is
// rejected when the pool or the withdrawer's wallet cannot cover it, or the wallet is blocked.
func (p *Pool) PayOut(ctx context.Context, r repository.Repositories, req *model.Request, cycleID uuid.NullUUID, now time.Time) (*Result, error) {
	if req.Side != model.SideWithdrawal {
		return nil, apperr.Validation("wrong_side", "only withdrawal requests can be paid out by the pool")
	}
	if !req.Outstanding() {
		return nil, apperr.Conflict("nothing_to_settle", "request has no remaining amount")
	}
	amount := req.AmountRemaining

	pool, err := r.Pool.GetForUpdate(ctx, req.Currency)
	if err != nil {
		return nil, err
	}
	if pool.Balance.LessThan(amount) {
		return nil, apperr.Conflict("pool_insufficient",
			fmt.Sprintf("insufficient admin wallet balance: available %s, required %s", pool.Balance, amount))
	}
	wallet, err := lockWallet(ctx, r, req.WalletID)
	if err != nil {
		return nil, err
	}
	if wallet.IsBlocked {
		return nil, blockedError(wallet)
	}
	if wallet.Balance.LessThan(amount) {
		return nil, apperr.Conflict("insufficient_balance",
			fmt.Sprintf("withdrawer balance %s does not cover %s", wallet.Balance, amount))
	}

	pool.Balance = pool.Balance.Sub(amount)
	pool.TotalFunded = pool.TotalFunded.Add(amount)
	pool.UpdatedAt = now
	if err := r.Pool.Update(ctx, pool); err != nil {
		return nil, err
	}

	wallet.Balance = wallet.Balance.Sub(amount)
	if err := r.Wallets.Update(ctx, wallet); err != nil {
		return nil, err
	}
	if err := r.Wallets.AppendLog(ctx, &model.BalanceChange{
		ID:           uuid.New(),
		WalletID:     wallet.ID,
		Type:         model.BalanceWithdrawal,
		Amount:       amount,
		BalanceAfter: wallet.Balance,
		Description:  "P2P withdrawal (admin pool)",
		CreatedAt:    now,
	}); err != nil {
		return nil, err
	}

	if err := p.finish(ctx, r, req, amount, pool, cycleID, events.PoolPaidOut, now); err != nil {
		return nil, err
	}
	p.metrics.PoolOperation(DirectionPayout)
	p.logger.Info("Pool paid out withdrawal request",
		zap.String("request_id", req.ID.String()),
		zap.String("currency", req.Currency),
		zap.String("amount", amount.String()))
	return &Result{RequestID: req.ID, Side: req.Side, Amount: amount, PoolBalance: pool.Balance, WalletBalance: wallet.Balance}, nil
}

func (p *Pool) finish(ctx context.Context, r repository.Repositories, req *model.Request, amount decimal.Decimal,
	pool *model.AdminWallet, cycleID uuid.NullUUID, eventType string, now time.Time) error {
	req.Consume(amount, cycleID, now)
	pairs, err := r.Pairs.ListByRequest(ctx, req.ID)
	if err != nil {
		return err
	}
	req.IsCompleted = req.Settled(pairs)
	if err := r.Requests.Update(ctx, req); err != nil {
		return err
	}

	data := events.PoolData{
		RequestID:   req.ID,
		Side:        req.Side,
		Currency:    req.Currency,
		Amount:      amount,
		PoolBalance: pool.Balance,
	}
	if cycleID.Valid {
		data.CycleID = &cycleID.UUID
	}
	return events.Record(ctx, r.Outbox, eventType, events.AggregateRequest, req.ID, data, now)
}

func blockedError(w *model.Wallet) error {
	return apperr.Conflict("wallet_blocked", fmt.Sprintf("wallet %s is blocked: %s", w.ID, w.BlockReason))
}

func lockWallet(ctx context.Context, r repository.Repositories, id uuid.UUID) (*model.Wallet, error) {
	wallet, err := r.Wallets.GetForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, apperr.NotFound("wallet_not_found", "wallet not found")
	}
	return wallet, nil
}
