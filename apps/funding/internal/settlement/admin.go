package settlement

import (
	"context"

	"aside/apps/funding/internal/apperr"
	"aside/apps/funding/internal/events"
	"aside/apps/funding/internal/model"
	"aside/apps/funding/internal/pool"
	"aside/apps/funding/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const OriginManual = "manual"

type ManualMatchInput struct {
	FundingRequestID    uuid.UUID       `json:"funding_request_id"`
	WithdrawalRequestID uuid.UUID       `json:"withdrawal_request_id"`
	Amount              decimal.Decimal `json:"amount"`
}

// ManualMatch pairs two requests chosen by an administrator. The pair belongs to the
// next pending cycle and follows the normal settlement protocol from there.
func (s *Service) ManualMatch(ctx context.Context, in ManualMatchInput) (*model.MatchPair, error) {
	if !in.Amount.IsPositive() {
		return nil, apperr.Validation("invalid_amount", "amount must be positive")
	}
	now := s.clock.Now()
	var pair *model.MatchPair
	err := s.store.InTx(ctx, func(r repository.Repositories) error {
		funding, err := r.Requests.GetForUpdate(ctx, in.FundingRequestID)
		if err != nil {
			return err
		}
		withdrawal, err := r.Requests.GetForUpdate(ctx, in.WithdrawalRequestID)
		if err != nil {
			return err
		}
		if funding == nil || withdrawal == nil {
			return apperr.NotFound("request_not_found", "funding or withdrawal request not found")
		}
		if funding.Side != model.SideFunding || withdrawal.Side != model.SideWithdrawal {
			return apperr.Validation("wrong_side", "expected one funding and one withdrawal request")
		}
		if funding.Currency != withdrawal.Currency {
			return apperr.Validation("currency_mismatch", "requests are in different currencies")
		}
		if !funding.Outstanding() || !withdrawal.Outstanding() {
			return apperr.Conflict("request_not_open", "both requests must still have an amount to match")
		}
		for _, walletID := range []uuid.UUID{funding.WalletID, withdrawal.WalletID} {
			w, err := r.Wallets.Get(ctx, walletID)
			if err != nil {
				return err
			}
			if w != nil && w.IsBlocked {
				return apperr.Conflict("wallet_blocked", "one of the wallets is blocked: "+w.BlockReason)
			}
		}
		if in.Amount.GreaterThan(funding.AmountRemaining) || in.Amount.GreaterThan(withdrawal.AmountRemaining) {
			return apperr.Validation("amount_exceeds_remaining", "amount exceeds what is left on one of the requests")
		}
		cycle, err := r.Cycles.NextPending(ctx, now)
		if err != nil {
			return err
		}
		if cycle == nil {
			return apperr.Conflict("no_pending_cycle", "no merge cycle available")
		}

		pair = &model.MatchPair{
			ID:                  uuid.New(),
			FundingRequestID:    funding.ID,
			WithdrawalRequestID: withdrawal.ID,
			MergeCycleID:        cycle.ID,
			Currency:            funding.Currency,
			Amount:              in.Amount,
			ProofDeadline:       now.Add(s.opts.ProofDeadline),
			CreatedAt:           now,
		}
		if err := r.Pairs.Create(ctx, pair); err != nil {
			return err
		}
		ref := uuid.NullUUID{UUID: cycle.ID, Valid: true}
		for _, req := range []*model.Request{funding, withdrawal} {
			req.Consume(in.Amount, ref, now)
			if err := r.Requests.Update(ctx, req); err != nil {
				return err
			}
		}
		return events.RecordPair(ctx, r.Outbox, events.PairCreated, pair, OriginManual, now)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.PairsCreated(OriginManual, 1)
	s.logger.Info("Manual match created",
		zap.String("pair_id", pair.ID.String()),
		zap.String("amount", pair.Amount.String()))
	return pair, nil
}

// PoolMatch settles one request against the admin liquidity pool immediately.
func (s *Service) PoolMatch(ctx context.Context, requestID uuid.UUID) (*pool.Result, error) {
	now := s.clock.Now()
	var res *pool.Result
	err := s.store.InTx(ctx, func(r repository.Repositories) error {
		req, err := r.Requests.GetForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if req == nil {
			return apperr.NotFound("request_not_found", "request not found")
		}
		res, err = s.pool.Settle(ctx, r, req, uuid.NullUUID{}, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) ListDisputes(ctx context.Context) ([]model.MatchPair, error) {
	var out []model.MatchPair
	err := s.store.View(ctx, func(r repository.Repositories) error {
		var err error
		out, err = r.Pairs.ListDisputed(ctx)
		return err
	})
	return out, err
}

// ResolveDispute closes a disputed pair. Confirm settles it as if the withdrawer had
// confirmed; void gives the amount back to both requests so they match again.
func (s *Service) ResolveDispute(ctx context.Context, pairID uuid.UUID, resolution string) (*model.MatchPair, error) {
	if resolution != model.DisputeResolutionConfirm && resolution != model.DisputeResolutionVoid {
		return nil, apperr.Validation("invalid_resolution", "resolution must be confirm or void")
	}
	now := s.clock.Now()
	var pair *model.MatchPair
	err := s.store.InTx(ctx, func(r repository.Repositories) error {
		p, err := load(ctx, r, pairID, true)
		if err != nil {
			return err
		}
		if !p.pair.InDispute {
			return apperr.Conflict("not_in_dispute", "this match is not in dispute")
		}
		p.pair.InDispute = false
		p.pair.DisputeResolution = resolution
		p.pair.DisputeResolvedAt = &now

		if resolution == model.DisputeResolutionConfirm {
			if err := s.settle(ctx, r, p, now); err != nil {
				return err
			}
		} else {
			if err := r.Pairs.Update(ctx, p.pair); err != nil {
				return err
			}
			for _, req := range []*model.Request{p.funding, p.withdrawal} {
				req.Restore(p.pair.Amount)
				req.IsCompleted = false
				if err := r.Requests.Update(ctx, req); err != nil {
					return err
				}
			}
		}
		pair = p.pair
		return events.RecordPair(ctx, r.Outbox, events.DisputeResolved, p.pair, resolution, now)
	})
	if err != nil {
		return nil, err
	}
	if resolution == model.DisputeResolutionConfirm {
		s.afterSettle(ctx, pair, now)
	}
	s.logger.Info("Dispute resolved",
		zap.String("pair_id", pair.ID.String()),
		zap.String("resolution", resolution))
	return pair, nil
}

