package requests

import (
	"context"
	"fmt"
	"strings"
	"time"

	"aside/apps/funding/internal/apperr"
	"aside/apps/funding/internal/model"
	"aside/apps/funding/internal/repository"
	"aside/apps/funding/internal/schedule"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Options struct {
	MinAmount  decimal.Decimal
	MaxAmount  decimal.Decimal
	Currencies []string
}

// Service is the request ledger: users create, inspect, cancel and opt in requests here.
// Only the cycle orchestrator and the settlement machine change amounts afterwards.
type Service struct {
	store    repository.Store
	calendar *schedule.Calendar
	clock    schedule.Clock
	opts     Options
	logger   *zap.Logger
}

func NewService(store repository.Store, calendar *schedule.Calendar, clock schedule.Clock, opts Options, logger *zap.Logger) *Service {
	return &Service{store: store, calendar: calendar, clock: clock, opts: opts, logger: logger}
}

type CreateInput struct {
	UserID   uuid.UUID
	Side     model.Side
	Currency string
	Amount   decimal.Decimal
}

type Created struct {
	Request   model.Request   `json:"request"`
	NextMerge schedule.Window `json:"next_merge"`
}

func (s *Service) currency(raw string) (string, bool) {
	for _, c := range s.opts.Currencies {
		if strings.EqualFold(c, raw) {
			return c, true
		}
	}
	return "", false
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*Created, error) {
	if !in.Side.Valid() {
		return nil, apperr.Validation("invalid_side", "request side must be funding or withdrawal")
	}
	if in.Amount.LessThan(s.opts.MinAmount) {
		return nil, apperr.Validation("amount_below_minimum", fmt.Sprintf("minimum %s amount is %s", in.Side, s.opts.MinAmount))
	}
	if in.Amount.GreaterThan(s.opts.MaxAmount) {
		return nil, apperr.Validation("amount_above_maximum", fmt.Sprintf("maximum %s amount is %s", in.Side, s.opts.MaxAmount))
	}
	currency, ok := s.currency(in.Currency)
	if !ok {
		return nil, apperr.Validation("unsupported_currency", fmt.Sprintf("currency must be one of %s", strings.Join(s.opts.Currencies, ", ")))
	}

	now := s.clock.Now()
	var created model.Request
	err := s.store.InTx(ctx, func(r repository.Repositories) error {
		open, err := r.Requests.HasOpenForUser(ctx, in.UserID)
		if err != nil {
			return err
		}
		if open {
			return apperr.Conflict("pending_request_exists", "you already have a pending request; complete or cancel it before creating a new one")
		}

		wallet, err := r.Wallets.GetByUserCurrency(ctx, in.UserID, currency)
		if err != nil {
			return err
		}
		if wallet == nil {
			return apperr.NotFound("wallet_not_found", fmt.Sprintf("no %s wallet found", currency))
		}
		if wallet.IsBlocked {
			reason := wallet.BlockReason
			if reason == "" {
				reason = "contact support for more information"
			}
			return apperr.Blocked("wallet_blocked", "your account is blocked: "+reason)
		}
		if !PayoutConfigured(wallet) {
			return apperr.Validation("payout_destination_missing", payoutHint(currency))
		}
		if in.Side == model.SideWithdrawal && wallet.Balance.LessThan(in.Amount) {
			return apperr.Validation("insufficient_balance",
				fmt.Sprintf("insufficient balance: required %s, available %s", in.Amount, wallet.Balance))
		}

		created = model.Request{
			ID:              uuid.New(),
			Side:            in.Side,
			WalletID:        wallet.ID,
			UserID:          in.UserID,
			Currency:        currency,
			Amount:          in.Amount,
			AmountRemaining: in.Amount,
			CreatedAt:       now,
		}
		return r.Requests.Create(ctx, &created)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Created request",
		zap.String("request_id", created.ID.String()),
		zap.String("side", string(created.Side)),
		zap.String("currency", created.Currency),
		zap.String("amount", created.Amount.String()))
	return &Created{Request: created, NextMerge: s.calendar.Next(now)}, nil
}

// PayoutConfigured reports whether a wallet can receive a peer transfer: NAIRA wallets
// need bank details, USDT wallets a BEP20 address.
func PayoutConfigured(w *model.Wallet) bool {
	switch w.Currency {
	case "NAIRA":
		return w.BankDetailsID.Valid
	case "USDT":
		return common.IsHexAddress(w.WalletAddress)
	default:
		return w.BankDetailsID.Valid || w.WalletAddress != ""
	}
}

func payoutHint(currency string) string {
	switch currency {
	case "NAIRA":
		return "set your bank account in wallet settings before creating a request"
	case "USDT":
		return "set a valid BEP20 USDT wallet address in wallet settings before creating a request"
	default:
		return "set a payout destination in wallet settings before creating a request"
	}
}

// Cancel deletes an untouched request while the next merge's cutoff has not passed. A
// request that was ever part of a pair stays, even after its amount was restored.
func (s *Service) Cancel(ctx context.Context, userID, requestID uuid.UUID) (*model.Request, error) {
	now := s.clock.Now()
	var cancelled *model.Request
	err := s.store.InTx(ctx, func(r repository.Repositories) error {
		req, err := r.Requests.GetForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if req == nil {
			return apperr.NotFound("request_not_found", "request not found")
		}
		if req.UserID != userID {
			return apperr.Forbidden("not_request_owner", "you can only cancel your own requests")
		}
		if req.IsCompleted {
			return apperr.Conflict("request_completed", "cannot cancel a completed request")
		}
		if req.IsFullyMatched || req.PartiallyMatched() || req.MatchedAt != nil || req.FailedMatchCount > 0 {
			return apperr.Conflict("request_matched", "cannot cancel a request that has already been matched")
		}
		// a re-queued or voided request looks untouched but its old pairs still reference it
		pairs, err := r.Pairs.ListByRequest(ctx, req.ID)
		if err != nil {
			return err
		}
		if len(pairs) > 0 {
			return apperr.Conflict("request_matched", "cannot cancel a request that has already been matched")
		}
		if open, until := s.calendar.CancellationOpen(now); !open {
			return apperr.Conflict("cancellation_cutoff_passed",
				fmt.Sprintf("cannot cancel this close to a merge; next merge is in %d minutes", int(until.Minutes())))
		}
		cancelled = req
		return r.Requests.Delete(ctx, req.ID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Cancelled request", zap.String("request_id", requestID.String()), zap.String("user_id", userID.String()))
	return cancelled, nil
}

type RequestView struct {
	model.Request
	Pairs []model.MatchPair `json:"pairs"`
}

// List returns the user's requests, newest first, each with its match pairs.
func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]RequestView, error) {
	var views []RequestView
	err := s.store.View(ctx, func(r repository.Repositories) error {
		reqs, err := r.Requests.ListByUser(ctx, userID)
		if err != nil {
			return err
		}
		for _, req := range reqs {
			pairs, err := r.Pairs.ListByRequest(ctx, req.ID)
			if err != nil {
				return err
			}
			views = append(views, RequestView{Request: req, Pairs: pairs})
		}
		return nil
	})
	return views, err
}

type WindowInfo struct {
	Next                 schedule.Window  `json:"next"`
	Current              *schedule.Window `json:"current,omitempty"`
	JoinWindowOpen       bool             `json:"is_join_window_open"`
	SecondsUntilMerge    int64            `json:"time_until_merge_seconds"`
	CancellationOpen     bool             `json:"can_cancel"`
	JoinSecondsRemaining int64            `json:"join_seconds_remaining,omitempty"`
}

// Window describes the merge schedule around now without touching storage.
func (s *Service) Window() WindowInfo {
	now := s.clock.Now()
	next := s.calendar.Next(now)
	info := WindowInfo{
		Next:              next,
		SecondsUntilMerge: int64(next.MergeAt.Sub(now) / time.Second),
	}
	info.CancellationOpen, _ = s.calendar.CancellationOpen(now)
	if cur, ok := s.calendar.Current(now); ok {
		info.Current = &cur
		info.JoinWindowOpen = true
		info.JoinSecondsRemaining = int64(cur.JoinCloses.Sub(now) / time.Second)
	}
	return info
}

type OptInResult struct {
	Window   schedule.Window `json:"window"`
	Requests []uuid.UUID     `json:"request_ids"`
	OptedAt  time.Time       `json:"opted_in_at"`
}

// OptIn marks the user's open requests as present for the join window currently open.
func (s *Service) OptIn(ctx context.Context, userID uuid.UUID) (*OptInResult, error) {
	now := s.clock.Now()
	window, ok := s.calendar.Current(now)
	if !ok {
		next := s.calendar.Next(now)
		return nil, apperr.Conflict("join_window_closed",
			fmt.Sprintf("join window is not open; next window opens at %s (in %d minutes)",
				next.MergeAt.In(s.calendar.Location).Format("15:04 MST"), int(next.MergeAt.Sub(now).Minutes())))
	}

	result := &OptInResult{Window: window, OptedAt: now}
	err := s.store.InTx(ctx, func(r repository.Repositories) error {
		reqs, err := r.Requests.ListByUser(ctx, userID)
		if err != nil {
			return err
		}
		for i := range reqs {
			req := &reqs[i]
			if !req.Outstanding() || req.OptedIn {
				continue
			}
			req.OptedIn = true
			req.OptedInAt = &now
			if err := r.Requests.Update(ctx, req); err != nil {
				return err
			}
			result.Requests = append(result.Requests, req.ID)
		}
		if len(result.Requests) == 0 {
			return apperr.Conflict("nothing_to_join", "no pending requests found or you have already joined this window")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("User opted in", zap.String("user_id", userID.String()), zap.Int("requests", len(result.Requests)))
	return result, nil
}

// MergeStatus is the merge window as one user sees it.
type MergeStatus struct {
	WindowInfo
	HasPendingRequest bool        `json:"has_pending_request"`
	OptedIn           bool        `json:"has_opted_in"`
	CanJoin           bool        `json:"can_join"`
	PendingRequests   []uuid.UUID `json:"pending_request_ids"`
}

// Status reports whether the user has something waiting for a merge and whether
// joining the current window would do anything.
func (s *Service) Status(ctx context.Context, userID uuid.UUID) (*MergeStatus, error) {
	status := &MergeStatus{WindowInfo: s.Window(), PendingRequests: []uuid.UUID{}}
	notJoined := 0
	err := s.store.View(ctx, func(r repository.Repositories) error {
		reqs, err := r.Requests.ListByUser(ctx, userID)
		if err != nil {
			return err
		}
		for _, req := range reqs {
			if !req.Outstanding() {
				continue
			}
			status.PendingRequests = append(status.PendingRequests, req.ID)
			if !req.OptedIn {
				notJoined++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	status.HasPendingRequest = len(status.PendingRequests) > 0
	status.OptedIn = status.HasPendingRequest && notJoined == 0
	status.CanJoin = status.JoinWindowOpen && notJoined > 0
	return status, nil
}
