// Package admin serves the operator views and account recovery actions.
package admin

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"aside/apps/funding/internal/apperr"
	"aside/apps/funding/internal/model"
	"aside/apps/funding/internal/repository"
	"aside/apps/funding/internal/schedule"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const recentCycles = 10

type Service struct {
	store      repository.Store
	audit      repository.AuditRepository
	clock      schedule.Clock
	currencies []string
	logger     *zap.Logger
}

func NewService(store repository.Store, audit repository.AuditRepository, clock schedule.Clock, currencies []string, logger *zap.Logger) *Service {
	return &Service{store: store, audit: audit, clock: clock, currencies: currencies, logger: logger}
}

type UnmatchedCount struct {
	Funding    int `json:"funding"`
	Withdrawal int `json:"withdrawal"`
}

type Dashboard struct {
	NextCycle    *model.MergeCycle         `json:"next_cycle"`
	AdminWallets []model.AdminWallet       `json:"admin_wallets"`
	Unmatched    map[string]UnmatchedCount `json:"unmatched"`
	RecentCycles []model.MergeCycle        `json:"recent_cycles"`
}

func (s *Service) Dashboard(ctx context.Context) (*Dashboard, error) {
	now := s.clock.Now()
	d := &Dashboard{Unmatched: map[string]UnmatchedCount{}}
	err := s.store.View(ctx, func(r repository.Repositories) error {
		var err error
		if d.NextCycle, err = r.Cycles.NextPending(ctx, now); err != nil {
			return err
		}
		if d.AdminWallets, err = r.Pool.List(ctx); err != nil {
			return err
		}
		if d.RecentCycles, err = r.Cycles.ListRecent(ctx, recentCycles); err != nil {
			return err
		}
		for _, currency := range s.currencies {
			reqs, err := r.Requests.ListUnmatched(ctx, currency)
			if err != nil {
				return err
			}
			var c UnmatchedCount
			for _, req := range reqs {
				if req.Side == model.SideFunding {
					c.Funding++
				} else {
					c.Withdrawal++
				}
			}
			d.Unmatched[currency] = c
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build dashboard: %w", err)
	}
	return d, nil
}

type Unmatched struct {
	Currency    string          `json:"currency"`
	Funding     []model.Request `json:"funding_requests"`
	Withdrawals []model.Request `json:"withdrawal_requests"`
}

func (s *Service) Unmatched(ctx context.Context, currency string) (*Unmatched, error) {
	cur, ok := s.currency(currency)
	if !ok {
		return nil, apperr.Validation("unsupported_currency", fmt.Sprintf("currency must be one of %s", strings.Join(s.currencies, ", ")))
	}
	out := &Unmatched{Currency: cur, Funding: []model.Request{}, Withdrawals: []model.Request{}}
	err := s.store.View(ctx, func(r repository.Repositories) error {
		reqs, err := r.Requests.ListUnmatched(ctx, cur)
		if err != nil {
			return err
		}
		for _, req := range reqs {
			if req.Side == model.SideFunding {
				out.Funding = append(out.Funding, req)
			} else {
				out.Withdrawals = append(out.Withdrawals, req)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Unblock clears the blocked flag on every wallet of a user and returns how many
// wallets changed.
func (s *Service) Unblock(ctx context.Context, userID uuid.UUID) (int, error) {
	count := 0
	err := s.store.InTx(ctx, func(r repository.Repositories) error {
		wallets, err := r.Wallets.ListByUser(ctx, userID)
		if err != nil {
			return err
		}
		if len(wallets) == 0 {
			return apperr.NotFound("user_not_found", "user has no wallets")
		}
		for _, w := range wallets {
			if !w.IsBlocked {
				continue
			}
			locked, err := r.Wallets.GetForUpdate(ctx, w.ID)
			if err != nil {
				return err
			}
			locked.IsBlocked = false
			locked.BlockReason = ""
			if err := r.Wallets.Update(ctx, locked); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info("Unblocked user wallets", zap.String("user_id", userID.String()), zap.Int("count", count))
	return count, nil
}

type BlockedCurrency struct {
	Currency string `json:"currency"`
	Reason   string `json:"reason"`
}

type BlockedUser struct {
	UserID     uuid.UUID         `json:"user_id"`
	Currencies []BlockedCurrency `json:"blocked_wallets"`
}

// Blocked lists users with at least one blocked wallet.
func (s *Service) Blocked(ctx context.Context) ([]BlockedUser, error) {
	var wallets []model.Wallet
	err := s.store.View(ctx, func(r repository.Repositories) error {
		var err error
		wallets, err = r.Wallets.ListBlocked(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	byUser := map[uuid.UUID]*BlockedUser{}
	var order []uuid.UUID
	for _, w := range wallets {
		u, ok := byUser[w.UserID]
		if !ok {
			u = &BlockedUser{UserID: w.UserID}
			byUser[w.UserID] = u
			order = append(order, w.UserID)
		}
		u.Currencies = append(u.Currencies, BlockedCurrency{Currency: w.Currency, Reason: w.BlockReason})
	}
	out := make([]BlockedUser, 0, len(order))
	for _, id := range order {
		u := byUser[id]
		sort.Slice(u.Currencies, func(i, j int) bool { return u.Currencies[i].Currency < u.Currencies[j].Currency })
		out = append(out, *u)
	}
	return out, nil
}

// AuditTrail returns the materialised events recorded for a pair, request or cycle.
func (s *Service) AuditTrail(ctx context.Context, aggregateID uuid.UUID) ([]model.AuditEntry, error) {
	entries, err := s.audit.ListByAggregate(ctx, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit trail: %w", err)
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}
	return entries, nil
}

func (s *Service) currency(raw string) (string, bool) {
	for _, c := range s.currencies {
		if strings.EqualFold(c, raw) {
			return c, true
		}
	}
	return "", false
}

