package memstore

import (
	"context"
	"sort"
	"time"

	"aside/apps/funding/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type requests struct{ s *Store }

func (r *requests) Create(_ context.Context, req *model.Request) error {
	r.s.st.putRequest(*req)
	return nil
}

func (r *requests) Get(_ context.Context, id uuid.UUID) (*model.Request, error) {
	req, ok := r.s.st.requests[id]
	if !ok {
		return nil, nil
	}
	return &req, nil
}

func (r *requests) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Request, error) {
	return r.Get(ctx, id)
}

func (r *requests) Update(_ context.Context, req *model.Request) error {
	if _, ok := r.s.st.requests[req.ID]; ok {
		r.s.st.requests[req.ID] = *req
	}
	return nil
}

func (r *requests) Delete(_ context.Context, id uuid.UUID) error {
	delete(r.s.st.requests, id)
	delete(r.s.st.reqSeq, id)
	return nil
}

func (r *requests) ListByUser(_ context.Context, userID uuid.UUID) ([]model.Request, error) {
	var out []model.Request
	for _, req := range r.s.st.requests {
		if req.UserID == userID {
			out = append(out, req)
		}
	}
	seq := r.s.st.reqSeq
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return seq[out[i].ID] > seq[out[j].ID]
	})
	return out, nil
}

func (r *requests) HasOpenForUser(_ context.Context, userID uuid.UUID) (bool, error) {
	for _, req := range r.s.st.requests {
		if req.UserID == userID && !req.Closed() {
			return true, nil
		}
	}
	return false, nil
}

func (r *requests) ListOutstanding(_ context.Context, side model.Side, currency string, createdBefore time.Time) ([]model.Request, error) {
	var out []model.Request
	for _, req := range r.s.st.requests {
		if req.Side == side && req.Currency == currency && req.CreatedAt.Before(createdBefore) && req.Outstanding() &&
			!r.s.st.wallets[req.WalletID].IsBlocked {
			out = append(out, req)
		}
	}
	seq := r.s.st.reqSeq
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return seq[out[i].ID] < seq[out[j].ID]
	})
	return out, nil
}

func (r *requests) ListUnmatched(_ context.Context, currency string) ([]model.Request, error) {
	var out []model.Request
	for _, req := range r.s.st.requests {
		if req.Currency == currency && !req.IsFullyMatched && !req.Closed() {
			out = append(out, req)
		}
	}
	seq := r.s.st.reqSeq
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return seq[out[i].ID] < seq[out[j].ID]
	})
	return out, nil
}

type pairs struct{ s *Store }

func (p *pairs) Create(_ context.Context, pair *model.MatchPair) error {
	p.s.st.putPair(*pair)
	return nil
}

func (p *pairs) Get(_ context.Context, id uuid.UUID) (*model.MatchPair, error) {
	pair, ok := p.s.st.pairs[id]
	if !ok {
		return nil, nil
	}
	return &pair, nil
}

func (p *pairs) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.MatchPair, error) {
	return p.Get(ctx, id)
}

func (p *pairs) Update(_ context.Context, pair *model.MatchPair) error {
	if _, ok := p.s.st.pairs[pair.ID]; ok {
		p.s.st.pairs[pair.ID] = *pair
	}
	return nil
}

func (p *pairs) filter(keep func(model.MatchPair) bool) []model.MatchPair {
	var out []model.MatchPair
	for _, pair := range p.s.st.pairs {
		if keep(pair) {
			out = append(out, pair)
		}
	}
	p.s.st.sortPairs(out)
	return out
}

func (p *pairs) ListByRequest(_ context.Context, requestID uuid.UUID) ([]model.MatchPair, error) {
	return p.filter(func(pair model.MatchPair) bool {
		return pair.FundingRequestID == requestID || pair.WithdrawalRequestID == requestID
	}), nil
}

func (p *pairs) ListActiveByUser(_ context.Context, userID uuid.UUID) ([]model.MatchPair, error) {
	reqs := p.s.st.requests
	return p.filter(func(pair model.MatchPair) bool {
		if pair.ProofConfirmed || pair.Failed() || pair.Voided() {
			return false
		}
		return reqs[pair.FundingRequestID].UserID == userID || reqs[pair.WithdrawalRequestID].UserID == userID
	}), nil
}

func ids(ps []model.MatchPair) []uuid.UUID {
	var out []uuid.UUID
	for _, pair := range ps {
		out = append(out, pair.ID)
	}
	return out
}

func (p *pairs) ListExpiredProof(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	return ids(p.filter(func(pair model.MatchPair) bool {
		return !pair.ProofUploaded && !pair.Failed() && !pair.Voided() && pair.EffectiveProofDeadline().Before(now)
	})), nil
}

func (p *pairs) ListExpiredConfirmation(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	return ids(p.filter(func(pair model.MatchPair) bool {
		return pair.ProofUploaded && !pair.ProofConfirmed && !pair.Failed() && !pair.Voided() &&
			pair.ConfirmationDeadline != nil && pair.ConfirmationDeadline.Before(now)
	})), nil
}

func (p *pairs) ListDisputed(_ context.Context) ([]model.MatchPair, error) {
	return p.filter(func(pair model.MatchPair) bool { return pair.InDispute }), nil
}

type cycles struct{ s *Store }

func (c *cycles) Create(_ context.Context, cycle *model.MergeCycle) (bool, error) {
	for _, existing := range c.s.st.cycles {
		if existing.ScheduledTime.Equal(cycle.ScheduledTime) {
			return false, nil
		}
	}
	c.s.st.cycles[cycle.ID] = *cycle
	return true, nil
}

func (c *cycles) Get(_ context.Context, id uuid.UUID) (*model.MergeCycle, error) {
	cycle, ok := c.s.st.cycles[id]
	if !ok {
		return nil, nil
	}
	return &cycle, nil
}

func (c *cycles) Claim(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	cycle, ok := c.s.st.cycles[id]
	if !ok || cycle.Status != model.CyclePending {
		return false, nil
	}
	cycle.Status = model.CycleProcessing
	cycle.StartedAt = &now
	c.s.st.cycles[id] = cycle
	return true, nil
}

func (c *cycles) AddCounters(_ context.Context, id uuid.UUID, counters model.CycleCounters) error {
	cycle, ok := c.s.st.cycles[id]
	if !ok || cycle.Status != model.CycleProcessing {
		return nil
	}
	cycle.CycleCounters = cycle.CycleCounters.Add(counters)
	c.s.st.cycles[id] = cycle
	return nil
}

func (c *cycles) Finish(_ context.Context, id uuid.UUID, status model.CycleStatus, now time.Time) error {
	cycle, ok := c.s.st.cycles[id]
	if !ok || cycle.Status != model.CycleProcessing {
		return nil
	}
	cycle.Status = status
	cycle.CompletedAt = &now
	c.s.st.cycles[id] = cycle
	return nil
}

func (c *cycles) sorted(keep func(model.MergeCycle) bool) []model.MergeCycle {
	var out []model.MergeCycle
	for _, cycle := range c.s.st.cycles {
		if keep(cycle) {
			out = append(out, cycle)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledTime.Before(out[j].ScheduledTime) })
	return out
}

func (c *cycles) ListDue(_ context.Context, now time.Time, afterJoinWindow bool) ([]model.MergeCycle, error) {
	return c.sorted(func(cycle model.MergeCycle) bool {
		due := cycle.ScheduledTime
		if afterJoinWindow {
			due = cycle.JoinWindowCloses
		}
		return cycle.Status == model.CyclePending && !due.After(now)
	}), nil
}

func (c *cycles) NextPending(_ context.Context, now time.Time) (*model.MergeCycle, error) {
	next := c.sorted(func(cycle model.MergeCycle) bool {
		return cycle.Status == model.CyclePending && !cycle.ScheduledTime.Before(now)
	})
	if len(next) == 0 {
		return nil, nil
	}
	return &next[0], nil
}

func (c *cycles) ListRecent(_ context.Context, limit int) ([]model.MergeCycle, error) {
	done := c.sorted(func(cycle model.MergeCycle) bool { return cycle.Status != model.CyclePending })
	for i, j := 0, len(done)-1; i < j; i, j = i+1, j-1 {
		done[i], done[j] = done[j], done[i]
	}
	if len(done) > limit {
		done = done[:limit]
	}
	return done, nil
}

type wallets struct{ s *Store }

func (w *wallets) Create(_ context.Context, wallet *model.Wallet) error {
	w.s.st.wallets[wallet.ID] = *wallet
	return nil
}

func (w *wallets) Get(_ context.Context, id uuid.UUID) (*model.Wallet, error) {
	wallet, ok := w.s.st.wallets[id]
	if !ok {
		return nil, nil
	}
	return &wallet, nil
}

func (w *wallets) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Wallet, error) {
	return w.Get(ctx, id)
}

func (w *wallets) GetByUserCurrency(_ context.Context, userID uuid.UUID, currency string) (*model.Wallet, error) {
	for _, wallet := range w.s.st.wallets {
		if wallet.UserID == userID && wallet.Currency == currency {
			return &wallet, nil
		}
	}
	return nil, nil
}

func (w *wallets) Update(_ context.Context, wallet *model.Wallet) error {
	if _, ok := w.s.st.wallets[wallet.ID]; ok {
		w.s.st.wallets[wallet.ID] = *wallet
	}
	return nil
}

func (w *wallets) list(keep func(model.Wallet) bool) []model.Wallet {
	var out []model.Wallet
	for _, wallet := range w.s.st.wallets {
		if keep(wallet) {
			out = append(out, wallet)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID.String() < out[j].UserID.String()
		}
		return out[i].Currency < out[j].Currency
	})
	return out
}

func (w *wallets) ListByUser(_ context.Context, userID uuid.UUID) ([]model.Wallet, error) {
	return w.list(func(wallet model.Wallet) bool { return wallet.UserID == userID }), nil
}

func (w *wallets) ListBlocked(_ context.Context) ([]model.Wallet, error) {
	return w.list(func(wallet model.Wallet) bool { return wallet.IsBlocked }), nil
}

func (w *wallets) AppendLog(_ context.Context, c *model.BalanceChange) error {
	w.s.st.logs = append(w.s.st.logs, *c)
	return nil
}

func (w *wallets) ListLogs(_ context.Context, walletID uuid.UUID) ([]model.BalanceChange, error) {
	var out []model.BalanceChange
	for _, c := range w.s.st.logs {
		if c.WalletID == walletID {
			out = append(out, c)
		}
	}
	return out, nil
}

type pool struct{ s *Store }

func (p *pool) GetForUpdate(_ context.Context, currency string) (*model.AdminWallet, error) {
	w, ok := p.s.st.pool[currency]
	if !ok {
		w = model.AdminWallet{
			ID:            uuid.New(),
			Currency:      currency,
			Balance:       decimal.Zero,
			TotalFunded:   decimal.Zero,
			TotalReceived: decimal.Zero,
		}
		p.s.st.pool[currency] = w
	}
	return &w, nil
}

func (p *pool) Update(_ context.Context, w *model.AdminWallet) error {
	p.s.st.pool[w.Currency] = *w
	return nil
}

func (p *pool) List(_ context.Context) ([]model.AdminWallet, error) {
	var out []model.AdminWallet
	for _, w := range p.s.st.pool {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out, nil
}

type outbox struct{ s *Store }

func (o *outbox) Append(_ context.Context, e *model.OutboxEvent) error {
	e.Status = "unsent"
	o.s.st.outbox = append(o.s.st.outbox, *e)
	return nil
}

type audit struct{ s *Store }

func (a *audit) Record(_ context.Context, e *model.AuditEntry) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if _, ok := a.s.st.audit[e.EventID]; !ok {
		a.s.st.audit[e.EventID] = *e
	}
	return nil
}

func (a *audit) ListByAggregate(_ context.Context, aggregateID uuid.UUID) ([]model.AuditEntry, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	var out []model.AuditEntry
	for _, e := range a.s.st.audit {
		if e.AggregateID == aggregateID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}
