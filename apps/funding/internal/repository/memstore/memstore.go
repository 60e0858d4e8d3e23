// Package memstore is an in-memory repository.Store. Each unit of work runs under
// a single lock against a snapshot that is restored when the unit fails, which gives
// the same all-or-nothing behaviour as the Postgres store.
package memstore

import (
	"context"
	"sort"
	"sync"

	"aside/apps/funding/internal/model"
	"aside/apps/funding/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type state struct {
	requests map[uuid.UUID]model.Request
	reqSeq   map[uuid.UUID]int
	pairs    map[uuid.UUID]model.MatchPair
	pairSeq  map[uuid.UUID]int
	cycles   map[uuid.UUID]model.MergeCycle
	wallets  map[uuid.UUID]model.Wallet
	logs     []model.BalanceChange
	pool     map[string]model.AdminWallet
	outbox   []model.OutboxEvent
	audit    map[uuid.UUID]model.AuditEntry
}

func newState() *state {
	return &state{
		requests: map[uuid.UUID]model.Request{},
		reqSeq:   map[uuid.UUID]int{},
		pairs:    map[uuid.UUID]model.MatchPair{},
		pairSeq:  map[uuid.UUID]int{},
		cycles:   map[uuid.UUID]model.MergeCycle{},
		wallets:  map[uuid.UUID]model.Wallet{},
		pool:     map[string]model.AdminWallet{},
		audit:    map[uuid.UUID]model.AuditEntry{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.requests {
		c.requests[k] = v
	}
	for k, v := range s.pairs {
		c.pairs[k] = v
	}
	for k, v := range s.reqSeq {
		c.reqSeq[k] = v
	}
	for k, v := range s.pairSeq {
		c.pairSeq[k] = v
	}
	for k, v := range s.cycles {
		c.cycles[k] = v
	}
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	for k, v := range s.pool {
		c.pool[k] = v
	}
	for k, v := range s.audit {
		c.audit[k] = v
	}
	c.logs = append([]model.BalanceChange(nil), s.logs...)
	c.outbox = append([]model.OutboxEvent(nil), s.outbox...)
	return c
}

type Store struct {
	mu sync.RWMutex
	st *state
}

func New() *Store {
	return &Store{st: newState()}
}

func (s *Store) repos() repository.Repositories {
	return repository.Repositories{
		Requests: &requests{s},
		Pairs:    &pairs{s},
		Cycles:   &cycles{s},
		Wallets:  &wallets{s},
		Pool:     &pool{s},
		Outbox:   &outbox{s},
	}
}

func (s *Store) InTx(ctx context.Context, fn func(repository.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := s.st.clone()
	if err := fn(s.repos()); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

func (s *Store) View(ctx context.Context, fn func(repository.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.repos())
}

// Seeding and inspection helpers for tests and local runs.

func (s *Store) PutWallet(w model.Wallet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	s.st.wallets[w.ID] = w
}

func (s *Store) Wallet(id uuid.UUID) model.Wallet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.wallets[id]
}

func (s *Store) PutPool(currency string, balance decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.st.pool[currency]
	if w.ID == uuid.Nil {
		w = model.AdminWallet{ID: uuid.New(), Currency: currency, TotalFunded: decimal.Zero, TotalReceived: decimal.Zero}
	}
	w.Balance = balance
	s.st.pool[currency] = w
}

func (s *Store) Pool(currency string) model.AdminWallet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.pool[currency]
}

func (s *Store) PutRequest(r model.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.putRequest(r)
}

func (s *Store) Request(id uuid.UUID) (model.Request, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.st.requests[id]
	return r, ok
}

func (s *Store) Pair(id uuid.UUID) model.MatchPair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.pairs[id]
}

func (s *Store) PutPair(p model.MatchPair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.putPair(p)
}

// Pairs returns every pair in creation order.
func (s *Store) Pairs() []model.MatchPair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.MatchPair, 0, len(s.st.pairs))
	for _, p := range s.st.pairs {
		out = append(out, p)
	}
	s.st.sortPairs(out)
	return out
}

func (s *Store) Cycle(id uuid.UUID) model.MergeCycle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.cycles[id]
}

func (s *Store) Cycles() []model.MergeCycle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.MergeCycle, 0, len(s.st.cycles))
	for _, c := range s.st.cycles {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledTime.Before(out[j].ScheduledTime) })
	return out
}

func (s *Store) Events() []model.OutboxEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.OutboxEvent(nil), s.st.outbox...)
}

func (s *Store) Logs() []model.BalanceChange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.BalanceChange(nil), s.st.logs...)
}

// Audit returns an AuditRepository backed by the same store.
func (s *Store) Audit() repository.AuditRepository {
	return &audit{s}
}

func (s *state) putRequest(r model.Request) {
	if _, ok := s.reqSeq[r.ID]; !ok {
		s.reqSeq[r.ID] = len(s.reqSeq)
	}
	s.requests[r.ID] = r
}

func (s *state) putPair(p model.MatchPair) {
	if _, ok := s.pairSeq[p.ID]; !ok {
		s.pairSeq[p.ID] = len(s.pairSeq)
	}
	s.pairs[p.ID] = p
}

// sortPairs orders pairs by insertion, like the serial column in Postgres.
func (s *state) sortPairs(ps []model.MatchPair) {
	sort.Slice(ps, func(i, j int) bool { return s.pairSeq[ps[i].ID] < s.pairSeq[ps[j].ID] })
}
