// Package settlement owns the lifecycle of a match pair: proof upload, confirmation,
// the one-time extension, deadline defaults and the admin actions around them.
package settlement

import (
	"bytes"
	"context"
	"io"
	"time"

	"aside/apps/funding/internal/apperr"
	"aside/apps/funding/internal/metrics"
	"aside/apps/funding/internal/model"
	"aside/apps/funding/internal/pool"
	"aside/apps/funding/internal/repository"
	"aside/apps/funding/internal/schedule"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ProofStore keeps proof artefacts. Save returns a reference that can be handed back
// to ScheduleDeletion and Open.
type ProofStore interface {
	Save(ctx context.Context, name, contentType string, body io.Reader, size int64) (string, error)
	ScheduleDeletion(ctx context.Context, ref string, at time.Time) error
}

type Options struct {
	ProofDeadline        time.Duration
	ConfirmationDeadline time.Duration
	ExtensionDuration    time.Duration
	ProofRetention       time.Duration
}

type Service struct {
	store   repository.Store
	proofs  ProofStore
	pool    *pool.Pool
	clock   schedule.Clock
	opts    Options
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewService(store repository.Store, proofs ProofStore, p *pool.Pool, clock schedule.Clock, opts Options, logger *zap.Logger, m *metrics.Metrics) *Service {
	return &Service{
		store:   store,
		proofs:  proofs,
		pool:    p,
		clock:   clock,
		opts:    opts,
		logger:  logger,
		metrics: m,
	}
}

// parties is a pair together with both of its requests.
type parties struct {
	pair       *model.MatchPair
	funding    *model.Request
	withdrawal *model.Request
}

func (p *parties) role(userID uuid.UUID) (funder, withdrawer bool) {
	return p.funding.UserID == userID, p.withdrawal.UserID == userID
}

// load reads a pair and its requests. With lock set every row is locked for update.
func load(ctx context.Context, r repository.Repositories, pairID uuid.UUID, lock bool) (*parties, error) {
	getPair, getRequest := r.Pairs.Get, r.Requests.Get
	if lock {
		getPair, getRequest = r.Pairs.GetForUpdate, r.Requests.GetForUpdate
	}
	pair, err := getPair(ctx, pairID)
	if err != nil {
		return nil, err
	}
	if pair == nil {
		return nil, apperr.NotFound("pair_not_found", "match not found")
	}
	funding, err := getRequest(ctx, pair.FundingRequestID)
	if err != nil {
		return nil, err
	}
	withdrawal, err := getRequest(ctx, pair.WithdrawalRequestID)
	if err != nil {
		return nil, err
	}
	if funding == nil || withdrawal == nil {
		return nil, apperr.NotFound("request_not_found", "request behind this match no longer exists")
	}
	return &parties{pair: pair, funding: funding, withdrawal: withdrawal}, nil
}

func lockWallet(ctx context.Context, r repository.Repositories, id uuid.UUID) (*model.Wallet, error) {
	w, err := r.Wallets.GetForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, apperr.NotFound("wallet_not_found", "wallet not found")
	}
	return w, nil
}

// lockWallets locks two wallets in id order so concurrent settlements cannot deadlock.
func lockWallets(ctx context.Context, r repository.Repositories, a, b uuid.UUID) (*model.Wallet, *model.Wallet, error) {
	if a == b {
		w, err := lockWallet(ctx, r, a)
		return w, w, err
	}
	first, second := a, b
	if bytes.Compare(a[:], b[:]) > 0 {
		first, second = b, a
	}
	wFirst, err := lockWallet(ctx, r, first)
	if err != nil {
		return nil, nil, err
	}
	wSecond, err := lockWallet(ctx, r, second)
	if err != nil {
		return nil, nil, err
	}
	if first == a {
		return wFirst, wSecond, nil
	}
	return wSecond, wFirst, nil
}

// refreshCompletion recomputes is_completed for a request from its pairs and saves it.
func refreshCompletion(ctx context.Context, r repository.Repositories, req *model.Request) error {
	pairs, err := r.Pairs.ListByRequest(ctx, req.ID)
	if err != nil {
		return err
	}
	req.IsCompleted = req.Settled(pairs)
	return r.Requests.Update(ctx, req)
}

// guardOpen rejects any action on a pair that already reached a terminal state.
func guardOpen(p *model.MatchPair) error {
	switch {
	case p.Voided():
		return apperr.Conflict("pair_voided", "this match was voided by an administrator")
	case p.FunderMissedDeadline:
		return apperr.Conflict("proof_deadline_missed", "the payment proof deadline for this match was missed")
	case p.WithdrawerMissedDeadline:
		return apperr.Conflict("confirmation_deadline_missed", "the confirmation deadline for this match was missed and it is under review")
	}
	return nil
}
