// Package deadline sweeps match pairs for elapsed proof and confirmation deadlines.
package deadline

import (
	"context"
	"fmt"
	"time"

	"aside/apps/funding/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Transitions applies the punitive transitions. Both calls are idempotent and report
// whether anything changed.
type Transitions interface {
	ExpireProof(ctx context.Context, pairID uuid.UUID, now time.Time) (bool, error)
	ExpireConfirmation(ctx context.Context, pairID uuid.UUID, now time.Time) (bool, error)
}

type Enforcer struct {
	store       repository.Store
	transitions Transitions
	logger      *zap.Logger
}

func NewEnforcer(store repository.Store, transitions Transitions, logger *zap.Logger) *Enforcer {
	return &Enforcer{store: store, transitions: transitions, logger: logger}
}

type SweepResult struct {
	ProofMisses        int `json:"proof_misses"`
	ConfirmationMisses int `json:"confirmation_misses"`
	Failures           int `json:"failures"`
}

// Sweep applies every due default. Each pair commits on its own, so a failure on one
// is logged and the sweep moves on.
func (e *Enforcer) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var result SweepResult
	var proof, confirmation []uuid.UUID
	err := e.store.View(ctx, func(r repository.Repositories) error {
		var err error
		if proof, err = r.Pairs.ListExpiredProof(ctx, now); err != nil {
			return err
		}
		confirmation, err = r.Pairs.ListExpiredConfirmation(ctx, now)
		return err
	})
	if err != nil {
		return result, fmt.Errorf("failed to list expired pairs: %w", err)
	}

	for _, id := range proof {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		applied, err := e.transitions.ExpireProof(ctx, id, now)
		if err != nil {
			result.Failures++
			e.logger.Error("Failed to expire proof deadline", zap.String("pair_id", id.String()), zap.Error(err))
			continue
		}
		if applied {
			result.ProofMisses++
		}
	}
	for _, id := range confirmation {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		applied, err := e.transitions.ExpireConfirmation(ctx, id, now)
		if err != nil {
			result.Failures++
			e.logger.Error("Failed to expire confirmation deadline", zap.String("pair_id", id.String()), zap.Error(err))
			continue
		}
		if applied {
			result.ConfirmationMisses++
		}
	}

	if result != (SweepResult{}) {
		e.logger.Info("Deadline sweep finished",
			zap.Int("proof_misses", result.ProofMisses),
			zap.Int("confirmation_misses", result.ConfirmationMisses),
			zap.Int("failures", result.Failures))
	}
	return result, nil
}
