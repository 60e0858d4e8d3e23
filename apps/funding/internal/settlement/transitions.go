package settlement

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"aside/apps/funding/internal/apperr"
	"aside/apps/funding/internal/events"
	"aside/apps/funding/internal/model"
	"aside/apps/funding/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var proofTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".pdf":  "application/pdf",
}

// Upload is a proof file sent by a funder.
type Upload struct {
	Filename string
	Body     io.Reader
	Size     int64
}

func checkUpload(p *parties, userID uuid.UUID, now time.Time) error {
	if funder, _ := p.role(userID); !funder {
		return apperr.Forbidden("not_funder", "only the funder of this match can upload proof")
	}
	if err := guardOpen(p.pair); err != nil {
		return err
	}
	if p.pair.ProofUploaded {
		return apperr.Conflict("proof_already_uploaded", "payment proof was already uploaded for this match")
	}
	if now.After(p.pair.EffectiveProofDeadline()) {
		return apperr.Conflict("proof_deadline_passed", "the payment proof deadline has passed")
	}
	return nil
}

// UploadProof stores the funder's proof and moves the pair to awaiting confirmation.
// The file is written before the pair is locked; the checks are repeated under the lock.
func (s *Service) UploadProof(ctx context.Context, userID, pairID uuid.UUID, up Upload) (*model.MatchPair, error) {
	ext := strings.ToLower(filepath.Ext(up.Filename))
	contentType, ok := proofTypes[ext]
	if !ok {
		return nil, apperr.Validation("unsupported_file_type", "proof must be one of .jpg .jpeg .png .gif .webp .pdf")
	}

	now := s.clock.Now()
	err := s.store.View(ctx, func(r repository.Repositories) error {
		p, err := load(ctx, r, pairID, false)
		if err != nil {
			return err
		}
		return checkUpload(p, userID, now)
	})
	if err != nil {
		return nil, err
	}

	ref, err := s.proofs.Save(ctx, uuid.NewString()+ext, contentType, up.Body, up.Size)
	if err != nil {
		return nil, apperr.Unavailable("proof_store_unavailable", "could not store the payment proof, try again", err)
	}

	now = s.clock.Now()
	var pair *model.MatchPair
	err = s.store.InTx(ctx, func(r repository.Repositories) error {
		p, err := load(ctx, r, pairID, true)
		if err != nil {
			return err
		}
		if err := checkUpload(p, userID, now); err != nil {
			return err
		}
		deadline := now.Add(s.opts.ConfirmationDeadline)
		p.pair.ProofUploaded = true
		p.pair.ProofURL = ref
		p.pair.ProofUploadedAt = &now
		p.pair.ConfirmationDeadline = &deadline
		if err := r.Pairs.Update(ctx, p.pair); err != nil {
			return err
		}
		pair = p.pair
		return events.RecordPair(ctx, r.Outbox, events.ProofUploaded, p.pair, "", now)
	})
	if err != nil {
		if delErr := s.proofs.ScheduleDeletion(ctx, ref, now); delErr != nil {
			s.logger.Warn("Failed to schedule orphaned proof for deletion", zap.String("ref", ref), zap.Error(delErr))
		}
		return nil, err
	}

	s.logger.Info("Payment proof uploaded",
		zap.String("pair_id", pair.ID.String()),
		zap.Time("confirmation_deadline", *pair.ConfirmationDeadline))
	return pair, nil
}

// ConfirmProof is the withdrawer acknowledging receipt. Balances move and the pair
// reaches its terminal confirmed state in one transaction.
func (s *Service) ConfirmProof(ctx context.Context, userID, pairID uuid.UUID) (*model.MatchPair, error) {
	now := s.clock.Now()
	var pair *model.MatchPair
	err := s.store.InTx(ctx, func(r repository.Repositories) error {
		p, err := load(ctx, r, pairID, true)
		if err != nil {
			return err
		}
		if _, withdrawer := p.role(userID); !withdrawer {
			return apperr.Forbidden("not_withdrawer", "only the withdrawer of this match can confirm payment")
		}
		if p.pair.ProofConfirmed {
			return apperr.Conflict("already_confirmed", "payment was already confirmed for this match")
		}
		if err := guardOpen(p.pair); err != nil {
			return err
		}
		if !p.pair.ProofUploaded {
			return apperr.Conflict("proof_not_uploaded", "the funder has not uploaded payment proof yet")
		}
		if p.pair.ConfirmationDeadline != nil && now.After(*p.pair.ConfirmationDeadline) {
			return apperr.Conflict("confirmation_deadline_passed", "the confirmation deadline has passed")
		}
		if err := s.settle(ctx, r, p, now); err != nil {
			return err
		}
		pair = p.pair
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.afterSettle(ctx, pair, now)
	return pair, nil
}

// settle applies the confirmed side effects: the funder is credited, the withdrawer
// debited, both sides get a history row and the requests complete if nothing else is open.
func (s *Service) settle(ctx context.Context, r repository.Repositories, p *parties, now time.Time) error {
	funderWallet, withdrawerWallet, err := lockWallets(ctx, r, p.funding.WalletID, p.withdrawal.WalletID)
	if err != nil {
		return err
	}
	amount := p.pair.Amount

	funderWallet.Balance = funderWallet.Balance.Add(amount)
	funderWallet.TotalDeposited = funderWallet.TotalDeposited.Add(amount)
	if err := r.Wallets.Update(ctx, funderWallet); err != nil {
		return err
	}
	if err := r.Wallets.AppendLog(ctx, &model.BalanceChange{
		ID:           uuid.New(),
		WalletID:     funderWallet.ID,
		Type:         model.BalanceDeposit,
		Amount:       amount,
		BalanceAfter: funderWallet.Balance,
		Description:  fmt.Sprintf("P2P funding, match %s", p.pair.ID),
		CreatedAt:    now,
	}); err != nil {
		return err
	}

	withdrawerWallet.Balance = withdrawerWallet.Balance.Sub(amount)
	if err := r.Wallets.Update(ctx, withdrawerWallet); err != nil {
		return err
	}
	if err := r.Wallets.AppendLog(ctx, &model.BalanceChange{
		ID:           uuid.New(),
		WalletID:     withdrawerWallet.ID,
		Type:         model.BalanceWithdrawal,
		Amount:       amount,
		BalanceAfter: withdrawerWallet.Balance,
		Description:  fmt.Sprintf("P2P withdrawal, match %s", p.pair.ID),
		CreatedAt:    now,
	}); err != nil {
		return err
	}

	p.pair.ProofConfirmed = true
	p.pair.ProofConfirmedAt = &now
	p.pair.CompletedAt = &now
	if err := r.Pairs.Update(ctx, p.pair); err != nil {
		return err
	}
	if err := refreshCompletion(ctx, r, p.funding); err != nil {
		return err
	}
	if err := refreshCompletion(ctx, r, p.withdrawal); err != nil {
		return err
	}
	return events.RecordPair(ctx, r.Outbox, events.PairConfirmed, p.pair, "", now)
}

// afterSettle runs once the confirmation committed; the artefact retention is best effort.
func (s *Service) afterSettle(ctx context.Context, pair *model.MatchPair, now time.Time) {
	s.metrics.PairConfirmed()
	s.logger.Info("Match pair confirmed",
		zap.String("pair_id", pair.ID.String()),
		zap.String("amount", pair.Amount.String()))
	if pair.ProofURL == "" {
		return
	}
	if err := s.proofs.ScheduleDeletion(ctx, pair.ProofURL, now.Add(s.opts.ProofRetention)); err != nil {
		s.logger.Warn("Failed to schedule proof deletion", zap.String("pair_id", pair.ID.String()), zap.Error(err))
	}
}

// RequestExtension grants the funder a single extra period on the proof deadline.
func (s *Service) RequestExtension(ctx context.Context, userID, pairID uuid.UUID) (*model.MatchPair, error) {
	now := s.clock.Now()
	var pair *model.MatchPair
	err := s.store.InTx(ctx, func(r repository.Repositories) error {
		p, err := load(ctx, r, pairID, true)
		if err != nil {
			return err
		}
		if funder, _ := p.role(userID); !funder {
			return apperr.Forbidden("not_funder", "only the funder of this match can request an extension")
		}
		if err := guardOpen(p.pair); err != nil {
			return err
		}
		if p.pair.ExtensionRequested {
			return apperr.Conflict("extension_already_used", "an extension was already granted for this match")
		}
		if p.pair.ProofUploaded {
			return apperr.Conflict("proof_already_uploaded", "payment proof was already uploaded for this match")
		}
		if now.After(p.pair.ProofDeadline) {
			return apperr.Conflict("proof_deadline_passed", "the payment proof deadline has passed")
		}
		extended := p.pair.ProofDeadline.Add(s.opts.ExtensionDuration)
		p.pair.ExtensionRequested = true
		p.pair.ExtensionGranted = true
		p.pair.ExtendedDeadline = &extended
		if err := r.Pairs.Update(ctx, p.pair); err != nil {
			return err
		}
		pair = p.pair
		return events.RecordPair(ctx, r.Outbox, events.ExtensionGranted, p.pair, "", now)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Proof deadline extended",
		zap.String("pair_id", pair.ID.String()),
		zap.Time("extended_deadline", *pair.ExtendedDeadline))
	return pair, nil
}

// ExpireProof applies the funder default to a pair whose proof deadline elapsed. It is
// a no-op returning false when the pair no longer qualifies.
func (s *Service) ExpireProof(ctx context.Context, pairID uuid.UUID, now time.Time) (bool, error) {
	applied := false
	err := s.store.InTx(ctx, func(r repository.Repositories) error {
		p, err := load(ctx, r, pairID, true)
		if err != nil {
			return err
		}
		pair := p.pair
		if pair.ProofUploaded || pair.Failed() || pair.Voided() || !now.After(pair.EffectiveProofDeadline()) {
			return nil
		}

		reason := fmt.Sprintf("missed payment proof deadline for match %s", pair.ID)
		if err := block(ctx, r, p.funding.WalletID, reason); err != nil {
			return err
		}

		pair.FunderMissedDeadline = true
		if err := r.Pairs.Update(ctx, pair); err != nil {
			return err
		}
		p.withdrawal.Requeue(pair.Amount)
		p.withdrawal.IsCompleted = false
		if err := r.Requests.Update(ctx, p.withdrawal); err != nil {
			return err
		}
		p.funding.IsDefaulted = true
		if err := refreshCompletion(ctx, r, p.funding); err != nil {
			return err
		}
		applied = true
		return events.RecordPair(ctx, r.Outbox, events.FunderMissedDeadline, pair, reason, now)
	})
	if err != nil || !applied {
		return false, err
	}
	s.metrics.DeadlineMissed(string(model.SideFunding))
	s.logger.Info("Funder missed proof deadline, wallet blocked and withdrawal re-queued",
		zap.String("pair_id", pairID.String()))
	return true, nil
}

// ExpireConfirmation applies the withdrawer default. No balance moves; the pair goes
// to the dispute queue for an administrator to settle or void.
func (s *Service) ExpireConfirmation(ctx context.Context, pairID uuid.UUID, now time.Time) (bool, error) {
	applied := false
	err := s.store.InTx(ctx, func(r repository.Repositories) error {
		p, err := load(ctx, r, pairID, true)
		if err != nil {
			return err
		}
		pair := p.pair
		if !pair.ProofUploaded || pair.ProofConfirmed || pair.Failed() || pair.Voided() ||
			pair.ConfirmationDeadline == nil || !now.After(*pair.ConfirmationDeadline) {
			return nil
		}

		reason := fmt.Sprintf("missed payment confirmation deadline for match %s", pair.ID)
		if err := block(ctx, r, p.withdrawal.WalletID, reason); err != nil {
			return err
		}

		pair.WithdrawerMissedDeadline = true
		pair.InDispute = true
		pair.DisputeReason = "withdrawer did not confirm the uploaded proof before the deadline"
		if err := r.Pairs.Update(ctx, pair); err != nil {
			return err
		}
		applied = true
		return events.RecordPair(ctx, r.Outbox, events.WithdrawerMissedDeadline, pair, reason, now)
	})
	if err != nil || !applied {
		return false, err
	}
	s.metrics.DeadlineMissed(string(model.SideWithdrawal))
	s.logger.Info("Withdrawer missed confirmation deadline, wallet blocked and match disputed",
		zap.String("pair_id", pairID.String()))
	return true, nil
}

func block(ctx context.Context, r repository.Repositories, walletID uuid.UUID, reason string) error {
	w, err := lockWallet(ctx, r, walletID)
	if err != nil {
		return err
	}
	w.IsBlocked = true
	w.BlockReason = reason
	return r.Wallets.Update(ctx, w)
}
