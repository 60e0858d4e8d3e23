package settlement

import (
	"context"
	"time"

	"aside/apps/funding/internal/model"
	"aside/apps/funding/internal/repository"

	"github.com/google/uuid"
)

// PaymentDetails is where a funder should send money.
type PaymentDetails struct {
	UserID        uuid.UUID     `json:"user_id"`
	Currency      string        `json:"currency"`
	BankDetailsID uuid.NullUUID `json:"bank_details_id"`
	WalletAddress string        `json:"wallet_address,omitempty"`
}

type FunderTask struct {
	Pair             model.MatchPair `json:"pair"`
	Deadline         time.Time       `json:"deadline"`
	SecondsRemaining int64           `json:"seconds_remaining"`
	CanExtend        bool            `json:"can_extend"`
	PayTo            PaymentDetails  `json:"pay_to"`
}

type WithdrawerTask struct {
	Pair                 model.MatchPair `json:"pair"`
	AwaitingProof        bool            `json:"awaiting_proof"`
	AwaitingConfirmation bool            `json:"awaiting_confirmation"`
	Deadline             *time.Time      `json:"deadline,omitempty"`
	SecondsRemaining     int64           `json:"seconds_remaining"`
}

// ActiveMatches lists the pairs waiting on a user, split by the role they play.
type ActiveMatches struct {
	AsFunder     []FunderTask     `json:"as_funder"`
	AsWithdrawer []WithdrawerTask `json:"as_withdrawer"`
}

func (s *Service) Active(ctx context.Context, userID uuid.UUID) (*ActiveMatches, error) {
	now := s.clock.Now()
	out := &ActiveMatches{AsFunder: []FunderTask{}, AsWithdrawer: []WithdrawerTask{}}
	err := s.store.View(ctx, func(r repository.Repositories) error {
		pairs, err := r.Pairs.ListActiveByUser(ctx, userID)
		if err != nil {
			return err
		}
		for _, pair := range pairs {
			p, err := load(ctx, r, pair.ID, false)
			if err != nil {
				return err
			}
			funder, withdrawer := p.role(userID)
			if funder && !p.pair.ProofUploaded {
				task, err := funderTask(ctx, r, p, now)
				if err != nil {
					return err
				}
				out.AsFunder = append(out.AsFunder, *task)
			}
			if withdrawer {
				out.AsWithdrawer = append(out.AsWithdrawer, withdrawerTask(p.pair, now))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func funderTask(ctx context.Context, r repository.Repositories, p *parties, now time.Time) (*FunderTask, error) {
	deadline := p.pair.EffectiveProofDeadline()
	task := &FunderTask{
		Pair:             *p.pair,
		Deadline:         deadline,
		SecondsRemaining: secondsUntil(deadline, now),
		CanExtend:        !p.pair.ExtensionRequested && !p.pair.ProofUploaded && !now.After(p.pair.ProofDeadline),
		PayTo:            PaymentDetails{UserID: p.withdrawal.UserID, Currency: p.withdrawal.Currency},
	}
	w, err := r.Wallets.Get(ctx, p.withdrawal.WalletID)
	if err != nil {
		return nil, err
	}
	if w != nil {
		task.PayTo.BankDetailsID = w.BankDetailsID
		task.PayTo.WalletAddress = w.WalletAddress
	}
	return task, nil
}

func withdrawerTask(pair *model.MatchPair, now time.Time) WithdrawerTask {
	task := WithdrawerTask{
		Pair:                 *pair,
		AwaitingProof:        !pair.ProofUploaded,
		AwaitingConfirmation: pair.ProofUploaded && !pair.ProofConfirmed,
	}
	if task.AwaitingConfirmation {
		task.Deadline = pair.ConfirmationDeadline
	} else {
		d := pair.EffectiveProofDeadline()
		task.Deadline = &d
	}
	if task.Deadline != nil {
		task.SecondsRemaining = secondsUntil(*task.Deadline, now)
	}
	return task
}

func secondsUntil(deadline, now time.Time) int64 {
	if d := deadline.Sub(now); d > 0 {
		return int64(d.Seconds())
	}
	return 0
}
