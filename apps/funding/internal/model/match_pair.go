package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PairState is derived from a pair's flags; it is never stored.
type PairState string

const (
	StateAwaitingProof              PairState = "awaiting_proof"
	StateAwaitingConfirmation       PairState = "awaiting_confirmation"
	StateConfirmed                  PairState = "confirmed"
	StateProofDeadlineMissed        PairState = "proof_deadline_missed"
	StateConfirmationDeadlineMissed PairState = "confirmation_deadline_missed"
	StateVoided                     PairState = "voided"
)

const (
	DisputeResolutionConfirm = "confirm"
	DisputeResolutionVoid    = "void"
)

// MatchPair links one funding request to one withdrawal request for a slice of amount.
type MatchPair struct {
	ID                  uuid.UUID       `db:"id" json:"id"`
	FundingRequestID    uuid.UUID       `db:"funding_request_id" json:"funding_request_id"`
	WithdrawalRequestID uuid.UUID       `db:"withdrawal_request_id" json:"withdrawal_request_id"`
	MergeCycleID        uuid.UUID       `db:"merge_cycle_id" json:"merge_cycle_id"`
	Currency            string          `db:"currency" json:"currency"`
	Amount              decimal.Decimal `db:"amount" json:"amount"`

	ProofUploaded    bool       `db:"proof_uploaded" json:"proof_uploaded"`
	ProofURL         string     `db:"proof_url" json:"proof_url"`
	ProofUploadedAt  *time.Time `db:"proof_uploaded_at" json:"proof_uploaded_at"`
	ProofConfirmed   bool       `db:"proof_confirmed" json:"proof_confirmed"`
	ProofConfirmedAt *time.Time `db:"proof_confirmed_at" json:"proof_confirmed_at"`
	CompletedAt      *time.Time `db:"completed_at" json:"completed_at"`

	ProofDeadline        time.Time  `db:"proof_deadline" json:"proof_deadline"`
	ConfirmationDeadline *time.Time `db:"confirmation_deadline" json:"confirmation_deadline"`
	ExtensionRequested   bool       `db:"extension_requested" json:"extension_requested"`
	ExtensionGranted     bool       `db:"extension_granted" json:"extension_granted"`
	ExtendedDeadline     *time.Time `db:"extended_deadline" json:"extended_deadline"`

	FunderMissedDeadline     bool       `db:"funder_missed_deadline" json:"funder_missed_deadline"`
	WithdrawerMissedDeadline bool       `db:"withdrawer_missed_deadline" json:"withdrawer_missed_deadline"`
	InDispute                bool       `db:"in_dispute" json:"in_dispute"`
	DisputeReason            string     `db:"dispute_reason" json:"dispute_reason"`
	DisputeResolution        string     `db:"dispute_resolution" json:"dispute_resolution"`
	DisputeResolvedAt        *time.Time `db:"dispute_resolved_at" json:"dispute_resolved_at"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// EffectiveProofDeadline is the granted extension when there is one.
func (p *MatchPair) EffectiveProofDeadline() time.Time {
	if p.ExtensionGranted && p.ExtendedDeadline != nil {
		return *p.ExtendedDeadline
	}
	return p.ProofDeadline
}

// Failed is true once either side has defaulted; the pair accepts no more user actions.
func (p *MatchPair) Failed() bool {
	return p.FunderMissedDeadline || p.WithdrawerMissedDeadline
}

func (p *MatchPair) Voided() bool {
	return p.DisputeResolution == DisputeResolutionVoid
}

// State derives the settlement state from the stored flags.
func (p *MatchPair) State() PairState {
	switch {
	case p.Voided():
		return StateVoided
	case p.ProofConfirmed:
		return StateConfirmed
	case p.FunderMissedDeadline:
		return StateProofDeadlineMissed
	case p.WithdrawerMissedDeadline:
		return StateConfirmationDeadlineMissed
	case p.ProofUploaded:
		return StateAwaitingConfirmation
	default:
		return StateAwaitingProof
	}
}

// CountsTowardCompletion reports whether the pair must be confirmed before its requests complete.
func (p *MatchPair) CountsTowardCompletion() bool {
	return !p.FunderMissedDeadline && !p.Voided()
}
