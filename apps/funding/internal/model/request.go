package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side tells which half of a peer-to-peer transfer a request represents.
type Side string

const (
	SideFunding    Side = "funding"
	SideWithdrawal Side = "withdrawal"
)

func (s Side) Valid() bool {
	return s == SideFunding || s == SideWithdrawal
}

// Request is a funding or withdrawal request waiting to be paired.
// Invariant: 0 <= AmountRemaining <= Amount, and IsFullyMatched implies AmountRemaining == 0.
type Request struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	Side            Side            `db:"side" json:"side"`
	WalletID        uuid.UUID       `db:"wallet_id" json:"wallet_id"`
	UserID          uuid.UUID       `db:"user_id" json:"user_id"`
	Currency        string          `db:"currency" json:"currency"`
	Amount          decimal.Decimal `db:"amount" json:"amount"`
	AmountRemaining decimal.Decimal `db:"amount_remaining" json:"amount_remaining"`
	IsFullyMatched  bool            `db:"is_fully_matched" json:"is_fully_matched"`
	IsCompleted     bool            `db:"is_completed" json:"is_completed"`
	OptedIn         bool            `db:"opted_in" json:"opted_in"`
	OptedInAt       *time.Time      `db:"opted_in_at" json:"opted_in_at"`
	MergeCycleID    uuid.NullUUID   `db:"merge_cycle_id" json:"merge_cycle_id"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	MatchedAt       *time.Time      `db:"matched_at" json:"matched_at"`

	// Re-queue bookkeeping, only ever set on withdrawals whose funder defaulted.
	IsPriority        bool       `db:"is_priority" json:"is_priority"`
	PriorityTimestamp *time.Time `db:"priority_timestamp" json:"priority_timestamp"`
	FailedMatchCount  int        `db:"failed_match_count" json:"failed_match_count"`

	// IsDefaulted marks a funding request whose funder missed a proof deadline. It is
	// terminal: never matched again and never completed.
	IsDefaulted bool `db:"is_defaulted" json:"is_defaulted"`
}

// Outstanding reports whether the request still has something to match.
func (r *Request) Outstanding() bool {
	return !r.IsCompleted && !r.IsDefaulted && r.AmountRemaining.IsPositive()
}

// Closed reports whether the request no longer blocks its owner from opening another.
func (r *Request) Closed() bool {
	return r.IsCompleted || r.IsDefaulted
}

// PartiallyMatched is true once any slice of the request has been paired.
func (r *Request) PartiallyMatched() bool {
	return r.AmountRemaining.LessThan(r.Amount)
}

// Consume takes amount off the remaining balance and flags a full match when it reaches zero.
func (r *Request) Consume(amount decimal.Decimal, cycleID uuid.NullUUID, now time.Time) {
	r.AmountRemaining = r.AmountRemaining.Sub(amount)
	if r.AmountRemaining.IsZero() {
		r.IsFullyMatched = true
		r.IsPriority = false
		r.MatchedAt = &now
		r.MergeCycleID = cycleID
	}
}

// Restore puts amount back onto the request so it re-enters matching.
func (r *Request) Restore(amount decimal.Decimal) {
	r.AmountRemaining = r.AmountRemaining.Add(amount)
	if r.AmountRemaining.GreaterThan(r.Amount) {
		r.AmountRemaining = r.Amount
	}
	r.IsFullyMatched = false
	r.MatchedAt = nil
	r.MergeCycleID = uuid.NullUUID{}
}

// Requeue restores a withdrawal whose funder defaulted and moves it to the head of the next cycle.
func (r *Request) Requeue(amount decimal.Decimal) {
	ts := r.CreatedAt
	if r.OptedInAt != nil {
		ts = *r.OptedInAt
	}
	r.Restore(amount)
	r.IsPriority = true
	r.PriorityTimestamp = &ts
	r.FailedMatchCount++
	r.OptedIn = false
	r.OptedInAt = nil
}

// Settled reports whether a request is done: nothing left to match and every pair that
// still counts toward it confirmed.
func (r *Request) Settled(pairs []MatchPair) bool {
	if r.IsDefaulted || !r.AmountRemaining.IsZero() {
		return false
	}
	for i := range pairs {
		if pairs[i].CountsTowardCompletion() && !pairs[i].ProofConfirmed {
			return false
		}
	}
	return true
}
