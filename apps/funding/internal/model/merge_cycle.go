package model

import (
	"time"

	"github.com/google/uuid"
)

type CycleStatus string

const (
	CyclePending    CycleStatus = "pending"
	CycleProcessing CycleStatus = "processing"
	CycleCompleted  CycleStatus = "completed"
	CycleFailed     CycleStatus = "failed"
)

// MergeCycle is one batch matching run. Status only ever moves forward:
// pending -> processing -> completed|failed.
type MergeCycle struct {
	ID               uuid.UUID   `db:"id" json:"id"`
	ScheduledTime    time.Time   `db:"scheduled_time" json:"scheduled_time"`
	CutoffTime       time.Time   `db:"cutoff_time" json:"cutoff_time"`
	JoinWindowCloses time.Time   `db:"join_window_closes" json:"join_window_closes"`
	Status           CycleStatus `db:"status" json:"status"`
	CycleCounters
	StartedAt   *time.Time `db:"started_at" json:"started_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// CycleCounters are the aggregate statistics of a cycle, accumulated per currency batch.
type CycleCounters struct {
	TotalFundingRequests    int `db:"total_funding_requests" json:"total_funding_requests"`
	TotalWithdrawalRequests int `db:"total_withdrawal_requests" json:"total_withdrawal_requests"`
	MatchedPairs            int `db:"matched_pairs" json:"matched_pairs"`
	UnmatchedFunding        int `db:"unmatched_funding" json:"unmatched_funding"`
	UnmatchedWithdrawal     int `db:"unmatched_withdrawal" json:"unmatched_withdrawal"`
	AdminFunded             int `db:"admin_funded" json:"admin_funded"`
	AdminWithdrew           int `db:"admin_withdrew" json:"admin_withdrew"`
}

func (c CycleCounters) Add(o CycleCounters) CycleCounters {
	return CycleCounters{
		TotalFundingRequests:    c.TotalFundingRequests + o.TotalFundingRequests,
		TotalWithdrawalRequests: c.TotalWithdrawalRequests + o.TotalWithdrawalRequests,
		MatchedPairs:            c.MatchedPairs + o.MatchedPairs,
		UnmatchedFunding:        c.UnmatchedFunding + o.UnmatchedFunding,
		UnmatchedWithdrawal:     c.UnmatchedWithdrawal + o.UnmatchedWithdrawal,
		AdminFunded:             c.AdminFunded + o.AdminFunded,
		AdminWithdrew:           c.AdminWithdrew + o.AdminWithdrew,
	}
}
