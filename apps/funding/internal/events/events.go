package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"aside/apps/funding/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	PairCreated              = "pair_created"
	ProofUploaded            = "proof_uploaded"
	ExtensionGranted         = "extension_granted"
	PairConfirmed            = "pair_confirmed"
	FunderMissedDeadline     = "funder_missed_deadline"
	WithdrawerMissedDeadline = "withdrawer_missed_deadline"
	DisputeResolved          = "dispute_resolved"
	PoolAbsorbed             = "pool_absorbed"
	PoolPaidOut              = "pool_paid_out"
	CycleCompleted           = "cycle_completed"
	CycleFailed              = "cycle_failed"
)

const (
	AggregatePair    = "match_pair"
	AggregateRequest = "request"
	AggregateCycle   = "merge_cycle"
)

// SettlementEvent is the message published to Kafka for every outbox row.
type SettlementEvent struct {
	EventID       uuid.UUID       `json:"event_id"`
	EventType     string          `json:"event_type"`
	AggregateID   uuid.UUID       `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Data          json.RawMessage `json:"data"`
	Timestamp     time.Time       `json:"timestamp"`
}

type PairData struct {
	PairID              uuid.UUID       `json:"pair_id"`
	FundingRequestID    uuid.UUID       `json:"funding_request_id"`
	WithdrawalRequestID uuid.UUID       `json:"withdrawal_request_id"`
	MergeCycleID        uuid.UUID       `json:"merge_cycle_id"`
	Currency            string          `json:"currency"`
	Amount              decimal.Decimal `json:"amount"`
	State               model.PairState `json:"state"`
	Deadline            *time.Time      `json:"deadline,omitempty"`
	Reason              string          `json:"reason,omitempty"`
}

func NewPairData(p *model.MatchPair, reason string) PairData {
	d := PairData{
		PairID:              p.ID,
		FundingRequestID:    p.FundingRequestID,
		WithdrawalRequestID: p.WithdrawalRequestID,
		MergeCycleID:        p.MergeCycleID,
		Currency:            p.Currency,
		Amount:              p.Amount,
		State:               p.State(),
		Reason:              reason,
	}
	switch d.State {
	case model.StateAwaitingProof:
		deadline := p.EffectiveProofDeadline()
		d.Deadline = &deadline
	case model.StateAwaitingConfirmation:
		d.Deadline = p.ConfirmationDeadline
	}
	return d
}

type PoolData struct {
	RequestID   uuid.UUID       `json:"request_id"`
	Side        model.Side      `json:"side"`
	Currency    string          `json:"currency"`
	Amount      decimal.Decimal `json:"amount"`
	PoolBalance decimal.Decimal `json:"pool_balance"`
	CycleID     *uuid.UUID      `json:"merge_cycle_id,omitempty"`
}

type CycleData struct {
	CycleID       uuid.UUID           `json:"merge_cycle_id"`
	ScheduledTime time.Time           `json:"scheduled_time"`
	Counters      model.CycleCounters `json:"counters"`
	FailedBatches []string            `json:"failed_currencies,omitempty"`
}

// Writer is the part of the outbox events are appended to.
type Writer interface {
	Append(ctx context.Context, e *model.OutboxEvent) error
}

// Record serialises data and appends it to the outbox of the current transaction.
func Record(ctx context.Context, w Writer, eventType, aggregateType string, aggregateID uuid.UUID, data any, now time.Time) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}
	return w.Append(ctx, &model.OutboxEvent{
		ID:            uuid.New(),
		EventType:     eventType,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Payload:       payload,
		OccurredAt:    now,
		CreatedAt:     now,
	})
}

// RecordPair is Record for pair transitions.
func RecordPair(ctx context.Context, w Writer, eventType string, p *model.MatchPair, reason string, now time.Time) error {
	return Record(ctx, w, eventType, AggregatePair, p.ID, NewPairData(p, reason), now)
}
