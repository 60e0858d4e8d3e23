package audit_materializer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"aside/apps/funding/internal/events"
	"aside/apps/funding/internal/repository/memstore"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestProcessMessage_RecordsPairAndRequestTrails(t *testing.T) {
	store := memstore.New()
	am := &AuditMaterializer{logger: zap.NewNop(), audit: store.Audit(), now: time.Now}
	ctx := context.Background()

	data := events.PairData{
		PairID:              uuid.New(),
		FundingRequestID:    uuid.New(),
		WithdrawalRequestID: uuid.New(),
		Currency:            "NAIRA",
		Amount:              decimal.NewFromInt(5000),
	}
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	msg, err := json.Marshal(events.SettlementEvent{
		EventID:       uuid.New(),
		EventType:     events.PairCreated,
		AggregateID:   data.PairID,
		AggregateType: events.AggregatePair,
		OccurredAt:    time.Now(),
		Data:          raw,
	})
	require.NoError(t, err)

	require.NoError(t, am.ProcessMessage(ctx, msg))
	// redelivery does not duplicate
	require.NoError(t, am.ProcessMessage(ctx, msg))

	trail, err := store.Audit().ListByAggregate(ctx, data.PairID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, events.PairCreated, trail[0].EventType)

	for _, id := range []uuid.UUID{data.FundingRequestID, data.WithdrawalRequestID} {
		trail, err := store.Audit().ListByAggregate(ctx, id)
		require.NoError(t, err)
		assert.Len(t, trail, 1)
	}
}

func TestProcessMessage_RejectsGarbage(t *testing.T) {
	am := &AuditMaterializer{logger: zap.NewNop(), audit: memstore.New().Audit(), now: time.Now}
	assert.Error(t, am.ProcessMessage(context.Background(), []byte("not json")))
	assert.Error(t, am.ProcessMessage(context.Background(), []byte(`{"event_type":"pair_created"}`)))
}
