package event_publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"aside/apps/funding/internal/events"
	"aside/apps/funding/internal/model"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeOutbox struct {
	pending []model.OutboxEvent
	sent    []uuid.UUID
	failed  []uuid.UUID
}

func (f *fakeOutbox) GetUnsentEventsForProcessing(_ context.Context, limit int) ([]model.OutboxEvent, error) {
	out := f.pending
	f.pending = nil
	return out, nil
}

func (f *fakeOutbox) MarkEventAsSent(_ context.Context, id uuid.UUID) error {
	f.sent = append(f.sent, id)
	return nil
}

func (f *fakeOutbox) MarkEventAsFailed(_ context.Context, id uuid.UUID) error {
	f.failed = append(f.failed, id)
	return nil
}

type fakeSender struct {
	fail     map[string]bool
	messages [][]byte
	keys     []string
}

func (f *fakeSender) send(key, value []byte) error {
	if f.fail[string(key)] {
		return errors.New("broker unavailable")
	}
	f.keys = append(f.keys, string(key))
	f.messages = append(f.messages, value)
	return nil
}

func (f *fakeSender) close() {}

func TestPublishUnsentEvents(t *testing.T) {
	good := model.OutboxEvent{ID: uuid.New(), EventType: events.PairCreated, AggregateID: uuid.New(),
		AggregateType: events.AggregatePair, Payload: json.RawMessage(`{"amount":"5000"}`), OccurredAt: time.Now()}
	bad := model.OutboxEvent{ID: uuid.New(), EventType: events.PairConfirmed, AggregateID: uuid.New(),
		AggregateType: events.AggregatePair, Payload: json.RawMessage(`{}`), OccurredAt: time.Now()}

	outbox := &fakeOutbox{pending: []model.OutboxEvent{good, bad}}
	sender := &fakeSender{fail: map[string]bool{bad.AggregateID.String(): true}}
	ep := newEventPublisher(sender, outbox, zap.NewNop(), nil)
	ep.backoff = func() backoff.BackOff { return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2) }

	require.NoError(t, ep.PublishUnsentEvents(context.Background()))

	assert.Equal(t, []uuid.UUID{good.ID}, outbox.sent)
	assert.Equal(t, []uuid.UUID{bad.ID}, outbox.failed)
	require.Len(t, sender.messages, 1)
	assert.Equal(t, good.AggregateID.String(), sender.keys[0])

	var msg events.SettlementEvent
	require.NoError(t, json.Unmarshal(sender.messages[0], &msg))
	assert.Equal(t, good.ID, msg.EventID)
	assert.Equal(t, events.PairCreated, msg.EventType)
	assert.JSONEq(t, `{"amount":"5000"}`, string(msg.Data))
}
