package event_publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"aside/apps/funding/internal/events"
	"aside/apps/funding/internal/metrics"
	"aside/apps/funding/internal/model"

	"github.com/cenkalti/backoff/v4"
	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	batchSize       = 100
	publishInterval = 3 * time.Second
	publishRetries  = 3
)

// OutboxSource hands out unsent outbox rows and records delivery outcomes.
type OutboxSource interface {
	GetUnsentEventsForProcessing(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkEventAsSent(ctx context.Context, id uuid.UUID) error
	MarkEventAsFailed(ctx context.Context, id uuid.UUID) error
}

// sender delivers one message and waits for the broker acknowledgement.
type sender interface {
	send(key, value []byte) error
	close()
}

type EventPublisher struct {
	logger     *zap.Logger
	sender     sender
	repository OutboxSource
	metrics    *metrics.Metrics
	now        func() time.Time
	backoff    func() backoff.BackOff
	mu         sync.Mutex // one publishing pass at a time per instance
}

func NewEventPublisher(kafkaBroker, kafkaTopic string, logger *zap.Logger, repository OutboxSource, m *metrics.Metrics) (*EventPublisher, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": kafkaBroker,
		"acks":              "all",
		"retries":           3,
		"retry.backoff.ms":  100,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return newEventPublisher(&kafkaSender{producer: producer, topic: kafkaTopic}, repository, logger, m), nil
}

func newEventPublisher(s sender, repository OutboxSource, logger *zap.Logger, m *metrics.Metrics) *EventPublisher {
	return &EventPublisher{
		logger:     logger,
		sender:     s,
		repository: repository,
		metrics:    m,
		now:        time.Now,
		backoff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), publishRetries)
		},
	}
}

// Start publishes on a fixed interval until ctx is cancelled.
func (ep *EventPublisher) Start(ctx context.Context) {
	ticker := time.NewTicker(publishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ep.PublishUnsentEvents(ctx); err != nil {
				ep.logger.Error("Error publishing events to Kafka", zap.Error(err))
			}
		}
	}
}

func (ep *EventPublisher) PublishUnsentEvents(ctx context.Context) error {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	outboxEvents, err := ep.repository.GetUnsentEventsForProcessing(ctx, batchSize)
	if err != nil {
		return fmt.Errorf("failed to claim outbox events: %w", err)
	}

	successCount := 0
	for _, event := range outboxEvents {
		if err := ep.publish(ctx, event); err != nil {
			ep.metrics.EventPublished(false)
			ep.logger.Error("Failed to publish event to Kafka",
				zap.String("event_id", event.ID.String()),
				zap.String("event_type", event.EventType),
				zap.Error(err))
			// back to 'unsent' so the next pass retries it
			if markErr := ep.repository.MarkEventAsFailed(ctx, event.ID); markErr != nil {
				ep.logger.Error("Failed to mark event as failed", zap.String("event_id", event.ID.String()), zap.Error(markErr))
			}
			continue
		}

		ep.metrics.EventPublished(true)
		if err := ep.repository.MarkEventAsSent(ctx, event.ID); err != nil {
			// Delivered but still 'processing'; consumers dedupe on event id.
			ep.logger.Error("Failed to mark event as sent", zap.String("event_id", event.ID.String()), zap.Error(err))
		} else {
			successCount++
		}
	}

	if successCount > 0 {
		ep.logger.Info("Published events to Kafka", zap.Int("success_count", successCount), zap.Int("attempted", len(outboxEvents)))
	}
	return nil
}

func (ep *EventPublisher) publish(ctx context.Context, event model.OutboxEvent) error {
	msg, err := json.Marshal(events.SettlementEvent{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateID:   event.AggregateID,
		AggregateType: event.AggregateType,
		OccurredAt:    event.OccurredAt,
		Data:          event.Payload,
		Timestamp:     ep.now(),
	})
	if err != nil {
		return backoff.Permanent(err)
	}

	// Keyed by aggregate so every transition of one pair lands on the same partition in order.
	key := []byte(event.AggregateID.String())
	op := func() error { return ep.sender.send(key, msg) }
	return backoff.Retry(op, backoff.WithContext(ep.backoff(), ctx))
}

func (ep *EventPublisher) Close() error {
	if ep.sender != nil {
		ep.sender.close()
	}
	return nil
}

type kafkaSender struct {
	producer *kafka.Producer
	topic    string
}

func (k *kafkaSender) send(key, value []byte) error {
	deliveryChan := make(chan kafka.Event, 1)

	err := k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &k.topic, Partition: kafka.PartitionAny},
		Key:            key,
		Value:          value,
	}, deliveryChan)
	if err != nil {
		return err
	}

	e := <-deliveryChan
	switch ev := e.(type) {
	case *kafka.Message:
		return ev.TopicPartition.Error
	default:
		return fmt.Errorf("unexpected kafka event type: %T", e)
	}
}

func (k *kafkaSender) close() {
	k.producer.Flush(5000)
	k.producer.Close()
}
