package audit_materializer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"aside/apps/funding/internal/events"
	"aside/apps/funding/internal/model"
	"aside/apps/funding/internal/repository"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuditMaterializer consumes settlement events and keeps the per-aggregate audit trail.
type AuditMaterializer struct {
	logger        *zap.Logger
	kafkaConsumer *kafka.Consumer
	audit         repository.AuditRepository
	kafkaTopic    string
	now           func() time.Time
}

func NewAuditMaterializer(kafkaBroker, kafkaTopic string, logger *zap.Logger, audit repository.AuditRepository) (*AuditMaterializer, error) {
	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers": kafkaBroker,
		"group.id":          "settlement-audit-materializer",
		"auto.offset.reset": "earliest",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}

	return &AuditMaterializer{
		logger:        logger,
		kafkaConsumer: consumer,
		audit:         audit,
		kafkaTopic:    kafkaTopic,
		now:           time.Now,
	}, nil
}

// Start consumes until ctx is cancelled.
func (am *AuditMaterializer) Start(ctx context.Context) error {
	am.logger.Info("Starting audit materializer", zap.String("topic", am.kafkaTopic))

	if err := am.kafkaConsumer.Subscribe(am.kafkaTopic, nil); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", am.kafkaTopic, err)
	}

	for ctx.Err() == nil {
		msg, err := am.kafkaConsumer.ReadMessage(time.Second)
		if err != nil {
			var kerr kafka.Error
			if errors.As(err, &kerr) && kerr.Code() == kafka.ErrTimedOut {
				continue
			}
			am.logger.Error("Error reading message from Kafka", zap.Error(err))
			continue
		}

		if err := am.ProcessMessage(ctx, msg.Value); err != nil {
			am.logger.Error("Error processing message",
				zap.String("topic", *msg.TopicPartition.Topic),
				zap.Int32("partition", msg.TopicPartition.Partition),
				zap.String("key", string(msg.Key)),
				zap.Error(err))
		}
	}
	return nil
}

// ProcessMessage records one published settlement event. Redelivery is harmless.
func (am *AuditMaterializer) ProcessMessage(ctx context.Context, value []byte) error {
	var event events.SettlementEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal settlement event: %w", err)
	}
	if event.EventID == uuid.Nil || event.AggregateID == uuid.Nil {
		return fmt.Errorf("settlement event %q is missing identifiers", event.EventType)
	}

	am.logger.Info("Processing settlement event",
		zap.String("event_type", event.EventType),
		zap.String("aggregate_type", event.AggregateType),
		zap.String("aggregate_id", event.AggregateID.String()))

	entry := &model.AuditEntry{
		EventID:       event.EventID,
		AggregateID:   event.AggregateID,
		AggregateType: event.AggregateType,
		EventType:     event.EventType,
		Payload:       event.Data,
		OccurredAt:    event.OccurredAt,
		RecordedAt:    am.now(),
	}
	if len(entry.Payload) == 0 {
		entry.Payload = json.RawMessage(`{}`)
	}
	if err := am.audit.Record(ctx, entry); err != nil {
		return err
	}

	// A pair event also belongs to the trail of both requests it links.
	if event.AggregateType == events.AggregatePair {
		var data events.PairData
		if err := json.Unmarshal(event.Data, &data); err == nil {
			for _, requestID := range []uuid.UUID{data.FundingRequestID, data.WithdrawalRequestID} {
				if requestID == uuid.Nil {
					continue
				}
				linked := *entry
				linked.EventID = uuid.NewSHA1(event.EventID, requestID[:])
				linked.AggregateID = requestID
				linked.AggregateType = events.AggregateRequest
				if err := am.audit.Record(ctx, &linked); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (am *AuditMaterializer) Close() error {
	if am.kafkaConsumer != nil {
		return am.kafkaConsumer.Close()
	}
	return nil
}
