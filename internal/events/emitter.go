// Package events publishes batch lifecycle events for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/rpattn/fleetload/internal/domain"
	"github.com/rpattn/fleetload/internal/metrics"
)

// BatchEvent is emitted once when a batch reaches a terminal status.
type BatchEvent struct {
	Type           string               `json:"type"`
	BatchID        string               `json:"batch_id"`
	OrganizationID string               `json:"organization_id"`
	EntityType     domain.EntityType    `json:"entity_type"`
	Status         domain.BatchStatus   `json:"status"`
	Counters       domain.BatchCounters `json:"counters"`
	FindingCount   int                  `json:"finding_count"`
	Timestamp      time.Time            `json:"timestamp"`
}

// EventType returns "batch.<status>" for a terminal status.
func EventType(status domain.BatchStatus) string {
	return "batch." + string(status)
}

// NewBatchEvent builds the lifecycle event for a batch.
func NewBatchEvent(batch domain.Batch) BatchEvent {
	return BatchEvent{
		Type:           EventType(batch.Status),
		BatchID:        batch.ID.String(),
		OrganizationID: batch.OrganizationID.String(),
		EntityType:     batch.EntityType,
		Status:         batch.Status,
		Counters:       batch.BatchCounters,
		FindingCount:   batch.FindingCount,
		Timestamp:      time.Now().UTC(),
	}
}

// Emitter publishes lifecycle events.
type Emitter interface {
	Emit(ctx context.Context, batch domain.Batch) error
	Close() error
}

// Nop discards events. It is used when no brokers are configured.
type Nop struct{}

func (Nop) Emit(context.Context, domain.Batch) error { return nil }
func (Nop) Close() error                             { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaEmitter writes lifecycle events to a kafka topic keyed by batch ID.
type KafkaEmitter struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

// NewKafkaEmitter creates a synchronous writer for the given brokers and topic.
func NewKafkaEmitter(brokers []string, topic string, logger *zap.Logger) *KafkaEmitter {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              10,
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return newKafkaEmitter(writer, topic, logger)
}

func newKafkaEmitter(writer messageWriter, topic string, logger *zap.Logger) *KafkaEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaEmitter{writer: writer, topic: topic, logger: logger}
}

// Emit publishes the batch's terminal event.
func (e *KafkaEmitter) Emit(ctx context.Context, batch domain.Batch) error {
	evt := NewBatchEvent(batch)
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal batch event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(evt.BatchID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(evt.Type)},
			{Key: "organization_id", Value: []byte(evt.OrganizationID)},
			{Key: "entity_type", Value: []byte(evt.EntityType)},
		},
	}
	if err := e.writer.WriteMessages(ctx, msg); err != nil {
		metrics.RecordEventPublish(evt.Type, "error")
		e.logger.Error("failed to publish batch event",
			zap.String("topic", e.topic),
			zap.String("batch_id", evt.BatchID),
			zap.Error(err),
		)
		return fmt.Errorf("publish %s: %w", evt.Type, err)
	}
	metrics.RecordEventPublish(evt.Type, "ok")
	e.logger.Debug("published batch event", zap.String("type", evt.Type), zap.String("batch_id", evt.BatchID))
	return nil
}

// Close flushes and closes the writer.
func (e *KafkaEmitter) Close() error {
	return e.writer.Close()
}
