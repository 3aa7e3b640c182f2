package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/fleetload/internal/domain"
)

type recordingWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaEmitterPublishesTerminalEvent(t *testing.T) {
	writer := &recordingWriter{}
	emitter := newKafkaEmitter(writer, "fleetload.batches", nil)

	batch := domain.Batch{
		ID:             uuid.New(),
		OrganizationID: uuid.New(),
		EntityType:     domain.EntityTypeVehicle,
		Status:         domain.BatchStatusCompleted,
		FindingCount:   2,
		BatchCounters:  domain.BatchCounters{TotalRows: 3, ValidCount: 3, CreatedCount: 3},
	}
	require.NoError(t, emitter.Emit(context.Background(), batch))
	require.Len(t, writer.messages, 1)

	msg := writer.messages[0]
	assert.Equal(t, batch.ID.String(), string(msg.Key))

	var evt BatchEvent
	require.NoError(t, json.Unmarshal(msg.Value, &evt))
	assert.Equal(t, "batch.completed", evt.Type)
	assert.Equal(t, 3, evt.Counters.CreatedCount)
	assert.Equal(t, 2, evt.FindingCount)

	require.NoError(t, emitter.Close())
	assert.True(t, writer.closed)
}

func TestKafkaEmitterReturnsWriteErrors(t *testing.T) {
	emitter := newKafkaEmitter(&recordingWriter{err: errors.New("broker down")}, "t", nil)
	err := emitter.Emit(context.Background(), domain.Batch{Status: domain.BatchStatusFailed})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch.failed")
}

func TestEventTypeNames(t *testing.T) {
	assert.Equal(t, "batch.validation_errors", EventType(domain.BatchStatusValidationErrors))
}
