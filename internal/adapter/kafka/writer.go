package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/spc-outlook-service/internal/config"
	"github.com/couchcryptid/spc-outlook-service/internal/domain"
	"github.com/couchcryptid/storm-data-shared/retry"
	kafkago "github.com/segmentio/kafka-go"
)

const (
	maxWriteAttempts  = 3
	initialBackoff    = 200 * time.Millisecond
	maxBackoffBetween = 2 * time.Second
)

// messageWriter is the subset of *kafkago.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// SnapshotWriter publishes outlook snapshots to a Kafka topic.
// It implements pipeline.SnapshotSink.
type SnapshotWriter struct {
	writer messageWriter
	logger *slog.Logger
}

// NewSnapshotWriter creates a Kafka producer for the configured snapshot topic.
func NewSnapshotWriter(cfg *config.Config, logger *slog.Logger) *SnapshotWriter {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSnapshotTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &SnapshotWriter{writer: w, logger: logger}
}

// PublishSnapshot serializes and writes one snapshot, keyed by coordinate so
// every snapshot for a location lands on the same partition. Transient write
// failures are retried with backoff while ctx allows.
func (w *SnapshotWriter) PublishSnapshot(ctx context.Context, snap domain.Snapshot) error {
	msg, err := serializeToMessage(snap)
	if err != nil {
		return err
	}

	backoff := initialBackoff
	for attempt := 1; ; attempt++ {
		err = w.writer.WriteMessages(ctx, msg)
		if err == nil {
			return nil
		}
		if attempt >= maxWriteAttempts || ctx.Err() != nil {
			return fmt.Errorf("publish snapshot %s: %w", snap.CycleID, err)
		}
		w.logger.Warn("snapshot write failed, retrying", "attempt", attempt, "error", err)
		if !retry.SleepWithContext(ctx, backoff) {
			return fmt.Errorf("publish snapshot %s: %w", snap.CycleID, ctx.Err())
		}
		backoff = retry.NextBackoff(backoff, maxBackoffBetween)
	}
}

func (w *SnapshotWriter) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a Snapshot into a Kafka message.
func serializeToMessage(snap domain.Snapshot) (kafkago.Message, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize snapshot: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(snap.Coordinate.String()),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "freshness", Value: []byte(snap.Freshness)},
			{Key: "generated_at", Value: []byte(snap.GeneratedAt.Format(time.RFC3339))},
		},
	}, nil
}
