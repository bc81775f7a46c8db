package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Kafka writes one JSON record per event, keyed by job id so a job's
// events stay ordered within a partition.
type Kafka struct {
	writer *kafka.Writer
}

// NewKafka builds a producer for topic. The writer connects lazily.
func NewKafka(brokers []string, topic string, timeout time.Duration) *Kafka {
	return &Kafka{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: timeout,
	}}
}

// Name implements Sink.
func (k *Kafka) Name() string { return "kafka" }

// Publish implements Sink.
func (k *Kafka) Publish(ctx context.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode kafka event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(event.JobID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(event.Kind)},
			{Key: "correlation_id", Value: []byte(event.CorrelationID)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write kafka message: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
