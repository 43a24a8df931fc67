package notifications

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/segmentio/kafka-go"
)

// Sink mirrors events to a secondary channel. Sink failures are logged and
// never affect webhook delivery.
type Sink interface {
	Publish(ctx context.Context, key string, ev Event) error
	Close() error
}

// KafkaSink writes events to a Kafka topic, keyed by document or injury key
// so one entity's events stay in one partition.
type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaSink creates a sink for topic on brokers. Returns nil when no
// brokers are configured.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	if len(brokers) == 0 || strings.TrimSpace(topic) == "" {
		return nil
	}
	return &KafkaSink{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}}
}

// Publish implements Sink.
func (k *KafkaSink) Publish(ctx context.Context, key string, ev Event) error {
	value, err := sonic.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(key),
		Value:   value,
		Time:    ev.SentAt,
		Headers: []kafka.Header{{Key: "event", Value: []byte(ev.Name)}},
	}); err != nil {
		return fmt.Errorf("publish %s to kafka: %w", ev.Name, err)
	}
	return nil
}

// Close flushes pending messages.
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
