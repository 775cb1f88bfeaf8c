package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes JSON summaries keyed by campaign ID
type KafkaSink struct {
	writer messageWriter
}

// NewKafka creates a Kafka sink for topic
func NewKafka(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			BatchTimeout:           5 * time.Millisecond,
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
	}
}

// Name implements Sink
func (k *KafkaSink) Name() string {
	return "kafka"
}

// Notify implements Sink
func (k *KafkaSink) Notify(ctx context.Context, s Summary) error {
	value, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(s.CampaignID),
		Value: value,
		Time:  s.FinishedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to publish summary to kafka: %w", err)
	}
	return nil
}

// Close flushes and closes the writer
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
