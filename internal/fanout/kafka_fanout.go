package fanout

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/models"
)

// KafkaEvents writes every fan-out event to the request-events topic,
// keyed by request id so one request's events land on one partition in
// commit order. Downstream consumers get the at-least-once stream.
type KafkaEvents struct {
	writer *kafka.Writer
}

func NewKafkaEvents(brokers []string, topic string) *KafkaEvents {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaEvents{writer: w}
}

func (k *KafkaEvents) Publish(ctx context.Context, recipientID string, ev models.Event) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, err := json.Marshal(map[string]any{"recipient": recipientID, "event": ev})
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(ev.RequestID), Value: b})
}

func (k *KafkaEvents) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
