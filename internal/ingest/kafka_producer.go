package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/models"
)

// HeartbeatProducer publishes provider availability heartbeats to the
// provider-heartbeats topic, keyed by provider id. The heartbeat
// consumer folds them into the Redis directory.
type HeartbeatProducer struct {
	writer *kafka.Writer
}

func NewHeartbeatProducer(brokers []string, topic string) *HeartbeatProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &HeartbeatProducer{writer: w}
}

func (h *HeartbeatProducer) PublishHeartbeat(p models.Provider) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return h.writer.WriteMessages(ctx, kafka.Message{Key: []byte(p.ID), Value: b})
}

func (h *HeartbeatProducer) Close() error {
	if h.writer == nil {
		return nil
	}
	return h.writer.Close()
}
