package fanout

import (
	"context"
	"log/slog"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

// Publisher pushes one lifecycle event at a recipient. Delivery is
// at-least-once and fire-and-forget; consumers deduplicate by
// (request_id, status) and version (see Applier).
type Publisher interface {
	Publish(ctx context.Context, recipientID string, ev models.Event) error
}

// Multi fans one event out over several channels (websocket, kafka
// event log, HTTP push gateway). Each channel is best-effort: a failed
// channel is logged and counted, never propagated, so a dead push
// gateway cannot block a state transition.
type Multi struct {
	channels map[string]Publisher
	log      *slog.Logger
}

func NewMulti(log *slog.Logger) *Multi {
	return &Multi{channels: make(map[string]Publisher), log: log}
}

func (m *Multi) Add(name string, p Publisher) {
	if p == nil {
		return
	}
	m.channels[name] = p
}

func (m *Multi) Publish(ctx context.Context, recipientID string, ev models.Event) error {
	for name, ch := range m.channels {
		if err := ch.Publish(ctx, recipientID, ev); err != nil {
			m.log.Warn("fanout publish failed",
				"channel", name, "recipient", recipientID,
				"request_id", ev.RequestID, "status", ev.Status, "error", err)
			continue
		}
		observability.EventsPublished.WithLabelValues(name).Inc()
	}
	return nil
}

// Nop discards events; used in tests that only exercise store behavior.
type Nop struct{}

func (Nop) Publish(ctx context.Context, recipientID string, ev models.Event) error { return nil }
