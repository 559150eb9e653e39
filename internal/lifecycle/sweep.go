package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/ride-dispatch/internal/broadcast"
	"github.com/example/ride-dispatch/internal/fanout"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/store"
)

// Sweeper enforces offer deadlines with a scheduled scan instead of
// per-request timers. It writes through the same compare-and-swap path
// as every other actor, so a last-second accept that lands first simply
// wins: the sweep's CAS fails and the request is skipped.
type Sweeper struct {
	Store           store.RequestStore
	Broadcast       *broadcast.Service
	Fanout          fanout.Publisher
	Log             *slog.Logger
	Interval        time.Duration
	MaxRebroadcasts int
	BatchSize       int
}

// Run sweeps until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			expired, rebroadcast := s.SweepOnce(ctx)
			if expired > 0 || rebroadcast > 0 {
				s.Log.Info("sweep", "expired", expired, "rebroadcast", rebroadcast)
			}
		}
	}
}

// SweepOnce handles every request whose offer deadline has passed: one
// relaxed re-broadcast if the retry budget allows, otherwise expiry.
// Stuck requested records (a broadcast that never landed) expire too.
func (s *Sweeper) SweepOnce(ctx context.Context) (expired, rebroadcast int) {
	batch := s.BatchSize
	if batch <= 0 {
		batch = 100
	}
	now := time.Now()

	due, err := s.Store.ListDue(ctx, models.StatusOffered, now, batch)
	if err != nil {
		s.Log.Error("sweep list failed", "status", models.StatusOffered, "error", err)
		return
	}
	for _, r := range due {
		if r.Rebroadcasts < s.MaxRebroadcasts {
			if _, err := s.Broadcast.Broadcast(ctx, r, true); err == nil {
				rebroadcast++
			}
			continue
		}
		if s.expire(ctx, r) {
			expired++
		}
	}

	stuck, err := s.Store.ListDue(ctx, models.StatusRequested, now, batch)
	if err != nil {
		s.Log.Error("sweep list failed", "status", models.StatusRequested, "error", err)
		return
	}
	for _, r := range stuck {
		if s.expire(ctx, r) {
			expired++
		}
	}
	return
}

func (s *Sweeper) expire(ctx context.Context, r *models.Request) bool {
	updated, err := s.Store.CompareAndSwap(ctx, r.ID, r.Version, store.Mutation{Status: models.StatusExpired})
	if errors.Is(err, models.ErrVersionConflict) {
		// another writer beat the sweep; nothing to do
		return false
	}
	if err != nil {
		s.Log.Error("sweep expire failed", "request_id", r.ID, "error", err)
		return false
	}
	observability.RequestsExpired.Inc()
	s.Broadcast.Forget(r.ID)
	_ = s.Fanout.Publish(ctx, r.RequesterID, models.Event{
		RequestID: r.ID,
		Kind:      r.Kind,
		Status:    updated.Status,
		Version:   updated.Version,
		Note:      "offer window elapsed",
		At:        time.Now(),
	})
	return true
}
