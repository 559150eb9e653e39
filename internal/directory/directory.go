package directory

import (
	"context"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// Directory answers the broadcaster's eligibility queries and absorbs
// provider heartbeats. Availability records are owned by the provider
// side; the matching core only reads them, so the directory is never a
// second contention point.
type Directory interface {
	Heartbeat(ctx context.Context, p models.Provider) error
	// Eligible returns providers that are online, seen within the
	// liveness window, and carrying the capability tag. A relaxed query
	// drops the tag filter; that is the expanded re-broadcast pass.
	Eligible(ctx context.Context, tag string, relaxed bool) ([]string, error)
}

// Index is the in-memory directory used by tests and local runs.
type Index struct {
	mu        sync.RWMutex
	providers map[string]models.Provider
	liveness  time.Duration
	now       func() time.Time
}

func NewIndex(liveness time.Duration) *Index {
	return &Index{
		providers: make(map[string]models.Provider),
		liveness:  liveness,
		now:       time.Now,
	}
}

func (x *Index) Heartbeat(ctx context.Context, p models.Provider) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if p.LastSeen.IsZero() {
		p.LastSeen = x.now()
	}
	x.providers[p.ID] = p
	return nil
}

func (x *Index) Eligible(ctx context.Context, tag string, relaxed bool) ([]string, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	cutoff := x.now().Add(-x.liveness)
	out := make([]string, 0)
	for _, p := range x.providers {
		if !live(p, cutoff) {
			continue
		}
		if !relaxed && !p.Has(tag) {
			continue
		}
		out = append(out, p.ID)
	}
	return out, nil
}

// live applies the staleness eviction: a provider not seen within the
// liveness window is treated as offline.
func live(p models.Provider, cutoff time.Time) bool {
	return p.Online && p.LastSeen.After(cutoff)
}
