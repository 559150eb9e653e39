package fanout

import (
	"sync"

	"github.com/example/ride-dispatch/internal/models"
)

// Applier is the consumer-side idempotence guard. Delivery is
// at-least-once and each event carries the full current status tagged
// with the committed version, so the stream is last-value-wins: an
// event is applied only if its version exceeds the last applied version
// for that request. Duplicates and stale reorderings are discarded.
type Applier struct {
	mu   sync.Mutex
	last map[string]int64 // request id -> last applied version
}

func NewApplier() *Applier {
	return &Applier{last: make(map[string]int64)}
}

// Apply reports whether the event advanced local state. A false return
// means the event was a duplicate or older than what was already seen.
func (a *Applier) Apply(ev models.Event) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ev.Version <= a.last[ev.RequestID] {
		return false
	}
	a.last[ev.RequestID] = ev.Version
	return true
}
