package store

import (
	"context"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// Mutation describes the fields a compare-and-swap may change. Nil
// pointers leave the current value untouched. Version and UpdatedAt are
// managed by the store and never settable from outside.
type Mutation struct {
	Status         models.Status
	ProviderID     *string
	CancelledBy    *string
	OfferExpiresAt *time.Time
	Rebroadcasts   *int
}

// RequestStore is the single serialization point of the system. All
// state-affecting writes go through CompareAndSwap; no component may
// blind-write a request.
type RequestStore interface {
	Create(ctx context.Context, r *models.Request) error
	Get(ctx context.Context, id string) (*models.Request, error)
	// CompareAndSwap applies mut only if the stored version equals
	// expectedVersion, bumping the version by one. It returns the
	// post-write record, or models.ErrVersionConflict / models.ErrNotFound.
	CompareAndSwap(ctx context.Context, id string, expectedVersion int64, mut Mutation) (*models.Request, error)
	// ListDue returns requests in the given status whose offer deadline
	// passed before the cutoff. Backs the expiry sweep.
	ListDue(ctx context.Context, status models.Status, before time.Time, limit int) ([]*models.Request, error)
	// ListByRequester returns a requester's requests, newest first.
	ListByRequester(ctx context.Context, requesterID string, limit int) ([]*models.Request, error)
}

// MemoryStore keeps requests in a map. It backs tests and local runs
// behind the same interface as postgres; there are no demo-mode
// branches anywhere else.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*models.Request
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[string]*models.Request)}
}

func (m *MemoryStore) Create(ctx context.Context, r *models.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.requests[r.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*models.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) CompareAndSwap(ctx context.Context, id string, expectedVersion int64, mut Mutation) (*models.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if r.Version != expectedVersion {
		return nil, models.ErrVersionConflict
	}
	r.Status = mut.Status
	if mut.ProviderID != nil {
		r.ProviderID = *mut.ProviderID
	}
	if mut.CancelledBy != nil {
		r.CancelledBy = *mut.CancelledBy
	}
	if mut.OfferExpiresAt != nil {
		r.OfferExpiresAt = *mut.OfferExpiresAt
	}
	if mut.Rebroadcasts != nil {
		r.Rebroadcasts = *mut.Rebroadcasts
	}
	r.Version++
	r.UpdatedAt = time.Now()
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) ListDue(ctx context.Context, status models.Status, before time.Time, limit int) ([]*models.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Request, 0)
	for _, r := range m.requests {
		if r.Status != status || !r.OfferExpiresAt.Before(before) {
			continue
		}
		cp := *r
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) ListByRequester(ctx context.Context, requesterID string, limit int) ([]*models.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Request, 0)
	for _, r := range m.requests {
		if r.RequesterID != requesterID {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	// newest first
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].CreatedAt.After(out[i].CreatedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
