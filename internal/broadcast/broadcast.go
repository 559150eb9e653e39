package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/fanout"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/store"
)

// Service computes the eligible provider set for a request and fans the
// offer out. If nobody can see the request it expires immediately
// rather than leaving the requester waiting on a dead offer window.
type Service struct {
	Store       store.RequestStore
	Directory   Directory
	Fanout      fanout.Publisher
	Log         *slog.Logger
	OfferWindow time.Duration

	// offers is the ephemeral (requestId, providerId) log. Not
	// authoritative: it only bounds the "offer withdrawn" fan-out and
	// could be rebuilt from the event stream.
	mu     sync.Mutex
	offers map[string][]string
}

// Directory is the subset of the provider directory the broadcaster reads.
type Directory interface {
	Eligible(ctx context.Context, tag string, relaxed bool) ([]string, error)
}

func New(s store.RequestStore, d Directory, f fanout.Publisher, log *slog.Logger, window time.Duration) *Service {
	return &Service{
		Store:       s,
		Directory:   d,
		Fanout:      f,
		Log:         log,
		OfferWindow: window,
		offers:      make(map[string][]string),
	}
}

// Broadcast moves the request into offered and notifies every eligible
// provider. The relaxed pass is the single bounded retry: capability
// matching is dropped, only online+live remains. Returns the set of
// providers offered to; an empty set means the request expired.
func (s *Service) Broadcast(ctx context.Context, req *models.Request, relaxed bool) ([]string, error) {
	tag := req.Terms.MatchTag(req.Kind)
	eligible, err := s.Directory.Eligible(ctx, tag, relaxed)
	if err != nil {
		return nil, err
	}

	if len(eligible) == 0 {
		// fail fast: nobody can see this request
		updated, err := s.Store.CompareAndSwap(ctx, req.ID, req.Version, store.Mutation{Status: models.StatusExpired})
		if err != nil {
			return nil, err
		}
		observability.RequestsExpired.Inc()
		s.Log.Info("request expired on broadcast", "request_id", req.ID, "kind", req.Kind, "relaxed", relaxed)
		s.notify(ctx, req.RequesterID, updated, "no providers available")
		return nil, nil
	}

	deadline := time.Now().Add(s.OfferWindow)
	mut := store.Mutation{Status: models.StatusOffered, OfferExpiresAt: &deadline}
	if relaxed {
		n := req.Rebroadcasts + 1
		mut.Rebroadcasts = &n
	}
	updated, err := s.Store.CompareAndSwap(ctx, req.ID, req.Version, mut)
	if err != nil {
		// a racing accept or cancel got there first; their fan-out stands
		return nil, err
	}

	s.mu.Lock()
	s.offers[req.ID] = eligible
	s.mu.Unlock()

	for _, providerID := range eligible {
		observability.OffersBroadcast.Inc()
		s.notify(ctx, providerID, updated, "offer")
	}
	s.notify(ctx, req.RequesterID, updated, "searching providers")
	s.Log.Info("request broadcast", "request_id", req.ID, "providers", len(eligible), "relaxed", relaxed)
	return eligible, nil
}

// Offered returns the providers the request was last broadcast to.
func (s *Service) Offered(requestID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offers[requestID]
}

// Forget drops the ephemeral offer log once a request leaves the offer
// window (accepted or terminal).
func (s *Service) Forget(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.offers, requestID)
}

func (s *Service) notify(ctx context.Context, recipientID string, r *models.Request, note string) {
	_ = s.Fanout.Publish(ctx, recipientID, models.Event{
		RequestID:  r.ID,
		Kind:       r.Kind,
		Status:     r.Status,
		Version:    r.Version,
		ProviderID: r.ProviderID,
		Note:       note,
		At:         time.Now(),
	})
}
