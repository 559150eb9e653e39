package arbiter

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/ride-dispatch/internal/fanout"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/store"
)

// OfferLog is the broadcaster's view of who was offered a request, used
// only to withdraw the offer from the losers after a win.
type OfferLog interface {
	Offered(requestID string) []string
	Forget(requestID string)
}

// Service resolves concurrent accept attempts into exactly one winner.
//
// The whole policy is first-committer-wins: read the request, make one
// compare-and-swap against the version just read, and on conflict
// re-read only to classify the rejection. The CAS is never retried —
// a retry could steal the slot from a winner decided between the read
// and the retry.
type Service struct {
	Store  store.RequestStore
	Fanout fanout.Publisher
	Offers OfferLog
	Log    *slog.Logger
}

// AttemptAccept records providerID as the winner of requestID, or
// returns models.ErrAlreadyTaken / models.ErrExpired.
func (s *Service) AttemptAccept(ctx context.Context, requestID, providerID string) (*models.Request, error) {
	r, err := s.Store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := acceptable(r); err != nil {
		observability.AcceptAttempts.WithLabelValues(reasonLabel(err)).Inc()
		return nil, err
	}

	updated, err := s.Store.CompareAndSwap(ctx, requestID, r.Version, store.Mutation{
		Status:     models.StatusAccepted,
		ProviderID: &providerID,
	})
	if errors.Is(err, models.ErrVersionConflict) {
		// someone else committed between our read and our write: observe
		// the post-state and fail cleanly, no second attempt
		post, rerr := s.Store.Get(ctx, requestID)
		if rerr != nil {
			return nil, rerr
		}
		cerr := acceptable(post)
		if cerr == nil {
			// the racing write kept the request open (a re-broadcast);
			// still a loss for this attempt
			cerr = models.ErrAlreadyTaken
		}
		observability.AcceptAttempts.WithLabelValues(reasonLabel(cerr)).Inc()
		return nil, cerr
	}
	if err != nil {
		return nil, err
	}

	observability.AcceptAttempts.WithLabelValues("accepted").Inc()
	s.Log.Info("request accepted", "request_id", requestID, "provider_id", providerID, "version", updated.Version)

	s.notify(ctx, updated.RequesterID, updated, "provider assigned")
	s.notify(ctx, providerID, updated, "accepted")
	for _, loser := range s.Offers.Offered(requestID) {
		if loser == providerID {
			continue
		}
		s.notify(ctx, loser, updated, "offer withdrawn")
	}
	s.Offers.Forget(requestID)
	return updated, nil
}

// acceptable reports whether the request is still open to acceptance,
// classifying the rejection otherwise.
func acceptable(r *models.Request) error {
	if r.ProviderID != "" {
		return models.ErrAlreadyTaken
	}
	switch r.Status {
	case models.StatusRequested, models.StatusOffered:
		return nil
	case models.StatusExpired, models.StatusCancelled:
		return models.ErrExpired
	default:
		return models.ErrAlreadyTaken
	}
}

func reasonLabel(err error) string {
	switch {
	case errors.Is(err, models.ErrExpired):
		return "expired"
	default:
		return "already_taken"
	}
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
