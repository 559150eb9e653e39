package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/ride-dispatch/internal/fanout"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/store"
)

// Action is a provider/requester verb against an active request.
type Action string

const (
	ActionArrive   Action = "arrive"
	ActionStart    Action = "start"
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"
)

func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionArrive, ActionStart, ActionComplete, ActionCancel:
		return Action(s), nil
	}
	return "", fmt.Errorf("%w: unknown action %q", models.ErrInvalidTransition, s)
}

// Payments is the external collaborator invoked after completion. The
// machine does not wait on it to finalize the terminal status.
type Payments interface {
	Charge(ctx context.Context, requestID string, amount int64, payerID, payeeID string) error
}

// OfferLog lets the machine drop ephemeral offers once a request leaves
// the offer window.
type OfferLog interface {
	Forget(requestID string)
}

// Machine enforces the legal status transitions. Every transition is a
// compare-and-swap on (id, version); a stale version is reported as
// models.ErrVersionConflict for the caller to re-read, except when the
// re-read shows a terminal state, which is surfaced as
// models.ErrAlreadyTerminal instead of being silently dropped.
type Machine struct {
	Store    store.RequestStore
	Fanout   fanout.Publisher
	Offers   OfferLog
	Payments Payments
	Log      *slog.Logger
}

// Transition applies action on behalf of actorID.
func (m *Machine) Transition(ctx context.Context, id, actorID string, action Action) (*models.Request, error) {
	r, err := m.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status.Terminal() {
		m.count(action, "already_terminal")
		return nil, models.ErrAlreadyTerminal
	}
	if err := authorize(r, actorID, action); err != nil {
		m.count(action, "not_participant")
		return nil, err
	}
	next, err := target(r.Kind, r.Status, action)
	if err != nil {
		m.count(action, "invalid")
		return nil, err
	}

	mut := store.Mutation{Status: next}
	if action == ActionCancel {
		by := attribution(r, actorID)
		mut.CancelledBy = &by
	}
	updated, err := m.Store.CompareAndSwap(ctx, id, r.Version, mut)
	if errors.Is(err, models.ErrVersionConflict) {
		post, rerr := m.Store.Get(ctx, id)
		if rerr != nil {
			return nil, rerr
		}
		if post.Status.Terminal() {
			m.count(action, "already_terminal")
			return nil, models.ErrAlreadyTerminal
		}
		m.count(action, "conflict")
		return nil, models.ErrVersionConflict
	}
	if err != nil {
		return nil, err
	}

	m.count(action, "ok")
	m.Log.Info("transition committed",
		"request_id", id, "action", action, "status", updated.Status,
		"actor_id", actorID, "version", updated.Version)

	m.notify(ctx, updated.RequesterID, updated, string(action))
	if updated.ProviderID != "" {
		m.notify(ctx, updated.ProviderID, updated, string(action))
	}
	if updated.Status.Terminal() && m.Offers != nil {
		m.Offers.Forget(id)
	}
	if updated.Status == models.StatusCompleted && m.Payments != nil {
		go m.charge(updated)
	}
	return updated, nil
}

// target is the transition table. Food orders skip arrived: the start
// action (preparing/picked up) is legal straight from accepted.
func target(kind models.Kind, from models.Status, action Action) (models.Status, error) {
	switch action {
	case ActionCancel:
		return models.StatusCancelled, nil
	case ActionArrive:
		if kind == models.KindRide && from == models.StatusAccepted {
			return models.StatusArrived, nil
		}
	case ActionStart:
		switch kind {
		case models.KindRide:
			if from == models.StatusArrived {
				return models.StatusInProgress, nil
			}
		case models.KindFood:
			if from == models.StatusAccepted || from == models.StatusArrived {
				return models.StatusInProgress, nil
			}
		}
	case ActionComplete:
		if from == models.StatusInProgress {
			return models.StatusCompleted, nil
		}
	}
	return "", fmt.Errorf("%w: %s from %s", models.ErrInvalidTransition, action, from)
}

// authorize restricts actions to the recorded actor pairing: provider
// verbs to the assigned provider, cancellation to either party.
func authorize(r *models.Request, actorID string, action Action) error {
	switch action {
	case ActionCancel:
		if actorID == r.RequesterID {
			return nil
		}
		if r.ProviderID != "" && actorID == r.ProviderID {
			return nil
		}
		return models.ErrNotParticipant
	default:
		if r.ProviderID == "" || actorID != r.ProviderID {
			return models.ErrNotParticipant
		}
		return nil
	}
}

// attribution records which side cancelled, for downstream accounting.
func attribution(r *models.Request, actorID string) string {
	if actorID == r.RequesterID {
		return "requester"
	}
	return "provider"
}

func (m *Machine) charge(r *models.Request) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	amount := r.Terms.Amount(r.Kind)
	if err := m.Payments.Charge(ctx, r.ID, amount, r.RequesterID, r.ProviderID); err != nil {
		m.Log.Error("payment charge failed", "request_id", r.ID, "amount", amount, "error", err)
	}
}

func (m *Machine) count(action Action, outcome string) {
	observability.Transitions.WithLabelValues(string(action), outcome).Inc()
}

func (m *Machine) notify(ctx context.Context, recipientID string, r *models.Request, note string) {
	_ = m.Fanout.Publish(ctx, recipientID, models.Event{
		RequestID:  r.ID,
		Kind:       r.Kind,
		Status:     r.Status,
		Version:    r.Version,
		ProviderID: r.ProviderID,
		Note:       note,
		At:         time.Now(),
	})
}
