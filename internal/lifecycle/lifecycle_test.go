package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/fanout"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/store"
)

type recPayments struct{ charged chan string }

func (p *recPayments) Charge(ctx context.Context, requestID string, amount int64, payerID, payeeID string) error {
	p.charged <- requestID
	return nil
}

type nopOffers struct{}

func (nopOffers) Forget(requestID string) {}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMachine(st store.RequestStore) *Machine {
	return &Machine{Store: st, Fanout: fanout.Nop{}, Offers: nopOffers{}, Log: testLogger()}
}

func acceptedRequest(t *testing.T, st store.RequestStore, kind models.Kind) *models.Request {
	t.Helper()
	now := time.Now()
	terms := models.Terms{Origin: "a", Destination: "b", VehicleType: "moto", OfferPrice: 5000}
	if kind == models.KindFood {
		terms = models.Terms{RestaurantID: "rest1", Items: []models.LineItem{{Name: "x", Qty: 1, Price: 100}}, TotalAmount: 100}
	}
	r := &models.Request{
		ID:             "req1",
		Kind:           kind,
		RequesterID:    "rider1",
		ProviderID:     "prov1",
		Status:         models.StatusAccepted,
		OfferExpiresAt: now.Add(time.Minute),
		Terms:          terms,
		Version:        3,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := st.Create(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	return r
}

func TestTransition_RideHappyPath(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	m := newMachine(st)
	acceptedRequest(t, st, models.KindRide)

	steps := []struct {
		action Action
		want   models.Status
	}{
		{ActionArrive, models.StatusArrived},
		{ActionStart, models.StatusInProgress},
		{ActionComplete, models.StatusCompleted},
	}
	for _, s := range steps {
		got, err := m.Transition(ctx, "req1", "prov1", s.action)
		if err != nil {
			t.Fatalf("%s: %v", s.action, err)
		}
		if got.Status != s.want {
			t.Fatalf("%s: got %s want %s", s.action, got.Status, s.want)
		}
	}
}

// Food skips arrived: start is legal straight from accepted, arrive is not.
func TestTransition_FoodSkipsArrived(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	m := newMachine(st)
	acceptedRequest(t, st, models.KindFood)

	if _, err := m.Transition(ctx, "req1", "prov1", ActionArrive); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition for food arrive, got %v", err)
	}
	got, err := m.Transition(ctx, "req1", "prov1", ActionStart)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusInProgress {
		t.Fatalf("got %s", got.Status)
	}
}

func TestTransition_RideCannotStartBeforeArrive(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	m := newMachine(st)
	acceptedRequest(t, st, models.KindRide)

	_, err := m.Transition(ctx, "req1", "prov1", ActionStart)
	if !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestTransition_NoExitFromTerminal(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	m := newMachine(st)
	r := acceptedRequest(t, st, models.KindRide)
	by := "requester"
	if _, err := st.CompareAndSwap(ctx, r.ID, r.Version, store.Mutation{Status: models.StatusCancelled, CancelledBy: &by}); err != nil {
		t.Fatal(err)
	}

	for _, a := range []Action{ActionArrive, ActionStart, ActionComplete, ActionCancel} {
		if _, err := m.Transition(ctx, "req1", "prov1", a); !errors.Is(err, models.ErrAlreadyTerminal) {
			t.Fatalf("%s out of terminal: got %v", a, err)
		}
	}
}

// A third party cannot cancel someone else's request.
func TestTransition_CancelIsActorRestricted(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	m := newMachine(st)
	acceptedRequest(t, st, models.KindRide)

	if _, err := m.Transition(ctx, "req1", "p2-uninvolved", ActionCancel); !errors.Is(err, models.ErrNotParticipant) {
		t.Fatalf("expected NotParticipant, got %v", err)
	}
	got, err := m.Transition(ctx, "req1", "prov1", ActionCancel)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusCancelled || got.CancelledBy != "provider" {
		t.Fatalf("got status=%s cancelled_by=%s", got.Status, got.CancelledBy)
	}
}

func TestTransition_RequesterCancelAttribution(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	m := newMachine(st)
	acceptedRequest(t, st, models.KindRide)

	got, err := m.Transition(ctx, "req1", "rider1", ActionCancel)
	if err != nil {
		t.Fatal(err)
	}
	if got.CancelledBy != "requester" {
		t.Fatalf("got cancelled_by=%s", got.CancelledBy)
	}
}

func TestTransition_ProviderVerbsRequireAssignedProvider(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	m := newMachine(st)
	acceptedRequest(t, st, models.KindRide)

	if _, err := m.Transition(ctx, "req1", "someone-else", ActionArrive); !errors.Is(err, models.ErrNotParticipant) {
		t.Fatalf("expected NotParticipant, got %v", err)
	}
}

func TestTransition_ReValidatesAfterRacingWrite(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	m := newMachine(st)
	r := acceptedRequest(t, st, models.KindRide)

	// another writer already moved the request to arrived; a second
	// arrive must be rejected against the current state, not applied
	if _, err := st.CompareAndSwap(ctx, r.ID, r.Version, store.Mutation{Status: models.StatusArrived}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Transition(ctx, "req1", "prov1", ActionArrive); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("got %v", err)
	}
}

func TestTransition_CompleteTriggersPayment(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	pay := &recPayments{charged: make(chan string, 1)}
	m := newMachine(st)
	m.Payments = pay
	r := acceptedRequest(t, st, models.KindRide)
	cur, _ := st.CompareAndSwap(ctx, r.ID, r.Version, store.Mutation{Status: models.StatusArrived})
	cur, _ = st.CompareAndSwap(ctx, r.ID, cur.Version, store.Mutation{Status: models.StatusInProgress})

	got, err := m.Transition(ctx, "req1", "prov1", ActionComplete)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusCompleted {
		t.Fatalf("got %s", got.Status)
	}
	select {
	case id := <-pay.charged:
		if id != "req1" {
			t.Fatalf("charged wrong request %s", id)
		}
	case <-time.After(time.Second):
		t.Fatal("payment collaborator never invoked")
	}
}
