package arbiter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/fanout"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/store"
)

type fakeOffers struct {
	mu      sync.Mutex
	offered []string
	forgot  bool
}

func (f *fakeOffers) Offered(requestID string) []string { return f.offered }
func (f *fakeOffers) Forget(requestID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgot = true
}

type recFanout struct {
	mu     sync.Mutex
	events map[string][]models.Event
}

func newRecFanout() *recFanout { return &recFanout{events: make(map[string][]models.Event)} }

func (r *recFanout) Publish(ctx context.Context, recipientID string, ev models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[recipientID] = append(r.events[recipientID], ev)
	return nil
}

func newService(st store.RequestStore, fo fanout.Publisher, offers OfferLog) *Service {
	return &Service{
		Store:  st,
		Fanout: fo,
		Offers: offers,
		Log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func offeredRequest(t *testing.T, st store.RequestStore) *models.Request {
	t.Helper()
	now := time.Now()
	r := &models.Request{
		ID:             "req1",
		Kind:           models.KindRide,
		RequesterID:    "rider1",
		Status:         models.StatusOffered,
		OfferExpiresAt: now.Add(time.Minute),
		Terms:          models.Terms{Origin: "a", Destination: "b", VehicleType: "moto"},
		Version:        2,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := st.Create(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	return r
}

func TestAttemptAccept_FirstCommitterWins(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	fo := newRecFanout()
	offers := &fakeOffers{offered: []string{"p1", "p2"}}
	svc := newService(st, fo, offers)
	offeredRequest(t, st)

	got, err := svc.AttemptAccept(ctx, "req1", "p1")
	if err != nil {
		t.Fatalf("expected win, got %v", err)
	}
	if got.Status != models.StatusAccepted || got.ProviderID != "p1" {
		t.Fatalf("got status=%s provider=%s", got.Status, got.ProviderID)
	}

	// requester learns of the assignment, the loser gets a withdrawal
	if evs := fo.events["rider1"]; len(evs) != 1 || evs[0].Note != "provider assigned" {
		t.Fatalf("requester events: %v", evs)
	}
	if evs := fo.events["p2"]; len(evs) != 1 || evs[0].Note != "offer withdrawn" {
		t.Fatalf("loser events: %v", evs)
	}
	if !offers.forgot {
		t.Fatal("offer log not cleared")
	}
}

// Among concurrent accepts on one request, exactly one wins;
// provider_id is never overwritten.
func TestAttemptAccept_ConcurrentAttemptsOneWinner(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	svc := newService(st, fanout.Nop{}, &fakeOffers{})
	offeredRequest(t, st)

	const n = 16
	results := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.AttemptAccept(ctx, "req1", providerID(i))
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
		} else if !errors.Is(err, models.ErrAlreadyTaken) {
			t.Fatalf("unexpected rejection: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
	final, _ := st.Get(ctx, "req1")
	if final.ProviderID == "" || final.Status != models.StatusAccepted {
		t.Fatalf("final state: provider=%q status=%s", final.ProviderID, final.Status)
	}
}

func TestAttemptAccept_AlreadyTaken(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	svc := newService(st, fanout.Nop{}, &fakeOffers{offered: []string{"p1", "p2"}})
	offeredRequest(t, st)

	if _, err := svc.AttemptAccept(ctx, "req1", "p1"); err != nil {
		t.Fatal(err)
	}
	_, err := svc.AttemptAccept(ctx, "req1", "p2")
	if !errors.Is(err, models.ErrAlreadyTaken) {
		t.Fatalf("expected AlreadyTaken, got %v", err)
	}
}

func TestAttemptAccept_ExpiredRequest(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	svc := newService(st, fanout.Nop{}, &fakeOffers{})
	r := offeredRequest(t, st)
	if _, err := st.CompareAndSwap(ctx, r.ID, r.Version, store.Mutation{Status: models.StatusExpired}); err != nil {
		t.Fatal(err)
	}

	_, err := svc.AttemptAccept(ctx, "req1", "p1")
	if !errors.Is(err, models.ErrExpired) {
		t.Fatalf("expected Expired, got %v", err)
	}
}

func TestAttemptAccept_ExpiryRacesIn(t *testing.T) {
	// the CAS loses to an expiry committed between read and write; the
	// arbiter must re-read and classify, never retry
	ctx := context.Background()
	st := store.NewMemoryStore()
	svc := newService(st, fanout.Nop{}, &fakeOffers{})
	r := offeredRequest(t, st)

	// simulate the race by advancing the version under the arbiter
	pre, _ := st.Get(ctx, r.ID)
	if _, err := st.CompareAndSwap(ctx, r.ID, pre.Version, store.Mutation{Status: models.StatusExpired}); err != nil {
		t.Fatal(err)
	}
	_, err := svc.AttemptAccept(ctx, "req1", "p1")
	if !errors.Is(err, models.ErrExpired) {
		t.Fatalf("expected Expired, got %v", err)
	}
	final, _ := st.Get(ctx, r.ID)
	if final.Status != models.StatusExpired || final.ProviderID != "" {
		t.Fatalf("arbiter overwrote post-state: %+v", final)
	}
}

func TestAttemptAccept_NotFound(t *testing.T) {
	svc := newService(store.NewMemoryStore(), fanout.Nop{}, &fakeOffers{})
	_, err := svc.AttemptAccept(context.Background(), "missing", "p1")
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func providerID(i int) string { return string(rune('a'+i)) + "-provider" }
