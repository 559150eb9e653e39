package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// fakeUpdater implements DirectoryUpdater for tests
type fakeUpdater struct {
	fail  int // number of times to fail before succeeding
	calls int
}

func (f *fakeUpdater) Heartbeat(ctx context.Context, p models.Provider) error {
	f.calls++
	if f.calls <= f.fail {
		return errors.New("directory fail")
	}
	return nil
}

func TestUpdateDirectoryWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeUpdater{fail: 2}
	p := models.Provider{ID: "p1", Online: true, Capabilities: []string{"moto"}}
	ctx := context.Background()
	start := time.Now()
	if err := updateDirectoryWithRetry(ctx, f, p, 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", f.calls)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected at least one backoff")
	}
}

func TestUpdateDirectoryWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeUpdater{fail: 5}
	p := models.Provider{ID: "p1", Online: true}
	ctx := context.Background()
	if err := updateDirectoryWithRetry(ctx, f, p, 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
}
