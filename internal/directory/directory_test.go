package directory

import (
	"context"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

func TestEligible_FiltersByCapability(t *testing.T) {
	ctx := context.Background()
	x := NewIndex(30 * time.Second)
	_ = x.Heartbeat(ctx, models.Provider{ID: "moto1", Online: true, Capabilities: []string{"moto"}})
	_ = x.Heartbeat(ctx, models.Provider{ID: "car1", Online: true, Capabilities: []string{"carro"}})

	ids, err := x.Eligible(ctx, "moto", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "moto1" {
		t.Fatalf("expected [moto1], got %v", ids)
	}
}

func TestEligible_RelaxedDropsCapabilityFilter(t *testing.T) {
	ctx := context.Background()
	x := NewIndex(30 * time.Second)
	_ = x.Heartbeat(ctx, models.Provider{ID: "moto1", Online: true, Capabilities: []string{"moto"}})
	_ = x.Heartbeat(ctx, models.Provider{ID: "car1", Online: true, Capabilities: []string{"carro"}})

	ids, _ := x.Eligible(ctx, "camioneta", true)
	if len(ids) != 2 {
		t.Fatalf("expected both providers on relaxed pass, got %v", ids)
	}
}

func TestEligible_EvictsStaleAndOffline(t *testing.T) {
	ctx := context.Background()
	x := NewIndex(30 * time.Second)
	_ = x.Heartbeat(ctx, models.Provider{ID: "offline", Online: false, Capabilities: []string{"moto"}})
	_ = x.Heartbeat(ctx, models.Provider{
		ID: "stale", Online: true, Capabilities: []string{"moto"},
		LastSeen: time.Now().Add(-time.Minute),
	})
	_ = x.Heartbeat(ctx, models.Provider{ID: "live", Online: true, Capabilities: []string{"moto"}})

	ids, _ := x.Eligible(ctx, "moto", false)
	if len(ids) != 1 || ids[0] != "live" {
		t.Fatalf("expected only the live provider, got %v", ids)
	}
}

func TestHeartbeat_RefreshesLastSeen(t *testing.T) {
	ctx := context.Background()
	x := NewIndex(30 * time.Second)
	_ = x.Heartbeat(ctx, models.Provider{
		ID: "p1", Online: true, Capabilities: []string{"moto"},
		LastSeen: time.Now().Add(-time.Minute),
	})
	if ids, _ := x.Eligible(ctx, "moto", false); len(ids) != 0 {
		t.Fatalf("expected stale provider hidden, got %v", ids)
	}
	_ = x.Heartbeat(ctx, models.Provider{ID: "p1", Online: true, Capabilities: []string{"moto"}})
	if ids, _ := x.Eligible(ctx, "moto", false); len(ids) != 1 {
		t.Fatalf("expected refreshed provider visible, got %v", ids)
	}
}
