package recipients

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/adamavenir/ledgersync/internal/types"
)

type fakeFetcher struct {
	mu      sync.Mutex
	rosters map[string][]types.Actor
	groups  map[string]types.Group
	fail    map[string]bool
	calls   map[string]int
	gate    chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		rosters: map[string][]types.Actor{
			"g2": {{ID: "lead", Role: types.RoleForeman}, {ID: "w1", Role: types.RolePeer}},
		},
		groups: map[string]types.Group{
			"g2": {ID: "g2", ActiveScopeKey: "s1", Scopes: []types.Scope{{ScopeKey: "s1", Label: "api"}}},
		},
		fail:  map[string]bool{},
		calls: map[string]int{},
	}
}

func (f *fakeFetcher) Actors(ctx context.Context, groupID string) ([]types.Actor, error) {
	f.mu.Lock()
	f.calls[groupID]++
	gate := f.gate
	fail := f.fail[groupID]
	roster := f.rosters[groupID]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, errors.New("unavailable")
	}
	return roster, nil
}

func (f *fakeFetcher) Group(ctx context.Context, groupID string) (types.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.groups[groupID], nil
}

func (f *fakeFetcher) callCount(groupID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[groupID]
}

type changes struct {
	mu   sync.Mutex
	seen []string
}

func (c *changes) record(destination string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, destination)
}

func (c *changes) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func newTestResolver(f Fetcher, c *changes) *Resolver {
	return New(Options{
		Fetcher:  f,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		OnChange: c.record,
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func actorIDs(actors []types.Actor) []string {
	ids := make([]string, 0, len(actors))
	for _, actor := range actors {
		ids = append(ids, actor.ID)
	}
	return ids
}

func TestResolveSelfUsesSyncedData(t *testing.T) {
	fetcher := newFakeFetcher()
	resolver := newTestResolver(fetcher, &changes{})
	defer resolver.Close()

	resolver.Sync("g1", []types.Actor{{ID: "a"}}, "web")
	got := resolver.Resolve("g1", "g1")
	if got.Busy || got.ScopeLabel != "web" || len(got.Actors) != 1 {
		t.Fatalf("unexpected self result %+v", got)
	}
	if empty := resolver.Resolve("g1", ""); len(empty.Actors) != 1 {
		t.Fatalf("empty destination should mean self, got %+v", empty)
	}

	resolver.Sync("g1", []types.Actor{{ID: "a"}, {ID: "b"}}, "web")
	if got := resolver.Resolve("g1", "g1"); len(got.Actors) != 2 {
		t.Fatalf("self entry not kept in sync: %+v", got)
	}
	if fetcher.callCount("g1") != 0 {
		t.Fatal("selected group should never be fetched")
	}
}

func TestResolveSelfBeforeSyncReadsLiveRoster(t *testing.T) {
	fetcher := newFakeFetcher()
	var (
		mu     sync.Mutex
		roster []types.Actor
		loaded bool
	)
	resolver := New(Options{
		Fetcher: fetcher,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Live: func(groupID string) ([]types.Actor, string, bool) {
			mu.Lock()
			defer mu.Unlock()
			return roster, "web", loaded
		},
	})
	defer resolver.Close()

	if got := resolver.Resolve("g1", ""); !got.Busy || len(got.Actors) != 0 {
		t.Fatalf("self before any roster should be busy, got %+v", got)
	}

	mu.Lock()
	roster = []types.Actor{{ID: "a"}, {ID: "b"}}
	loaded = true
	mu.Unlock()
	got := resolver.Resolve("g1", "g1")
	if got.Busy || got.ScopeLabel != "web" || len(got.Actors) != 2 {
		t.Fatalf("self should read the live roster, got %+v", got)
	}
	if fetcher.callCount("g1") != 0 {
		t.Fatal("selected group should never be fetched")
	}
}

func TestResolveSelfBeforeSyncWithoutLiveIsBusy(t *testing.T) {
	resolver := newTestResolver(newFakeFetcher(), &changes{})
	defer resolver.Close()
	if got := resolver.Resolve("g1", "g1"); !got.Busy {
		t.Fatalf("expected busy until the first sync, got %+v", got)
	}
}

func TestResolveOtherGroupFetchesOnMiss(t *testing.T) {
	fetcher := newFakeFetcher()
	seen := &changes{}
	resolver := newTestResolver(fetcher, seen)
	defer resolver.Close()

	first := resolver.Resolve("g1", "g2")
	if !first.Busy {
		t.Fatalf("expected busy on miss, got %+v", first)
	}
	waitFor(t, "fetch", func() bool { return seen.count() == 1 })

	got := resolver.Resolve("g1", "g2")
	if got.Busy || got.ScopeLabel != "api" {
		t.Fatalf("unexpected result %+v", got)
	}
	if ids := actorIDs(got.Actors); len(ids) != 2 || ids[0] != "lead" {
		t.Fatalf("unexpected actors %v", ids)
	}

	resolver.Resolve("g1", "g2")
	if fetcher.callCount("g2") != 1 {
		t.Fatalf("cache hit should not fetch, got %d calls", fetcher.callCount("g2"))
	}
}

func TestResolveCoalescesInFlightFetch(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.gate = make(chan struct{})
	seen := &changes{}
	resolver := newTestResolver(fetcher, seen)
	defer resolver.Close()

	for i := 0; i < 3; i++ {
		if got := resolver.Resolve("g1", "g2"); !got.Busy {
			t.Fatalf("call %d: expected busy", i)
		}
	}
	close(fetcher.gate)
	waitFor(t, "fetch", func() bool { return seen.count() == 1 })
	if fetcher.callCount("g2") != 1 {
		t.Fatalf("expected one coalesced fetch, got %d", fetcher.callCount("g2"))
	}
}

func TestSyncSupersedesInFlightFetch(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.gate = make(chan struct{})
	seen := &changes{}
	resolver := newTestResolver(fetcher, seen)
	defer resolver.Close()

	resolver.Resolve("g1", "g2")
	// The user switches to g2 while its cross-group fetch is in flight.
	resolver.Sync("g2", []types.Actor{{ID: "live"}}, "live-scope")
	close(fetcher.gate)

	waitFor(t, "fetch to finish", func() bool { return fetcher.callCount("g2") == 1 })
	time.Sleep(10 * time.Millisecond)
	got := resolver.Resolve("g2", "g2")
	if ids := actorIDs(got.Actors); len(ids) != 1 || ids[0] != "live" || got.ScopeLabel != "live-scope" {
		t.Fatalf("stale fetch overwrote live data: %+v", got)
	}
	if seen.count() != 0 {
		t.Fatalf("superseded fetch should not notify, got %d", seen.count())
	}
}

func TestCrossGroupSwitchKeepsCaches(t *testing.T) {
	fetcher := newFakeFetcher()
	seen := &changes{}
	resolver := newTestResolver(fetcher, seen)
	defer resolver.Close()

	resolver.Sync("g1", []types.Actor{{ID: "self"}}, "")
	resolver.Resolve("g1", "g2")
	waitFor(t, "fetch", func() bool { return seen.count() == 1 })

	if got := resolver.Resolve("g1", "g1"); actorIDs(got.Actors)[0] != "self" {
		t.Fatalf("switching back to self returned %+v", got)
	}
	fetcher.mu.Lock()
	fetcher.rosters["g2"] = []types.Actor{{ID: "changed"}}
	fetcher.mu.Unlock()
	if got := resolver.Resolve("g1", "g2"); actorIDs(got.Actors)[0] != "lead" {
		t.Fatalf("cached destination should be served as fetched, got %+v", got)
	}
}

func TestFailedFetchIsRetried(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.fail["g2"] = true
	seen := &changes{}
	resolver := newTestResolver(fetcher, seen)
	defer resolver.Close()

	resolver.Resolve("g1", "g2")
	waitFor(t, "failed fetch", func() bool { return seen.count() == 1 })
	if resolver.Cached("g2") {
		t.Fatal("failed fetch should not populate the cache")
	}

	fetcher.mu.Lock()
	fetcher.fail["g2"] = false
	fetcher.mu.Unlock()
	if got := resolver.Resolve("g1", "g2"); !got.Busy {
		t.Fatalf("expected retry to be busy, got %+v", got)
	}
	waitFor(t, "retry", func() bool { return resolver.Cached("g2") })
}
