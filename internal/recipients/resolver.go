// Package recipients resolves the recipient roster and scope label of a
// destination group that may differ from the group being viewed.
package recipients

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/adamavenir/ledgersync/internal/metrics"
	"github.com/adamavenir/ledgersync/internal/types"
)

const defaultTimeout = 15 * time.Second

// Fetcher loads a group's roster and document.
type Fetcher interface {
	Actors(ctx context.Context, groupID string) ([]types.Actor, error)
	Group(ctx context.Context, groupID string) (types.Group, error)
}

// Result is the recipient view of a destination group. Busy is set while
// the destination is being fetched.
type Result struct {
	Actors     []types.Actor
	Busy       bool
	ScopeLabel string
}

type Options struct {
	Fetcher Fetcher
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Timeout time.Duration

	// OnChange is called after a fetch for destination completes.
	OnChange func(destination string)

	// Live reads the selected group's roster from the live store until the
	// first Sync lands. loaded is false while no roster has arrived.
	Live func(groupID string) (actors []types.Actor, scopeLabel string, loaded bool)
}

type entry struct {
	actors     []types.Actor
	scopeLabel string
}

// Resolver caches destination rosters by group id. An entry is only
// refreshed by Sync, which the session calls with live data for the
// selected group; entries of other groups stay as first fetched.
type Resolver struct {
	fetcher  Fetcher
	logger   *slog.Logger
	metrics  *metrics.Metrics
	timeout  time.Duration
	onChange func(string)
	live     func(string) ([]types.Actor, string, bool)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	cache    map[string]entry
	seq      map[string]uint64
	inflight map[string]uint64
}

func New(opts Options) *Resolver {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.OnChange == nil {
		opts.OnChange = func(string) {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Resolver{
		fetcher:  opts.Fetcher,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		timeout:  opts.Timeout,
		onChange: opts.OnChange,
		live:     opts.Live,
		ctx:      ctx,
		cancel:   cancel,
		cache:    make(map[string]entry),
		seq:      make(map[string]uint64),
		inflight: make(map[string]uint64),
	}
}

// Resolve returns the recipient view for destination while selected is
// the viewed group. An empty destination means the selected group. The
// selected group is never fetched here; it is served from Sync.
func (r *Resolver) Resolve(selected, destination string) Result {
	if destination == "" {
		destination = selected
	}
	if destination == "" {
		return Result{}
	}

	r.mu.Lock()
	if cached, ok := r.cache[destination]; ok {
		r.mu.Unlock()
		return Result{Actors: cloneActors(cached.actors), ScopeLabel: cached.scopeLabel}
	}
	if destination == selected {
		r.mu.Unlock()
		return r.resolveLive(selected)
	}
	defer r.mu.Unlock()
	if _, ok := r.inflight[destination]; ok {
		return Result{Busy: true}
	}
	if r.ctx.Err() != nil {
		return Result{}
	}

	r.seq[destination]++
	seq := r.seq[destination]
	r.inflight[destination] = seq
	r.wg.Add(1)
	go r.fetch(destination, seq)
	return Result{Busy: true}
}

// resolveLive serves the selected group before its first Sync.
func (r *Resolver) resolveLive(selected string) Result {
	if r.live == nil {
		return Result{Busy: true}
	}
	actors, scopeLabel, loaded := r.live(selected)
	return Result{Actors: cloneActors(actors), Busy: !loaded, ScopeLabel: scopeLabel}
}

// Sync stores live data for a group and supersedes any fetch for it that
// is still in flight.
func (r *Resolver) Sync(groupID string, actors []types.Actor, scopeLabel string) {
	if groupID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq[groupID]++
	delete(r.inflight, groupID)
	r.cache[groupID] = entry{actors: cloneActors(actors), scopeLabel: scopeLabel}
}

// Cached reports whether destination has an entry.
func (r *Resolver) Cached(destination string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.cache[destination]
	return ok
}

// Close cancels in-flight fetches and waits for them.
func (r *Resolver) Close() {
	r.cancel()
	r.wg.Wait()
}

func (r *Resolver) fetch(destination string, seq uint64) {
	defer r.wg.Done()
	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()

	actors, err := r.fetcher.Actors(ctx, destination)
	r.metrics.Fetch("roster", err)
	var group types.Group
	if err == nil {
		group, err = r.fetcher.Group(ctx, destination)
		r.metrics.Fetch("group", err)
	}

	r.mu.Lock()
	if r.seq[destination] != seq {
		r.mu.Unlock()
		r.logger.Debug("dropping superseded recipient fetch", "group", destination)
		return
	}
	delete(r.inflight, destination)
	if err == nil {
		r.cache[destination] = entry{actors: cloneActors(actors), scopeLabel: group.ScopeLabel()}
	}
	r.mu.Unlock()

	if err != nil {
		if r.ctx.Err() != nil {
			return
		}
		r.logger.Warn("recipient fetch failed", "group", destination, "error", err)
	}
	r.onChange(destination)
}

func cloneActors(actors []types.Actor) []types.Actor {
	if actors == nil {
		return nil
	}
	out := make([]types.Actor, len(actors))
	copy(out, actors)
	return out
}
