// Package session wires the ledger store, the stream manager and the
// helpers around them into the surface a console UI consumes: selectors
// over the selected group and the actions that change it.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/adamavenir/ledgersync/internal/clock"
	"github.com/adamavenir/ledgersync/internal/core"
	"github.com/adamavenir/ledgersync/internal/ledger"
	"github.com/adamavenir/ledgersync/internal/metrics"
	"github.com/adamavenir/ledgersync/internal/nav"
	"github.com/adamavenir/ledgersync/internal/recipients"
	"github.com/adamavenir/ledgersync/internal/stream"
	"github.com/adamavenir/ledgersync/internal/types"
	"github.com/adamavenir/ledgersync/internal/warmup"
)

// Backend is the request/response API plus the push stream.
type Backend interface {
	stream.Dialer
	Groups(ctx context.Context) ([]types.Group, error)
	Group(ctx context.Context, groupID string) (types.Group, error)
	Actors(ctx context.Context, groupID string) ([]types.Actor, error)
	Context(ctx context.Context, groupID string) (types.GroupContext, error)
	LedgerTail(ctx context.Context, groupID string, lines int) ([]json.RawMessage, error)
	LedgerWindow(ctx context.Context, groupID, center string, before, after int) ([]json.RawMessage, bool, error)
}

// Journal persists applied events.
type Journal interface {
	Append(ctx context.Context, groupID string, events ...types.Event) error
	Load(ctx context.Context, groupID string, limit int) ([]types.Event, error)
}

// Notifier is told about messages that raised the unread badge.
type Notifier interface {
	Notify(groupTitle string, ev types.Event) error
}

// ChangeKind names what a Change touched.
type ChangeKind string

const (
	ChangeSelection  ChangeKind = "selection"
	ChangeLedger     ChangeKind = "ledger"
	ChangeUnread     ChangeKind = "unread"
	ChangeStatus     ChangeKind = "status"
	ChangeRoster     ChangeKind = "roster"
	ChangeContext    ChangeKind = "context"
	ChangeGroups     ChangeKind = "groups"
	ChangeWindow     ChangeKind = "window"
	ChangeRecipients ChangeKind = "recipients"
	ChangeAddress    ChangeKind = "address"
	ChangeError      ChangeKind = "error"
)

// Change is published to subscribers after state changes. Subscribers run
// on internal goroutines and must not call Session actions synchronously.
type Change struct {
	Kind    ChangeKind
	GroupID string
	EventID string
	Address string
	Err     error
}

const (
	windowBefore = 30
	windowAfter  = 30
)

type Options struct {
	Backend  Backend
	Config   core.Config
	Clock    clock.Clock
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Journal  Journal
	Notifier Notifier
}

// Session is the live view of the selected group.
type Session struct {
	backend  Backend
	cfg      core.Config
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics
	journal  Journal
	notifier Notifier

	store    *ledger.Store
	manager  *stream.Manager
	resolver *recipients.Resolver
	warmup   *warmup.Scheduler
	coord    *nav.Coordinator

	contextDebounce *stream.Debouncer
	rosterDebounce  *stream.Debouncer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// applyMu serializes store mutations against selection changes, so
	// nothing issued for an abandoned selection reaches the store.
	applyMu sync.Mutex

	mu        sync.Mutex
	closed    bool
	sel       types.Selection
	streamGen uint64
	ready     bool
	view      ledger.View
	unread    int
	status    types.ConnectionStatus
	group     types.Group
	groups    []types.Group
	gctx      types.GroupContext
	window    types.Window

	subMu   sync.Mutex
	subs    map[int]func(Change)
	nextSub int
}

func New(opts Options) (*Session, error) {
	if opts.Backend == nil {
		return nil, errors.New("session: backend is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	cfg := core.DefaultConfig()
	cfg.Merge(opts.Config)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		backend:  opts.Backend,
		cfg:      cfg,
		clock:    opts.Clock,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		journal:  opts.Journal,
		notifier: opts.Notifier,
		store:    ledger.NewStore(""),
		ctx:      ctx,
		cancel:   cancel,
		status:   types.ConnectionStatus{State: types.ConnIdle},
		subs:     map[int]func(Change){},
	}

	s.manager = stream.NewManager(stream.Options{
		Dialer:       opts.Backend,
		Clock:        opts.Clock,
		Logger:       opts.Logger,
		Metrics:      opts.Metrics,
		BackoffFloor: cfg.BackoffFloor,
		BackoffCap:   cfg.BackoffCap,
		MaxErrors:    cfg.MaxStreamErrors,
		PollInterval: cfg.PollInterval,
		OnFrame:      s.handleFrame,
		OnConnected:  s.handleConnected,
		OnPoll:       s.handlePoll,
		OnStatus:     s.handleStatus,
	})
	s.resolver = recipients.New(recipients.Options{
		Fetcher: opts.Backend,
		Logger:  opts.Logger,
		Metrics: opts.Metrics,
		Timeout: cfg.RequestTimeout,
		OnChange: func(destination string) {
			s.publish(Change{Kind: ChangeRecipients, GroupID: destination})
		},
		Live: func(groupID string) ([]types.Actor, string, bool) {
			if s.store.GroupID() != groupID {
				return nil, "", false
			}
			return s.store.Roster(), s.Group().ScopeLabel(), s.store.RosterLoaded()
		},
	})
	s.warmup = warmup.New(warmup.Options{
		Clock:   opts.Clock,
		Delays:  cfg.WarmupDelays,
		Current: s.isCurrent,
		Refresh: s.refreshRoster,
	})
	s.coord = nav.New(nav.Options{
		Host:   s,
		Logger: opts.Logger,
		OnAddress: func(address string) {
			s.publish(Change{Kind: ChangeAddress, Address: address})
		},
		OnError: func(err error) {
			s.publish(Change{Kind: ChangeError, Err: err})
		},
	})
	s.contextDebounce = stream.NewDebouncer(opts.Clock, cfg.ContextDebounce, func() {
		if sel := s.Selected(); sel.GroupID != "" {
			s.refreshContext(sel)
		}
	})
	s.rosterDebounce = stream.NewDebouncer(opts.Clock, cfg.RosterDebounce, func() {
		if sel := s.Selected(); sel.GroupID != "" {
			s.refreshRoster(sel)
		}
	})
	s.store.Subscribe(func(change ledger.Change) {
		s.publish(Change{Kind: ChangeLedger, GroupID: change.GroupID, EventID: change.EventID})
	})
	return s, nil
}

// Start loads the group list. It is the one blocking call.
func (s *Session) Start(ctx context.Context) error {
	return s.loadGroups(ctx)
}

// Close tears down the stream, timers and in-flight fetches.
func (s *Session) Close() {
	s.applyMu.Lock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.applyMu.Unlock()
		return
	}
	s.closed = true
	s.sel = types.Selection{Gen: s.sel.Gen + 1}
	s.mu.Unlock()
	s.contextDebounce.Cancel()
	s.rosterDebounce.Cancel()
	s.warmup.Clear()
	s.applyMu.Unlock()

	s.cancel()
	s.manager.Close()
	s.resolver.Close()
	s.wg.Wait()
}

// Subscribe registers fn for changes and returns its cancel function.
func (s *Session) Subscribe(fn func(Change)) (cancel func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Session) publish(change Change) {
	s.subMu.Lock()
	fns := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(change)
	}
}

// Selected returns the current selection.
func (s *Session) Selected() types.Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sel
}

// Events returns the selected group's event sequence.
func (s *Session) Events() []types.Event {
	return s.store.Events()
}

// Ledger exposes the store's selectors (status maps, roster).
func (s *Session) Ledger() *ledger.Store {
	return s.store
}

func (s *Session) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

func (s *Session) ConnectionStatus() types.ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// RecipientActorsFor resolves the roster a message to destination would
// reach. An empty destination means the selected group.
func (s *Session) RecipientActorsFor(destination string) recipients.Result {
	return s.resolver.Resolve(s.Selected().GroupID, destination)
}

// Window returns the last windowed view opened in the selected group.
func (s *Session) Window() types.Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window
}

// Context returns the selected group's context document.
func (s *Session) Context() types.GroupContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gctx
}

// Group returns the selected group's document.
func (s *Session) Group() types.Group {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.group
}

func (s *Session) Groups() []types.Group {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Group(nil), s.groups...)
}

func (s *Session) PendingAcks() int {
	return s.store.PendingAcks()
}

func (s *Session) PendingReplies() int {
	return s.store.PendingReplies()
}

// Address returns the last deep-link address opened.
func (s *Session) Address() string {
	return s.coord.CurrentAddress()
}

// SetView records whether the operator is looking at this group's stream
// and scrolled to its newest event. Reaching the bottom clears the badge.
func (s *Session) SetView(viewingStream, atBottom bool) {
	s.mu.Lock()
	s.view = ledger.View{ViewingStream: viewingStream, AtBottom: atBottom}
	cleared := viewingStream && atBottom && s.unread > 0
	if cleared {
		s.unread = 0
	}
	s.mu.Unlock()
	if cleared {
		s.metrics.Unread(0)
		s.publish(Change{Kind: ChangeUnread})
	}
}

// MarkSeen clears the unread badge.
func (s *Session) MarkSeen() {
	s.mu.Lock()
	cleared := s.unread > 0
	s.unread = 0
	s.mu.Unlock()
	if cleared {
		s.metrics.Unread(0)
		s.publish(Change{Kind: ChangeUnread})
	}
}

func (s *Session) isCurrent(sel types.Selection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && sel == s.sel
}

// goFetch runs fn with a request-scoped context on a tracked goroutine.
func (s *Session) goFetch(fn func(ctx context.Context)) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, s.requestTimeout())
		defer cancel()
		fn(ctx)
	}()
}

func (s *Session) requestTimeout() time.Duration {
	if s.cfg.RequestTimeout > 0 {
		return s.cfg.RequestTimeout
	}
	return 15 * time.Second
}
