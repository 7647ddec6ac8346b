package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/adamavenir/ledgersync/internal/clock"
	"github.com/adamavenir/ledgersync/internal/core"
	"github.com/adamavenir/ledgersync/internal/types"
)

type fakeBackend struct {
	mu       sync.Mutex
	groups   []types.Group
	actors   map[string][]types.Actor
	docs     map[string]types.Group
	tails    map[string][]types.Event
	windows  map[string][]types.Event
	streams  map[string][]*io.PipeWriter
	gates    map[string]chan struct{}
	calls    map[string]int
	refusing map[string]bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		groups: []types.Group{
			{ID: "g1", Title: "Payments"},
			{ID: "g2", Title: "Search"},
		},
		actors: map[string][]types.Actor{
			"g1": {{ID: "lead", Role: types.RoleForeman}, {ID: "w1", Role: types.RolePeer}, {ID: "w2", Role: types.RolePeer}},
			"g2": {{ID: "boss", Role: types.RoleForeman}},
		},
		docs: map[string]types.Group{
			"g1": {ID: "g1", Title: "Payments", ActiveScopeKey: "s1", Scopes: []types.Scope{{ScopeKey: "s1", Label: "billing"}}},
			"g2": {ID: "g2", Title: "Search"},
		},
		tails:    map[string][]types.Event{},
		windows:  map[string][]types.Event{},
		streams:  map[string][]*io.PipeWriter{},
		gates:    map[string]chan struct{}{},
		calls:    map[string]int{},
		refusing: map[string]bool{},
	}
}

func (b *fakeBackend) record(call string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[call]++
}

func (b *fakeBackend) callCount(call string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[call]
}

func (b *fakeBackend) setTail(groupID string, events ...types.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tails[groupID] = events
}

func (b *fakeBackend) gate(groupID string) chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	gate := make(chan struct{})
	b.gates[groupID] = gate
	return gate
}

func (b *fakeBackend) streamCount(groupID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.streams[groupID])
}

func (b *fakeBackend) latestStream(groupID string) *io.PipeWriter {
	b.mu.Lock()
	defer b.mu.Unlock()
	streams := b.streams[groupID]
	return streams[len(streams)-1]
}

func (b *fakeBackend) OpenStream(ctx context.Context, groupID, lastEventID string) (io.ReadCloser, error) {
	b.record("stream:" + groupID)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.refusing[groupID] {
		return nil, errors.New("connection refused")
	}
	pr, pw := io.Pipe()
	go func() {
		<-ctx.Done()
		pw.CloseWithError(ctx.Err())
	}()
	b.streams[groupID] = append(b.streams[groupID], pw)
	return pr, nil
}

func (b *fakeBackend) Groups(ctx context.Context) ([]types.Group, error) {
	b.record("groups")
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]types.Group(nil), b.groups...), nil
}

func (b *fakeBackend) Group(ctx context.Context, groupID string) (types.Group, error) {
	b.record("group:" + groupID)
	b.mu.Lock()
	defer b.mu.Unlock()
	doc, ok := b.docs[groupID]
	if !ok {
		return types.Group{}, fmt.Errorf("group %s not found", groupID)
	}
	return doc, nil
}

func (b *fakeBackend) Actors(ctx context.Context, groupID string) ([]types.Actor, error) {
	b.record("actors:" + groupID)
	b.mu.Lock()
	gate := b.gates[groupID]
	actors := append([]types.Actor(nil), b.actors[groupID]...)
	b.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return actors, nil
}

func (b *fakeBackend) Context(ctx context.Context, groupID string) (types.GroupContext, error) {
	b.record("context:" + groupID)
	return types.GroupContext{Vision: "vision of " + groupID}, nil
}

func (b *fakeBackend) LedgerTail(ctx context.Context, groupID string, lines int) ([]json.RawMessage, error) {
	b.record("tail:" + groupID)
	b.mu.Lock()
	defer b.mu.Unlock()
	return encodeAll(b.tails[groupID]), nil
}

func (b *fakeBackend) LedgerWindow(ctx context.Context, groupID, center string, before, after int) ([]json.RawMessage, bool, error) {
	b.record("window:" + groupID + ":" + center)
	b.mu.Lock()
	defer b.mu.Unlock()
	events := b.windows[groupID]
	return encodeAll(events), len(events) > 0, nil
}

func encodeAll(events []types.Event) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(events))
	for _, ev := range events {
		raw, _ := json.Marshal(ev)
		out = append(out, raw)
	}
	return out
}

type recordingNotifier struct {
	mu     sync.Mutex
	titles []string
	events []string
	err    error
}

func (n *recordingNotifier) Notify(groupTitle string, ev types.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, groupTitle)
	n.events = append(n.events, ev.ID)
	return n.err
}

func (n *recordingNotifier) failWith(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.err = err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

type harness struct {
	backend  *fakeBackend
	clock    *clock.FakeClock
	session  *Session
	notifier *recordingNotifier
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		backend:  newFakeBackend(),
		clock:    clock.Fake(time.Unix(1_700_000_000, 0)),
		notifier: &recordingNotifier{},
	}
	opts := Options{
		Backend:  h.backend,
		Config:   core.Config{ReconcileLines: 50},
		Clock:    h.clock,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Notifier: h.notifier,
	}
	if mutate != nil {
		mutate(&opts)
	}
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.session = s
	t.Cleanup(s.Close)
	return h
}

// selectConnected selects groupID and waits for the stream to connect and
// the first reconciliation to land.
func (h *harness) selectConnected(t *testing.T, groupID string, tail ...types.Event) {
	t.Helper()
	if len(tail) == 0 {
		tail = []types.Event{chat(t, "seed-"+groupID, types.UserID, types.ChatData{Text: "kickoff"})}
	}
	h.backend.setTail(groupID, tail...)
	streams := h.backend.streamCount(groupID)
	h.session.SelectGroup(groupID)
	waitFor(t, "stream connected", func() bool {
		return h.backend.streamCount(groupID) > streams &&
			h.session.ConnectionStatus().State == types.ConnConnected
	})
	last := tail[len(tail)-1].ID
	waitFor(t, "reconciliation", func() bool { return h.session.Ledger().Has(last) })
}

func (h *harness) send(t *testing.T, groupID string, ev types.Event) {
	t.Helper()
	raw, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	frame := "event: ledger\nid: " + ev.ID + "\ndata: " + string(raw) + "\n\n"
	if _, err := io.WriteString(h.backend.latestStream(groupID), frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func chat(t *testing.T, id, by string, data types.ChatData) types.Event {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal chat: %v", err)
	}
	return types.Event{ID: id, Kind: types.KindChatMessage, By: by, Data: raw}
}

func receipt(t *testing.T, id string, kind types.EventKind, actor, target string) types.Event {
	t.Helper()
	raw, err := json.Marshal(types.ReceiptData{ActorID: actor, EventID: target})
	if err != nil {
		t.Fatalf("marshal receipt: %v", err)
	}
	return types.Event{ID: id, Kind: kind, By: actor, Data: raw}
}

func eventIDs(events []types.Event) []string {
	ids := make([]string, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.ID)
	}
	return ids
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
