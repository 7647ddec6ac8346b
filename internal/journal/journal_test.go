package journal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/adamavenir/ledgersync/internal/types"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "nested", "journal.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() {
		_ = j.Close()
	})
	return j
}

func event(id string) types.Event {
	return types.Event{
		ID:   id,
		TS:   "2026-01-02T03:04:05Z",
		Kind: types.KindChatMessage,
		By:   "a1",
		Data: []byte(`{"text":"hi ` + id + `"}`),
	}
}

func TestAppendAndLoad(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)

	if err := j.Append(ctx, "g1", event("e1"), event("e2")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := j.Append(ctx, "g1", event("e2"), event("e3")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := j.Append(ctx, "g2", event("x1")); err != nil {
		t.Fatalf("append: %v", err)
	}

	events, err := j.Load(ctx, "g1", 0)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, id := range []string{"e1", "e2", "e3"} {
		if events[i].ID != id {
			t.Fatalf("event %d: got %s, want %s", i, events[i].ID, id)
		}
	}
	if string(events[0].Data) != `{"text":"hi e1"}` || events[0].By != "a1" {
		t.Fatalf("event not round-tripped: %+v", events[0])
	}

	count, err := j.Count(ctx, "g2")
	if err != nil || count != 1 {
		t.Fatalf("count g2: %d %v", count, err)
	}
}

func TestLoadLimitKeepsMostRecent(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)
	for _, id := range []string{"e1", "e2", "e3", "e4"} {
		if err := j.Append(ctx, "g1", event(id)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	events, err := j.Load(ctx, "g1", 2)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(events) != 2 || events[0].ID != "e3" || events[1].ID != "e4" {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestForget(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)
	if err := j.Append(ctx, "g1", event("e1")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := j.Forget(ctx, "g1"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	events, err := j.Load(ctx, "g1", 0)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
}
