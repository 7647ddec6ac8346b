package notify

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/adamavenir/ledgersync/internal/types"
)

type sent struct {
	title string
	body  string
}

func chatEvent(t *testing.T, by string, data types.ChatData) types.Event {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return types.Event{ID: "e1", Kind: types.KindChatMessage, By: by, Data: raw}
}

func newRecordingNotifier(t *testing.T, patterns []string) (*Notifier, *[]sent) {
	t.Helper()
	var out []sent
	n, err := New(Options{
		Patterns: patterns,
		Send: func(title, body string) error {
			out = append(out, sent{title: title, body: body})
			return nil
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return n, &out
}

func TestNotifyFormatsMessage(t *testing.T) {
	n, out := newRecordingNotifier(t, nil)
	ev := chatEvent(t, "lead", types.ChatData{Text: "build  is\ngreen", Priority: types.PriorityAttention})
	if err := n.Notify("Payments", ev); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(*out) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(*out))
	}
	got := (*out)[0]
	if got.title != "Payments · @lead (attention)" || got.body != "build is green" {
		t.Fatalf("unexpected notification %+v", got)
	}
}

func TestNotifyMarksMentions(t *testing.T) {
	n, out := newRecordingNotifier(t, nil)
	if err := n.Notify("", chatEvent(t, "w1", types.ChatData{Text: "@user need a decision"})); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(*out) != 1 || (*out)[0].title != "@w1 (mention)" {
		t.Fatalf("unexpected notifications %+v", *out)
	}
}

func TestNotifyFiltersAuthors(t *testing.T) {
	n, out := newRecordingNotifier(t, []string{"lead", "review-*"})
	for _, author := range []string{"lead", "review-2", "worker-1"} {
		if err := n.Notify("", chatEvent(t, author, types.ChatData{Text: "hi"})); err != nil {
			t.Fatalf("Notify: %v", err)
		}
	}
	if len(*out) != 2 {
		t.Fatalf("expected 2 notifications, got %+v", *out)
	}
	if (*out)[0].title != "@lead" || (*out)[1].title != "@review-2" {
		t.Fatalf("unexpected titles %+v", *out)
	}
}

func TestNotifySkipsNonChat(t *testing.T) {
	n, out := newRecordingNotifier(t, nil)
	ev := types.Event{ID: "e2", Kind: types.KindActorStart, By: "lead"}
	if err := n.Notify("", ev); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(*out) != 0 {
		t.Fatalf("expected no notification, got %+v", *out)
	}
}

func TestNewRejectsBadPattern(t *testing.T) {
	if _, err := New(Options{Patterns: []string{"["}}); err == nil {
		t.Fatal("expected error for invalid glob")
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("é", 120)
	got := Truncate(long, 100)
	if len([]rune(got)) != 100 || !strings.HasSuffix(got, "…") {
		t.Fatalf("unexpected truncation %q", got)
	}
	if Truncate("short", 100) != "short" {
		t.Fatal("short text changed")
	}
}
