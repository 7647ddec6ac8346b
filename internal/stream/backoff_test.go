package stream

import (
	"testing"
	"time"
)

func TestBackoffDoublesToCap(t *testing.T) {
	b := Backoff{Floor: time.Second, Cap: 30 * time.Second}
	want := []time.Duration{1, 2, 4, 8, 16, 30, 30, 30}
	for i, seconds := range want {
		if got := b.Next(); got != seconds*time.Second {
			t.Fatalf("attempt %d: got %v, want %v", i+1, got, seconds*time.Second)
		}
	}
	b.Reset()
	if got := b.Next(); got != time.Second {
		t.Fatalf("after reset: got %v, want 1s", got)
	}
}

func TestBackoffDefaults(t *testing.T) {
	var b Backoff
	if got := b.Next(); got != DefaultBackoffFloor {
		t.Fatalf("got %v, want %v", got, DefaultBackoffFloor)
	}
	b = Backoff{Floor: 5 * time.Second, Cap: time.Second}
	b.Next()
	if got := b.Next(); got != 5*time.Second {
		t.Fatalf("cap below floor: got %v, want 5s", got)
	}
}
