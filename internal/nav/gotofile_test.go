package nav

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type recordingOpener struct {
	mu     sync.Mutex
	opened []string
}

func (o *recordingOpener) OpenMessage(groupID, eventID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened = append(o.opened, groupID+"#"+eventID)
	return nil
}

func (o *recordingOpener) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.opened)
}

func TestWatchGotoFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "goto")
	if err := os.WriteFile(path, []byte("g1#e1\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	opener := &recordingOpener{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- WatchGotoFile(ctx, path, opener, slog.New(slog.NewTextHandler(io.Discard, nil)))
	}()

	waitForCount(t, opener, 1)
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("goto file should be removed after consuming, stat err=%v", err)
	}

	if err := os.WriteFile(path, []byte("/groups/g2/events/e2"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitForCount(t, opener, 2)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("WatchGotoFile: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}

	opener.mu.Lock()
	defer opener.mu.Unlock()
	if opener.opened[0] != "g1#e1" || opener.opened[1] != "g2#e2" {
		t.Fatalf("unexpected opens %v", opener.opened)
	}
}

func waitForCount(t *testing.T, opener *recordingOpener, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if opener.count() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d opens, got %d", n, opener.count())
}
