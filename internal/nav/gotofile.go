package nav

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Opener opens a deep link.
type Opener interface {
	OpenMessage(groupID, eventID string) error
}

// DefaultGotoFile is where notification click-through scripts write the
// address to open.
func DefaultGotoFile() string {
	return filepath.Join(os.TempDir(), "ledgersync-goto")
}

// WatchGotoFile opens each address written to path until ctx is done.
// The file is removed once consumed. The parent directory must exist.
func WatchGotoFile(ctx context.Context, path string, opener Opener, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}
	consumeGotoFile(path, opener, logger)

	name := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				consumeGotoFile(path, opener, logger)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Debug("goto watcher error", "error", err)
		}
	}
}

func consumeGotoFile(path string, opener Opener, logger *slog.Logger) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Debug("read goto file", "path", path, "error", err)
		}
		return
	}
	link, err := ParseAddress(string(data))
	if err != nil {
		// Possibly a partial write; the next write event retries.
		return
	}
	_ = os.Remove(path)

	if err := opener.OpenMessage(link.GroupID, link.EventID); err != nil {
		logger.Warn("open goto target", "group", link.GroupID, "event", link.EventID, "error", err)
	}
}
