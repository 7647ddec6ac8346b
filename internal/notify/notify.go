// Package notify sends desktop notifications for messages that raise the
// unread badge.
package notify

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/adamavenir/ledgersync/internal/classify"
	"github.com/adamavenir/ledgersync/internal/core"
	"github.com/adamavenir/ledgersync/internal/types"
	"github.com/gen2brain/beeep"
	"github.com/gobwas/glob"
)

const maxBodyLen = 100

// SendFunc delivers one notification.
type SendFunc func(title, body string) error

type Options struct {
	// Patterns restricts notifications to authors matching any glob.
	// Empty means every author.
	Patterns []string
	Send     SendFunc
	Logger   *slog.Logger
}

type Notifier struct {
	patterns []glob.Glob
	send     SendFunc
	logger   *slog.Logger
}

func New(opts Options) (*Notifier, error) {
	if opts.Send == nil {
		opts.Send = func(title, body string) error {
			return beeep.Notify(title, body, "")
		}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	n := &Notifier{send: opts.Send, logger: opts.Logger}
	for _, pattern := range opts.Patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		compiled, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid notify pattern %q: %w", pattern, err)
		}
		n.patterns = append(n.patterns, compiled)
	}
	return n, nil
}

// Allowed reports whether author passes the pattern filter.
func (n *Notifier) Allowed(author string) bool {
	if len(n.patterns) == 0 {
		return true
	}
	for _, pattern := range n.patterns {
		if pattern.Match(author) {
			return true
		}
	}
	return false
}

// Notify sends a notification for a chat message. Other events and
// filtered authors are skipped without error.
func (n *Notifier) Notify(groupTitle string, ev types.Event) error {
	chat, ok := classify.Chat(ev)
	if !ok || !n.Allowed(ev.By) {
		return nil
	}
	title := "@" + ev.By
	if groupTitle != "" {
		title = groupTitle + " · " + title
	}
	if classify.RequiresAck(ev) {
		title += " (attention)"
	} else if core.MentionsUser(chat.Text) {
		title += " (mention)"
	}
	if err := n.send(title, Truncate(chat.Text, maxBodyLen)); err != nil {
		n.logger.Debug("notification failed", "event", ev.ID, "error", err)
		return err
	}
	return nil
}

// Truncate collapses whitespace and cuts s to maxLen runes.
func Truncate(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-1]) + "…"
}
