package tui

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"time"

	"github.com/adamavenir/ledgersync/internal/classify"
	"github.com/adamavenir/ledgersync/internal/core"
	"github.com/adamavenir/ledgersync/internal/types"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

var actorPalette = []lipgloss.Color{
	lipgloss.Color("111"),
	lipgloss.Color("157"),
	lipgloss.Color("216"),
	lipgloss.Color("36"),
	lipgloss.Color("183"),
	lipgloss.Color("230"),
}

var (
	userColor   = lipgloss.Color("252")
	metaColor   = lipgloss.Color("242")
	warnColor   = lipgloss.Color("214")
	okColor     = lipgloss.Color("78")
	errorColor  = lipgloss.Color("203")
	focusColor  = lipgloss.Color("39")
	headerStyle = lipgloss.NewStyle().Bold(true)
	metaStyle   = lipgloss.NewStyle().Foreground(metaColor)
)

// StatusSource supplies the per-event status maps.
type StatusSource interface {
	ReadStatus(eventID string) map[string]bool
	AckStatus(eventID string) map[string]bool
	ReplyStatus(eventID string) map[string]bool
}

func actorColor(actorID string) lipgloss.Color {
	if actorID == types.UserID {
		return userColor
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(actorID))
	return actorPalette[int(h.Sum32())%len(actorPalette)]
}

// renderEvent renders one event as a single line no wider than width.
func renderEvent(ev types.Event, status StatusSource, width int, focused bool) string {
	marker := "  "
	if focused {
		marker = lipgloss.NewStyle().Foreground(focusColor).Render("▸ ")
	}
	stamp := ""
	if ts := ev.Time(); !ts.IsZero() {
		stamp = metaStyle.Render(ts.Local().Format("15:04")) + " "
	}

	var line string
	if data, ok := classify.Chat(ev); ok {
		author := lipgloss.NewStyle().Foreground(actorColor(ev.By)).Bold(true).Render("@" + ev.By)
		text := strings.Join(strings.Fields(data.Text), " ")
		if replyTo, ok := classify.IsReply(ev); ok {
			text = metaStyle.Render("↪ "+shortID(replyTo)) + " " + text
		}
		if data.Priority == types.PriorityAttention {
			text = lipgloss.NewStyle().Foreground(warnColor).Render("!") + " " + text
		} else if core.MentionsUser(data.Text) {
			text = lipgloss.NewStyle().Foreground(focusColor).Render("@") + " " + text
		}
		line = author + " " + text
		if summary := receiptSummary(ev.ID, status); summary != "" {
			line += " " + metaStyle.Render(summary)
		}
	} else {
		line = metaStyle.Render(fmt.Sprintf("· %s by %s", ev.Kind, ev.By))
	}

	out := marker + stamp + line
	if width > 0 {
		out = ansi.Truncate(out, width, "…")
	}
	return out
}

// receiptSummary renders read/ack/reply progress, e.g. "read 2/3 ack 1/3".
func receiptSummary(eventID string, status StatusSource) string {
	if status == nil {
		return ""
	}
	var parts []string
	for _, entry := range []struct {
		label string
		state map[string]bool
	}{
		{"read", status.ReadStatus(eventID)},
		{"ack", status.AckStatus(eventID)},
		{"reply", status.ReplyStatus(eventID)},
	} {
		if len(entry.state) == 0 {
			continue
		}
		done := 0
		for _, ok := range entry.state {
			if ok {
				done++
			}
		}
		parts = append(parts, fmt.Sprintf("%s %d/%d", entry.label, done, len(entry.state)))
	}
	return strings.Join(parts, " ")
}

// pendingObservers lists observers that have not satisfied a status map.
func pendingObservers(state map[string]bool) []string {
	var out []string
	for observer, done := range state {
		if !done {
			out = append(out, observer)
		}
	}
	sort.Strings(out)
	return out
}

func connectionLabel(status types.ConnectionStatus) string {
	switch status.State {
	case types.ConnConnected:
		return lipgloss.NewStyle().Foreground(okColor).Render("● live")
	case types.ConnConnecting:
		return lipgloss.NewStyle().Foreground(warnColor).Render("○ connecting")
	case types.ConnDisconnected:
		label := "○ disconnected"
		if status.Backoff > 0 {
			label += fmt.Sprintf(", retry in %s", status.Backoff.Round(time.Second))
		}
		if status.Polling {
			label += ", polling"
		}
		return lipgloss.NewStyle().Foreground(errorColor).Render(label)
	default:
		return metaStyle.Render("○ idle")
	}
}

func alignStatusLine(left, right string, width int) string {
	if width <= 0 || right == "" {
		return left
	}
	leftWidth := ansi.StringWidth(left)
	rightWidth := ansi.StringWidth(right)
	if leftWidth+rightWidth+1 > width {
		return left
	}
	return left + strings.Repeat(" ", width-leftWidth-rightWidth) + right
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// pendingBadges lists the non-zero counters shown under the header.
func pendingBadges(unread, acks, replies int) []string {
	var badges []string
	if unread > 0 {
		badges = append(badges, fmt.Sprintf("%d unread", unread))
	}
	if acks > 0 {
		badges = append(badges, fmt.Sprintf("%d acks pending", acks))
	}
	if replies > 0 {
		badges = append(badges, fmt.Sprintf("%d replies pending", replies))
	}
	return badges
}
