package command

import (
	"fmt"
	"sort"
	"strings"

	"github.com/adamavenir/ledgersync/internal/classify"
	"github.com/adamavenir/ledgersync/internal/ledger"
	"github.com/adamavenir/ledgersync/internal/notify"
	"github.com/adamavenir/ledgersync/internal/types"
)

const maxTextLen = 160

// formatEvent renders one event as a single plain line. store may be nil.
func formatEvent(ev types.Event, store *ledger.Store) string {
	stamp := ev.TS
	if ts := ev.Time(); !ts.IsZero() {
		stamp = ts.Local().Format("15:04:05")
	}
	line := fmt.Sprintf("%s  %s  @%s", ev.ID, stamp, ev.By)

	data, ok := classify.Chat(ev)
	if !ok {
		return line + "  " + string(ev.Kind)
	}
	text := strings.Join(strings.Fields(data.Text), " ")
	line += ": " + notify.Truncate(text, maxTextLen)
	if len(data.To) > 0 {
		line += "  -> " + strings.Join(data.To, ",")
	}
	if data.Priority == types.PriorityAttention {
		line += "  !"
	}
	if store != nil {
		if summary := statusSummary(store, ev.ID); summary != "" {
			line += "  [" + summary + "]"
		}
	}
	return line
}

func statusSummary(store *ledger.Store, eventID string) string {
	var parts []string
	for _, entry := range []struct {
		label  string
		status map[string]bool
	}{
		{"read", store.ReadStatus(eventID)},
		{"ack", store.AckStatus(eventID)},
		{"reply", store.ReplyStatus(eventID)},
	} {
		if len(entry.status) == 0 {
			continue
		}
		done := 0
		for _, ok := range entry.status {
			if ok {
				done++
			}
		}
		parts = append(parts, fmt.Sprintf("%s %d/%d", entry.label, done, len(entry.status)))
	}
	return strings.Join(parts, " ")
}

func formatStatus(status types.ConnectionStatus) string {
	switch status.State {
	case types.ConnConnected:
		return "connected"
	case types.ConnDisconnected:
		line := fmt.Sprintf("disconnected (%d errors, retry in %s)", status.Errors, status.Backoff)
		if status.Polling {
			line += ", polling"
		}
		return line
	default:
		return string(status.State)
	}
}

func formatActors(actors []types.Actor) []string {
	sorted := append([]types.Actor(nil), actors...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	lines := make([]string, 0, len(sorted))
	for _, actor := range sorted {
		state := "stopped"
		if actor.Running {
			state = "running"
		}
		if !actor.Enabled {
			state = "disabled"
		}
		line := fmt.Sprintf("@%s  %s  %s", actor.ID, actor.Role, state)
		if actor.Title != "" {
			line += "  " + actor.Title
		}
		lines = append(lines, line)
	}
	return lines
}
