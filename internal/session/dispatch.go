package session

import (
	"encoding/json"

	"github.com/adamavenir/ledgersync/internal/classify"
	"github.com/adamavenir/ledgersync/internal/ledger"
	"github.com/adamavenir/ledgersync/internal/metrics"
	"github.com/adamavenir/ledgersync/internal/stream"
	"github.com/adamavenir/ledgersync/internal/types"
)

// origin is where an applied event came from.
type origin int

const (
	originStream origin = iota
	originReconcile
	originJournal
)

func (s *Session) currentConn(conn stream.Conn) (types.Selection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || conn.Gen != s.streamGen || conn.GroupID != s.sel.GroupID {
		return types.Selection{}, false
	}
	return s.sel, true
}

func (s *Session) currentView() ledger.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

func (s *Session) handleFrame(conn stream.Conn, data []byte) {
	sel, ok := s.currentConn(conn)
	if !ok {
		s.metrics.Frame(metrics.FrameStale)
		return
	}
	ev, err := classify.Decode(data)
	if err != nil {
		s.metrics.Frame(metrics.FrameMalformed)
		s.logger.Debug("dropping malformed frame", "group", conn.GroupID, "error", err)
		return
	}
	if !s.applyEvents(sel, []types.Event{ev}, originStream) {
		s.metrics.Frame(metrics.FrameStale)
		return
	}
	s.metrics.Frame(metrics.FrameApplied)
}

func (s *Session) handleConnected(conn stream.Conn) {
	sel, ok := s.currentConn(conn)
	if !ok {
		return
	}
	s.mu.Lock()
	reconnect := s.ready
	s.mu.Unlock()

	s.reconcile(sel)
	if reconnect {
		s.contextDebounce.Trigger()
		s.rosterDebounce.Trigger()
	}
	s.warmup.Schedule(sel)
}

func (s *Session) handlePoll(conn stream.Conn) {
	if sel, ok := s.currentConn(conn); ok {
		s.reconcile(sel)
	}
}

func (s *Session) handleStatus(conn stream.Conn, status types.ConnectionStatus) {
	s.mu.Lock()
	if s.closed || conn.Gen != s.streamGen || conn.GroupID != s.sel.GroupID {
		s.mu.Unlock()
		return
	}
	s.status = status
	s.mu.Unlock()
	s.publish(Change{Kind: ChangeStatus, GroupID: conn.GroupID})
}

// applyEvents dispatches events issued for sel. Returns false, applying
// nothing, when sel is no longer selected.
func (s *Session) applyEvents(sel types.Selection, events []types.Event, from origin) bool {
	s.applyMu.Lock()
	s.mu.Lock()
	if s.closed || sel != s.sel {
		s.mu.Unlock()
		s.applyMu.Unlock()
		return false
	}
	view, ready := s.view, s.ready
	s.mu.Unlock()

	var appended, unread []types.Event
	for _, ev := range events {
		result := s.applyLocked(sel, ev, view, from)
		if !result.Appended {
			continue
		}
		appended = append(appended, ev)
		// The first reconciliation of a selection is backfill, not news.
		if result.CountsUnread && (from == originStream || (from == originReconcile && ready)) {
			unread = append(unread, ev)
		}
	}
	s.applyMu.Unlock()

	if len(unread) > 0 {
		s.raiseUnread(sel, unread)
	}
	if s.journal != nil && from != originJournal && len(appended) > 0 {
		if err := s.journal.Append(s.ctx, sel.GroupID, appended...); err != nil {
			s.logger.Warn("journal append failed", "group", sel.GroupID, "error", err)
		}
	}
	return true
}

// applyLocked routes one event to the store. Caller holds applyMu.
func (s *Session) applyLocked(sel types.Selection, ev types.Event, view ledger.View, from origin) ledger.AppendResult {
	switch classify.Classify(ev) {
	case classify.TagContextSync:
		if from == originStream {
			s.contextDebounce.Trigger()
		}
		return ledger.AppendResult{}
	case classify.TagReadReceipt:
		receipt, _ := classify.Receipt(ev)
		s.store.PatchReadStatus(receipt.EventID, receipt.ActorID)
		if from == originStream {
			s.rosterDebounce.Trigger()
		}
		return ledger.AppendResult{}
	case classify.TagAckReceipt:
		receipt, _ := classify.Receipt(ev)
		s.store.PatchAckStatus(receipt.EventID, receipt.ActorID)
		if from == originStream {
			s.rosterDebounce.Trigger()
		}
		return ledger.AppendResult{}
	}

	result := s.store.Append(ev, view)
	if !result.Appended {
		return result
	}
	if replyTo, ok := classify.IsReply(ev); ok {
		s.store.PatchReplyStatus(replyTo, ev.By)
	}
	if from == originStream && classify.ShouldRefreshRoster(ev) {
		s.rosterDebounce.Trigger()
		s.warmup.Schedule(sel)
	}
	return result
}

func (s *Session) raiseUnread(sel types.Selection, events []types.Event) {
	s.mu.Lock()
	if sel != s.sel {
		s.mu.Unlock()
		return
	}
	s.unread += len(events)
	count := s.unread
	title := s.group.Title
	s.mu.Unlock()

	s.metrics.Unread(count)
	s.publish(Change{Kind: ChangeUnread, GroupID: sel.GroupID})
	if s.notifier == nil {
		return
	}
	for _, ev := range events {
		if err := s.notifier.Notify(title, ev); err != nil {
			s.logger.Debug("notification failed", "group", sel.GroupID, "event", ev.ID, "error", err)
		}
	}
}

func (s *Session) decodeAll(groupID string, raw []json.RawMessage) []types.Event {
	events := make([]types.Event, 0, len(raw))
	for _, entry := range raw {
		ev, err := classify.Decode(entry)
		if err != nil {
			s.metrics.Frame(metrics.FrameMalformed)
			s.logger.Debug("dropping malformed entry", "group", groupID, "error", err)
			continue
		}
		events = append(events, ev)
	}
	return events
}
