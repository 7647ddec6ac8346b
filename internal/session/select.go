package session

import (
	"context"
	"fmt"

	"github.com/adamavenir/ledgersync/internal/types"
)

// SelectGroup switches the live view to groupID. The old stream and its
// timers are torn down before the new stream opens. An empty id leaves
// nothing selected.
func (s *Session) SelectGroup(groupID string) {
	s.applyMu.Lock()
	s.mu.Lock()
	if s.closed || groupID == s.sel.GroupID {
		s.mu.Unlock()
		s.applyMu.Unlock()
		return
	}
	s.sel = types.Selection{GroupID: groupID, Gen: s.sel.Gen + 1}
	sel := s.sel
	s.ready = false
	s.unread = 0
	s.group = s.knownGroupLocked(groupID)
	s.gctx = types.GroupContext{}
	s.window = types.Window{}
	s.mu.Unlock()

	s.contextDebounce.Cancel()
	s.rosterDebounce.Cancel()
	s.warmup.Clear()
	s.store.Reset(groupID)

	if groupID == "" {
		s.mu.Lock()
		s.manager.Disconnect()
		s.status = types.ConnectionStatus{State: types.ConnIdle}
		s.mu.Unlock()
		s.applyMu.Unlock()
	} else {
		if s.resolver.Cached(groupID) {
			s.store.SetRoster(s.resolver.Resolve(groupID, groupID).Actors)
		}
		s.preloadLocked(sel)

		s.mu.Lock()
		s.streamGen = s.manager.Connect(groupID)
		s.status = types.ConnectionStatus{GroupID: groupID, State: types.ConnConnecting}
		s.mu.Unlock()
		s.applyMu.Unlock()

		s.refreshRoster(sel)
		s.refreshContext(sel)
	}

	s.logger.Debug("selected group", "group", groupID, "gen", sel.Gen)
	s.metrics.Unread(0)
	s.coord.SelectionChanged(groupID)
	s.publish(Change{Kind: ChangeSelection, GroupID: groupID})
}

// OpenMessage navigates to an event, selecting its group first when
// needed.
func (s *Session) OpenMessage(groupID, eventID string) error {
	return s.coord.OpenMessage(groupID, eventID)
}

// SelectedGroup returns the selected group id.
func (s *Session) SelectedGroup() string {
	return s.Selected().GroupID
}

// RequestWindow fetches the windowed view around eventID if groupID is
// still selected.
func (s *Session) RequestWindow(groupID, eventID string) {
	sel := s.Selected()
	if sel.GroupID != groupID {
		return
	}
	s.goFetch(func(ctx context.Context) {
		raw, found, err := s.backend.LedgerWindow(ctx, groupID, eventID, windowBefore, windowAfter)
		s.metrics.Fetch("window", err)
		if err != nil {
			s.logger.Warn("window fetch failed", "group", groupID, "event", eventID, "error", err)
			if s.isCurrent(sel) {
				s.publish(Change{Kind: ChangeError, GroupID: groupID, EventID: eventID, Err: fmt.Errorf("open %s: %w", eventID, err)})
			}
			return
		}
		events := s.decodeAll(groupID, raw)

		s.mu.Lock()
		if s.closed || sel != s.sel {
			s.mu.Unlock()
			return
		}
		s.window = types.Window{GroupID: groupID, EventID: eventID, Found: found, Events: events}
		s.mu.Unlock()
		s.publish(Change{Kind: ChangeWindow, GroupID: groupID, EventID: eventID})
	})
}

// RefreshGroups reloads the group list in the background.
func (s *Session) RefreshGroups() {
	s.goFetch(func(ctx context.Context) {
		if err := s.loadGroups(ctx); err != nil {
			s.logger.Warn("group list refresh failed", "error", err)
		}
	})
}

func (s *Session) loadGroups(ctx context.Context) error {
	groups, err := s.backend.Groups(ctx)
	s.metrics.Fetch("groups", err)
	if err != nil {
		return fmt.Errorf("load groups: %w", err)
	}

	ids := make([]string, 0, len(groups))
	s.mu.Lock()
	s.groups = append([]types.Group(nil), groups...)
	for _, group := range groups {
		ids = append(ids, group.ID)
		if group.ID == s.sel.GroupID && s.group.Title == "" {
			s.group = group
		}
	}
	s.mu.Unlock()

	s.coord.GroupsLoaded(ids)
	s.publish(Change{Kind: ChangeGroups})
	return nil
}

func (s *Session) knownGroupLocked(groupID string) types.Group {
	for _, group := range s.groups {
		if group.ID == groupID {
			return group
		}
	}
	return types.Group{ID: groupID}
}

// preloadLocked fills the store from the journal. Caller holds applyMu.
func (s *Session) preloadLocked(sel types.Selection) {
	if s.journal == nil {
		return
	}
	events, err := s.journal.Load(s.ctx, sel.GroupID, s.cfg.ReconcileLines)
	if err != nil {
		s.logger.Warn("journal preload failed", "group", sel.GroupID, "error", err)
		return
	}
	for _, ev := range events {
		s.applyLocked(sel, ev, s.currentView(), originJournal)
	}
	if len(events) > 0 {
		s.logger.Debug("preloaded journal", "group", sel.GroupID, "events", len(events))
	}
}
