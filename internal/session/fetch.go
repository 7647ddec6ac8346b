package session

import (
	"context"
	"errors"

	"github.com/adamavenir/ledgersync/internal/types"
)

// reconcile fetches the ledger tail for sel and applies it. Events seen
// live are skipped by the store, so overlap is harmless.
func (s *Session) reconcile(sel types.Selection) {
	s.goFetch(func(ctx context.Context) {
		raw, err := s.backend.LedgerTail(ctx, sel.GroupID, s.cfg.ReconcileLines)
		s.metrics.Fetch("tail", err)
		if err != nil {
			s.logFetchError("reconcile", sel, err)
			return
		}
		if !s.applyEvents(sel, s.decodeAll(sel.GroupID, raw), originReconcile) {
			return
		}

		s.mu.Lock()
		first := !s.closed && sel == s.sel && !s.ready
		if first {
			s.ready = true
		}
		s.mu.Unlock()
		if first {
			s.coord.GroupReady(sel.GroupID)
		}
	})
}

// refreshRoster reloads the roster and group document for sel and keeps
// the resolver's entry for the selected group in sync.
func (s *Session) refreshRoster(sel types.Selection) {
	s.goFetch(func(ctx context.Context) {
		actors, err := s.backend.Actors(ctx, sel.GroupID)
		s.metrics.Fetch("roster", err)
		if err != nil {
			s.logFetchError("roster", sel, err)
			return
		}
		group, groupErr := s.backend.Group(ctx, sel.GroupID)
		s.metrics.Fetch("group", groupErr)
		if groupErr != nil {
			s.logFetchError("group", sel, groupErr)
		}

		s.applyMu.Lock()
		s.mu.Lock()
		if s.closed || sel != s.sel {
			s.mu.Unlock()
			s.applyMu.Unlock()
			return
		}
		if groupErr == nil {
			s.group = group
		}
		label := s.group.ScopeLabel()
		s.mu.Unlock()
		s.store.SetRoster(actors)
		s.resolver.Sync(sel.GroupID, actors, label)
		s.applyMu.Unlock()

		s.publish(Change{Kind: ChangeRoster, GroupID: sel.GroupID})
	})
}

func (s *Session) refreshContext(sel types.Selection) {
	s.goFetch(func(ctx context.Context) {
		doc, err := s.backend.Context(ctx, sel.GroupID)
		s.metrics.Fetch("context", err)
		if err != nil {
			s.logFetchError("context", sel, err)
			return
		}

		s.mu.Lock()
		if s.closed || sel != s.sel {
			s.mu.Unlock()
			return
		}
		s.gctx = doc
		s.mu.Unlock()
		s.publish(Change{Kind: ChangeContext, GroupID: sel.GroupID})
	})
}

func (s *Session) logFetchError(kind string, sel types.Selection, err error) {
	if errors.Is(err, context.Canceled) || !s.isCurrent(sel) {
		return
	}
	s.logger.Warn(kind+" fetch failed", "group", sel.GroupID, "error", err)
}
