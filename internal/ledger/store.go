// Package ledger holds the local view of one group's event log and the
// per-event status derived from later events.
package ledger

import (
	"sync"

	"github.com/adamavenir/ledgersync/internal/classify"
	"github.com/adamavenir/ledgersync/internal/core"
	"github.com/adamavenir/ledgersync/internal/types"
)

// ChangeKind describes a store mutation.
type ChangeKind string

const (
	ChangeReset  ChangeKind = "reset"
	ChangeAppend ChangeKind = "append"
	ChangeRead   ChangeKind = "read"
	ChangeAck    ChangeKind = "ack"
	ChangeReply  ChangeKind = "reply"
	ChangeRoster ChangeKind = "roster"
)

// Change is delivered to subscribers after each effective mutation.
type Change struct {
	Kind     ChangeKind
	GroupID  string
	EventID  string
	Observer string
}

// View is the operator's view of the conversation at append time.
type View struct {
	ViewingStream bool
	AtBottom      bool
}

// AppendResult reports what Append did.
type AppendResult struct {
	Appended     bool
	Recipients   []string
	CountsUnread bool
}

// Store is the state container for the selected group. All mutation goes
// through Append and the Patch methods, which are idempotent.
type Store struct {
	mu      sync.RWMutex
	groupID string
	events  []types.Event
	index   map[string]int
	roster  []types.Actor
	read    *statusMap
	ack     *statusMap
	reply   *statusMap

	// unseeded lists chat events appended before any roster was set.
	rosterSet bool
	unseeded  []string

	subMu   sync.Mutex
	subs    map[int]func(Change)
	nextSub int
}

// NewStore returns an empty store for groupID.
func NewStore(groupID string) *Store {
	s := &Store{subs: map[int]func(Change){}}
	s.resetLocked(groupID)
	return s
}

func (s *Store) resetLocked(groupID string) {
	s.groupID = groupID
	s.events = nil
	s.index = map[string]int{}
	s.roster = nil
	s.read = newStatusMap()
	s.ack = newStatusMap()
	s.reply = newStatusMap()
	s.rosterSet = false
	s.unseeded = nil
}

// Reset empties the store and rebinds it to groupID.
func (s *Store) Reset(groupID string) {
	s.mu.Lock()
	s.resetLocked(groupID)
	s.mu.Unlock()
	s.publish(Change{Kind: ChangeReset, GroupID: groupID})
}

// GroupID returns the group the store currently holds.
func (s *Store) GroupID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.groupID
}

// SetRoster replaces the roster used for recipient resolution. The first
// roster also seeds the chat messages appended before it arrived.
func (s *Store) SetRoster(actors []types.Actor) {
	s.mu.Lock()
	s.roster = append([]types.Actor(nil), actors...)
	if !s.rosterSet {
		s.rosterSet = true
		for _, eventID := range s.unseeded {
			if idx, ok := s.index[eventID]; ok {
				s.seedLocked(s.events[idx])
			}
		}
		s.unseeded = nil
	}
	groupID := s.groupID
	s.mu.Unlock()
	s.publish(Change{Kind: ChangeRoster, GroupID: groupID})
}

// Roster returns a copy of the current roster.
func (s *Store) Roster() []types.Actor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.Actor(nil), s.roster...)
}

// RosterLoaded reports whether a roster has been set since the last reset.
func (s *Store) RosterLoaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rosterSet
}

// Append adds ev unless its id is already present. Chat messages get their
// status entries seeded before they become visible.
func (s *Store) Append(ev types.Event, view View) AppendResult {
	s.mu.Lock()
	if _, exists := s.index[ev.ID]; exists {
		s.mu.Unlock()
		return AppendResult{}
	}

	result := AppendResult{Appended: true}
	if classify.IsChatMessage(ev) {
		if s.rosterSet {
			result.Recipients = s.seedLocked(ev)
		} else {
			s.unseeded = append(s.unseeded, ev.ID)
		}
	}

	s.index[ev.ID] = len(s.events)
	s.events = append(s.events, ev)
	result.CountsUnread = classify.ShouldIncrementUnreadCounter(ev, view.ViewingStream, view.AtBottom)
	groupID := s.groupID
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeAppend, GroupID: groupID, EventID: ev.ID})
	return result
}

// seedLocked adds pending status entries for a chat message's recipients
// under the current roster and returns them.
func (s *Store) seedLocked(ev types.Event) []string {
	data, ok := classify.Chat(ev)
	if !ok {
		return nil
	}
	recipients := core.ResolveRecipients(data.To, ev.By, s.roster)
	s.read.seed(ev.ID, recipients)
	if data.Priority == types.PriorityAttention {
		s.ack.seed(ev.ID, recipients)
	}
	if data.ReplyRequired {
		s.reply.seed(ev.ID, recipients)
	}
	return recipients
}

// PatchReadStatus marks eventID read by observer.
func (s *Store) PatchReadStatus(eventID, observer string) bool {
	return s.patch(ChangeRead, eventID, observer)
}

// PatchAckStatus marks eventID acknowledged by observer.
func (s *Store) PatchAckStatus(eventID, observer string) bool {
	return s.patch(ChangeAck, eventID, observer)
}

// PatchReplyStatus marks the obligation on repliedTo satisfied for by.
func (s *Store) PatchReplyStatus(repliedTo, by string) bool {
	return s.patch(ChangeReply, repliedTo, by)
}

// patch drops updates for unknown events; the event's own append seeds
// its status when it arrives. Updates from observers not yet seeded are
// applied when the roster seeds them.
func (s *Store) patch(kind ChangeKind, eventID, observer string) bool {
	s.mu.Lock()
	if _, known := s.index[eventID]; !known {
		s.mu.Unlock()
		return false
	}
	var target *statusMap
	switch kind {
	case ChangeRead:
		target = s.read
	case ChangeAck:
		target = s.ack
	default:
		target = s.reply
	}
	changed := target.satisfy(eventID, observer)
	groupID := s.groupID
	s.mu.Unlock()

	if changed {
		s.publish(Change{Kind: kind, GroupID: groupID, EventID: eventID, Observer: observer})
	}
	return changed
}

// Events returns a copy of the sequence in arrival order.
func (s *Store) Events() []types.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.Event(nil), s.events...)
}

// Len returns the number of events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Has reports whether an event id is present.
func (s *Store) Has(eventID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[eventID]
	return ok
}

// Event returns the event with the given id.
func (s *Store) Event(eventID string) (types.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.index[eventID]
	if !ok {
		return types.Event{}, false
	}
	return s.events[idx], true
}

// Recipients re-derives the recipient set of a chat message from the
// current roster, using the same rule as the seeding path.
func (s *Store) Recipients(eventID string) ([]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.index[eventID]
	if !ok {
		return nil, false
	}
	ev := s.events[idx]
	data, ok := classify.Chat(ev)
	if !ok {
		return nil, false
	}
	return core.ResolveRecipients(data.To, ev.By, s.roster), true
}

// ReadStatus returns observer -> read for eventID, nil if untracked.
func (s *Store) ReadStatus(eventID string) map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read.snapshot(eventID)
}

// AckStatus returns observer -> acknowledged for eventID, nil if untracked.
func (s *Store) AckStatus(eventID string) map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ack.snapshot(eventID)
}

// ReplyStatus returns observer -> replied for eventID, nil if untracked.
func (s *Store) ReplyStatus(eventID string) map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reply.snapshot(eventID)
}

// PendingAcks counts outstanding (event, observer) acknowledgements.
func (s *Store) PendingAcks() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ack.pending()
}

// PendingReplies counts outstanding (event, observer) reply obligations.
func (s *Store) PendingReplies() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reply.pending()
}

// Subscribe registers fn for changes. fn runs on the mutating goroutine
// after the store lock is released.
func (s *Store) Subscribe(fn func(Change)) (cancel func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) publish(change Change) {
	s.subMu.Lock()
	fns := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(change)
	}
}
