// Package warmup arms short bursts of delayed roster refreshes after a
// group is selected or its actors change, closing the gap until the
// supervisor reports actors as running.
package warmup

import (
	"sync"
	"time"

	"github.com/adamavenir/ledgersync/internal/clock"
	"github.com/adamavenir/ledgersync/internal/types"
)

// DefaultDelays are the offsets of the refreshes from Schedule.
var DefaultDelays = []time.Duration{3 * time.Second, 8 * time.Second, 15 * time.Second}

type Options struct {
	Clock  clock.Clock
	Delays []time.Duration

	// Current reports whether sel is still the selected group.
	Current func(sel types.Selection) bool
	// Refresh reloads the roster for sel.
	Refresh func(sel types.Selection)
}

// Scheduler owns one pending sequence at a time.
type Scheduler struct {
	clock   clock.Clock
	delays  []time.Duration
	current func(types.Selection) bool
	refresh func(types.Selection)

	mu        sync.Mutex
	seq       uint64
	timers    []*clock.Timer
	remaining int
}

func New(opts Options) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Delays == nil {
		opts.Delays = DefaultDelays
	}
	if opts.Current == nil {
		opts.Current = func(types.Selection) bool { return true }
	}
	if opts.Refresh == nil {
		opts.Refresh = func(types.Selection) {}
	}
	return &Scheduler{
		clock:   opts.Clock,
		delays:  append([]time.Duration(nil), opts.Delays...),
		current: opts.Current,
		refresh: opts.Refresh,
	}
}

// Schedule replaces any pending sequence with a new one for sel.
func (s *Scheduler) Schedule(sel types.Selection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
	seq := s.seq
	for _, delay := range s.delays {
		if delay <= 0 {
			continue
		}
		s.remaining++
		s.timers = append(s.timers, s.clock.AfterFunc(delay, func() { s.fire(seq, sel) }))
	}
}

// Clear cancels all pending refreshes.
func (s *Scheduler) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

// Pending returns the number of refreshes not yet fired or cleared.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining
}

func (s *Scheduler) clearLocked() {
	for _, timer := range s.timers {
		timer.Stop()
	}
	s.timers = nil
	s.remaining = 0
	s.seq++
}

func (s *Scheduler) fire(seq uint64, sel types.Selection) {
	s.mu.Lock()
	if seq != s.seq {
		s.mu.Unlock()
		return
	}
	s.remaining--
	s.mu.Unlock()

	if !s.current(sel) {
		return
	}
	s.refresh(sel)
}
