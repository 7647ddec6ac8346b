package stream

import (
	"sync"
	"time"

	"github.com/adamavenir/ledgersync/internal/clock"
)

// Debouncer collapses bursts of Trigger calls into one call of fn, made
// once delay has passed without another Trigger.
type Debouncer struct {
	clock clock.Clock
	delay time.Duration
	fn    func()

	mu    sync.Mutex
	timer *clock.Timer
}

func NewDebouncer(c clock.Clock, delay time.Duration, fn func()) *Debouncer {
	if c == nil {
		c = clock.Real()
	}
	return &Debouncer{clock: c, delay: delay, fn: fn}
}

func (d *Debouncer) Trigger() {
	if d.delay <= 0 {
		d.Cancel()
		d.fn()
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	var timer *clock.Timer
	timer = d.clock.AfterFunc(d.delay, func() {
		d.mu.Lock()
		if d.timer != timer {
			d.mu.Unlock()
			return
		}
		d.timer = nil
		d.mu.Unlock()
		d.fn()
	})
	d.timer = timer
}

// Cancel drops a pending call.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Pending reports whether a call is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}
