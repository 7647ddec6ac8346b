package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock only moves when Advance is called.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	deadline time.Time
	callback func()
	stopped  bool
	fired    bool
}

// Fake returns a FakeClock starting at initial.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{stopFunc: func() bool { return false }}
	}

	c.mu.Lock()
	waiter := &fakeWaiter{deadline: c.current.Add(d), callback: f}
	c.waiters = append(c.waiters, waiter)
	c.mu.Unlock()

	return &Timer{stopFunc: func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if waiter.stopped || waiter.fired {
			return false
		}
		waiter.stopped = true
		return true
	}}
}

// Advance moves the clock forward and runs every callback whose deadline
// has passed, in deadline order. Callbacks may schedule new timers; those
// fire too if they fall inside the advanced window.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.current.Add(d)
	c.mu.Unlock()

	for {
		waiter := c.nextExpired(target)
		if waiter == nil {
			break
		}
		waiter.callback()
	}

	c.mu.Lock()
	c.current = target
	c.mu.Unlock()
}

// nextExpired pops the earliest pending waiter due at or before target and
// moves the clock to its deadline.
func (c *FakeClock) nextExpired(target time.Time) *fakeWaiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	var remaining []*fakeWaiter
	for _, waiter := range c.waiters {
		if !waiter.stopped && !waiter.fired {
			remaining = append(remaining, waiter)
		}
	}
	c.waiters = remaining
	if len(remaining) == 0 {
		return nil
	}
	sort.SliceStable(remaining, func(i, j int) bool {
		return remaining[i].deadline.Before(remaining[j].deadline)
	})
	next := remaining[0]
	if next.deadline.After(target) {
		return nil
	}
	next.fired = true
	if next.deadline.After(c.current) {
		c.current = next.deadline
	}
	return next
}

// PendingCount returns the number of timers that have neither fired nor
// been stopped.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, waiter := range c.waiters {
		if !waiter.stopped && !waiter.fired {
			count++
		}
	}
	return count
}
