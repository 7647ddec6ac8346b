// Package clock lets timer-driven code run against a fake clock in tests.
package clock

import "time"

// Clock is the subset of the time package the sync client schedules on.
type Clock interface {
	Now() time.Time

	// AfterFunc calls f once d has elapsed. The fake clock calls f
	// synchronously from Advance.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer cancels a pending AfterFunc call.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the call from firing. Reports whether it was still pending.
func (t *Timer) Stop() bool {
	if t == nil || t.stopFunc == nil {
		return false
	}
	return t.stopFunc()
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	timer := time.AfterFunc(d, f)
	return &Timer{stopFunc: timer.Stop}
}
