package stream

import "time"

const (
	DefaultBackoffFloor = time.Second
	DefaultBackoffCap   = 30 * time.Second
)

// Backoff doubles from Floor up to Cap.
type Backoff struct {
	Floor time.Duration
	Cap   time.Duration

	next time.Duration
}

// Next returns the delay to wait before the upcoming attempt and doubles
// the one after it.
func (b *Backoff) Next() time.Duration {
	floor, ceiling := b.bounds()
	if b.next < floor {
		b.next = floor
	}
	delay := b.next
	if delay > ceiling {
		delay = ceiling
	}
	if b.next < ceiling {
		b.next *= 2
	}
	return delay
}

// Reset puts the delay back to the floor.
func (b *Backoff) Reset() {
	b.next = 0
}

func (b *Backoff) bounds() (time.Duration, time.Duration) {
	floor := b.Floor
	if floor <= 0 {
		floor = DefaultBackoffFloor
	}
	ceiling := b.Cap
	if ceiling < floor {
		ceiling = floor
	}
	return floor, ceiling
}
