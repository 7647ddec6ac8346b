package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeAfterFuncFiresInDeadlineOrder(t *testing.T) {
	c := Fake(epoch)
	var order []string
	c.AfterFunc(3*time.Second, func() { order = append(order, "third") })
	c.AfterFunc(1*time.Second, func() { order = append(order, "first") })
	c.AfterFunc(2*time.Second, func() { order = append(order, "second") })

	c.Advance(2 * time.Second)
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("after 2s got %v", order)
	}
	c.Advance(time.Second)
	if len(order) != 3 || order[2] != "third" {
		t.Fatalf("after 3s got %v", order)
	}
	if got := c.Now(); !got.Equal(epoch.Add(3 * time.Second)) {
		t.Fatalf("now = %v", got)
	}
}

func TestFakeStopPreventsFire(t *testing.T) {
	c := Fake(epoch)
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })
	if !timer.Stop() {
		t.Fatal("expected Stop to report pending timer")
	}
	if timer.Stop() {
		t.Fatal("second Stop should report false")
	}
	c.Advance(time.Minute)
	if fired {
		t.Fatal("stopped timer fired")
	}
	if c.PendingCount() != 0 {
		t.Fatalf("pending = %d", c.PendingCount())
	}
}

func TestFakeNestedTimersFireWithinWindow(t *testing.T) {
	c := Fake(epoch)
	var at []time.Duration
	c.AfterFunc(time.Second, func() {
		at = append(at, c.Now().Sub(epoch))
		c.AfterFunc(2*time.Second, func() {
			at = append(at, c.Now().Sub(epoch))
		})
	})
	c.Advance(5 * time.Second)
	if len(at) != 2 || at[0] != time.Second || at[1] != 3*time.Second {
		t.Fatalf("fire times = %v", at)
	}
}
