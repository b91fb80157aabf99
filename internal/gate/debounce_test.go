package gate

import (
	"sync"
	"testing"
	"time"

	"github.com/webolmo/recorder/internal/event"
)

type flushCollector struct {
	mu     sync.Mutex
	events []event.Event
}

func (c *flushCollector) flush(ev event.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *flushCollector) snapshot() []event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]event.Event, len(c.events))
	copy(out, c.events)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestDebouncerCoalescesBurst(t *testing.T) {
	c := &flushCollector{}
	d := NewDebouncer(30*time.Millisecond, c.flush)
	defer d.Stop()

	for _, v := range []string{"h", "he", "hel", "hello"} {
		d.Submit(event.Event{Type: event.Input, Value: v})
		time.Sleep(5 * time.Millisecond)
	}

	waitFor(t, func() bool { return len(c.snapshot()) == 1 })
	got := c.snapshot()
	if got[0].Value != "hello" {
		t.Errorf("flushed value = %q, want %q (only the last payload)", got[0].Value, "hello")
	}
}

func TestDebouncerSeparateIdleGaps(t *testing.T) {
	c := &flushCollector{}
	d := NewDebouncer(20*time.Millisecond, c.flush)
	defer d.Stop()

	d.Submit(event.Event{Type: event.Input, Value: "first"})
	waitFor(t, func() bool { return len(c.snapshot()) == 1 })

	d.Submit(event.Event{Type: event.Input, Value: "second"})
	waitFor(t, func() bool { return len(c.snapshot()) == 2 })

	got := c.snapshot()
	if got[0].Value != "first" || got[1].Value != "second" {
		t.Errorf("flushed values = %q, %q", got[0].Value, got[1].Value)
	}
}

func TestDebouncerPending(t *testing.T) {
	c := &flushCollector{}
	d := NewDebouncer(30*time.Millisecond, c.flush)
	defer d.Stop()

	if d.Pending() {
		t.Error("fresh debouncer should have nothing pending")
	}
	d.Submit(event.Event{Type: event.Input})
	if !d.Pending() {
		t.Error("Pending() = false right after Submit")
	}
	waitFor(t, func() bool { return !d.Pending() })
}

func TestDebouncerStaleTimerDoesNotDeliverFreshPayload(t *testing.T) {
	c := &flushCollector{}
	d := NewDebouncer(40*time.Millisecond, c.flush)
	defer d.Stop()

	// A timer that fired before Submit could stop it carries the old
	// generation; invoking it directly models that interleaving.
	d.Submit(event.Event{Type: event.Input, Value: "old"})
	d.mu.Lock()
	stale := d.gen
	d.mu.Unlock()
	d.Submit(event.Event{Type: event.Input, Value: "new"})

	d.fire(stale)
	if got := c.snapshot(); len(got) != 0 {
		t.Fatalf("stale timer delivered %q before the idle window", got[0].Value)
	}

	waitFor(t, func() bool { return len(c.snapshot()) == 1 })
	if got := c.snapshot(); got[0].Value != "new" {
		t.Errorf("flushed value = %q, want %q", got[0].Value, "new")
	}
}

func TestDebouncerStopDiscardsPending(t *testing.T) {
	c := &flushCollector{}
	d := NewDebouncer(20*time.Millisecond, c.flush)

	d.Submit(event.Event{Type: event.Input, Value: "doomed"})
	d.Stop()
	time.Sleep(50 * time.Millisecond)

	if got := c.snapshot(); len(got) != 0 {
		t.Errorf("stopped debouncer flushed %d events, want 0", len(got))
	}

	// Submissions after Stop are ignored.
	d.Submit(event.Event{Type: event.Input, Value: "late"})
	time.Sleep(50 * time.Millisecond)
	if got := c.snapshot(); len(got) != 0 {
		t.Errorf("submission after Stop flushed %d events, want 0", len(got))
	}
}
