package gate

import (
	"sync"
	"time"

	"github.com/webolmo/recorder/internal/event"
)

// Idle windows per debounced signal class.
const (
	InputIdle     = 500 * time.Millisecond
	SelectionIdle = 200 * time.Millisecond
	ResizeIdle    = 200 * time.Millisecond
	LoadSettle    = 300 * time.Millisecond
)

// Debouncer coalesces a burst of same-class events into a single delivery.
// Each Submit replaces the pending payload and restarts the idle timer;
// only the last payload observed before an idle gap reaches flush.
// Superseded payloads are discarded, never queued.
type Debouncer struct {
	mu      sync.Mutex
	idle    time.Duration
	flush   func(event.Event)
	pending *event.Event
	timer   *time.Timer
	gen     uint64
	stopped bool
}

func NewDebouncer(idle time.Duration, flush func(event.Event)) *Debouncer {
	return &Debouncer{idle: idle, flush: flush}
}

func (d *Debouncer) Submit(ev event.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.pending = &ev
	// Stop cannot unschedule a timer that already fired; the generation
	// check in fire keeps such a stale timer from delivering this payload
	// before its own idle window.
	d.gen++
	gen := d.gen
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.idle, func() { d.fire(gen) })
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if d.pending == nil || d.stopped || gen != d.gen {
		d.mu.Unlock()
		return
	}
	ev := *d.pending
	d.pending = nil
	d.timer = nil
	d.mu.Unlock()

	d.flush(ev)
}

// Pending reports whether a payload is waiting for its idle gap.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}

// Stop cancels the timer and discards any pending payload. A stopped
// debouncer ignores further submissions.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.pending = nil
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
