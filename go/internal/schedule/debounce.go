package schedule

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Debouncer runs fn once the trigger has been quiet for delay. Every
// Trigger replaces the pending timer, so only the last burst fires. Runs of
// fn never overlap, and Flush and Stop return only after a run in flight
// has finished.
type Debouncer struct {
	clock clockwork.Clock
	delay time.Duration
	fn    func()

	// runMu is held for the whole of every fn run.
	runMu sync.Mutex

	mu      sync.Mutex
	timer   clockwork.Timer
	gen     uint64
	stopped bool
}

// NewDebouncer creates a debouncer bound to clock.
func NewDebouncer(clock clockwork.Clock, delay time.Duration, fn func()) *Debouncer {
	return &Debouncer{clock: clock, delay: delay, fn: fn}
}

// Trigger (re)arms the timer.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.gen++
	gen := d.gen
	d.replaceTimer(d.clock.AfterFunc(d.delay, func() { d.fire(gen) }))
}

// Pending reports whether a fire is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Flush cancels the pending timer and runs fn now if one was scheduled.
// A fire already running is waited for.
func (d *Debouncer) Flush() {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	d.mu.Lock()
	pending := d.timer != nil && !d.stopped
	d.replaceTimer(nil)
	d.gen++
	d.mu.Unlock()
	if pending {
		d.fn()
	}
}

// Stop cancels any pending fire and waits for a fire already running.
// The debouncer cannot be reused.
func (d *Debouncer) Stop() {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.gen++
	d.replaceTimer(nil)
}

func (d *Debouncer) fire(gen uint64) {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	d.mu.Lock()
	// A fire racing with Trigger/Flush/Stop belongs to a superseded timer.
	if gen != d.gen || d.stopped {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.mu.Unlock()
	d.fn()
}

// replaceTimer cancels the current timer before storing next.
// The caller must hold d.mu.
func (d *Debouncer) replaceTimer(next clockwork.Timer) {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = next
}
