package agent

import (
	"sync"
	"time"

	"github.com/joescharf/scoutsync/internal/clock"
)

// DebounceMode selects how repeated triggers interact with a scheduled run.
type DebounceMode int

const (
	// Trailing restarts the wait on every trigger, so the run happens once
	// the triggers go quiet.
	Trailing DebounceMode = iota
	// Leading schedules on the first trigger; later triggers join the
	// already scheduled run.
	Leading
)

type debounceState int

const (
	debounceIdle debounceState = iota
	debounceScheduled
	debounceInFlight
)

func (s debounceState) String() string {
	switch s {
	case debounceScheduled:
		return "scheduled"
	case debounceInFlight:
		return "in-flight"
	}
	return "idle"
}

// Debouncer coalesces triggers into single runs of fn and guarantees runs
// never overlap. A trigger that arrives while fn is running marks the cycle
// pending, and another run is scheduled when fn returns. fn reports whether
// it left work behind, which also schedules another run.
//
// Every schedule bumps a generation counter; a timer callback whose
// generation is stale does nothing, so Cancel and Flush never race a timer
// that already fired.
type Debouncer struct {
	mu      sync.Mutex
	clock   clock.Clock
	delay   time.Duration
	mode    DebounceMode
	fn      func() bool
	state   debounceState
	pending bool
	gen     uint64
	timer   clock.Timer
}

// NewDebouncer returns an idle debouncer.
func NewDebouncer(c clock.Clock, delay time.Duration, mode DebounceMode, fn func() bool) *Debouncer {
	return &Debouncer{clock: c, delay: delay, mode: mode, fn: fn}
}

// Trigger requests a run.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case debounceIdle:
		d.scheduleLocked()
	case debounceScheduled:
		if d.mode == Trailing {
			d.timer.Stop()
			d.scheduleLocked()
		}
	case debounceInFlight:
		d.pending = true
	}
}

// Flush runs fn now if a run is scheduled, and reports whether it did.
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	if d.state != debounceScheduled {
		d.mu.Unlock()
		return false
	}
	d.timer.Stop()
	d.gen++
	gen := d.gen
	d.mu.Unlock()

	d.fire(gen)
	return true
}

// Cancel drops any scheduled run and pending trigger. A run already in
// progress completes and stays marked in flight until it returns; it
// reschedules only for a Trigger that arrives after Cancel.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.state != debounceInFlight {
		d.state = debounceIdle
	}
	d.pending = false
}

// Busy reports whether a run is scheduled or in progress.
func (d *Debouncer) Busy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state != debounceIdle
}

func (d *Debouncer) scheduleLocked() {
	d.gen++
	gen := d.gen
	d.state = debounceScheduled
	d.timer = d.clock.AfterFunc(d.delay, func() { d.fire(gen) })
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.state != debounceScheduled {
		d.mu.Unlock()
		return
	}
	d.state = debounceInFlight
	d.pending = false
	d.timer = nil
	d.mu.Unlock()

	more := d.fn()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = debounceIdle
	if gen != d.gen {
		more = false
	}
	if d.pending || more {
		d.pending = false
		d.scheduleLocked()
	}
}
