// Package timer implements the timer subsystem (spec.md §4.6, C9):
// three interchangeable scheduling engines (heap, wheel, list) behind a
// common Engine interface, and the single_shot/periodic facade that
// delivers through the normal mbox path on fire.
package timer

import "time"

// Handle identifies one scheduled entry within an Engine, valid until it
// either fires or is cancelled.
type Handle uint64

// FireFunc is run by an engine's dedicated goroutine when an entry's
// scheduled time arrives.
type FireFunc func()

// Engine is the scheduling core every timer engine variant implements
// (spec.md §4.6): insert, fire on a dedicated thread that sleeps until
// the next scheduled moment (or wakes early on a new earliest entry),
// and cancel.
type Engine interface {
	// Start begins the engine's dedicated goroutine.
	Start()
	// Stop halts it. Entries already handed to a FireFunc are not
	// affected; pending entries never fire.
	Stop()
	// Schedule registers fire to run at the given absolute time and
	// returns a handle Cancel can use before it fires.
	Schedule(at time.Time, fire FireFunc) Handle
	// Cancel removes a pending entry. It is a no-op if the handle has
	// already fired or does not exist.
	Cancel(h Handle)
}

// chanWait blocks until stop or wake fires, or — if hasDeadline is true
// — until deadline, whichever comes first. It returns true if it woke
// because the deadline passed (time to check for due entries), false
// otherwise (stopped, or woken by a new earlier entry that needs the
// sleep recomputed). Shared by the heap and list engines, whose
// dedicated threads both sleep until an absolute next-fire time rather
// than ticking at a fixed rate the way the wheel engine does.
func chanWait(stop, wake <-chan struct{}, hasDeadline bool, deadline time.Time) bool {
	if !hasDeadline {
		select {
		case <-stop:
			return false
		case <-wake:
			return false
		}
	}

	d := time.Until(deadline)
	if d < 0 {
		d = 0
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-stop:
		return false
	case <-wake:
		return false
	case <-t.C:
		return true
	}
}
