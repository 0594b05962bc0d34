package timer

import (
	"sync"
	"time"

	"github.com/webitel/actorkit/id"
	"github.com/webitel/actorkit/message"
)

// Target is the delivery surface a timer fires into: a *mbox.Mbox
// satisfies this structurally, the same duck-typing already used by
// limit.Target and mbox.Sink to keep this package free of an import on
// mbox. Forward/Redirect both match, so a caller wanting redirection
// semantics can pass a thin adapter.
type Target interface {
	Send(inst *message.Instance) error
}

// Scheduler owns one running Engine and is the entrypoint SingleShot
// and Periodic schedule against.
type Scheduler struct {
	engine Engine
}

// NewScheduler starts engine's dedicated goroutine and returns a
// Scheduler ready to accept work.
func NewScheduler(engine Engine) *Scheduler {
	engine.Start()
	return &Scheduler{engine: engine}
}

// Stop halts the underlying engine. No further fires occur afterward,
// including ones already scheduled.
func (s *Scheduler) Stop() { s.engine.Stop() }

// ID is the droppable handle returned by SingleShot and Periodic
// (spec.md §4.6's timer_id): refcounted like a message payload
// (id.RefCount) so that releasing the last reference cancels the
// timer. A periodic ID's underlying engine handle changes on every
// re-arm, so it is guarded by its own mutex rather than read directly.
type ID struct {
	engine Engine
	refs   *id.RefCount

	mu        sync.Mutex
	handle    Handle
	cancelled bool
	once      sync.Once
}

func newID(engine Engine) *ID {
	return &ID{engine: engine, refs: id.NewRefCount()}
}

// Retain adds a reference to the timer, keeping it alive as long as the
// returned count is held.
func (t *ID) Retain() int64 { return t.refs.Retain() }

// Release drops a reference. When the count reaches zero the timer is
// cancelled; any pending fire is dropped.
func (t *ID) Release() int64 {
	n := t.refs.Release()
	if n == 0 {
		t.once.Do(t.cancelNow)
	}
	return n
}

func (t *ID) cancelNow() {
	t.mu.Lock()
	t.cancelled = true
	h := t.handle
	t.mu.Unlock()
	t.engine.Cancel(h)
}

// arm schedules fire at "at", unless the timer has already been
// cancelled. It is safe to call concurrently with Release: if
// cancellation lands between the pre-check and the engine handing back
// a handle, the just-created schedule is cancelled immediately instead
// of being left to fire.
func (t *ID) arm(at time.Time, fire FireFunc) {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	h := t.engine.Schedule(at, fire)

	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		t.engine.Cancel(h)
		return
	}
	t.handle = h
	t.mu.Unlock()
}

// SingleShot schedules payload for delivery to target once, after
// delay (spec.md §4.6 "single_shot"). On fire it constructs a fresh
// message.Instance and sends it through the normal delivery path, so
// limits, filters, and envelopes all apply exactly as they would for
// any other send.
func SingleShot[T any](s *Scheduler, target Target, payload T, delay time.Duration) *ID {
	tid := newID(s.engine)
	tid.arm(time.Now().Add(delay), func() {
		_ = target.Send(message.New(payload))
	})
	return tid
}

// Periodic schedules payload for repeated delivery to target, first
// after firstDelay and then every period thereafter (spec.md §4.6
// "periodic"). Each re-arm is computed from the actual fire time, not
// the originally intended one: drift is not corrected, matching
// original_source's timer_thread re-arming, which never compensates
// for how late a tick ran.
func Periodic[T any](s *Scheduler, target Target, payload T, firstDelay, period time.Duration) *ID {
	tid := newID(s.engine)

	var fire func()
	fire = func() {
		_ = target.Send(message.New(payload))
		tid.arm(time.Now().Add(period), fire)
	}
	tid.arm(time.Now().Add(firstDelay), fire)
	return tid
}
