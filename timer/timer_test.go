package timer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/webitel/actorkit/message"
)

type fakeEntry struct {
	handle Handle
	at     time.Time
	fire   FireFunc
}

// fakeEngine records Schedule/Cancel calls without running anything on
// its own goroutine, so facade tests can drive fires deterministically
// instead of racing against a real clock.
type fakeEngine struct {
	mu        sync.Mutex
	scheduled []fakeEntry
	cancelled map[Handle]bool
	next      uint64
}

func (e *fakeEngine) Start() {}
func (e *fakeEngine) Stop()  {}

func (e *fakeEngine) Schedule(at time.Time, fire FireFunc) Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.next++
	h := Handle(e.next)
	e.scheduled = append(e.scheduled, fakeEntry{handle: h, at: at, fire: fire})
	return h
}

func (e *fakeEngine) Cancel(h Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancelled == nil {
		e.cancelled = make(map[Handle]bool)
	}
	e.cancelled[h] = true
}

func (e *fakeEngine) last() fakeEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scheduled[len(e.scheduled)-1]
}

func (e *fakeEngine) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.scheduled)
}

func (e *fakeEngine) isCancelled(h Handle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled[h]
}

type fakeTarget struct {
	mu   sync.Mutex
	sent []any
}

func (f *fakeTarget) Send(inst *message.Instance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, inst.Payload())
	return nil
}

func (f *fakeTarget) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type greeting struct{ name string }

func TestSingleShotSendsPayloadOnceOnFire(t *testing.T) {
	eng := &fakeEngine{}
	s := NewScheduler(eng)
	target := &fakeTarget{}

	SingleShot(s, target, greeting{name: "alice"}, time.Second)
	assert.Equal(t, 1, eng.count())

	eng.last().fire()
	assert.Equal(t, []any{greeting{name: "alice"}}, target.sent)
	assert.Equal(t, 1, eng.count(), "a single_shot must never reschedule itself")
}

func TestPeriodicReArmsAfterEachFire(t *testing.T) {
	eng := &fakeEngine{}
	s := NewScheduler(eng)
	target := &fakeTarget{}

	Periodic(s, target, 7, time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, 1, eng.count())

	first := eng.last()
	first.fire()
	assert.Equal(t, 1, target.count())
	assert.Equal(t, 2, eng.count(), "firing a periodic timer must re-arm it")

	eng.last().fire()
	assert.Equal(t, 2, target.count())
	assert.Equal(t, 3, eng.count())
}

func TestReleaseLastReferenceCancelsPendingTimer(t *testing.T) {
	eng := &fakeEngine{}
	s := NewScheduler(eng)
	target := &fakeTarget{}

	tid := SingleShot(s, target, 1, time.Hour)
	h := eng.last().handle

	assert.Equal(t, int64(0), tid.Release())
	assert.True(t, eng.isCancelled(h))
}

func TestRetainKeepsTimerAliveUntilMatchingRelease(t *testing.T) {
	eng := &fakeEngine{}
	s := NewScheduler(eng)
	target := &fakeTarget{}

	tid := SingleShot(s, target, 1, time.Hour)
	h := eng.last().handle

	tid.Retain()
	assert.Equal(t, int64(1), tid.Release())
	assert.False(t, eng.isCancelled(h), "releasing one of two references must not cancel yet")

	assert.Equal(t, int64(0), tid.Release())
	assert.True(t, eng.isCancelled(h))
}

func TestPeriodicStopsReArmingAfterRelease(t *testing.T) {
	eng := &fakeEngine{}
	s := NewScheduler(eng)
	target := &fakeTarget{}

	tid := Periodic(s, target, 1, time.Millisecond, time.Millisecond)
	first := eng.last()

	tid.Release()
	assert.True(t, eng.isCancelled(first.handle))

	before := eng.count()
	first.fire()
	assert.Equal(t, before, eng.count(), "a cancelled periodic timer must not re-arm even if a stray fire still runs")
}

func TestHeapEngineFiresEarliestFirst(t *testing.T) {
	e := NewHeapEngine()
	e.Start()
	defer e.Stop()

	var mu sync.Mutex
	var order []string
	now := time.Now()
	e.Schedule(now.Add(40*time.Millisecond), func() { mu.Lock(); order = append(order, "b"); mu.Unlock() })
	e.Schedule(now.Add(10*time.Millisecond), func() { mu.Lock(); order = append(order, "a"); mu.Unlock() })

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestHeapEngineCancelPreventsFire(t *testing.T) {
	e := NewHeapEngine()
	e.Start()
	defer e.Stop()

	fired := false
	h := e.Schedule(time.Now().Add(15*time.Millisecond), func() { fired = true })
	e.Cancel(h)

	time.Sleep(50 * time.Millisecond)
	assert.False(t, fired)
}

func TestListEngineFiresEarliestFirst(t *testing.T) {
	e := NewListEngine()
	e.Start()
	defer e.Stop()

	var mu sync.Mutex
	var order []string
	now := time.Now()
	e.Schedule(now.Add(40*time.Millisecond), func() { mu.Lock(); order = append(order, "b"); mu.Unlock() })
	e.Schedule(now.Add(10*time.Millisecond), func() { mu.Lock(); order = append(order, "a"); mu.Unlock() })

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestListEngineCancelPreventsFire(t *testing.T) {
	e := NewListEngine()
	e.Start()
	defer e.Stop()

	fired := false
	h := e.Schedule(time.Now().Add(15*time.Millisecond), func() { fired = true })
	e.Cancel(h)

	time.Sleep(50 * time.Millisecond)
	assert.False(t, fired)
}

func TestWheelEngineFiresScheduledEntry(t *testing.T) {
	e := NewWheelEngine(64, 5*time.Millisecond)
	e.Start()
	defer e.Stop()

	done := make(chan struct{})
	e.Schedule(time.Now().Add(20*time.Millisecond), func() { close(done) })

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("wheel engine never fired the scheduled entry")
	}
}

func TestWheelEngineCancelPreventsFire(t *testing.T) {
	e := NewWheelEngine(64, 5*time.Millisecond)
	e.Start()
	defer e.Stop()

	fired := false
	h := e.Schedule(time.Now().Add(20*time.Millisecond), func() { fired = true })
	e.Cancel(h)

	time.Sleep(60 * time.Millisecond)
	assert.False(t, fired)
}

func TestWheelEngineHandlesMultipleRoundsAhead(t *testing.T) {
	e := NewWheelEngine(4, 5*time.Millisecond)
	e.Start()
	defer e.Stop()

	done := make(chan struct{})
	// 4 buckets * 5ms = 20ms per revolution; scheduling 45ms out forces
	// more than two full rounds before the entry is due.
	e.Schedule(time.Now().Add(45*time.Millisecond), func() { close(done) })

	select {
	case <-done:
	case <-time.After(300 * time.Millisecond):
		t.Fatal("wheel engine never fired an entry scheduled multiple rounds ahead")
	}
}
