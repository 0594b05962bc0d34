// Package queuelock implements the pluggable demand-queue lock policies
// named in spec.md §4.8.1 and §6 (`queue_locks_defaults_manager`):
// a spin-then-condvar default, and a plain mutex+condvar alternative.
// Grounded on original_source/dev/so_5/disp/{mpmc,mpsc}_queue_traits —
// queue traits are a policy object independent of the dispatcher that
// uses them.
package queuelock

import (
	"sync"

	"code.hybscloud.com/spin"
)

// Lock is what a FIFO demand queue needs from its lock policy: mutual
// exclusion plus a way to block a consumer until a predicate holds.
type Lock interface {
	sync.Locker
	// WaitUntil blocks, with the lock held, until predicate() returns
	// true, re-evaluating predicate after every wake. The lock is held
	// both on entry and on return.
	WaitUntil(predicate func() bool)
	// Signal wakes one waiter blocked in WaitUntil.
	Signal()
	// Broadcast wakes every waiter blocked in WaitUntil.
	Broadcast()
}

// Factory constructs a fresh Lock for one demand queue.
type Factory interface {
	New() Lock
}

// condLock is the shared plumbing between the two factories below: a
// mutex-guarded condition variable.
type condLock struct {
	mu   sync.Mutex
	cond *sync.Cond
}

func newCondLock() *condLock {
	l := &condLock{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *condLock) Lock()   { l.mu.Lock() }
func (l *condLock) Unlock() { l.mu.Unlock() }
func (l *condLock) Signal() { l.cond.Signal() }
func (l *condLock) Broadcast() {
	l.cond.Broadcast()
}

// mutexCondLock blocks immediately on the condition variable: no
// spinning. Suited for queues expected to sit idle most of the time,
// where spinning would only burn CPU.
type mutexCondLock struct {
	*condLock
}

func (l *mutexCondLock) WaitUntil(predicate func() bool) {
	for !predicate() {
		l.cond.Wait()
	}
}

// MutexCondFactory produces plain mutex+condvar locks.
type MutexCondFactory struct{}

// New implements Factory.
func (MutexCondFactory) New() Lock {
	return &mutexCondLock{condLock: newCondLock()}
}

// spinCondLock spins briefly (busy-polling predicate) before parking on
// the condition variable, trading CPU for latency under short-lived
// contention — the default spec.md §4.8.1 describes.
type spinCondLock struct {
	*condLock
	spinAttempts int
}

func (l *spinCondLock) WaitUntil(predicate func() bool) {
	sw := spin.Wait{}
	for i := 0; i < l.spinAttempts; i++ {
		if predicate() {
			return
		}
		l.mu.Unlock()
		sw.Once()
		l.mu.Lock()
	}
	for !predicate() {
		l.cond.Wait()
	}
}

// SpinCondFactory produces locks that spin up to SpinAttempts times
// before falling back to blocking on a condition variable. The zero
// value uses a sensible default spin count.
type SpinCondFactory struct {
	SpinAttempts int
}

// New implements Factory.
func (f SpinCondFactory) New() Lock {
	attempts := f.SpinAttempts
	if attempts <= 0 {
		attempts = 64
	}
	return &spinCondLock{condLock: newCondLock(), spinAttempts: attempts}
}

// Default is the queue_locks_defaults_manager default: spin-then-condvar.
var Default Factory = SpinCondFactory{}
