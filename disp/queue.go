package disp

import "github.com/webitel/actorkit/queuelock"

// FIFOQueue is the common MPSC/MPMC demand queue described in spec.md
// §4.8.1: a plain FIFO guarded by a pluggable queuelock.Lock. The same
// type serves both traffic shapes — MPSC when exactly one dispatcher
// worker ever calls Pop on it (active-object, one-thread), MPMC when
// several workers share it (thread-pool variants).
type FIFOQueue struct {
	lock   queuelock.Lock
	items  []Demand
	closed bool
}

// NewFIFOQueue returns an empty queue using locks minted by factory. A
// nil factory uses queuelock.Default.
func NewFIFOQueue(factory queuelock.Factory) *FIFOQueue {
	if factory == nil {
		factory = queuelock.Default
	}
	return &FIFOQueue{lock: factory.New()}
}

// Push implements EventQueue.
func (q *FIFOQueue) Push(d Demand) error {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	q.items = append(q.items, d)
	q.lock.Signal()
	return nil
}

// Pop implements EventQueue.
func (q *FIFOQueue) Pop() (Demand, bool) {
	q.lock.Lock()
	defer q.lock.Unlock()

	q.lock.WaitUntil(func() bool { return len(q.items) > 0 || q.closed })
	if len(q.items) == 0 {
		return Demand{}, false
	}
	d := q.items[0]
	q.items = q.items[1:]
	return d, true
}

// TryPop returns immediately with (Demand{}, false) instead of blocking
// when the queue is empty; used by dispatchers that poll several queues
// (thread-pool, advanced thread-pool).
func (q *FIFOQueue) TryPop() (Demand, bool) {
	q.lock.Lock()
	defer q.lock.Unlock()

	if len(q.items) == 0 {
		return Demand{}, false
	}
	d := q.items[0]
	q.items = q.items[1:]
	return d, true
}

// Close implements EventQueue. Later Push calls fail with
// ErrQueueClosed; demands already queued can still be popped, and Pop
// callers waiting on an empty closed queue unblock with ok=false.
func (q *FIFOQueue) Close() {
	q.lock.Lock()
	q.closed = true
	q.lock.Unlock()
	q.lock.Broadcast()
}

// Len implements EventQueue.
func (q *FIFOQueue) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return len(q.items)
}
