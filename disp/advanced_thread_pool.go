package disp

import (
	"log/slog"
	"sync"

	"github.com/webitel/actorkit/id"
	"github.com/webitel/actorkit/queuelock"
)

// advUnit is one agent's schedulable queue under AdvancedThreadPool. rw
// enforces spec.md §4.4's thread-safety rule directly: a not_thread_safe
// demand takes rw for writing (exclusive of every other handler of this
// agent), a thread_safe demand takes it for reading (shared with other
// thread_safe handlers, blocked by any in-flight not_thread_safe one).
type advUnit struct {
	queue     *FIFOQueue
	rw        sync.RWMutex
	scheduled bool
}

// AdvancedThreadPool is a thread-pool variant that, in addition to the
// plain ThreadPool's agent-queue scheduling, honors per-handler
// thread-safety (spec.md §4.8.6): multiple thread_safe handlers of the
// same agent may execute in parallel across workers, while
// not_thread_safe handlers run exclusively with respect to that agent.
type AdvancedThreadPool struct {
	logger  *slog.Logger
	factory queuelock.Factory
	hook    Hook

	mu    sync.Mutex
	units map[id.Agent]*advUnit

	readyLock queuelock.Lock
	ready     []*advUnit
	closed    bool
	wg        sync.WaitGroup
}

// NewAdvancedThreadPool starts numWorkers worker goroutines.
func NewAdvancedThreadPool(logger *slog.Logger, numWorkers int, factory queuelock.Factory, hook Hook) *AdvancedThreadPool {
	if logger == nil {
		logger = slog.Default()
	}
	if numWorkers <= 0 {
		numWorkers = 1
	}
	lf := factory
	if lf == nil {
		lf = queuelock.Default
	}

	tp := &AdvancedThreadPool{
		logger:    logger,
		factory:   factory,
		hook:      hook,
		units:     make(map[id.Agent]*advUnit),
		readyLock: lf.New(),
	}
	for i := 0; i < numWorkers; i++ {
		tp.wg.Add(1)
		go tp.worker()
	}
	return tp
}

// Bind implements Binder.
func (tp *AdvancedThreadPool) Bind(agentID id.Agent) (EventQueue, error) {
	tp.mu.Lock()
	u := &advUnit{queue: NewFIFOQueue(tp.factory)}
	tp.units[agentID] = u
	tp.mu.Unlock()

	var eq EventQueue = &advEventQueue{tp: tp, unit: u}
	if tp.hook != nil {
		eq = tp.hook(agentID, eq)
	}
	return eq, nil
}

// Unbind implements Binder.
func (tp *AdvancedThreadPool) Unbind(agentID id.Agent) {
	tp.mu.Lock()
	u, ok := tp.units[agentID]
	delete(tp.units, agentID)
	tp.mu.Unlock()
	if ok {
		u.queue.Close()
	}
}

// Stop closes the pool's ready queue and waits for every worker to exit.
func (tp *AdvancedThreadPool) Stop() {
	tp.readyLock.Lock()
	tp.closed = true
	tp.readyLock.Unlock()
	tp.readyLock.Broadcast()
	tp.wg.Wait()
}

func (tp *AdvancedThreadPool) schedule(u *advUnit) {
	tp.readyLock.Lock()
	if !u.scheduled {
		u.scheduled = true
		tp.ready = append(tp.ready, u)
		tp.readyLock.Signal()
	}
	tp.readyLock.Unlock()
}

// worker claims one unit, pops exactly one demand from it, and re-queues
// the unit immediately (before running the demand) if more work is
// pending — letting another worker pick up the unit's next demand while
// this one is still executing, which is what allows thread_safe handlers
// of the same agent to overlap across workers.
func (tp *AdvancedThreadPool) worker() {
	defer tp.wg.Done()

	for {
		tp.readyLock.Lock()
		tp.readyLock.WaitUntil(func() bool { return len(tp.ready) > 0 || tp.closed })
		if len(tp.ready) == 0 {
			tp.readyLock.Unlock()
			return
		}
		u := tp.ready[0]
		tp.ready = tp.ready[1:]
		tp.readyLock.Unlock()

		d, ok := u.queue.TryPop()
		if !ok {
			tp.readyLock.Lock()
			u.scheduled = false
			tp.readyLock.Unlock()
			continue
		}

		if u.queue.Len() > 0 {
			tp.readyLock.Lock()
			tp.ready = append(tp.ready, u)
			tp.readyLock.Signal()
			tp.readyLock.Unlock()
		} else {
			tp.readyLock.Lock()
			u.scheduled = false
			tp.readyLock.Unlock()
		}

		tp.run(u, d)
	}
}

func (tp *AdvancedThreadPool) run(u *advUnit, d Demand) {
	if d.ThreadSafe {
		u.rw.RLock()
		defer u.rw.RUnlock()
	} else {
		u.rw.Lock()
		defer u.rw.Unlock()
	}

	if d.Exec == nil {
		return
	}
	if err := d.Exec(); err != nil {
		tp.logger.Error("demand execution failed", "agent_id", d.AgentID, "err", err)
	}
}

type advEventQueue struct {
	tp   *AdvancedThreadPool
	unit *advUnit
}

func (q *advEventQueue) Push(d Demand) error {
	if err := q.unit.queue.Push(d); err != nil {
		return err
	}
	q.tp.schedule(q.unit)
	return nil
}

func (q *advEventQueue) Pop() (Demand, bool) { return q.unit.queue.Pop() }
func (q *advEventQueue) Close()              { q.unit.queue.Close() }
func (q *advEventQueue) Len() int            { return q.unit.queue.Len() }
