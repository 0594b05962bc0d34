package disp

import (
	"log/slog"
	"sync"

	"github.com/webitel/actorkit/id"
	"github.com/webitel/actorkit/queuelock"
)

// FIFOMode selects how ThreadPool groups agents into schedulable "agent
// queues" (spec.md §4.8.5).
type FIFOMode int

const (
	// FIFOCooperation places every agent of the same cooperation on one
	// agent queue: they never run in parallel with each other.
	FIFOCooperation FIFOMode = iota
	// FIFOIndividual gives every agent its own agent queue: agents of
	// the same cooperation may run concurrently.
	FIFOIndividual
)

// schedUnit is one schedulable "agent queue": either a whole cooperation
// (FIFOCooperation) or a single agent (FIFOIndividual).
type schedUnit struct {
	queue     *FIFOQueue
	refs      int
	scheduled bool
}

// ThreadPool is N worker threads sharing an MPMC queue of ready agent
// queues (spec.md §4.8.5): a worker claims a ready unit, processes up to
// maxDemandsAtOnce demands from it, then releases it.
type ThreadPool struct {
	logger           *slog.Logger
	factory          queuelock.Factory
	hook             Hook
	mode             FIFOMode
	maxDemandsAtOnce int

	mu        sync.Mutex
	units     map[any]*schedUnit
	agentUnit map[id.Agent]*schedUnit
	agentKey  map[id.Agent]any

	readyLock queuelock.Lock
	ready     []*schedUnit
	closed    bool
	wg        sync.WaitGroup
}

// NewThreadPool starts numWorkers worker goroutines sharing the pool's
// ready queue. maxDemandsAtOnce bounds how many demands a worker drains
// from one unit before yielding it back.
func NewThreadPool(logger *slog.Logger, numWorkers int, mode FIFOMode, maxDemandsAtOnce int, factory queuelock.Factory, hook Hook) *ThreadPool {
	if logger == nil {
		logger = slog.Default()
	}
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if maxDemandsAtOnce <= 0 {
		maxDemandsAtOnce = 4
	}
	lf := factory
	if lf == nil {
		lf = queuelock.Default
	}

	tp := &ThreadPool{
		logger:           logger,
		factory:          factory,
		hook:             hook,
		mode:             mode,
		maxDemandsAtOnce: maxDemandsAtOnce,
		units:            make(map[any]*schedUnit),
		agentUnit:        make(map[id.Agent]*schedUnit),
		agentKey:         make(map[id.Agent]any),
		readyLock:        lf.New(),
	}
	for i := 0; i < numWorkers; i++ {
		tp.wg.Add(1)
		go tp.worker()
	}
	return tp
}

// Bind implements Binder using FIFOIndividual semantics (each agent gets
// its own unit); use BindCoop for FIFOCooperation grouping.
func (tp *ThreadPool) Bind(agentID id.Agent) (EventQueue, error) {
	return tp.bind(agentID, agentID)
}

// BindCoop binds agentID under coopID's shared unit when the pool is in
// FIFOCooperation mode, or under its own unit in FIFOIndividual mode.
func (tp *ThreadPool) BindCoop(agentID id.Agent, coopID id.Coop) (EventQueue, error) {
	key := any(agentID)
	if tp.mode == FIFOCooperation {
		key = any(coopID)
	}
	return tp.bind(agentID, key)
}

func (tp *ThreadPool) bind(agentID id.Agent, key any) (EventQueue, error) {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	u, ok := tp.units[key]
	if !ok {
		u = &schedUnit{queue: NewFIFOQueue(tp.factory)}
		tp.units[key] = u
	}
	u.refs++
	tp.agentUnit[agentID] = u
	tp.agentKey[agentID] = key

	var eq EventQueue = &poolEventQueue{tp: tp, unit: u}
	if tp.hook != nil {
		eq = tp.hook(agentID, eq)
	}
	return eq, nil
}

// Unbind implements Binder, releasing the agent's unit and tearing it
// down once no bound agent references it anymore.
func (tp *ThreadPool) Unbind(agentID id.Agent) {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	key, ok := tp.agentKey[agentID]
	if !ok {
		return
	}
	delete(tp.agentKey, agentID)
	delete(tp.agentUnit, agentID)

	u := tp.units[key]
	u.refs--
	if u.refs == 0 {
		u.queue.Close()
		delete(tp.units, key)
	}
}

// Stop closes the pool's ready queue and waits for every worker to exit.
func (tp *ThreadPool) Stop() {
	tp.readyLock.Lock()
	tp.closed = true
	tp.readyLock.Unlock()
	tp.readyLock.Broadcast()
	tp.wg.Wait()
}

func (tp *ThreadPool) schedule(u *schedUnit) {
	tp.readyLock.Lock()
	if !u.scheduled {
		u.scheduled = true
		tp.ready = append(tp.ready, u)
		tp.readyLock.Signal()
	}
	tp.readyLock.Unlock()
}

func (tp *ThreadPool) worker() {
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

		for processed := 0; processed < tp.maxDemandsAtOnce; processed++ {
			d, ok := u.queue.TryPop()
			if !ok {
				break
			}
			if d.Exec != nil {
				if err := d.Exec(); err != nil {
					tp.logger.Error("demand execution failed", "agent_id", d.AgentID, "err", err)
				}
			}
		}

		tp.readyLock.Lock()
		if u.queue.Len() > 0 {
			tp.ready = append(tp.ready, u)
			tp.readyLock.Signal()
		} else {
			u.scheduled = false
		}
		tp.readyLock.Unlock()
	}
}

// poolEventQueue is the per-bind EventQueue facade handed back by
// ThreadPool.Bind/BindCoop: Push both enqueues onto the unit's FIFO and
// schedules the unit for a worker.
type poolEventQueue struct {
	tp   *ThreadPool
	unit *schedUnit
}

func (q *poolEventQueue) Push(d Demand) error {
	if err := q.unit.queue.Push(d); err != nil {
		return err
	}
	q.tp.schedule(q.unit)
	return nil
}

func (q *poolEventQueue) Pop() (Demand, bool) { return q.unit.queue.Pop() }
func (q *poolEventQueue) Close()              { q.unit.queue.Close() }
func (q *poolEventQueue) Len() int            { return q.unit.queue.Len() }
