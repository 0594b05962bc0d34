package disp

import (
	"log/slog"

	"github.com/webitel/actorkit/id"
	"github.com/webitel/actorkit/queuelock"
)

// PriorityStrict is the strictly_ordered priority dispatcher (spec.md
// §4.8.7): a single worker thread that always picks the highest-priority
// pending demand; lower priorities only run once every higher priority
// queue is empty.
type PriorityStrict struct {
	logger *slog.Logger
	hook   Hook

	lock   queuelock.Lock
	lanes  [NumPriorities][]Demand
	closed bool
}

// NewPriorityStrict returns a PriorityStrict dispatcher and starts its
// single worker thread.
func NewPriorityStrict(logger *slog.Logger, factory queuelock.Factory, hook Hook) *PriorityStrict {
	if logger == nil {
		logger = slog.Default()
	}
	lf := factory
	if lf == nil {
		lf = queuelock.Default
	}
	d := &PriorityStrict{logger: logger, hook: hook, lock: lf.New()}
	go d.worker()
	return d
}

// BindPriority binds agentID with the given priority class.
func (d *PriorityStrict) BindPriority(agentID id.Agent, prio Priority) (EventQueue, error) {
	var eq EventQueue = &priorityLaneQueue{d: d, prio: prio, agentID: agentID}
	if d.hook != nil {
		eq = d.hook(agentID, eq)
	}
	return eq, nil
}

// Bind implements Binder using priority P0 (lowest) for agents that do
// not specify a class explicitly.
func (d *PriorityStrict) Bind(agentID id.Agent) (EventQueue, error) {
	return d.BindPriority(agentID, P0)
}

// Unbind implements Binder; PriorityStrict's lanes are shared, so there
// is nothing per-agent to release.
func (d *PriorityStrict) Unbind(id.Agent) {}

// Stop closes the dispatcher: later pushes fail with ErrQueueClosed, and
// the worker exits once the demands already queued have run.
func (d *PriorityStrict) Stop() {
	d.lock.Lock()
	d.closed = true
	d.lock.Unlock()
	d.lock.Broadcast()
}

func (d *PriorityStrict) push(prio Priority, dem Demand) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.closed {
		return ErrQueueClosed
	}
	d.lanes[prio] = append(d.lanes[prio], dem)
	d.lock.Signal()
	return nil
}

func (d *PriorityStrict) anyPending() bool {
	for p := NumPriorities - 1; p >= 0; p-- {
		if len(d.lanes[p]) > 0 {
			return true
		}
	}
	return false
}

func (d *PriorityStrict) worker() {
	for {
		d.lock.Lock()
		d.lock.WaitUntil(func() bool { return d.anyPending() || d.closed })

		var dem Demand
		found := false
		for p := NumPriorities - 1; p >= 0; p-- {
			if len(d.lanes[p]) > 0 {
				dem = d.lanes[p][0]
				d.lanes[p] = d.lanes[p][1:]
				found = true
				break
			}
		}
		if !found {
			d.lock.Unlock()
			return
		}
		d.lock.Unlock()

		if dem.Exec != nil {
			if err := dem.Exec(); err != nil {
				d.logger.Error("demand execution failed", "agent_id", dem.AgentID, "err", err)
			}
		}
	}
}

func (d *PriorityStrict) lanLen(prio Priority) int {
	d.lock.Lock()
	defer d.lock.Unlock()
	return len(d.lanes[prio])
}

type priorityLaneQueue struct {
	d       *PriorityStrict
	prio    Priority
	agentID id.Agent
}

func (q *priorityLaneQueue) Push(dem Demand) error {
	dem.AgentID = q.agentID
	dem.Priority = q.prio
	return q.d.push(q.prio, dem)
}
// Pop is never called: PriorityStrict's own worker drains the shared
// lanes directly rather than through the per-agent EventQueue facade.
func (q *priorityLaneQueue) Pop() (Demand, bool) { return Demand{}, false }
func (q *priorityLaneQueue) Close()              {}
func (q *priorityLaneQueue) Len() int            { return q.d.lanLen(q.prio) }
