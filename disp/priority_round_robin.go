package disp

import (
	"log/slog"

	"github.com/webitel/actorkit/id"
	"github.com/webitel/actorkit/queuelock"
)

// PriorityRoundRobin is the quoted_round_robin priority dispatcher
// (spec.md §4.8.7): one worker thread; each priority class i has a quota
// Q_i, served before moving on to the next non-empty lower priority,
// wrapping back to p7 after p0.
type PriorityRoundRobin struct {
	logger *slog.Logger
	hook   Hook
	quotas [NumPriorities]int

	lock   queuelock.Lock
	lanes  [NumPriorities][]Demand
	closed bool
}

// DefaultQuotas gives every priority class an equal quota of 1 demand
// per visit — equivalent to plain round robin until tuned otherwise.
func DefaultQuotas() [NumPriorities]int {
	var q [NumPriorities]int
	for i := range q {
		q[i] = 1
	}
	return q
}

// NewPriorityRoundRobin returns a PriorityRoundRobin dispatcher with the
// given per-priority quotas and starts its worker thread.
func NewPriorityRoundRobin(logger *slog.Logger, quotas [NumPriorities]int, factory queuelock.Factory, hook Hook) *PriorityRoundRobin {
	if logger == nil {
		logger = slog.Default()
	}
	lf := factory
	if lf == nil {
		lf = queuelock.Default
	}
	d := &PriorityRoundRobin{logger: logger, hook: hook, quotas: quotas, lock: lf.New()}
	go d.worker()
	return d
}

// BindPriority binds agentID with the given priority class.
func (d *PriorityRoundRobin) BindPriority(agentID id.Agent, prio Priority) (EventQueue, error) {
	var eq EventQueue = &rrLaneQueue{d: d, prio: prio, agentID: agentID}
	if d.hook != nil {
		eq = d.hook(agentID, eq)
	}
	return eq, nil
}

// Bind implements Binder, defaulting unclassified agents to P0.
func (d *PriorityRoundRobin) Bind(agentID id.Agent) (EventQueue, error) {
	return d.BindPriority(agentID, P0)
}

// Unbind implements Binder; lanes are shared, nothing per-agent to free.
func (d *PriorityRoundRobin) Unbind(id.Agent) {}

// Stop closes the dispatcher.
func (d *PriorityRoundRobin) Stop() {
	d.lock.Lock()
	d.closed = true
	d.lock.Unlock()
	d.lock.Broadcast()
}

func (d *PriorityRoundRobin) push(prio Priority, dem Demand) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.closed {
		return ErrQueueClosed
	}
	d.lanes[prio] = append(d.lanes[prio], dem)
	d.lock.Signal()
	return nil
}

func (d *PriorityRoundRobin) anyPending() bool {
	for p := 0; p < NumPriorities; p++ {
		if len(d.lanes[p]) > 0 {
			return true
		}
	}
	return false
}

func (d *PriorityRoundRobin) lanLen(prio Priority) int {
	d.lock.Lock()
	defer d.lock.Unlock()
	return len(d.lanes[prio])
}

// worker visits priority classes from p7 down to p0, serving up to
// quotas[p] demands from each non-empty class before moving to the next,
// wrapping back to p7 once it passes p0.
func (d *PriorityRoundRobin) worker() {
	cur := NumPriorities - 1
	for {
		d.lock.Lock()
		d.lock.WaitUntil(func() bool { return d.anyPending() || d.closed })
		if d.closed && !d.anyPending() {
			d.lock.Unlock()
			return
		}

		served := 0
		quota := d.quotas[cur]
		if quota <= 0 {
			quota = 1
		}
		var batch []Demand
		for served < quota && len(d.lanes[cur]) > 0 {
			batch = append(batch, d.lanes[cur][0])
			d.lanes[cur] = d.lanes[cur][1:]
			served++
		}
		d.lock.Unlock()

		for _, dem := range batch {
			if dem.Exec == nil {
				continue
			}
			if err := dem.Exec(); err != nil {
				d.logger.Error("demand execution failed", "agent_id", dem.AgentID, "err", err)
			}
		}

		cur--
		if cur < 0 {
			cur = NumPriorities - 1
		}
	}
}

type rrLaneQueue struct {
	d       *PriorityRoundRobin
	prio    Priority
	agentID id.Agent
}

func (q *rrLaneQueue) Push(dem Demand) error {
	dem.AgentID = q.agentID
	dem.Priority = q.prio
	return q.d.push(q.prio, dem)
}

// Pop is never called: the round-robin worker drains lanes directly.
func (q *rrLaneQueue) Pop() (Demand, bool) { return Demand{}, false }
func (q *rrLaneQueue) Close()              {}
func (q *rrLaneQueue) Len() int            { return q.d.lanLen(q.prio) }
