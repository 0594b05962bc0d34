package disp

import (
	"log/slog"
	"sync"

	"github.com/webitel/actorkit/id"
	"github.com/webitel/actorkit/queuelock"
)

// PriorityDedicated is the dedicated_threads/one_per_prio dispatcher
// (spec.md §4.8.7): one worker thread per priority class, FIFO within a
// class. Distinct priority classes always run in parallel with each
// other; there is no cross-class ordering guarantee.
type PriorityDedicated struct {
	logger  *slog.Logger
	factory queuelock.Factory
	hook    Hook

	mu    sync.Mutex
	lanes [NumPriorities]*FIFOQueue
}

// NewPriorityDedicated returns a PriorityDedicated dispatcher and starts
// one worker goroutine per priority class immediately.
func NewPriorityDedicated(logger *slog.Logger, factory queuelock.Factory, hook Hook) *PriorityDedicated {
	if logger == nil {
		logger = slog.Default()
	}
	d := &PriorityDedicated{logger: logger, factory: factory, hook: hook}
	for p := 0; p < NumPriorities; p++ {
		q := NewFIFOQueue(factory)
		d.lanes[p] = q
		go runWorker(logger, q)
	}
	return d
}

// BindPriority binds agentID to the dedicated worker for prio.
func (d *PriorityDedicated) BindPriority(agentID id.Agent, prio Priority) (EventQueue, error) {
	var eq EventQueue = &dedicatedLaneQueue{queue: d.lanes[prio], prio: prio}
	if d.hook != nil {
		eq = d.hook(agentID, eq)
	}
	return eq, nil
}

// Bind implements Binder, defaulting unclassified agents to P0.
func (d *PriorityDedicated) Bind(agentID id.Agent) (EventQueue, error) {
	return d.BindPriority(agentID, P0)
}

// Unbind implements Binder; lanes are shared across every agent of a
// given priority class, so there is nothing per-agent to release.
func (d *PriorityDedicated) Unbind(id.Agent) {}

// Stop closes every priority class's queue, letting its worker thread
// exit once drained.
func (d *PriorityDedicated) Stop() {
	for p := 0; p < NumPriorities; p++ {
		d.lanes[p].Close()
	}
}

type dedicatedLaneQueue struct {
	queue *FIFOQueue
	prio  Priority
}

func (q *dedicatedLaneQueue) Push(dem Demand) error {
	dem.Priority = q.prio
	return q.queue.Push(dem)
}
func (q *dedicatedLaneQueue) Pop() (Demand, bool) { return q.queue.Pop() }
func (q *dedicatedLaneQueue) Close()              {}
func (q *dedicatedLaneQueue) Len() int            { return q.queue.Len() }
