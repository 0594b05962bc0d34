package disp

import (
	"log/slog"
	"sync"

	"github.com/webitel/actorkit/id"
	"github.com/webitel/actorkit/queuelock"
)

// ActiveObject dispatches with one dedicated worker thread and one MPSC
// queue per bound agent (spec.md §4.8.3): distinct agents run in
// parallel, a single agent sees strict FIFO.
type ActiveObject struct {
	logger  *slog.Logger
	factory queuelock.Factory
	hook    Hook

	mu     sync.Mutex
	queues map[id.Agent]*FIFOQueue
}

// NewActiveObject returns an ActiveObject dispatcher.
func NewActiveObject(logger *slog.Logger, factory queuelock.Factory, hook Hook) *ActiveObject {
	if logger == nil {
		logger = slog.Default()
	}
	return &ActiveObject{logger: logger, factory: factory, hook: hook, queues: make(map[id.Agent]*FIFOQueue)}
}

// Bind implements Binder, starting a dedicated worker goroutine for the
// new agent's queue.
func (d *ActiveObject) Bind(agentID id.Agent) (EventQueue, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := NewFIFOQueue(d.factory)
	d.queues[agentID] = q
	go runWorker(d.logger, q)

	var eq EventQueue = q
	if d.hook != nil {
		eq = d.hook(agentID, eq)
	}
	return eq, nil
}

// Unbind implements Binder, closing the agent's queue and letting its
// worker thread exit once drained.
func (d *ActiveObject) Unbind(agentID id.Agent) {
	d.mu.Lock()
	q, ok := d.queues[agentID]
	delete(d.queues, agentID)
	d.mu.Unlock()

	if ok {
		q.Close()
	}
}
