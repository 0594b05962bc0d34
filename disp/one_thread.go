package disp

import (
	"log/slog"
	"sync"

	"github.com/webitel/actorkit/id"
	"github.com/webitel/actorkit/queuelock"
)

// OneThread is the simplest dispatcher (spec.md §4.8.2): a single worker
// thread drains one FIFO shared by every bound agent, so agents on this
// dispatcher never run concurrently with each other.
type OneThread struct {
	logger  *slog.Logger
	factory queuelock.Factory
	hook    Hook

	mu      sync.Mutex
	queue   *FIFOQueue
	started bool
}

// NewOneThread returns a OneThread dispatcher. A nil logger defaults to
// slog.Default; a nil factory defaults to queuelock.Default.
func NewOneThread(logger *slog.Logger, factory queuelock.Factory, hook Hook) *OneThread {
	if logger == nil {
		logger = slog.Default()
	}
	return &OneThread{logger: logger, factory: factory, hook: hook}
}

// Bind implements Binder.
func (d *OneThread) Bind(agentID id.Agent) (EventQueue, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.queue == nil {
		d.queue = NewFIFOQueue(d.factory)
	}
	if !d.started {
		d.started = true
		go runWorker(d.logger, d.queue)
	}

	var q EventQueue = d.queue
	if d.hook != nil {
		q = d.hook(agentID, q)
	}
	return q, nil
}

// Unbind implements Binder. The shared queue outlives any single agent,
// so there is nothing per-agent to release.
func (d *OneThread) Unbind(id.Agent) {}

// Stop closes the dispatcher's queue, causing its worker thread to exit
// once it is drained.
func (d *OneThread) Stop() {
	d.mu.Lock()
	q := d.queue
	d.mu.Unlock()
	if q != nil {
		q.Close()
	}
}
