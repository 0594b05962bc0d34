package disp

import (
	"log/slog"
	"sync"

	"github.com/webitel/actorkit/id"
	"github.com/webitel/actorkit/queuelock"
)

type groupEntry struct {
	queue *FIFOQueue
	refs  int
}

// ActiveGroup dispatches by user-provided group name (spec.md §4.8.4):
// every agent bound to the same group name shares one worker thread and
// one FIFO queue, isolating groups from each other while co-locating
// related agents within a group.
type ActiveGroup struct {
	logger  *slog.Logger
	factory queuelock.Factory
	hook    Hook

	mu          sync.Mutex
	groups      map[string]*groupEntry
	memberGroup map[id.Agent]string
}

// NewActiveGroup returns an ActiveGroup dispatcher.
func NewActiveGroup(logger *slog.Logger, factory queuelock.Factory, hook Hook) *ActiveGroup {
	if logger == nil {
		logger = slog.Default()
	}
	return &ActiveGroup{
		logger:      logger,
		factory:     factory,
		hook:        hook,
		groups:      make(map[string]*groupEntry),
		memberGroup: make(map[id.Agent]string),
	}
}

// BindGroup binds agentID to the worker thread serving group, creating
// that group's queue and worker on first use.
func (d *ActiveGroup) BindGroup(agentID id.Agent, group string) (EventQueue, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.groups[group]
	if !ok {
		e = &groupEntry{queue: NewFIFOQueue(d.factory)}
		d.groups[group] = e
		go runWorker(d.logger, e.queue)
	}
	e.refs++
	d.memberGroup[agentID] = group

	var eq EventQueue = e.queue
	if d.hook != nil {
		eq = d.hook(agentID, eq)
	}
	return eq, nil
}

// Bind implements Binder by placing every agent not given an explicit
// group into a single "default" group; callers that want named groups
// should call BindGroup directly.
func (d *ActiveGroup) Bind(agentID id.Agent) (EventQueue, error) {
	return d.BindGroup(agentID, "default")
}

// Unbind implements Binder, tearing the group's queue and worker down
// once its last member leaves.
func (d *ActiveGroup) Unbind(agentID id.Agent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	group, ok := d.memberGroup[agentID]
	if !ok {
		return
	}
	delete(d.memberGroup, agentID)

	e := d.groups[group]
	e.refs--
	if e.refs == 0 {
		e.queue.Close()
		delete(d.groups, group)
	}
}
