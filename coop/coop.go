// Package coop implements the cooperation subsystem (spec.md §4.5, C7):
// two-phase register/deregister of groups of agents that live and die
// together, parent/child coop coupling, and the stop-guard repository
// that defers environment shutdown until every registered guard has
// released it.
package coop

import (
	"sync"
	"weak"

	"code.hybscloud.com/atomix"

	"github.com/webitel/actorkit/agent"
	"github.com/webitel/actorkit/disp"
	"github.com/webitel/actorkit/id"
)

// ResourceBinder is the capability a coop needs from whatever binds an
// agent to a dispatcher: the ordinary disp.Binder, plus the
// preallocate/undo pair spec.md §4.5 step 1 runs before any agent is
// actually bound. Dispatchers with nothing to reserve up front can wrap
// themselves in NoopPreallocation.
type ResourceBinder interface {
	disp.Binder
	// PreallocateResources reserves whatever the dispatcher needs to
	// accept agentID, without yet making it reachable.
	PreallocateResources(agentID id.Agent) error
	// UndoPreallocation releases a reservation made by
	// PreallocateResources, called during register_coop rollback.
	UndoPreallocation(agentID id.Agent)
}

// NoopPreallocation adapts a plain disp.Binder into a ResourceBinder for
// dispatchers that have nothing to reserve ahead of bind time — true of
// every dispatcher variant in package disp today.
type NoopPreallocation struct {
	disp.Binder
}

// PreallocateResources always succeeds.
func (NoopPreallocation) PreallocateResources(id.Agent) error { return nil }

// UndoPreallocation is a no-op.
func (NoopPreallocation) UndoPreallocation(id.Agent) {}

// agentEntry is one agent's membership in a coop, along with the binder
// that will attach it to a dispatcher.
type agentEntry struct {
	core                 *agent.Core
	binder               ResourceBinder
	threadSafeDispatcher bool
}

// Coop is a cooperation: a group of agents registered and deregistered
// as one unit (spec.md §4.5).
type Coop struct {
	id     id.Coop
	name   string
	parent *Coop

	mu       sync.Mutex
	agents   []*agentEntry
	children map[id.Coop]*Coop

	deregistering bool
	reason        string

	pendingFinish atomix.Int64
	liveChildren  atomix.Int64
	finalizedOnce atomix.Int64
}

// New returns an unregistered Coop shell named name, optionally attached
// to parent. Populate it with AddAgent calls, then pass it to
// Registry.Register.
func New(name string, parent *Coop) *Coop {
	return &Coop{name: name, parent: parent, children: make(map[id.Coop]*Coop)}
}

// AddAgent enrolls a (already constructed, not yet bound) agent into the
// coop, along with the binder that will attach it to a dispatcher at
// registration time and whether that dispatcher is thread-safe
// (multithreaded), which governs which exception reactions are legal
// for it (spec.md §4.4).
func (c *Coop) AddAgent(core *agent.Core, binder ResourceBinder, threadSafeDispatcher bool) {
	c.agents = append(c.agents, &agentEntry{core: core, binder: binder, threadSafeDispatcher: threadSafeDispatcher})
}

// ID returns the coop's identifier. It is the zero value until
// Registry.Register assigns one.
func (c *Coop) ID() id.Coop { return c.id }

// Name returns the coop's tracing name.
func (c *Coop) Name() string { return c.name }

// Handle is a smart reference to a registered coop (spec.md §4.5,
// grounded on original_source/dev/so_5/coop_handle.hpp's coop_handle_t):
// it carries the coop's id for log/trace output even after the coop
// itself has been destroyed, and a weak reference that expires once the
// coop is released, mirroring std::weak_ptr.
type Handle struct {
	coopID id.Coop
	ref    weak.Pointer[Coop]
}

// ID returns the handle's coop id, valid even once the coop has been
// destroyed.
func (h Handle) ID() id.Coop { return h.coopID }

// IsEmpty reports whether h was never bound to a coop (the zero Handle).
func (h Handle) IsEmpty() bool { return h.coopID == 0 }

// Coop resolves the handle to its coop, returning false once the coop
// has been finally deregistered and collected.
func (h Handle) Coop() (*Coop, bool) {
	if h.coopID == 0 {
		return nil, false
	}
	c := h.ref.Value()
	return c, c != nil
}
