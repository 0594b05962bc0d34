package coop

import (
	"log/slog"
	"sync"
	"weak"

	"github.com/webitel/actorkit/id"
	"github.com/webitel/actorkit/kernel"
)

// abortFn is overridden in tests so a fatal bind failure after
// registration has started can be exercised without killing the test
// binary.
var abortFn = kernel.Abort

// Registry is the process-wide (or environment-wide) home for every
// registered coop: it assigns coop ids, tracks parent/root sets, and
// drives the register_coop/deregister_coop state machine of spec.md
// §4.5.
type Registry struct {
	logger *slog.Logger
	alloc  *id.Allocator

	mu    sync.Mutex
	coops map[id.Coop]*Coop
	roots map[id.Coop]*Coop

	onRegister   func(*Coop)
	onDeregister func(*Coop, string)
}

// NewRegistry returns an empty Registry. alloc mints coop ids; it should
// be the same allocator the owning environment uses for mboxes and
// agents, so every id in the environment is unique.
func NewRegistry(alloc *id.Allocator, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger: logger,
		alloc:  alloc,
		coops:  make(map[id.Coop]*Coop),
		roots:  make(map[id.Coop]*Coop),
	}
}

// OnRegister installs a hook fired once per successfully registered
// coop (spec.md §4.5 step 4, "registration notifications").
func (r *Registry) OnRegister(fn func(*Coop)) { r.onRegister = fn }

// OnDeregister installs a hook fired once per coop at final dereg, with
// the reason that started the deregistration.
func (r *Registry) OnDeregister(fn func(*Coop, string)) { r.onDeregister = fn }

// Register runs the four-step register_coop algorithm of spec.md §4.5:
// preallocate every agent's dispatcher resources (rolling all of them
// back on the first failure), attach c to its parent or the root set,
// bind/define/start every agent in insertion order (a bind failure past
// the first successful bind is a fatal configuration error), then fire
// the registration notification.
func (r *Registry) Register(c *Coop) (Handle, error) {
	prepared := make([]*agentEntry, 0, len(c.agents))
	for _, e := range c.agents {
		if err := e.binder.PreallocateResources(e.core.ID()); err != nil {
			for _, p := range prepared {
				p.binder.UndoPreallocation(p.core.ID())
			}
			return Handle{}, err
		}
		prepared = append(prepared, e)
	}

	for _, e := range c.agents {
		if err := e.core.ValidateExceptionReactionForDispatcher(e.threadSafeDispatcher); err != nil {
			for _, p := range prepared {
				p.binder.UndoPreallocation(p.core.ID())
			}
			return Handle{}, err
		}
	}

	r.mu.Lock()
	c.id = r.alloc.NextCoop()
	r.coops[c.id] = c
	if c.parent != nil {
		c.parent.mu.Lock()
		c.parent.children[c.id] = c
		c.parent.mu.Unlock()
	} else {
		r.roots[c.id] = c
	}
	r.mu.Unlock()

	boundAny := false
	for _, e := range c.agents {
		if err := e.core.Bind(e.binder); err != nil {
			if !boundAny {
				for _, p := range prepared {
					p.binder.UndoPreallocation(p.core.ID())
				}
				r.removeFromParentOrRoot(c)
				return Handle{}, err
			}
			abortFn(r.logger, "agent bind failed after cooperation registration started",
				"coop_id", c.id, "agent_id", e.core.ID(), "err", err)
			return Handle{}, err
		}
		boundAny = true

		if err := e.core.DefineAgent(); err != nil {
			r.logger.Error("so_define_agent returned an error", "coop_id", c.id, "agent_id", e.core.ID(), "err", err)
		}
		if err := e.core.EnqueueEvtStart(); err != nil {
			abortFn(r.logger, "failed to enqueue evt_start after cooperation registration started",
				"coop_id", c.id, "agent_id", e.core.ID(), "err", err)
			return Handle{}, err
		}
	}

	if r.onRegister != nil {
		r.onRegister(c)
	}

	return Handle{coopID: c.id, ref: weak.Make(c)}, nil
}

func (r *Registry) removeFromParentOrRoot(c *Coop) {
	r.mu.Lock()
	delete(r.coops, c.id)
	delete(r.roots, c.id)
	r.mu.Unlock()
	if c.parent != nil {
		c.parent.mu.Lock()
		delete(c.parent.children, c.id)
		c.parent.mu.Unlock()
	}
}

// Deregister initiates deregister_coop for the coop h refers to, with
// reason. It is a no-op if h's coop is already gone or already
// deregistering (spec.md §4.5 step 1: first reason wins).
func (r *Registry) Deregister(h Handle, reason string) {
	c, ok := h.Coop()
	if !ok {
		return
	}
	r.deregister(c, reason)
}

func (r *Registry) deregister(c *Coop, reason string) {
	c.mu.Lock()
	if c.deregistering {
		c.mu.Unlock()
		return
	}
	c.deregistering = true
	c.reason = reason
	children := make([]*Coop, 0, len(c.children))
	for _, ch := range c.children {
		children = append(children, ch)
	}
	agents := append([]*agentEntry(nil), c.agents...)
	c.mu.Unlock()

	c.liveChildren.StoreRelease(int64(len(children)))
	c.pendingFinish.StoreRelease(int64(len(agents)))

	// Descendants are marked deregistering top-down, but a child's own
	// finalDeregister only fires once its agents have drained and its
	// own descendants have finalized — so completion still propagates
	// post-order even though marking does not.
	for _, ch := range children {
		r.deregister(ch, reason)
	}

	for _, e := range agents {
		err := e.core.EnqueueEvtFinish(func() {
			if c.pendingFinish.AddAcqRel(-1) == 0 {
				r.maybeFinalize(c)
			}
		})
		if err != nil {
			r.logger.Error("failed to enqueue evt_finish during deregistration", "coop_id", c.id, "agent_id", e.core.ID(), "err", err)
			if c.pendingFinish.AddAcqRel(-1) == 0 {
				r.maybeFinalize(c)
			}
		}
	}

	r.maybeFinalize(c)
}

// maybeFinalize runs finalDeregister exactly once, the moment both c's
// own agents have finished and every child coop has finally
// deregistered (spec.md §4.5: "a parent is not finally deregistered
// while any child is live").
func (r *Registry) maybeFinalize(c *Coop) {
	if c.pendingFinish.LoadAcquire() != 0 || c.liveChildren.LoadAcquire() != 0 {
		return
	}
	if !c.finalizedOnce.CompareAndSwapAcqRel(0, 1) {
		return
	}
	r.finalDeregister(c)
}

func (r *Registry) finalDeregister(c *Coop) {
	for _, e := range c.agents {
		e.core.Unbind(e.binder)
	}

	if c.parent != nil {
		c.parent.mu.Lock()
		delete(c.parent.children, c.id)
		c.parent.mu.Unlock()
	}

	if r.onDeregister != nil {
		r.onDeregister(c, c.reason)
	}

	r.mu.Lock()
	delete(r.coops, c.id)
	delete(r.roots, c.id)
	r.mu.Unlock()

	if c.parent != nil {
		if c.parent.liveChildren.AddAcqRel(-1) == 0 {
			r.maybeFinalize(c.parent)
		}
	}
}

// Len reports the number of coops currently registered (not yet finally
// deregistered).
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.coops)
}
