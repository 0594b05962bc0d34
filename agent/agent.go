// Package agent implements the agent kernel (spec.md §4.4, C6): the
// embeddable Core base every agent builds on, lifecycle hook dispatch,
// hierarchical state-machine transitions, and the exception-reaction
// policy.
package agent

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sony/gobreaker"

	"github.com/webitel/actorkit/disp"
	"github.com/webitel/actorkit/id"
	"github.com/webitel/actorkit/kernel"
	"github.com/webitel/actorkit/limit"
	"github.com/webitel/actorkit/mbox"
	"github.com/webitel/actorkit/message"
	"github.com/webitel/actorkit/subscription"
)

// abortFn is overridden in tests so abort_on_exception can be exercised
// without killing the test binary.
var abortFn = kernel.Abort

// Agent is the interface a concrete agent type presents to its own Core
// for lifecycle dispatch. Go has no virtual dispatch through struct
// embedding, so a type embedding *Core must call Core.Init(self) with
// itself once constructed; Core then calls back through self instead of
// its own no-op defaults whenever a hook fires.
type Agent interface {
	SoDefineAgent() error
	SoEvtStart() error
	SoEvtFinish() error
}

// ErrNotBound is returned by Enqueue when the agent has not yet been
// bound to a dispatcher.
var ErrNotBound = errors.New("agent: not bound to a dispatcher")

type mboxKey struct {
	mid     id.Mbox
	msgType message.Type
}

// Core is the embeddable base every agent builds on. It implements
// mbox.Sink, owns the agent's subscription storage and state machine,
// and turns delivered messages into handler invocations on whatever
// event queue its dispatcher binding provides.
type Core struct {
	id     id.Agent
	logger *slog.Logger
	self   Agent

	storage      subscription.Storage
	defaultState *State
	limits       *limit.Registry

	mu               sync.Mutex
	currentState     *State
	subscribedStates map[mboxKey]map[uint64]*State
	mboxes           map[mboxKey]*mbox.Mbox

	queue disp.EventQueue

	exceptionReaction ExceptionReaction
	breaker           *gobreaker.CircuitBreaker
	onDeregisterCoop  func(reason string)
	onShutdownEnv     func()
}

// NewCore returns a Core identified by aid, rooted at defaultState, using
// storage for its subscription bindings. The default exception reaction
// is abort_on_exception, matching so_5's own default; override with
// SetExceptionReaction before registration.
func NewCore(aid id.Agent, defaultState *State, storage subscription.Storage, logger *slog.Logger) *Core {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Core{
		id:                aid,
		logger:            logger,
		storage:           storage,
		defaultState:      defaultState,
		currentState:      leaf(defaultState),
		limits:            limit.NewRegistry(),
		subscribedStates:  make(map[mboxKey]map[uint64]*State),
		mboxes:            make(map[mboxKey]*mbox.Mbox),
		exceptionReaction: ReactionAbortOnException,
	}
	c.breaker = gobreaker.NewCircuitBreaker(defaultBreakerSettings(
		fmt.Sprintf("agent-%d", aid),
		func() {
			c.logger.Error("exception storm detected under ignore_exception, escalating to coop deregistration", "agent_id", c.id)
			if c.onDeregisterCoop != nil {
				c.onDeregisterCoop("exception_storm")
			}
		},
	))
	return c
}

// Init records self as the concrete agent Core dispatches lifecycle
// hooks through. Must be called once, by the embedding type's
// constructor, before the agent is registered.
func (c *Core) Init(self Agent) { c.self = self }

// ID implements mbox.Sink.
func (c *Core) ID() id.Agent { return c.id }

// SetExceptionReaction overrides the agent's so_exception_reaction.
func (c *Core) SetExceptionReaction(r ExceptionReaction) { c.exceptionReaction = r }

// ExceptionReaction returns the agent's current so_exception_reaction.
func (c *Core) ExceptionReaction() ExceptionReaction { return c.exceptionReaction }

// ValidateExceptionReactionForDispatcher enforces spec.md §4.4's rule
// that only abort and ignore are legal exception reactions for an agent
// bound to a thread-safe dispatcher.
func (c *Core) ValidateExceptionReactionForDispatcher(threadSafeDispatcher bool) error {
	if !threadSafeDispatcher {
		return nil
	}
	switch c.exceptionReaction {
	case ReactionAbortOnException, ReactionIgnoreException:
		return nil
	default:
		return ErrIllegalExceptionReactionForThreadSafeDispatcher
	}
}

// SetDeregisterCoopHook wires the callback the coop subsystem uses to
// learn that this agent needs its cooperation torn down, either from an
// explicit deregister_coop_on_exception reaction or from the exception-
// storm guard escalating ignore_exception.
func (c *Core) SetDeregisterCoopHook(fn func(reason string)) { c.onDeregisterCoop = fn }

// SetShutdownEnvironmentHook wires the callback used by
// shutdown_sobjectizer_on_exception.
func (c *Core) SetShutdownEnvironmentHook(fn func()) { c.onShutdownEnv = fn }

// CurrentState returns the agent's current leaf state.
func (c *Core) CurrentState() *State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentState
}

// ChangeState transitions the agent to target, following spec.md §4.4's
// state-machine rules: exit hooks from the current leaf up to (not
// including) the lowest common ancestor, descent through target's
// initial_substate chain to find the actual new leaf, then enter hooks
// from the LCA's child down to that leaf.
func (c *Core) ChangeState(target *State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	newLeaf := leaf(target)
	cur := c.currentState
	if cur == newLeaf {
		return
	}

	meet := lca(cur, newLeaf)

	for s := cur; s != meet; s = s.parent {
		if s.onExit != nil {
			s.onExit()
		}
	}

	var enterPath []*State
	for s := newLeaf; s != meet; s = s.parent {
		enterPath = append(enterPath, s)
	}
	for i := len(enterPath) - 1; i >= 0; i-- {
		if enterPath[i].onEnter != nil {
			enterPath[i].onEnter()
		}
	}

	c.currentState = newLeaf
}

// Subscribe binds handler to (mb, msgType, state) as not_thread_safe
// (spec.md §4.4), registering Core as a sink on mb for msgType on every
// call; each call replaces the mbox-side delivery filter left by an
// earlier subscription to the same (mb, msgType). A nil state subscribes
// against the agent's default state.
func (c *Core) Subscribe(mb *mbox.Mbox, msgType message.Type, state *State, handler subscription.Handler) error {
	return c.subscribe(mb, msgType, state, handler, false, nil)
}

// SubscribeThreadSafe is Subscribe for a handler declared thread_safe
// (spec.md §4.4): under disp.AdvancedThreadPool, it may run concurrently
// with other thread_safe handlers of the same agent.
func (c *Core) SubscribeThreadSafe(mb *mbox.Mbox, msgType message.Type, state *State, handler subscription.Handler) error {
	return c.subscribe(mb, msgType, state, handler, true, nil)
}

// SubscribeFiltered is Subscribe with a per-sink delivery filter applied
// at the mbox (spec.md §4.2).
func (c *Core) SubscribeFiltered(mb *mbox.Mbox, msgType message.Type, state *State, handler subscription.Handler, filter mbox.DeliveryFilter) error {
	return c.subscribe(mb, msgType, state, handler, false, filter)
}

// SubscribeFilteredThreadSafe combines SubscribeFiltered and
// SubscribeThreadSafe.
func (c *Core) SubscribeFilteredThreadSafe(mb *mbox.Mbox, msgType message.Type, state *State, handler subscription.Handler, filter mbox.DeliveryFilter) error {
	return c.subscribe(mb, msgType, state, handler, true, filter)
}

func (c *Core) subscribe(mb *mbox.Mbox, msgType message.Type, state *State, handler subscription.Handler, threadSafe bool, filter mbox.DeliveryFilter) error {
	if state == nil {
		state = c.defaultState
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	binding := subscription.Binding{Handler: handler, ThreadSafe: threadSafe}
	if err := c.storage.Insert(mb.ID(), msgType, state, binding); err != nil {
		return err
	}

	key := mboxKey{mb.ID(), msgType}
	states, ok := c.subscribedStates[key]
	if !ok {
		states = make(map[uint64]*State)
		c.subscribedStates[key] = states
		c.mboxes[key] = mb
	}
	states[state.id] = state
	mb.Subscribe(msgType, c, filter)
	return nil
}

// Unsubscribe removes the handler bound to (mb, msgType, state),
// dropping Core as a sink on mb once no state subscribes to (mb,
// msgType) anymore.
func (c *Core) Unsubscribe(mb *mbox.Mbox, msgType message.Type, state *State) error {
	if state == nil {
		state = c.defaultState
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.storage.Remove(mb.ID(), msgType, state); err != nil {
		return err
	}

	key := mboxKey{mb.ID(), msgType}
	states := c.subscribedStates[key]
	delete(states, state.id)
	if len(states) == 0 {
		delete(c.subscribedStates, key)
		delete(c.mboxes, key)
		return mb.Unsubscribe(msgType, c.id)
	}
	return nil
}

// DropAllForMboxType removes every state's subscription to (mb,
// msgType) at once and drops Core as a sink, per spec.md §4.3
// drop_all_for_mbox_type.
func (c *Core) DropAllForMboxType(mb *mbox.Mbox, msgType message.Type) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := mboxKey{mb.ID(), msgType}
	states := c.subscribedStates[key]
	for _, st := range states {
		_ = c.storage.Remove(mb.ID(), msgType, st)
	}
	delete(c.subscribedStates, key)
	delete(c.mboxes, key)
	return mb.Unsubscribe(msgType, c.id)
}

// DropContent forgets every subscription the agent's storage holds
// without touching mbox-side sink registration, per spec.md §4.3
// drop_content — used when swapping storage representations.
func (c *Core) DropContent() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.storage.Clear()
}

// SetLimit declares the overload-control block governing msgType.
func (c *Core) SetLimit(msgType message.Type, ctrl *limit.Control) { c.limits.Set(msgType, ctrl) }

// SetWildcardLimit declares the overload-control block governing every
// message type without its own explicit control block.
func (c *Core) SetWildcardLimit(ctrl *limit.Control) { c.limits.SetWildcard(ctrl) }

// LimitFor implements mbox.Sink.
func (c *Core) LimitFor(msgType message.Type) (*limit.Control, bool) { return c.limits.For(msgType) }

// Bind attaches the agent to binder's dispatcher, giving it the event
// queue its Enqueue calls will push onto.
func (c *Core) Bind(binder disp.Binder) error {
	q, err := binder.Bind(c.id)
	if err != nil {
		return err
	}
	c.queue = q
	return nil
}

// Unbind detaches the agent from binder.
func (c *Core) Unbind(binder disp.Binder) { binder.Unbind(c.id) }

// Enqueue implements mbox.Sink: it resolves inst's handler against the
// agent's current state (spec.md §4.1's `(mbox_id, msg_type, state*) ->
// handler` contract) and pushes the resulting execution_demand onto the
// agent's bound event queue, carrying the resolved binding's
// thread-safety flag so the dispatcher can schedule it correctly (spec.md
// §4.4, §4.8.6).
func (c *Core) Enqueue(mboxID id.Mbox, inst *message.Instance) error {
	if c.queue == nil {
		return ErrNotBound
	}

	binding, found := c.storage.Find(mboxID, inst.Type(), c.CurrentState())
	if !found {
		if ctrl, ok := c.limits.For(inst.Type()); ok {
			ctrl.Release()
		}
		c.logger.Debug("no matching subscription, message dropped", "agent_id", c.id, "mbox_id", mboxID, "msg_type", inst.Type().String())
		return nil
	}

	return c.queue.Push(disp.Demand{
		AgentID:    c.id,
		Kind:       disp.KindMessage,
		MboxID:     mboxID,
		MsgType:    inst.Type(),
		ThreadSafe: binding.ThreadSafe,
		Exec:       func() error { return c.runHandler(binding.Handler, inst) },
	})
}

// EnqueueEvtStart pushes the so_evt_start demand (spec.md §4.4 point 2).
func (c *Core) EnqueueEvtStart() error {
	if c.queue == nil {
		return ErrNotBound
	}
	return c.queue.Push(disp.Demand{
		AgentID: c.id,
		Kind:    disp.KindEvtStart,
		Exec:    func() error { return c.runProtected(c.self.SoEvtStart) },
	})
}

// EnqueueEvtFinish pushes the so_evt_finish demand (spec.md §4.4 point
// 4), calling onDone once it has run regardless of outcome so the coop
// subsystem can track per-agent drain completion.
func (c *Core) EnqueueEvtFinish(onDone func()) error {
	if c.queue == nil {
		return ErrNotBound
	}
	return c.queue.Push(disp.Demand{
		AgentID: c.id,
		Kind:    disp.KindEvtFinish,
		Exec: func() error {
			err := c.runProtected(c.self.SoEvtFinish)
			if onDone != nil {
				onDone()
			}
			return err
		},
	})
}

// DefineAgent runs so_define_agent synchronously on the calling
// goroutine (spec.md §4.4 point 1). Registry.Register calls it right
// after binding the agent and before enqueuing its so_evt_start demand.
func (c *Core) DefineAgent() error {
	return c.runProtected(c.self.SoDefineAgent)
}

// runHandler runs a handler already resolved by Enqueue (through its
// envelope if any), and releases any limit control block admitted at the
// mbox (spec.md §4.4).
func (c *Core) runHandler(handler subscription.Handler, inst *message.Instance) error {
	if ctrl, ok := c.limits.For(inst.Type()); ok {
		defer ctrl.Release()
	}

	run := func() error { return handler(inst) }
	if env := inst.Envelope(); env != nil {
		return c.runProtected(func() error { return env.HandlerFound(invokerFunc(run)) })
	}
	return c.runProtected(run)
}

type invokerFunc func() error

func (f invokerFunc) Invoke() error { return f() }

// runProtected invokes fn, recovering a panic into an error, and routes
// any resulting error through the agent's exception-reaction policy
// (spec.md §4.4 `so_exception_reaction`).
func (c *Core) runProtected(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = c.handleException(fmt.Errorf("agent: handler panic: %v", r))
		}
	}()
	if rerr := fn(); rerr != nil {
		err = c.handleException(rerr)
	}
	return err
}

func (c *Core) handleException(cause error) error {
	switch c.exceptionReaction {
	case ReactionAbortOnException:
		abortFn(c.logger, "agent handler exception under abort_on_exception policy", "agent_id", c.id, "err", cause)
		return nil

	case ReactionIgnoreException:
		c.logger.Error("agent handler exception ignored", "agent_id", c.id, "err", cause)
		_, _ = c.breaker.Execute(func() (any, error) { return nil, cause })
		return nil

	case ReactionDeregisterCoopOnException:
		c.logger.Error("agent handler exception, deregistering cooperation", "agent_id", c.id, "err", cause)
		c.ChangeState(NewState("awaiting_deregistration"))
		if c.onDeregisterCoop != nil {
			c.onDeregisterCoop("agent_exception")
		}
		return nil

	case ReactionShutdownEnvironmentOnException:
		c.logger.Error("agent handler exception, shutting down environment", "agent_id", c.id, "err", cause)
		if c.onShutdownEnv != nil {
			c.onShutdownEnv()
		}
		return nil

	default:
		return cause
	}
}
