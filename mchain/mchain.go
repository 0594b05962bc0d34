// Package mchain implements the message chain subsystem (spec.md §4.7,
// C10): a passive, explicitly-consumed queue of messages, usable from
// threads that are not agents. Unlike a mbox, nothing delivers into a
// Chain's subscribers automatically — callers pull via Receive/Select.
package mchain

import (
	"errors"
	"log/slog"
	"time"

	"github.com/webitel/actorkit/kernel"
	"github.com/webitel/actorkit/message"
	"github.com/webitel/actorkit/queuelock"
)

// CapacityMode selects how a bounded Chain stores its backlog; it has
// no effect on an unlimited Chain.
type CapacityMode int

const (
	// Unlimited never rejects a Send regardless of backlog size.
	Unlimited CapacityMode = iota
	// BoundedDynamic accepts up to a configured size; the backlog is kept
	// in a slice that grows as items arrive.
	BoundedDynamic
	// BoundedPreallocated accepts up to a configured size. It is stored
	// exactly like BoundedDynamic: no slots are allocated up front and
	// there is no ring, so the two bounded modes behave identically.
	BoundedPreallocated
)

// OverflowReaction names the policy applied once a bounded Chain is at
// capacity and a new Send arrives.
type OverflowReaction int

const (
	// ReactionDropNewest discards the incoming item, keeping the chain's
	// existing contents untouched.
	ReactionDropNewest OverflowReaction = iota
	// ReactionRemoveOldest evicts the chain's oldest pending item to make
	// room for the incoming one.
	ReactionRemoveOldest
	// ReactionAbort terminates the process after logging.
	ReactionAbort
	// ReactionThrow returns ErrChainFull to the sender instead of
	// blocking or silently discarding.
	ReactionThrow
	// ReactionBlock parks the sender until space frees up or an optional
	// timeout elapses.
	ReactionBlock
)

// Closure names how a Chain responds to Close (spec.md §4.7).
type Closure int

const (
	// Open accepts sends normally.
	Open Closure = iota
	// ClosedDrop rejects further sends and discards pending content.
	ClosedDrop
	// ClosedRetain rejects further sends but keeps pending content
	// available to Receive/Select until it drains.
	ClosedRetain
)

// ErrChainFull is returned by Send under ReactionThrow once a bounded
// Chain is at capacity.
var ErrChainFull = errors.New("mchain: chain is full")

// ErrChainClosed is returned by Send once the chain has been closed.
var ErrChainClosed = errors.New("mchain: chain is closed")

// ErrTimeout is returned by Receive/Select when no message became
// available before the given wait policy's deadline, and by Send under
// ReactionBlock when Params.Block elapses with the chain still full.
// ReceiveBulk reports a timeout by returning its count with a nil error.
var ErrTimeout = errors.New("mchain: wait timed out")

// Params configures a new Chain.
type Params struct {
	Mode      CapacityMode
	Capacity  int // ignored when Mode == Unlimited
	Overflow  OverflowReaction
	Block     time.Duration // optional timeout for ReactionBlock; 0 means wait indefinitely
	NotEmpty  func()        // invoked on every insert into an empty chain
	Logger    *slog.Logger
}

type item struct {
	inst *message.Instance
}

// Chain is a multi-producer passive queue of *message.Instance, polled
// explicitly via Receive/ReceiveBulk/Select (spec.md §4.7) rather than
// delivered to subscribers the way a mbox is.
type Chain struct {
	params Params
	lock   queuelock.Lock

	items   []item
	closure Closure

	waiters []*waiter
}

// waiter is one pending Select call's registration with this chain, so
// Select can be woken the moment this chain becomes ready (non-empty or
// closed) without polling — spec.md §4.7's "internal select_case list
// of waiters maintained per chain". fire is called with the chain's
// lock held; Select's registration makes it idempotent via sync.Once
// since any one of several chains it watches may call it.
type waiter struct {
	fire func()
}

// registerWaiter adds a one-shot wake callback, invoked the next time
// this chain becomes ready (non-empty or closed).
func (c *Chain) registerWaiter(fire func()) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.waiters = append(c.waiters, &waiter{fire: fire})
}

// tryPop removes and returns the front item if one is queued. The
// second result is true if nothing is queued because the chain is
// closed (as opposed to merely empty for now).
func (c *Chain) tryPop() (inst *message.Instance, closed bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if len(c.items) > 0 {
		return c.popFrontLocked(), false
	}
	if c.closure != Open {
		return nil, true
	}
	return nil, false
}

func (c *Chain) popFrontLocked() *message.Instance {
	it := c.items[0]
	c.items = c.items[1:]
	// Wake senders parked under ReactionBlock: a slot just freed up.
	c.lock.Broadcast()
	return it.inst
}

func (c *Chain) wakeWaitersLocked() {
	for _, w := range c.waiters {
		w.fire()
	}
	c.waiters = nil
}

// New returns an empty Chain configured by p.
func New(p Params) *Chain {
	return &Chain{params: p, lock: queuelock.Default.New()}
}

// Len reports how many items are currently queued.
func (c *Chain) Len() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.items)
}

// Send enqueues inst, applying the configured overflow reaction if the
// chain is bounded and at capacity. It returns ErrChainClosed if the
// chain has been closed.
func (c *Chain) Send(inst *message.Instance) error {
	c.lock.Lock()
	if c.closure != Open {
		c.lock.Unlock()
		return ErrChainClosed
	}

	if c.params.Mode == Unlimited || len(c.items) < c.params.Capacity {
		c.push(inst)
		c.lock.Unlock()
		return nil
	}

	switch c.params.Overflow {
	case ReactionDropNewest:
		c.lock.Unlock()
		return nil
	case ReactionRemoveOldest:
		// The chain stays non-empty throughout, so the not-empty
		// notificator is not fired.
		c.items = append(c.items[1:], item{inst: inst})
		c.lock.Broadcast()
		c.wakeWaitersLocked()
		c.lock.Unlock()
		return nil
	case ReactionAbort:
		c.lock.Unlock()
		kernel.Abort(c.params.Logger, "mchain: capacity exceeded under abort policy", "capacity", c.params.Capacity)
		return nil
	case ReactionThrow:
		c.lock.Unlock()
		return ErrChainFull
	case ReactionBlock:
		var timedOut bool
		if c.params.Block > 0 {
			timer := time.AfterFunc(c.params.Block, func() {
				c.lock.Lock()
				timedOut = true
				c.lock.Broadcast()
				c.lock.Unlock()
			})
			defer timer.Stop()
		}

		c.lock.WaitUntil(func() bool {
			return c.closure != Open || len(c.items) < c.params.Capacity || timedOut
		})
		switch {
		case c.closure != Open:
			c.lock.Unlock()
			return ErrChainClosed
		case len(c.items) < c.params.Capacity:
			c.push(inst)
			c.lock.Unlock()
			return nil
		default:
			c.lock.Unlock()
			return ErrTimeout
		}
	default:
		c.lock.Unlock()
		return nil
	}
}

// push appends inst and fires the not-empty notificator on the
// transition from empty to non-empty. Callers must hold c.lock.
func (c *Chain) push(inst *message.Instance) {
	wasEmpty := len(c.items) == 0
	c.items = append(c.items, item{inst: inst})
	c.lock.Broadcast()
	c.wakeWaitersLocked()
	if wasEmpty && c.params.NotEmpty != nil {
		c.params.NotEmpty()
	}
}

// Close transitions the chain out of Open. With mode == ClosedDrop,
// pending items are discarded immediately; with ClosedRetain they
// remain available to Receive/Select until drained. Either way, no
// further Send succeeds and every blocked waiter is woken.
func (c *Chain) Close(mode Closure) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closure != Open {
		return
	}
	c.closure = mode
	if mode == ClosedDrop {
		c.items = nil
	}
	c.lock.Broadcast()
	c.wakeWaitersLocked()
}
