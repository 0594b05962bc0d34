// Package subscription implements the per-agent subscription storage
// described in spec.md §4.3 (C3): a map from (message type, state) to
// handler, with state-inheritance lookup — a handler bound to a parent
// state is found for any descendant state that does not shadow it.
package subscription

import (
	"fmt"

	"github.com/webitel/actorkit/id"
	"github.com/webitel/actorkit/message"
)

// State is the minimal view of an agent's hierarchical state machine that
// subscription storage needs: an identity to key on, and an optional
// parent to walk toward the root state when a direct match is missing.
type State interface {
	// StateID is a value stable for the lifetime of the state object and
	// comparable with ==; it is never reused across states by the agent
	// package.
	StateID() uint64
	// Parent returns the enclosing state and true, or false if st is the
	// agent's root/default state.
	Parent() (State, bool)
}

// Handler is a subscriber's reaction to a delivered message.
type Handler func(inst *message.Instance) error

// Binding pairs a handler with its thread-safety flag, spec.md §3's
// subscription record: `handler = {fn, thread_safety_flag}`. A
// thread_safe handler (spec.md §4.4) may run concurrently with other
// thread_safe handlers of the same agent under disp.AdvancedThreadPool;
// a not_thread_safe handler never runs concurrently with any other
// handler of its agent.
type Binding struct {
	Handler    Handler
	ThreadSafe bool
}

// Key identifies one subscription slot. MboxID is part of the key, not
// just bookkeeping metadata: spec.md §4.1 defines the dispatch contract
// as `(mbox_id, msg_type, state*) -> handler`, so two different mboxes
// may each bind their own handler to the same (msg_type, state) pair.
type Key struct {
	MboxID  id.Mbox
	MsgType message.Type
	StateID uint64
}

// ErrNotFound is returned by Remove when no matching subscription exists.
var ErrNotFound = fmt.Errorf("subscription: not found")

// ErrDuplicate is returned by Insert when a subscription already exists
// for the exact (mboxID, msgType, state) key — spec.md §4.3 requires resubscribe
// to go through Remove first.
var ErrDuplicate = fmt.Errorf("subscription: duplicate")

// Storage is the interface every subscription backend implements. Find
// performs state-inheritance lookup: it checks st, then st.Parent(), and
// so on until a binding is found or the chain is exhausted.
type Storage interface {
	// Insert binds binding to (mboxID, msgType, st). It does not walk the
	// parent chain: subscriptions are always registered against one
	// exact state.
	Insert(mboxID id.Mbox, msgType message.Type, st State, binding Binding) error
	// Remove unbinds the binding previously registered for (mboxID,
	// msgType, st).
	Remove(mboxID id.Mbox, msgType message.Type, st State) error
	// Find performs state-inheritance lookup starting at st.
	Find(mboxID id.Mbox, msgType message.Type, st State) (Binding, bool)
	// Clear drops every subscription, used when an agent is being torn
	// down.
	Clear()
	// Len reports the number of exact (mboxID, msgType, state) bindings
	// held.
	Len() int
}

func lookup(direct map[Key]Binding, mboxID id.Mbox, msgType message.Type, st State) (Binding, bool) {
	cur := st
	for {
		if b, ok := direct[Key{MboxID: mboxID, MsgType: msgType, StateID: cur.StateID()}]; ok {
			return b, true
		}
		parent, ok := cur.Parent()
		if !ok {
			return Binding{}, false
		}
		cur = parent
	}
}
