package agent

import (
	"github.com/webitel/actorkit/id"
	"github.com/webitel/actorkit/subscription"
)

var stateIDs id.Allocator

// State is one node of an agent's hierarchical state machine (spec.md
// §4.4). States are built with NewState and wired into a tree with In and
// InitialSubstate before the agent is registered; the tree itself never
// changes shape after that, only which State is current.
type State struct {
	id      uint64
	name    string
	parent  *State
	initial *State
	onEnter func()
	onExit  func()
}

// NewState returns a fresh, unattached State named name. name is for tracing
// and log output only; identity is the allocated id.
func NewState(name string) *State {
	return &State{id: stateIDs.Next(), name: name}
}

// In attaches s as a child of parent and returns s, for chaining:
//
//	busy := agent.NewState("busy").In(root)
func (s *State) In(parent *State) *State {
	s.parent = parent
	return s
}

// InitialSubstate declares child as the state a transition into s
// actually lands in when s is used as a change_state target (spec.md
// §4.4 point 3: composite states descend through initial_substate
// chains to a leaf). Returns s for chaining.
func (s *State) InitialSubstate(child *State) *State {
	s.initial = child
	return s
}

// OnEnter sets the hook run when a transition enters s. Returns s for
// chaining.
func (s *State) OnEnter(fn func()) *State {
	s.onEnter = fn
	return s
}

// OnExit sets the hook run when a transition exits s. Returns s for
// chaining.
func (s *State) OnExit(fn func()) *State {
	s.onExit = fn
	return s
}

// StateID implements subscription.State.
func (s *State) StateID() uint64 { return s.id }

// Parent implements subscription.State.
func (s *State) Parent() (subscription.State, bool) {
	if s.parent == nil {
		return nil, false
	}
	return s.parent, true
}

// Name returns s's tracing name.
func (s *State) Name() string { return s.name }

// leaf descends s through initial_substate chains until it reaches a
// state with none declared.
func leaf(s *State) *State {
	for s.initial != nil {
		s = s.initial
	}
	return s
}

// ancestors returns s and every enclosing state up to the root, leaf
// first.
func ancestors(s *State) []*State {
	var path []*State
	for cur := s; cur != nil; cur = cur.parent {
		path = append(path, cur)
	}
	return path
}

// lca returns the lowest common ancestor of a and b, or nil if they
// belong to disjoint trees (as with the parentless sink state that
// ReactionDeregisterCoopOnException switches an agent to).
func lca(a, b *State) *State {
	inA := make(map[uint64]*State)
	for _, s := range ancestors(a) {
		inA[s.id] = s
	}
	for cur := b; cur != nil; cur = cur.parent {
		if _, ok := inA[cur.id]; ok {
			return cur
		}
	}
	return nil
}
