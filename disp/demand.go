// Package disp implements the dispatcher subsystem (spec.md §4.8, C8):
// the common execution_demand/event_queue/binder primitives, and the
// one-thread, active-object, active-group, thread-pool,
// advanced-thread-pool, and priority dispatcher variants built on top of
// them.
package disp

import (
	"errors"

	"github.com/webitel/actorkit/id"
	"github.com/webitel/actorkit/message"
)

// Kind names what an execution_demand represents.
type Kind int

const (
	// KindEvtStart runs an agent's so_evt_start hook.
	KindEvtStart Kind = iota
	// KindMessage runs a subscribed handler against a delivered message.
	KindMessage
	// KindEvtFinish runs an agent's so_evt_finish hook.
	KindEvtFinish
)

// Priority is an agent's scheduling class under a priority dispatcher
// (spec.md §4.8.7): p0 (lowest) through p7 (highest).
type Priority int

const (
	P0 Priority = iota
	P1
	P2
	P3
	P4
	P5
	P6
	P7
)

// NumPriorities is the number of distinct priority classes.
const NumPriorities = 8

// Demand is a unit of work pushed onto an event queue: running it
// performs whatever subscription lookup and handler invocation the
// producer (usually an agent.Core) already closed over.
type Demand struct {
	AgentID id.Agent
	Kind    Kind
	// MboxID identifies which mbox delivered the message this demand
	// represents (spec.md §4.1); zero for demands with no originating
	// mbox (KindEvtStart/KindEvtFinish).
	MboxID   id.Mbox
	MsgType  message.Type
	Priority Priority
	// ThreadSafe marks a handler as safe to run concurrently with other
	// ThreadSafe handlers of the same agent (spec.md §4.4); only the
	// advanced-thread-pool dispatcher consults this field.
	ThreadSafe bool
	Exec       func() error
}

// ErrQueueClosed is returned by Push once the destination event queue
// has been closed.
var ErrQueueClosed = errors.New("disp: event queue closed")

// EventQueue is the FIFO of execution_demand a dispatcher worker thread
// drains. Push is safe for concurrent producers; Pop is intended for a
// single consumer goroutine per queue (callers needing fan-in across
// several agents run one EventQueue per agent and select/poll across
// them, as the thread-pool variants do).
type EventQueue interface {
	Push(d Demand) error
	// Pop blocks until a demand is available or the queue is closed and
	// drained, in which case it returns (Demand{}, false).
	Pop() (Demand, bool)
	Close()
	Len() int
}

// Binder maps an agent to the event queue it will receive demands on.
// Each dispatcher variant implements its own Binder embodying its
// agent-to-thread assignment policy.
type Binder interface {
	Bind(agentID id.Agent) (EventQueue, error)
	Unbind(agentID id.Agent)
}

// Hook decorates the event queue handed to an agent at bind time (spec.md
// §6 `event_queue_hook`), e.g. to wrap Push/Pop with activity tracking.
type Hook func(agentID id.Agent, q EventQueue) EventQueue
