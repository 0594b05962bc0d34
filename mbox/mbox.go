// Package mbox implements the mailbox subsystem (spec.md §4.2, C4): MPMC
// delivery with delivery filters, mutable-message single-sink enforcement,
// redirection-depth tracking, and the process-wide named-mbox registry.
package mbox

import (
	"errors"
	"sync"

	"github.com/webitel/actorkit/id"
	"github.com/webitel/actorkit/limit"
	"github.com/webitel/actorkit/message"
)

// ErrMutableMultipleSubscribers is returned by Send when a mutable
// message would be accepted by more than one sink.
var ErrMutableMultipleSubscribers = errors.New("mbox: mutable message has multiple accepting subscribers")

// ErrSubscriptionNotFound is returned by Unsubscribe when no matching
// subscription exists.
var ErrSubscriptionNotFound = errors.New("mbox: subscription not found")

// DeliveryFilter decides, per (msg_type, sink), whether a payload is
// accepted. A nil filter accepts everything.
type DeliveryFilter func(payload any) bool

// Sink is the capability a mbox needs from a subscriber to deliver to it:
// agent.Core implements this. Keeping the interface here (rather than
// importing package agent) avoids a mbox<->agent import cycle — mbox only
// ever needs to enqueue and consult limits, never anything about state
// machines or handler dispatch.
type Sink interface {
	// ID identifies the sink for subscription bookkeeping.
	ID() id.Agent
	// Enqueue hands inst to the sink for asynchronous execution, along
	// with the id of the mbox that delivered it (spec.md §4.1's
	// `(mbox_id, msg_type, state*) -> handler` contract needs mboxID to
	// resolve the right handler). The sink is responsible for building
	// its own execution_demand and pushing it onto whatever event queue
	// its dispatcher binding gave it.
	Enqueue(mboxID id.Mbox, inst *message.Instance) error
	// LimitFor returns the overload-control block governing msgType for
	// this sink, if the sink declared one (spec.md §4.3).
	LimitFor(msgType message.Type) (*limit.Control, bool)
}

type subscriberEntry struct {
	sink   Sink
	filter DeliveryFilter
}

// Mbox is a multi-producer, multi-consumer mailbox.
type Mbox struct {
	id   id.Mbox
	mu   sync.RWMutex
	subs map[message.Type]map[id.Agent]*subscriberEntry
}

// New returns an empty Mbox identified by mid.
func New(mid id.Mbox) *Mbox {
	return &Mbox{id: mid, subs: make(map[message.Type]map[id.Agent]*subscriberEntry)}
}

// ID returns the mbox's stable identifier.
func (m *Mbox) ID() id.Mbox { return m.id }

// Subscribe registers sink as an accepting destination for msgType,
// optionally restricted by filter. Re-subscribing the same (msgType,
// sink) replaces the filter.
func (m *Mbox) Subscribe(msgType message.Type, sink Sink, filter DeliveryFilter) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.subs[msgType]
	if !ok {
		set = make(map[id.Agent]*subscriberEntry)
		m.subs[msgType] = set
	}
	set[sink.ID()] = &subscriberEntry{sink: sink, filter: filter}
}

// Unsubscribe removes sinkID as a destination for msgType.
func (m *Mbox) Unsubscribe(msgType message.Type, sinkID id.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.subs[msgType]
	if !ok {
		return ErrSubscriptionNotFound
	}
	if _, ok := set[sinkID]; !ok {
		return ErrSubscriptionNotFound
	}
	delete(set, sinkID)
	if len(set) == 0 {
		delete(m.subs, msgType)
	}
	return nil
}

// SubscriberCount reports how many sinks currently accept msgType,
// regardless of filters — used by tests exercising the
// "subscribe/unsubscribe leaves the sink set unchanged" round trip.
func (m *Mbox) SubscriberCount(msgType message.Type) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[msgType])
}

// Send is the top-level delivery entrypoint used by producers. It does
// not touch the redirection-depth counter; only Forward does.
func (m *Mbox) Send(inst *message.Instance) error {
	return m.deliver(inst)
}

// Redirect implements limit.Target: Control reactions call this after
// already decrementing inst's redirect depth via inst.Redirected().
func (m *Mbox) Redirect(inst *message.Instance) error {
	return m.deliver(inst)
}

// Forward re-sends inst to target on behalf of a handler, decrementing
// the redirection-depth counter and failing with
// message.ErrRedirectionTooDeep once it is exhausted (spec.md §4.2).
func Forward(target *Mbox, inst *message.Instance) error {
	next, err := inst.Redirected()
	if err != nil {
		return err
	}
	return target.deliver(next)
}

func (m *Mbox) deliver(inst *message.Instance) error {
	m.mu.RLock()
	set := m.subs[inst.Type()]
	accepting := make([]*subscriberEntry, 0, len(set))
	for _, e := range set {
		if e.filter == nil || e.filter(inst.Payload()) {
			accepting = append(accepting, e)
		}
	}
	m.mu.RUnlock()

	if inst.Mutable() && len(accepting) > 1 {
		return ErrMutableMultipleSubscribers
	}

	var errs []error
	for _, e := range accepting {
		if ctrl, ok := e.sink.LimitFor(inst.Type()); ok {
			admit, err := ctrl.Admit(inst)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if !admit {
				continue
			}
		}
		if err := e.sink.Enqueue(m.id, inst); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
