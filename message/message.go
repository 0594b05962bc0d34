// Package message implements the uniform representation of signals,
// classical messages, user-type messages, and envelope-wrapped messages
// described in spec.md §3/§4.2 (C2).
package message

import (
	"errors"
	"reflect"

	"github.com/webitel/actorkit/id"
)

// DefaultRedirectDepth is the initial value of a message's remaining
// redirection counter (spec.md §4.2 "Redirection depth").
const DefaultRedirectDepth = 32

// ErrRedirectionTooDeep is returned by Redirected when a message's
// redirection counter has been exhausted.
var ErrRedirectionTooDeep = errors.New("message: redirection depth exceeded")

// Type is the runtime type tag used as part of every subscription key.
// Two Types compare equal iff they were derived from the same Go type via
// TypeOf/SignalType, so it is safe to use as a map key.
type Type struct {
	rt   reflect.Type
	name string
}

// TypeOf returns the message type tag for a classical or user-type message
// carrying a payload of type T.
func TypeOf[T any]() Type {
	var zero T
	rt := reflect.TypeOf(zero)
	if rt == nil {
		// T is an interface type, whose zero value is a nil interface;
		// fall back to the statically known type via reflection on a
		// pointer-to-T, which is never nil.
		rt = reflect.TypeOf((*T)(nil)).Elem()
	}
	return Type{rt: rt, name: rt.String()}
}

// SignalType returns the message type tag for a signal: a type that
// carries no payload. T is conventionally an empty struct.
func SignalType[T any]() Type {
	t := TypeOf[T]()
	return t
}

// String returns a human-readable, stable name for the type — useful for
// tracing and log output.
func (t Type) String() string { return t.name }

// IsZero reports whether t is the zero Type (never produced by TypeOf).
func (t Type) IsZero() bool { return t.rt == nil }

// Invoker is handed to an Envelope's hooks so the envelope controls
// whether/when the wrapped handler actually runs (spec.md §4.2).
type Invoker interface {
	// Invoke runs the subscriber's handler against the enveloped payload.
	Invoke() error
}

// Envelope wraps a nested Instance and intercepts delivery to a single
// subscriber via two hooks (spec.md §4.2). The runtime treats enveloped
// and bare messages identically for subscription matching: an Envelope
// never changes the Instance's Type or Payload, it only decides, per
// subscriber, whether the handler body actually executes.
type Envelope interface {
	// HandlerFound is called once a sink is about to run its handler. The
	// envelope decides whether to call inv.Invoke() or suppress it.
	HandlerFound(inv Invoker) error
	// Transformation hands out the inner payload on request. Nothing in
	// this module calls it: the limit_then_transform overload reaction
	// passes the enveloped Instance to its TransformFunc unchanged.
	Transformation(inv Invoker) (payload any, ok bool)
}

// Instance is a single message/signal as it travels through the runtime:
// a type tag, an optional payload, a mutability flag, and an optional
// enveloping policy.
type Instance struct {
	typ      Type
	payload  any
	mutable  bool
	envelope Envelope
	refs     *id.RefCount
	depth    int
}

// New creates an immutable classical/user-type message carrying payload.
func New[T any](payload T) *Instance {
	return &Instance{typ: TypeOf[T](), payload: payload, refs: id.NewRefCount(), depth: DefaultRedirectDepth}
}

// NewMutable creates a mutable message. Per spec.md §3, a mutable message
// must be delivered to at most one subscriber at a time; the mbox enforces
// this at send time.
func NewMutable[T any](payload T) *Instance {
	return &Instance{typ: TypeOf[T](), payload: payload, mutable: true, refs: id.NewRefCount(), depth: DefaultRedirectDepth}
}

// NewSignal creates a signal: a message with no payload, identified only
// by its type tag.
func NewSignal[T any]() *Instance {
	return &Instance{typ: SignalType[T](), refs: id.NewRefCount(), depth: DefaultRedirectDepth}
}

// Wrap returns a copy of inst with env attached as its envelope. The
// Type and Payload are untouched, so subscription matching remains
// transparent to the wrapping (spec.md §4.2 point 3).
func Wrap(inst *Instance, env Envelope) *Instance {
	cp := *inst
	cp.envelope = env
	return &cp
}

// Type returns the message's runtime type tag.
func (m *Instance) Type() Type { return m.typ }

// Payload returns the message's payload, or nil for a signal.
func (m *Instance) Payload() any { return m.payload }

// IsSignal reports whether m carries no payload.
func (m *Instance) IsSignal() bool { return m.payload == nil }

// Mutable reports whether m must be delivered to at most one subscriber.
func (m *Instance) Mutable() bool { return m.mutable }

// Envelope returns m's envelope, or nil if m is a bare message.
func (m *Instance) Envelope() Envelope { return m.envelope }

// Retain adds a reference to the underlying payload, keeping it alive as
// long as the returned count is held.
func (m *Instance) Retain() int64 { return m.refs.Retain() }

// Release drops a reference to the underlying payload.
func (m *Instance) Release() int64 { return m.refs.Release() }

// RedirectDepth returns the number of further redirections m may undergo.
func (m *Instance) RedirectDepth() int { return m.depth }

// Redirected returns a copy of m with its redirection counter decremented,
// or ErrRedirectionTooDeep if the counter has reached zero (spec.md §4.2).
func (m *Instance) Redirected() (*Instance, error) {
	if m.depth <= 0 {
		return nil, ErrRedirectionTooDeep
	}
	cp := *m
	cp.depth--
	return &cp, nil
}
