package message

import "github.com/webitel/actorkit/id"

// Box is a generic, atomically reference-counted payload holder, grounded
// on original_source/dev/so_5/h/atomic_refcounted.hpp: any payload type
// shared by multiple messages (a big buffer, a parsed document) should be
// held behind a Box instead of being deep-copied per recipient.
type Box[T any] struct {
	value T
	refs  *id.RefCount
}

// NewBox wraps value in a Box with one live reference.
func NewBox[T any](value T) *Box[T] {
	return &Box[T]{value: value, refs: id.NewRefCount()}
}

// Get returns the boxed value. It is the caller's responsibility to hold
// a reference (via Retain) for as long as the value is accessed
// concurrently with a Release elsewhere.
func (b *Box[T]) Get() T { return b.value }

// Retain adds a reference to the box and returns the resulting count.
func (b *Box[T]) Retain() int64 { return b.refs.Retain() }

// Release drops a reference. When the returned count reaches 0 the
// caller owns the last reference and may recycle/free the boxed value.
func (b *Box[T]) Release() int64 { return b.refs.Release() }

// RefCount returns the box's current reference count.
func (b *Box[T]) RefCount() int64 { return b.refs.Count() }
