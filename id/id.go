// Package id provides the process-wide identifier allocator and the
// intrusive reference-counting primitive used by mboxes, coops, and
// message payloads (spec.md §3, C1).
package id

import (
	"code.hybscloud.com/atomix"
)

// Mbox is the stable, 64-bit, monotonically increasing identifier of a
// mailbox. It is unique for the lifetime of the environment that minted it
// and is the only thing subscription storage is ever allowed to key on —
// never a pointer to the mbox itself (spec.md §9).
type Mbox uint64

// Agent identifies an agent for the lifetime of the environment that
// created it. Unlike Mbox it is not required to be a compact integer by
// the spec, so it doubles as a convenient map key and log field.
type Agent uint64

// Coop identifies a cooperation.
type Coop uint64

// Allocator hands out monotonically increasing identifiers. A single
// Allocator instance is shared by everything minted from one environment;
// the zero value is usable and starts counting from 1, reserving 0 as a
// "no id" sentinel.
type Allocator struct {
	next atomix.Uint64
}

// Next returns the next identifier in the sequence, starting at 1.
func (a *Allocator) Next() uint64 {
	return a.next.AddAcqRel(1)
}

// NextMbox is a typed convenience wrapper around Next.
func (a *Allocator) NextMbox() Mbox { return Mbox(a.Next()) }

// NextAgent is a typed convenience wrapper around Next.
func (a *Allocator) NextAgent() Agent { return Agent(a.Next()) }

// NextCoop is a typed convenience wrapper around Next.
func (a *Allocator) NextCoop() Coop { return Coop(a.Next()) }

// RefCount is an intrusive, atomic reference count. It backs shared message
// payloads (spec.md §3 "Message lifetime") and named-mbox registry entries
// (spec.md §4.2 "external-reference counter"): the payload or registry
// entry lives exactly as long as some holder has an outstanding reference.
type RefCount struct {
	n atomix.Int64
}

// NewRefCount returns a RefCount initialized to one live reference, as when
// a payload or registry entry is first created.
func NewRefCount() *RefCount {
	rc := &RefCount{}
	rc.n.StoreRelease(1)
	return rc
}

// Retain adds one reference and returns the count after the increment.
func (rc *RefCount) Retain() int64 {
	return rc.n.AddAcqRel(1)
}

// Release drops one reference and returns the count after the decrement.
// The caller must treat a return value of 0 as "the last reference just
// went away" and perform cleanup exactly once.
func (rc *RefCount) Release() int64 {
	return rc.n.AddAcqRel(-1)
}

// Count returns the current reference count.
func (rc *RefCount) Count() int64 {
	return rc.n.LoadAcquire()
}
