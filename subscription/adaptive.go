package subscription

import (
	"github.com/webitel/actorkit/id"
	"github.com/webitel/actorkit/message"
)

// DefaultAdaptiveThreshold is the subscription count Adaptive migrates
// at, matching the original's own default_subscription_storage_factory
// (adaptive_subscription_storage_factory(8)).
const DefaultAdaptiveThreshold = 8

// Adaptive is the storage backend spec.md §4.3 names "adaptive": it
// starts as a Vector, and migrates its entire content to a Hash once the
// subscription count crosses threshold, migrating back to a Vector if
// Remove later drops the count back at or below threshold. Grounded on
// original_source/dev/so_5/rt/impl/subscr_storage_adaptive.cpp's
// storage_t, which holds both a small (vector-based) and large
// (map-based) storage and switches m_current_storage between them via
// query_content/setup_content/drop_content at the same threshold
// crossings.
type Adaptive struct {
	threshold int
	small     *Vector
	large     *Hash
	useLarge  bool
}

// NewAdaptive returns an Adaptive storage that migrates to its map-backed
// representation once it holds more than threshold subscriptions.
// threshold <= 0 uses DefaultAdaptiveThreshold.
func NewAdaptive(threshold int) *Adaptive {
	if threshold <= 0 {
		threshold = DefaultAdaptiveThreshold
	}
	return &Adaptive{threshold: threshold, small: NewVector(), large: NewHash()}
}

func (a *Adaptive) current() Storage {
	if a.useLarge {
		return a.large
	}
	return a.small
}

// growIfNeeded migrates small -> large once the vector's linear scan
// would start dominating dispatch, mirroring storage_t::
// create_event_subscription's check before inserting.
func (a *Adaptive) growIfNeeded() {
	if !a.useLarge && a.small.Len() > a.threshold {
		a.large.restore(a.small.snapshot())
		a.small.Clear()
		a.useLarge = true
	}
}

// shrinkIfPossible migrates large -> small once the map has thinned back
// out, mirroring storage_t::try_switch_to_smaller_storage.
func (a *Adaptive) shrinkIfPossible() {
	if a.useLarge && a.large.Len() <= a.threshold {
		a.small.restore(a.large.snapshot())
		a.large.Clear()
		a.useLarge = false
	}
}

// Insert implements Storage.
func (a *Adaptive) Insert(mboxID id.Mbox, msgType message.Type, st State, binding Binding) error {
	if err := a.current().Insert(mboxID, msgType, st, binding); err != nil {
		return err
	}
	a.growIfNeeded()
	return nil
}

// Remove implements Storage.
func (a *Adaptive) Remove(mboxID id.Mbox, msgType message.Type, st State) error {
	if err := a.current().Remove(mboxID, msgType, st); err != nil {
		return err
	}
	a.shrinkIfPossible()
	return nil
}

// Find implements Storage.
func (a *Adaptive) Find(mboxID id.Mbox, msgType message.Type, st State) (Binding, bool) {
	return a.current().Find(mboxID, msgType, st)
}

// Clear implements Storage.
func (a *Adaptive) Clear() {
	a.small.Clear()
	a.large.Clear()
	a.useLarge = false
}

// Len implements Storage.
func (a *Adaptive) Len() int { return a.current().Len() }
