package subscription

import (
	"github.com/webitel/actorkit/id"
	"github.com/webitel/actorkit/message"
)

type entry struct {
	key     Key
	binding Binding
}

// Vector is a linear-scan storage backend. spec.md §4.3 recommends it for
// agents with few subscriptions (the common case): a slice scan beats a
// map's hashing overhead below a couple dozen entries and never pays for
// bucket growth.
type Vector struct {
	entries []entry
}

// NewVector returns an empty Vector storage.
func NewVector() *Vector {
	return &Vector{}
}

func (v *Vector) indexOf(key Key) int {
	for i := range v.entries {
		if v.entries[i].key == key {
			return i
		}
	}
	return -1
}

// Insert implements Storage.
func (v *Vector) Insert(mboxID id.Mbox, msgType message.Type, st State, binding Binding) error {
	key := Key{MboxID: mboxID, MsgType: msgType, StateID: st.StateID()}
	if v.indexOf(key) >= 0 {
		return ErrDuplicate
	}
	v.entries = append(v.entries, entry{key: key, binding: binding})
	return nil
}

// Remove implements Storage.
func (v *Vector) Remove(mboxID id.Mbox, msgType message.Type, st State) error {
	key := Key{MboxID: mboxID, MsgType: msgType, StateID: st.StateID()}
	i := v.indexOf(key)
	if i < 0 {
		return ErrNotFound
	}
	last := len(v.entries) - 1
	v.entries[i] = v.entries[last]
	v.entries = v.entries[:last]
	return nil
}

// Find implements Storage, walking the state-inheritance chain.
func (v *Vector) Find(mboxID id.Mbox, msgType message.Type, st State) (Binding, bool) {
	cur := st
	for {
		key := Key{MboxID: mboxID, MsgType: msgType, StateID: cur.StateID()}
		if i := v.indexOf(key); i >= 0 {
			return v.entries[i].binding, true
		}
		parent, ok := cur.Parent()
		if !ok {
			return Binding{}, false
		}
		cur = parent
	}
}

// Clear implements Storage.
func (v *Vector) Clear() { v.entries = nil }

// Len implements Storage.
func (v *Vector) Len() int { return len(v.entries) }

// snapshot returns every entry held, for migration into another backend
// (used by Adaptive).
func (v *Vector) snapshot() []entry {
	return append([]entry(nil), v.entries...)
}

// restore replaces the vector's contents with entries wholesale,
// skipping the duplicate check Insert performs since the source storage
// already enforced uniqueness.
func (v *Vector) restore(entries []entry) {
	v.entries = append([]entry(nil), entries...)
}
