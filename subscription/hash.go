package subscription

import (
	"github.com/webitel/actorkit/id"
	"github.com/webitel/actorkit/message"
)

// Hash is a map-backed storage backend, recommended by spec.md §4.3 for
// agents whose subscription count grows large enough that Vector's linear
// scan would dominate handler dispatch.
type Hash struct {
	direct map[Key]Binding
}

// NewHash returns an empty Hash storage.
func NewHash() *Hash {
	return &Hash{direct: make(map[Key]Binding)}
}

// Insert implements Storage.
func (h *Hash) Insert(mboxID id.Mbox, msgType message.Type, st State, binding Binding) error {
	key := Key{MboxID: mboxID, MsgType: msgType, StateID: st.StateID()}
	if _, ok := h.direct[key]; ok {
		return ErrDuplicate
	}
	h.direct[key] = binding
	return nil
}

// Remove implements Storage.
func (h *Hash) Remove(mboxID id.Mbox, msgType message.Type, st State) error {
	key := Key{MboxID: mboxID, MsgType: msgType, StateID: st.StateID()}
	if _, ok := h.direct[key]; !ok {
		return ErrNotFound
	}
	delete(h.direct, key)
	return nil
}

// Find implements Storage.
func (h *Hash) Find(mboxID id.Mbox, msgType message.Type, st State) (Binding, bool) {
	return lookup(h.direct, mboxID, msgType, st)
}

// Clear implements Storage.
func (h *Hash) Clear() { h.direct = make(map[Key]Binding) }

// Len implements Storage.
func (h *Hash) Len() int { return len(h.direct) }

// snapshot returns every entry held, for migration into another backend
// (used by Adaptive).
func (h *Hash) snapshot() []entry {
	out := make([]entry, 0, len(h.direct))
	for k, b := range h.direct {
		out = append(out, entry{key: k, binding: b})
	}
	return out
}

// restore replaces the hash's contents with entries wholesale, skipping
// the duplicate check Insert performs since the source storage already
// enforced uniqueness.
func (h *Hash) restore(entries []entry) {
	h.direct = make(map[Key]Binding, len(entries))
	for _, e := range entries {
		h.direct[e.key] = e.binding
	}
}
