package limit

import (
	"sync"

	"github.com/webitel/actorkit/message"
)

// Registry holds the set of control blocks an agent declared, keyed by
// message type, plus an optional any_unspecified_message wildcard
// (spec.md §4.3).
type Registry struct {
	mu       sync.RWMutex
	byType   map[message.Type]*Control
	wildcard *Control
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byType: make(map[message.Type]*Control)}
}

// Set declares the control block to apply for msgType.
func (r *Registry) Set(msgType message.Type, c *Control) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[msgType] = c
}

// SetWildcard declares the control block to apply to every message type
// without its own explicit control block.
func (r *Registry) SetWildcard(c *Control) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wildcard = c
}

// For returns the control block that governs msgType, if any: an exact
// match takes precedence over the wildcard.
func (r *Registry) For(msgType message.Type) (*Control, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.byType[msgType]; ok {
		return c, true
	}
	if r.wildcard != nil {
		return r.wildcard, true
	}
	return nil, false
}
