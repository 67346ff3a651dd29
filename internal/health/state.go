// Package health tracks which backends are currently responsive.
package health

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// State is the last known responsiveness of a backend.
type State int32

const (
	// Unknown is reported for backends that were never probed. It is treated like Healthy.
	Unknown State = iota
	// Healthy means the last probe answered within its deadline.
	Healthy
	// Blocked means the last probe failed, timed out or is still hung.
	Blocked
)

func (s State) String() string {
	switch s {
	case Unknown:
		return "unknown"
	case Healthy:
		return "healthy"
	case Blocked:
		return "blocked"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// MarshalText renders the state name in JSON and YAML output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Eligible reports whether requests may be sent to a backend in this state.
func (s State) Eligible() bool {
	return s != Blocked
}

// Registry maps backend roots to their state. Reads never wait on writers once a
// root has been seen.
type Registry struct {
	mu     sync.RWMutex
	states map[string]*atomic.Int32
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{states: make(map[string]*atomic.Int32)}
}

// Get returns the state of root, or Unknown if it was never set.
func (r *Registry) Get(root string) State {
	r.mu.RLock()
	v, ok := r.states[root]
	r.mu.RUnlock()
	if !ok {
		return Unknown
	}
	return State(v.Load())
}

// Set records the state of root. The last writer wins.
func (r *Registry) Set(root string, state State) {
	r.mu.RLock()
	v, ok := r.states[root]
	r.mu.RUnlock()
	if ok {
		v.Store(int32(state))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Double-check after acquiring the write lock
	if v, ok = r.states[root]; !ok {
		v = new(atomic.Int32)
		r.states[root] = v
	}
	v.Store(int32(state))
}

// Snapshot copies the current states.
func (r *Registry) Snapshot() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]State, len(r.states))
	for root, v := range r.states {
		out[root] = State(v.Load())
	}
	return out
}
