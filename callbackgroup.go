package spindle

import (
	"sync"
	"sync/atomic"
)

// GroupMode selects a callback group's mutual-exclusion discipline.
type GroupMode int

const (
	// GroupMutuallyExclusive permits at most one in-flight Execute across
	// the group's members at any instant, engine-wide.
	GroupMutuallyExclusive GroupMode = iota
	// GroupReentrant permits concurrent Executes across (and within) the
	// group's members.
	GroupReentrant
)

// String returns a human-readable representation of the mode.
func (m GroupMode) String() string {
	switch m {
	case GroupMutuallyExclusive:
		return "MutuallyExclusive"
	case GroupReentrant:
		return "Reentrant"
	default:
		return "Unknown"
	}
}

// CallbackGroup is a mutual-exclusion domain owning a set of waitables. Its
// gate controls whether members may currently be collected: a dispatcher
// drops the gate immediately before executing a member of a mutually
// exclusive group and restores it immediately after.
//
// A group may be associated with at most one executor at a time.
type CallbackGroup struct {
	mode       GroupMode
	gate       atomic.Bool
	associated atomic.Pointer[Executor]
	// node is the owning node, nil for standalone groups. Strong, so a
	// node-created group keeps its node reachable while any member is held
	// by the application.
	node *Node

	mu      sync.Mutex
	members []Waitable
}

// NewCallbackGroup returns an empty group with its gate open.
func NewCallbackGroup(mode GroupMode) *CallbackGroup {
	g := &CallbackGroup{mode: mode}
	g.gate.Store(true)
	return g
}

// Mode returns the group's mutual-exclusion mode.
func (g *CallbackGroup) Mode() GroupMode { return g.mode }

// CanBeTakenFrom reports the gate: whether the group's members may currently
// be collected.
func (g *CallbackGroup) CanBeTakenFrom() bool { return g.gate.Load() }

// acquire drops the gate for the duration of one Execute. Reentrant groups
// are never gated.
func (g *CallbackGroup) acquire() bool {
	if g.mode == GroupReentrant {
		return true
	}
	return g.gate.CompareAndSwap(true, false)
}

// release restores the gate.
func (g *CallbackGroup) release() {
	if g.mode == GroupMutuallyExclusive {
		g.gate.Store(true)
	}
}

// Add registers a waitable with the group. Safe to call while a collection
// over this group is in progress on another goroutine.
func (g *CallbackGroup) Add(w Waitable) {
	g.mu.Lock()
	for _, have := range g.members {
		if have == w {
			g.mu.Unlock()
			return
		}
	}
	g.members = append(g.members, w)
	g.mu.Unlock()
	if m, ok := w.(groupMember); ok {
		m.attachGroup(g)
	}
}

// Remove deregisters a waitable.
func (g *CallbackGroup) Remove(w Waitable) {
	g.mu.Lock()
	removed := false
	for i, have := range g.members {
		if have == w {
			g.members = append(g.members[:i], g.members[i+1:]...)
			removed = true
			break
		}
	}
	g.mu.Unlock()
	if removed {
		if m, ok := w.(groupMember); ok {
			m.detachGroup(g)
		}
	}
}

// Len reports the current membership size.
func (g *CallbackGroup) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.members)
}

// collectInto appends the group's members to dst. The membership lock is
// held only for the copy, so a concurrent Add/Remove is observed either
// entirely or not at all, never torn.
func (g *CallbackGroup) collectInto(dst []collectedEntity) []collectedEntity {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, w := range g.members {
		dst = append(dst, collectedEntity{w: w, g: g})
	}
	return dst
}

// associateWith claims the group for an executor, failing with
// ErrAlreadyAssociated if any live executor (including e itself) already
// owns it.
func (g *CallbackGroup) associateWith(e *Executor) error {
	if !g.associated.CompareAndSwap(nil, e) {
		return ErrAlreadyAssociated
	}
	return nil
}

// disassociate releases the group if it is owned by e.
func (g *CallbackGroup) disassociate(e *Executor) {
	g.associated.CompareAndSwap(e, nil)
}
