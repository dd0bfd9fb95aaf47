package spindle

import (
	"sync"
	"sync/atomic"
)

// Node is an owner of callback groups and their waitables, and the
// registration surface an executor collects from. It holds the strong
// references; the executor only ever holds weak ones.
//
// A node may be added to at most one executor at a time. Removing it (or
// closing the executor) makes it addable to a different executor.
type Node struct {
	name       string
	ctx        *Context
	associated atomic.Bool

	mu           sync.Mutex
	defaultGroup *CallbackGroup
	groups       []*CallbackGroup
	timers       map[*Timer]*CallbackGroup
	changeHook   func()
}

// NewNode returns a node with a mutually exclusive default callback group.
// A nil ctx uses the process default context.
func NewNode(ctx *Context, name string) *Node {
	if ctx == nil {
		ctx = DefaultContext()
	}
	n := &Node{
		name:   name,
		ctx:    ctx,
		timers: make(map[*Timer]*CallbackGroup),
	}
	n.defaultGroup = NewCallbackGroup(GroupMutuallyExclusive)
	n.defaultGroup.node = n
	return n
}

// Name returns the node's name.
func (n *Node) Name() string { return n.name }

// Context returns the node's shutdown context.
func (n *Node) Context() *Context { return n.ctx }

// DefaultCallbackGroup returns the node's default group.
func (n *Node) DefaultCallbackGroup() *CallbackGroup { return n.defaultGroup }

// CreateCallbackGroup creates and registers a new callback group owned by
// this node.
func (n *Node) CreateCallbackGroup(mode GroupMode) *CallbackGroup {
	g := NewCallbackGroup(mode)
	g.node = n
	n.mu.Lock()
	n.groups = append(n.groups, g)
	n.mu.Unlock()
	n.notifyChange()
	return g
}

// AddWaitable registers a waitable with the given group (nil for the
// default group).
func (n *Node) AddWaitable(w Waitable, g *CallbackGroup) {
	if g == nil {
		g = n.defaultGroup
	}
	g.Add(w)
	n.notifyChange()
}

// RemoveWaitable deregisters a waitable from the given group (nil for the
// default group).
func (n *Node) RemoveWaitable(w Waitable, g *CallbackGroup) {
	if g == nil {
		g = n.defaultGroup
	}
	g.Remove(w)
	n.notifyChange()
}

// AddTimer registers a timer as a waitable of the given group (nil for the
// default group) and records it for timer-queue registration by the owning
// executor.
func (n *Node) AddTimer(t *Timer, g *CallbackGroup) {
	if g == nil {
		g = n.defaultGroup
	}
	n.mu.Lock()
	n.timers[t] = g
	n.mu.Unlock()
	g.Add(t)
	n.notifyChange()
}

// RemoveTimer deregisters a timer. The owning executor drops it from its
// timer queues on the next collection refresh.
func (n *Node) RemoveTimer(t *Timer) {
	n.mu.Lock()
	g := n.timers[t]
	delete(n.timers, t)
	n.mu.Unlock()
	if g != nil {
		g.Remove(t)
	}
	n.notifyChange()
}

// callbackGroups returns a snapshot of the node's groups, default group
// first.
func (n *Node) callbackGroups() []*CallbackGroup {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*CallbackGroup, 0, len(n.groups)+1)
	out = append(out, n.defaultGroup)
	out = append(out, n.groups...)
	return out
}

// timersSnapshot returns a snapshot of the node's registered timers.
func (n *Node) timersSnapshot() []*Timer {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*Timer, 0, len(n.timers))
	for t := range n.timers {
		out = append(out, t)
	}
	return out
}

// setChangeHook installs the owning executor's membership-change
// notification. Cleared with nil on detach.
func (n *Node) setChangeHook(h func()) {
	n.mu.Lock()
	n.changeHook = h
	n.mu.Unlock()
}

func (n *Node) notifyChange() {
	n.mu.Lock()
	h := n.changeHook
	n.mu.Unlock()
	if h != nil {
		h()
	}
}

// associate claims the node for an executor.
func (n *Node) associate() error {
	if !n.associated.CompareAndSwap(false, true) {
		return ErrAlreadyAssociated
	}
	return nil
}

// disassociate releases the node.
func (n *Node) disassociate() {
	n.associated.Store(false)
}
