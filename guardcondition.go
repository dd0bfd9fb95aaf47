package spindle

import "sync"

// GuardCondition is the in-process readiness primitive underlying every
// waitable. Triggering a guard condition marks it signaled and wakes every
// wait set it is currently registered with. Repeated triggers between waits
// coalesce into a single signal; the trigger count is tracked separately so
// no trigger is lost to coalescing.
//
// When an on-trigger callback is installed (the event-queue fast path),
// triggers are delivered to the callback instead of being latched for a
// polled wait.
type GuardCondition struct {
	mu          sync.Mutex
	signaled    bool
	unprocessed uint64
	waiters     map[*WaitSet]struct{}
	onTrigger   func(count uint64)
}

// NewGuardCondition returns a new, untriggered guard condition.
func NewGuardCondition() *GuardCondition {
	return &GuardCondition{waiters: make(map[*WaitSet]struct{})}
}

// Trigger signals the guard condition. If an on-trigger callback is set the
// trigger is delivered to it directly; otherwise the signal is latched until
// consumed by a wait that has this guard registered, and every attached wait
// set is woken.
func (g *GuardCondition) Trigger() {
	g.mu.Lock()
	if cb := g.onTrigger; cb != nil {
		g.mu.Unlock()
		cb(1)
		return
	}
	g.signaled = true
	g.unprocessed++
	g.wakeLocked()
	g.mu.Unlock()
}

// rearm re-latches the signal without affecting the trigger count and
// without waking waiters. Used when a consumed signal could not be serviced
// this cycle (e.g. the owning group was busy): the next collect observes it
// again, and the wake arrives separately when the blocking condition clears.
func (g *GuardCondition) rearm() {
	g.mu.Lock()
	g.signaled = true
	g.mu.Unlock()
}

func (g *GuardCondition) wakeLocked() {
	for ws := range g.waiters {
		ws.wake()
	}
}

// setOnTrigger installs or clears (nil) the on-trigger callback. Any
// accumulated unprocessed triggers are flushed to a newly installed callback
// as one coalesced notification.
func (g *GuardCondition) setOnTrigger(cb func(count uint64)) {
	g.mu.Lock()
	g.onTrigger = cb
	var flush uint64
	if cb != nil && g.unprocessed > 0 {
		flush = g.unprocessed
		g.unprocessed = 0
		g.signaled = false
	}
	g.mu.Unlock()
	if flush > 0 {
		cb(flush)
	}
}

func (g *GuardCondition) attach(ws *WaitSet) {
	g.mu.Lock()
	g.waiters[ws] = struct{}{}
	g.mu.Unlock()
}

func (g *GuardCondition) detach(ws *WaitSet) {
	g.mu.Lock()
	delete(g.waiters, ws)
	g.mu.Unlock()
}

// consumeSignaled atomically reads and clears the latched signal, and
// consumes one unprocessed trigger.
func (g *GuardCondition) consumeSignaled() bool {
	g.mu.Lock()
	ok := g.signaled
	g.signaled = false
	if ok && g.unprocessed > 0 {
		g.unprocessed--
	}
	g.mu.Unlock()
	return ok
}

// pendingTriggers reports the number of triggers not yet observed by a wait.
func (g *GuardCondition) pendingTriggers() uint64 {
	g.mu.Lock()
	n := g.unprocessed
	g.mu.Unlock()
	return n
}
