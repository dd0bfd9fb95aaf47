package spindle

import "time"

// WaitSet is the blocking multiplexed-wait primitive. A cycle registers the
// guard conditions of every collected entity, then blocks in Wait until at
// least one registered guard is signaled or the timeout elapses.
//
// The wake channel has capacity one: concurrent wakes coalesce, and a stale
// wake only costs one spurious re-check of the registered guards. A wake can
// therefore never be left "stuck pending" in a way that swallows later
// wakes.
type WaitSet struct {
	guards []*GuardCondition
	wakeCh chan struct{}
}

// NewWaitSet returns an empty wait set.
func NewWaitSet() *WaitSet {
	return &WaitSet{wakeCh: make(chan struct{}, 1)}
}

// AddGuard registers a guard condition for the coming wait cycle. Idempotent
// per cycle. Not safe for concurrent use with Wait; registration happens on
// the spinning goroutine before Wait is entered.
func (ws *WaitSet) AddGuard(g *GuardCondition) {
	for _, have := range ws.guards {
		if have == g {
			return
		}
	}
	ws.guards = append(ws.guards, g)
	g.attach(ws)
}

// Clear detaches every registered guard, preparing the wait set for the next
// cycle's registration pass.
func (ws *WaitSet) Clear() {
	for _, g := range ws.guards {
		g.detach(ws)
	}
	ws.guards = ws.guards[:0]
}

// wake publishes a coalesced wake signal.
func (ws *WaitSet) wake() {
	select {
	case ws.wakeCh <- struct{}{}:
	default:
	}
}

// Wait blocks until at least one registered guard condition is signaled or
// the timeout elapses. A negative timeout blocks indefinitely; zero performs
// a non-blocking check. Signals of registered guards are consumed into the
// returned result.
func (ws *WaitSet) Wait(timeout time.Duration) *WaitResult {
	var deadlineC <-chan time.Time
	if timeout >= 0 {
		tm := time.NewTimer(timeout)
		defer tm.Stop()
		deadlineC = tm.C
	}
	for {
		if res := ws.collect(); len(res.ready) > 0 {
			return res
		}
		select {
		case <-ws.wakeCh:
		case <-deadlineC:
			// One final check so a signal racing the deadline is not
			// reported as a timeout.
			if res := ws.collect(); len(res.ready) > 0 {
				return res
			}
			return &WaitResult{timedOut: true}
		}
	}
}

func (ws *WaitSet) collect() *WaitResult {
	res := &WaitResult{}
	for _, g := range ws.guards {
		if g.consumeSignaled() {
			if res.ready == nil {
				res.ready = make(map[*GuardCondition]struct{})
			}
			res.ready[g] = struct{}{}
		}
	}
	return res
}

// WaitResult reports the outcome of one blocking wait.
type WaitResult struct {
	ready    map[*GuardCondition]struct{}
	timedOut bool
}

// Signaled reports whether the given guard condition was signaled in the
// wait this result describes.
func (r *WaitResult) Signaled(g *GuardCondition) bool {
	_, ok := r.ready[g]
	return ok
}

// TimedOut reports whether the wait ended because the timeout elapsed.
func (r *WaitResult) TimedOut() bool { return r.timedOut }
