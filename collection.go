package spindle

import (
	"sync"
	"sync/atomic"
	"time"
)

// collectedEntity is one registered waitable together with the callback
// group that owns it.
type collectedEntity struct {
	w Waitable
	g *CallbackGroup
}

// readyEntity is one dispatchable unit produced by a collector's wait.
type readyEntity struct {
	w Waitable
	g *CallbackGroup
	// id is the sub-entity id on the event path.
	id int
	// viaEvent selects TakeDataByID over the polled TakeData at dispatch.
	viaEvent bool
}

// collectorDeps is the executor-side wiring shared by every collection
// strategy.
type collectorDeps struct {
	// snapshot returns the current registered entities, in group order.
	snapshot func() []collectedEntity
	// notify is the executor's interrupt guard: membership changes, group
	// releases and cancellation all trigger it.
	notify *GuardCondition
	// cancelled reports whether the current spin has been cancelled.
	cancelled func() bool
}

// collector is the interchangeable readiness-collection strategy. wait
// blocks until at least one entity is dispatchable, the timeout elapses
// (nil result), or the spin is cancelled (nil result); a negative timeout
// blocks indefinitely. retry returns an entity whose group turned out to be
// busy so its readiness is not lost. invalidate marks cached registration
// state stale. detach tears registration down when the executor closes.
type collector interface {
	wait(timeout time.Duration) []readyEntity
	retry(item readyEntity)
	invalidate()
	detach()
}

// retryRearm re-latches a polled entity's consumed readiness for the next
// collect.
func retryRearm(item readyEntity) {
	if r, ok := item.w.(rearmable); ok {
		r.rearmReady()
	}
}

// rescanCollector rebuilds the wait set from a fresh snapshot on every
// cycle. Entities of gated (busy) groups are left out of the registration
// entirely: their latched signals persist untouched and the group's release
// forces the re-collection that picks them up.
type rescanCollector struct {
	deps collectorDeps
	ws   *WaitSet
}

func newRescanCollector(deps collectorDeps) *rescanCollector {
	return &rescanCollector{deps: deps, ws: NewWaitSet()}
}

func (c *rescanCollector) wait(timeout time.Duration) []readyEntity {
	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		if c.deps.cancelled() {
			return nil
		}
		entities := c.deps.snapshot()
		c.ws.Clear()
		c.ws.AddGuard(c.deps.notify)
		registered := entities[:0:0]
		for _, ce := range entities {
			if !ce.g.CanBeTakenFrom() {
				continue
			}
			ce.w.AddToWaitSet(c.ws)
			registered = append(registered, ce)
		}
		res := c.ws.Wait(remainingTimeout(timeout, deadline))
		if c.deps.cancelled() {
			return nil
		}
		ready := scanReady(registered, res)
		if len(ready) > 0 {
			return ready
		}
		if res.TimedOut() {
			return nil
		}
		// Woken by the notify guard alone: re-snapshot and go again.
	}
}

func (c *rescanCollector) retry(item readyEntity) { retryRearm(item) }
func (c *rescanCollector) invalidate()            {}
func (c *rescanCollector) detach()                { c.ws.Clear() }

// staticCollector registers once and reuses the wait set across cycles,
// rebuilding only after an invalidate. Because the registration cannot be
// re-filtered per cycle, busy-group readiness is handled entirely by the
// dispatcher's retry path.
type staticCollector struct {
	deps  collectorDeps
	ws    *WaitSet
	cache []collectedEntity
	dirty atomic.Bool
}

func newStaticCollector(deps collectorDeps) *staticCollector {
	c := &staticCollector{deps: deps, ws: NewWaitSet()}
	c.dirty.Store(true)
	return c
}

func (c *staticCollector) rebuild() {
	c.cache = c.deps.snapshot()
	c.ws.Clear()
	c.ws.AddGuard(c.deps.notify)
	for _, ce := range c.cache {
		ce.w.AddToWaitSet(c.ws)
	}
}

func (c *staticCollector) wait(timeout time.Duration) []readyEntity {
	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		if c.deps.cancelled() {
			return nil
		}
		if c.dirty.CompareAndSwap(true, false) {
			c.rebuild()
		}
		res := c.ws.Wait(remainingTimeout(timeout, deadline))
		if c.deps.cancelled() {
			return nil
		}
		ready := scanReady(c.cache, res)
		if len(ready) > 0 {
			return ready
		}
		if res.TimedOut() {
			return nil
		}
	}
}

func (c *staticCollector) retry(item readyEntity) { retryRearm(item) }
func (c *staticCollector) invalidate()            { c.dirty.Store(true) }
func (c *staticCollector) detach()                { c.ws.Clear() }

// eventQueueBuffer bounds the push-notification queue. Overflowing
// notifications are counted and dropped; the entity's own pending state is
// untouched, so a later notification still drains it.
const eventQueueBuffer = 4096

// eventQueueCollector replaces polled waiting with push notifications:
// every registered entity's ready callback enqueues an event, and wait
// consumes events in arrival order. Readiness ordering is FIFO by
// notification rather than registration order.
type eventQueueCollector struct {
	deps   collectorDeps
	events chan readyEntity
	wakeCh chan struct{}
	dirty  atomic.Bool

	mu        sync.Mutex
	installed map[Waitable]struct{}
	// requeued holds busy-group events; they are redelivered only after a
	// notify wake so a held group cannot spin the loop.
	requeued []readyEntity

	dropped atomic.Uint64
}

func newEventQueueCollector(deps collectorDeps) *eventQueueCollector {
	c := &eventQueueCollector{
		deps:      deps,
		events:    make(chan readyEntity, eventQueueBuffer),
		wakeCh:    make(chan struct{}, 1),
		installed: make(map[Waitable]struct{}),
	}
	c.dirty.Store(true)
	deps.notify.setOnTrigger(func(uint64) { c.wake() })
	return c
}

func (c *eventQueueCollector) wake() {
	select {
	case c.wakeCh <- struct{}{}:
	default:
	}
}

// rebuild reconciles installed ready callbacks against a fresh snapshot.
func (c *eventQueueCollector) rebuild() {
	entities := c.deps.snapshot()
	c.mu.Lock()
	defer c.mu.Unlock()
	next := make(map[Waitable]struct{}, len(entities))
	for _, ce := range entities {
		next[ce.w] = struct{}{}
	}
	for w := range c.installed {
		if _, ok := next[w]; !ok {
			w.ClearOnReadyCallback()
			delete(c.installed, w)
		}
	}
	for _, ce := range entities {
		if _, ok := c.installed[ce.w]; ok {
			continue
		}
		ce := ce
		ce.w.SetOnReadyCallback(func(count uint64, id int) {
			for i := uint64(0); i < count; i++ {
				select {
				case c.events <- readyEntity{w: ce.w, g: ce.g, id: id, viaEvent: true}:
				default:
					c.dropped.Add(1)
				}
			}
		})
		c.installed[ce.w] = struct{}{}
	}
}

func (c *eventQueueCollector) takeRequeued() []readyEntity {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.requeued) == 0 {
		return nil
	}
	out := c.requeued
	c.requeued = nil
	return out
}

func (c *eventQueueCollector) wait(timeout time.Duration) []readyEntity {
	var deadlineC <-chan time.Time
	if timeout >= 0 {
		tm := time.NewTimer(timeout)
		defer tm.Stop()
		deadlineC = tm.C
	}
	for {
		if c.deps.cancelled() {
			return nil
		}
		if c.dirty.CompareAndSwap(true, false) {
			c.rebuild()
		}
		// Prefer buffered events over a racing deadline.
		select {
		case ev := <-c.events:
			return c.drainFrom(ev)
		default:
		}
		select {
		case ev := <-c.events:
			return c.drainFrom(ev)
		case <-c.wakeCh:
			// Membership change, group release, or cancellation. Redeliver
			// requeued events now that a group may have opened.
			if batch := c.takeRequeued(); len(batch) > 0 {
				return batch
			}
		case <-deadlineC:
			return nil
		}
	}
}

// drainFrom returns ev plus every event already buffered, preserving
// arrival order.
func (c *eventQueueCollector) drainFrom(ev readyEntity) []readyEntity {
	out := []readyEntity{ev}
	for {
		select {
		case next := <-c.events:
			out = append(out, next)
		default:
			return out
		}
	}
}

func (c *eventQueueCollector) retry(item readyEntity) {
	c.mu.Lock()
	c.requeued = append(c.requeued, item)
	c.mu.Unlock()
}

func (c *eventQueueCollector) invalidate() {
	c.dirty.Store(true)
	c.wake()
}

func (c *eventQueueCollector) detach() {
	c.mu.Lock()
	for w := range c.installed {
		w.ClearOnReadyCallback()
		delete(c.installed, w)
	}
	c.requeued = nil
	c.mu.Unlock()
	c.deps.notify.setOnTrigger(nil)
}

// Dropped reports notifications discarded to a full event queue.
func (c *eventQueueCollector) Dropped() uint64 { return c.dropped.Load() }

// remainingTimeout maps an overall wait budget onto one blocking call.
// Negative budgets block indefinitely.
func remainingTimeout(timeout time.Duration, deadline time.Time) time.Duration {
	if timeout < 0 {
		return -1
	}
	left := time.Until(deadline)
	if left < 0 {
		return 0
	}
	return left
}

// scanReady consumes the wait result against the registered entities.
func scanReady(entities []collectedEntity, res *WaitResult) []readyEntity {
	var ready []readyEntity
	for _, ce := range entities {
		if ce.w.IsReady(res) {
			ready = append(ready, readyEntity{w: ce.w, g: ce.g})
		}
	}
	return ready
}
