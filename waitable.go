package spindle

import "sync"

// Data is the opaque unit of pending readiness consumed by TakeData and
// passed to Execute.
type Data any

// ReadyCallback receives push-style readiness notifications on the
// event-queue fast path. count is the number of coalesced triggers; id
// identifies the sub-entity within the waitable (zero for single-entity
// waitables).
type ReadyCallback func(count uint64, id int)

// Waitable is the capability contract implemented by every schedulable
// entity: timers, subscriptions, services, guard conditions and user-defined
// entities.
//
// The polled cycle is AddToWaitSet → (blocking wait) → IsReady → TakeData →
// Execute. Calling TakeData without an immediately preceding IsReady report
// of true in the same cycle is a programming error and fails with
// ErrInvariantViolation rather than silently returning stale data.
type Waitable interface {
	// AddToWaitSet registers whatever guard handles the entity needs into
	// the shared wait set. Side-effect only; idempotent per cycle.
	AddToWaitSet(ws *WaitSet)

	// IsReady queries the result of the last blocking wait. It must be
	// called before TakeData in the same cycle.
	IsReady(res *WaitResult) bool

	// TakeData consumes one unit of pending readiness.
	TakeData() (Data, error)

	// TakeDataByID consumes one unit of pending readiness for the given
	// sub-entity id. Used by the event-queue strategy, where the queued
	// notification itself is the readiness proof.
	TakeDataByID(id int) (Data, error)

	// Execute runs the entity's callback with the taken data. It may block
	// for an arbitrary application-defined duration; the engine places no
	// timeout on it and does not recover panics raised by it.
	Execute(data Data)

	// SetOnReadyCallback installs the push-notification fast path.
	SetOnReadyCallback(cb ReadyCallback)

	// ClearOnReadyCallback removes a previously installed callback.
	ClearOnReadyCallback()

	// ReadyGuardConditionCount reports how many guard-condition handles this
	// entity contributes to the wait set.
	ReadyGuardConditionCount() int
}

// rearmable is implemented by waitables whose consumed-but-unserviced
// readiness can be re-latched for the next cycle. The dispatcher uses it
// when a ready entity's group turns out to be busy.
type rearmable interface {
	rearmReady()
}

// groupMember is implemented by waitables that record the group they join.
// The member→group→node back-references keep an entity's registration
// reachable for as long as the application holds the entity itself.
type groupMember interface {
	attachGroup(g *CallbackGroup)
	detachGroup(g *CallbackGroup)
}

// GuardWaitable is the embeddable base for guard-condition-driven waitables.
// It owns one guard condition, counts unprocessed triggers, and implements
// the defensive take-before-ready check. Concrete types embed it and
// override TakeData/Execute as needed.
type GuardWaitable struct {
	gc *GuardCondition

	mu sync.Mutex
	// pending counts triggers not yet consumed by TakeData.
	pending uint64
	// readyProven records that IsReady observed a signal since the last
	// take, which is the precondition TakeData enforces.
	readyProven bool
	// owner is the group the waitable currently belongs to, nil outside any
	// group. Strong, so the owning registration stays reachable while the
	// application holds the waitable.
	owner *CallbackGroup
}

// NewGuardWaitable returns a base waitable backed by a fresh guard
// condition.
func NewGuardWaitable() *GuardWaitable {
	return &GuardWaitable{gc: NewGuardCondition()}
}

// Guard exposes the underlying guard condition.
func (w *GuardWaitable) Guard() *GuardCondition { return w.gc }

// Trigger records one unit of pending readiness and signals the guard
// condition.
func (w *GuardWaitable) Trigger() {
	w.mu.Lock()
	w.pending++
	w.mu.Unlock()
	w.gc.Trigger()
}

// PendingTriggers reports the number of triggers not yet consumed by a take.
func (w *GuardWaitable) PendingTriggers() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending
}

// AddToWaitSet registers the guard condition. If triggers are still pending
// from an earlier cycle whose signal was consumed without being serviced,
// the guard is re-latched so the coming wait observes them.
func (w *GuardWaitable) AddToWaitSet(ws *WaitSet) {
	ws.AddGuard(w.gc)
	w.mu.Lock()
	pending := w.pending
	w.mu.Unlock()
	if pending > 0 {
		w.gc.rearm()
	}
}

// IsReady reports whether the guard condition was signaled in the last wait,
// recording the proof TakeData requires.
func (w *GuardWaitable) IsReady(res *WaitResult) bool {
	if !res.Signaled(w.gc) {
		return false
	}
	w.mu.Lock()
	w.readyProven = true
	w.mu.Unlock()
	return true
}

// TakeData consumes one pending trigger. It fails with
// ErrInvariantViolation unless IsReady reported true since the last take.
// Residual triggers re-latch the guard, so a reused registration observes a
// coalesced backlog without a fresh AddToWaitSet pass.
func (w *GuardWaitable) TakeData() (Data, error) {
	w.mu.Lock()
	if !w.readyProven {
		w.mu.Unlock()
		return nil, ErrInvariantViolation
	}
	w.readyProven = false
	if w.pending > 0 {
		w.pending--
	}
	residual := w.pending
	w.mu.Unlock()
	if residual > 0 {
		w.gc.rearm()
	}
	return nil, nil
}

// TakeDataByID consumes one pending trigger on the event-queue path, where
// the queued notification stands in for the polled readiness proof.
func (w *GuardWaitable) TakeDataByID(int) (Data, error) {
	w.mu.Lock()
	w.readyProven = false
	if w.pending > 0 {
		w.pending--
	}
	residual := w.pending
	w.mu.Unlock()
	if residual > 0 {
		w.gc.rearm()
	}
	return nil, nil
}

// Execute is a no-op on the base type.
func (w *GuardWaitable) Execute(Data) {}

// SetOnReadyCallback installs the push fast path on the guard condition.
// Accumulated unprocessed triggers are flushed to the callback immediately.
func (w *GuardWaitable) SetOnReadyCallback(cb ReadyCallback) {
	if cb == nil {
		w.gc.setOnTrigger(nil)
		return
	}
	w.gc.setOnTrigger(func(count uint64) { cb(count, 0) })
}

// ClearOnReadyCallback removes the push fast path.
func (w *GuardWaitable) ClearOnReadyCallback() {
	w.gc.setOnTrigger(nil)
}

// ReadyGuardConditionCount reports the single underlying guard condition.
func (w *GuardWaitable) ReadyGuardConditionCount() int { return 1 }

// rearmReady re-latches consumed readiness for the next cycle.
func (w *GuardWaitable) rearmReady() { w.gc.rearm() }

func (w *GuardWaitable) attachGroup(g *CallbackGroup) {
	w.mu.Lock()
	w.owner = g
	w.mu.Unlock()
}

func (w *GuardWaitable) detachGroup(g *CallbackGroup) {
	w.mu.Lock()
	if w.owner == g {
		w.owner = nil
	}
	w.mu.Unlock()
}
