package spindle

import (
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/petermattis/goid"
)

var executorIDCounter atomic.Uint64

// Executor drives the readiness/dispatch cycle: collect ready entities from
// the registered nodes and callback groups, then execute their callbacks
// subject to group mutual exclusion. At most one spin call may be in
// progress at a time; concurrent and reentrant attempts fail with
// ErrAlreadySpinning.
//
// The executor holds only weak references to nodes and groups. Entity
// lifetime belongs to the application; an entity that becomes unreachable
// simply stops being collected.
type Executor struct {
	id     uint64
	ctx    *Context
	logger Logger

	state     *spinState
	cancelled atomic.Bool
	closing   atomic.Bool
	// waitAbort is an optional extra unwind predicate for the active spin
	// call (e.g. "the awaited future settled"). Collectors observe it
	// through spinInterrupted.
	waitAbort atomic.Pointer[func() bool]
	// spinGID is the goroutine id of the active spin call, 0 when idle.
	// Distinguishes a reentrant spin attempt (from inside a callback) from
	// an ordinary concurrent one in diagnostics.
	spinGID atomic.Int64

	// notify interrupts a blocked collect: membership changes, mutually
	// exclusive group releases, cancellation and context shutdown all
	// trigger it.
	notify   *GuardCondition
	col      collector
	strategy CollectionStrategy
	workers  int

	timers     *TimerManager
	ownsTimers bool

	regMu            sync.Mutex
	nodes            []weak.Pointer[Node]
	groups           []weak.Pointer[CallbackGroup]
	registeredTimers map[uint64]weak.Pointer[Timer]
	closed           bool
}

// NewExecutor returns an executor configured by the given options.
func NewExecutor(opts ...ExecutorOption) (*Executor, error) {
	cfg, err := resolveExecutorOptions(opts)
	if err != nil {
		return nil, err
	}
	e := &Executor{
		id:               executorIDCounter.Add(1),
		ctx:              cfg.ctx,
		logger:           cfg.logger,
		state:            newSpinState(),
		notify:           NewGuardCondition(),
		strategy:         cfg.collection,
		workers:          cfg.workers,
		timers:           cfg.timers,
		registeredTimers: make(map[uint64]weak.Pointer[Timer]),
	}
	if e.timers == nil {
		e.timers = NewTimerManager(cfg.ctx)
		e.ownsTimers = true
	}
	deps := collectorDeps{
		snapshot:  e.snapshot,
		notify:    e.notify,
		cancelled: e.spinInterrupted,
	}
	switch cfg.collection {
	case CollectionStaticReuse:
		e.col = newStaticCollector(deps)
	case CollectionEventQueue:
		e.col = newEventQueueCollector(deps)
	default:
		e.col = newRescanCollector(deps)
	}
	cfg.ctx.OnShutdown(e.notify.Trigger)
	return e, nil
}

// ID returns the executor's unique id.
func (e *Executor) ID() uint64 { return e.id }

// Context returns the executor's shutdown context.
func (e *Executor) Context() *Context { return e.ctx }

// Strategy returns the executor's collection strategy.
func (e *Executor) Strategy() CollectionStrategy { return e.strategy }

// TimerManager returns the timer manager timers registered through the
// executor's nodes are scheduled by.
func (e *Executor) TimerManager() *TimerManager { return e.timers }

// State returns the executor's spin state.
func (e *Executor) State() ExecutorState { return e.state.Load() }

// IsSpinning reports whether a spin call is in progress.
func (e *Executor) IsSpinning() bool { return e.state.Load() == StateSpinning }

// AddNode registers a node (all of its callback groups and their waitables)
// with the executor and wakes any in-progress spin so the node participates
// immediately. Fails with ErrAlreadyAssociated if the node already belongs
// to an executor.
func (e *Executor) AddNode(n *Node) error {
	e.regMu.Lock()
	if e.closed {
		e.regMu.Unlock()
		return ErrShutdown
	}
	if err := n.associate(); err != nil {
		e.regMu.Unlock()
		return err
	}
	e.nodes = append(e.nodes, weak.Make(n))
	e.regMu.Unlock()
	n.setChangeHook(e.membershipChanged)
	e.syncTimers()
	e.col.invalidate()
	e.notify.Trigger()
	e.debugLog("registry").Str("node", n.Name()).Log("node added")
	return nil
}

// RemoveNode deregisters a node, making it addable to another executor.
func (e *Executor) RemoveNode(n *Node) {
	n.setChangeHook(nil)
	e.regMu.Lock()
	for i, ref := range e.nodes {
		if ref.Value() == n {
			e.nodes = append(e.nodes[:i], e.nodes[i+1:]...)
			break
		}
	}
	for _, g := range n.callbackGroups() {
		g.disassociate(e)
	}
	e.regMu.Unlock()
	n.disassociate()
	e.syncTimers()
	e.col.invalidate()
	e.notify.Trigger()
	e.debugLog("registry").Str("node", n.Name()).Log("node removed")
}

// AddCallbackGroup registers a standalone callback group. Fails with
// ErrAlreadyAssociated if the group already belongs to a live executor.
func (e *Executor) AddCallbackGroup(g *CallbackGroup) error {
	e.regMu.Lock()
	if e.closed {
		e.regMu.Unlock()
		return ErrShutdown
	}
	if err := g.associateWith(e); err != nil {
		e.regMu.Unlock()
		return err
	}
	e.groups = append(e.groups, weak.Make(g))
	e.regMu.Unlock()
	e.col.invalidate()
	e.notify.Trigger()
	return nil
}

// RemoveCallbackGroup deregisters a standalone callback group.
func (e *Executor) RemoveCallbackGroup(g *CallbackGroup) {
	e.regMu.Lock()
	for i, ref := range e.groups {
		if ref.Value() == g {
			e.groups = append(e.groups[:i], e.groups[i+1:]...)
			break
		}
	}
	e.regMu.Unlock()
	g.disassociate(e)
	e.col.invalidate()
	e.notify.Trigger()
}

// membershipChanged is the node-side hook for waitable/group/timer churn.
// The registry mutation has already happened by the time it runs, so the
// wake can never outrun the change it reports.
func (e *Executor) membershipChanged() {
	e.syncTimers()
	e.col.invalidate()
	e.notify.Trigger()
}

// snapshot returns the current dispatchable entities, in group order.
// Node-owned groups created after AddNode are claimed here; groups owned by
// a different executor are skipped rather than collected twice.
func (e *Executor) snapshot() []collectedEntity {
	e.regMu.Lock()
	defer e.regMu.Unlock()
	var out []collectedEntity
	e.nodes = compactWeak(e.nodes)
	for _, ref := range e.nodes {
		n := ref.Value()
		if n == nil {
			continue
		}
		for _, g := range n.callbackGroups() {
			if owner := g.associated.Load(); owner == nil {
				if g.associateWith(e) != nil {
					continue
				}
			} else if owner != e {
				continue
			}
			out = g.collectInto(out)
		}
	}
	e.groups = compactWeak(e.groups)
	for _, ref := range e.groups {
		g := ref.Value()
		if g == nil {
			continue
		}
		out = g.collectInto(out)
	}
	return out
}

// compactWeak drops dead weak pointers in place.
func compactWeak[T any](refs []weak.Pointer[T]) []weak.Pointer[T] {
	live := refs[:0]
	for _, ref := range refs {
		if ref.Value() != nil {
			live = append(live, ref)
		}
	}
	return live
}

// syncTimers reconciles the timer manager against the timers currently
// registered through the executor's nodes. The ready callback captures the
// timer weakly so the schedule does not keep it alive.
func (e *Executor) syncTimers() {
	e.regMu.Lock()
	defer e.regMu.Unlock()
	desired := make(map[uint64]*Timer)
	for _, ref := range e.nodes {
		n := ref.Value()
		if n == nil {
			continue
		}
		for _, t := range n.timersSnapshot() {
			desired[t.ID()] = t
		}
	}
	for id, ref := range e.registeredTimers {
		if _, ok := desired[id]; ok {
			continue
		}
		if t := ref.Value(); t != nil {
			e.timers.RemoveTimer(t)
		}
		delete(e.registeredTimers, id)
	}
	for id, t := range desired {
		if _, ok := e.registeredTimers[id]; ok {
			continue
		}
		e.registeredTimers[id] = weak.Make(t)
		tref := weak.Make(t)
		e.timers.AddTimer(t, func() {
			if t := tref.Value(); t != nil {
				t.Trigger()
			}
		})
	}
}

// spinInterrupted reports whether the active spin should unwind.
func (e *Executor) spinInterrupted() bool {
	if e.cancelled.Load() || e.closing.Load() || !e.ctx.OK() {
		return true
	}
	if p := e.waitAbort.Load(); p != nil {
		return (*p)()
	}
	return false
}

// startSpin claims the spin slot, resetting a transient Cancelled state
// first.
func (e *Executor) startSpin() error {
	e.state.TryTransition(StateCancelled, StateIdle)
	if !e.state.TryTransition(StateIdle, StateSpinning) {
		if e.spinGID.Load() == goid.Get() {
			e.debugLog("spin").Log("reentrant spin call rejected")
			return ErrReentrantSpin
		}
		return ErrAlreadySpinning
	}
	e.spinGID.Store(goid.Get())
	e.cancelled.Store(false)
	if e.closing.Load() || !e.ctx.OK() {
		e.spinGID.Store(0)
		e.state.Store(StateIdle)
		return ErrShutdown
	}
	return nil
}

// endSpin releases the spin slot. A spin ended by Cancel leaves the
// transient Cancelled state behind for the next spin call to reset.
func (e *Executor) endSpin() {
	e.spinGID.Store(0)
	if e.cancelled.Load() {
		e.state.Store(StateCancelled)
	} else {
		e.state.Store(StateIdle)
	}
}

// Cancel interrupts the in-progress spin call, if any. The spin unwinds
// after the in-flight callback (if one is executing) returns. Idempotent;
// safe from any goroutine including callbacks.
func (e *Executor) Cancel() {
	e.cancelled.Store(true)
	e.notify.Trigger()
	e.debugLog("spin").Log("cancel requested")
}

// Spin blocks, collecting and dispatching ready entities until Cancel is
// called or the context shuts down. With no registered work it blocks
// without consuming CPU.
func (e *Executor) Spin() error {
	if err := e.startSpin(); err != nil {
		return err
	}
	defer e.endSpin()
	for !e.spinInterrupted() {
		batch := e.col.wait(-1)
		if len(batch) == 0 {
			continue
		}
		e.dispatch(batch)
	}
	return nil
}

// SpinOnce waits up to timeout for readiness and dispatches at most one
// entity. Remaining readiness from the same collect is re-latched for the
// next cycle, not lost. A negative timeout blocks indefinitely.
func (e *Executor) SpinOnce(timeout time.Duration) error {
	if err := e.startSpin(); err != nil {
		return err
	}
	defer e.endSpin()
	batch := e.col.wait(timeout)
	if len(batch) == 0 {
		return nil
	}
	for _, item := range batch[1:] {
		e.col.retry(item)
	}
	e.dispatchOne(batch[0])
	e.notify.Trigger()
	return nil
}

// SpinSome waits up to timeout for readiness, then dispatches everything
// ready at that instant and returns. Work becoming ready during dispatch is
// left for the next call.
func (e *Executor) SpinSome(timeout time.Duration) error {
	if err := e.startSpin(); err != nil {
		return err
	}
	defer e.endSpin()
	if batch := e.col.wait(timeout); len(batch) > 0 {
		e.dispatch(batch)
	}
	return nil
}

// SpinAll repeatedly collects without blocking and dispatches until no
// entity is ready or the timeout budget is exhausted, whichever is first. A
// non-positive timeout performs a single exhaustive drain with no budget.
func (e *Executor) SpinAll(timeout time.Duration) error {
	if err := e.startSpin(); err != nil {
		return err
	}
	defer e.endSpin()
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for !e.spinInterrupted() {
		batch := e.col.wait(0)
		if len(batch) == 0 {
			return nil
		}
		e.dispatch(batch)
		if timeout > 0 && !time.Now().Before(deadline) {
			return nil
		}
	}
	return nil
}

// SpinUntilFutureComplete spins until the future settles, the timeout
// budget is exhausted, or the spin is interrupted by Cancel or context
// shutdown. Timeout and interruption are outcomes, not errors; the error
// return covers spin preconditions only. A negative timeout means no
// budget. The future is checked before any blocking, so an already-settled
// future returns FutureSuccess without waiting.
func (e *Executor) SpinUntilFutureComplete(f *Future, timeout time.Duration) (FutureCode, error) {
	if err := e.startSpin(); err != nil {
		return FutureInterrupted, err
	}
	defer e.endSpin()
	unhook := f.onDone(e.notify.Trigger)
	defer unhook()
	abort := f.IsDone
	e.waitAbort.Store(&abort)
	defer e.waitAbort.Store(nil)
	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		if f.IsDone() {
			return FutureSuccess, nil
		}
		if e.spinInterrupted() {
			return FutureInterrupted, nil
		}
		if timeout >= 0 && !time.Now().Before(deadline) {
			return FutureTimeout, nil
		}
		batch := e.col.wait(remainingTimeout(timeout, deadline))
		if len(batch) > 0 {
			e.dispatch(batch)
		}
	}
}

// dispatch executes a collected batch, in order for a single worker, with
// bounded concurrency otherwise.
func (e *Executor) dispatch(batch []readyEntity) {
	if e.workers <= 1 || len(batch) == 1 {
		for _, item := range batch {
			e.dispatchOne(item)
		}
		return
	}
	sem := make(chan struct{}, e.workers)
	var wg sync.WaitGroup
	var panicOnce sync.Once
	var panicked any
	for _, item := range batch {
		sem <- struct{}{}
		wg.Add(1)
		go func(item readyEntity) {
			defer func() {
				if r := recover(); r != nil {
					panicOnce.Do(func() { panicked = r })
				}
				<-sem
				wg.Done()
			}()
			e.dispatchOne(item)
		}(item)
	}
	wg.Wait()
	// Callback panics propagate on the spinning goroutine, matching the
	// single-worker behaviour.
	if panicked != nil {
		panic(panicked)
	}
}

// dispatchOne executes a single ready entity: acquire its group's gate,
// take, execute, release. A busy mutually exclusive group returns the
// entity to the collector so its readiness survives to the next cycle.
func (e *Executor) dispatchOne(item readyEntity) {
	if !item.g.acquire() {
		e.col.retry(item)
		return
	}
	var data Data
	var err error
	if item.viaEvent {
		data, err = item.w.TakeDataByID(item.id)
	} else {
		data, err = item.w.TakeData()
	}
	if err != nil {
		item.g.release()
		e.errLog("dispatch", err).Log("take failed")
		return
	}
	item.w.Execute(data)
	item.g.release()
	if item.g.Mode() == GroupMutuallyExclusive {
		// The release may unblock readiness that was skipped while the
		// group was held.
		e.notify.Trigger()
	}
}

// Close cancels any active spin call, waits for it to unwind, releases
// every registered node and group, detaches the collector, and stops the
// timer manager if the executor owns it. Idempotent. Must not be called
// from a callback dispatched by this executor.
func (e *Executor) Close() error {
	e.regMu.Lock()
	if e.closed {
		e.regMu.Unlock()
		return nil
	}
	e.closed = true
	nodes := e.nodes
	groups := e.groups
	timers := e.registeredTimers
	e.nodes = nil
	e.groups = nil
	e.registeredTimers = make(map[uint64]weak.Pointer[Timer])
	e.regMu.Unlock()
	e.closing.Store(true)
	e.Cancel()
	// The collector's wait set is owned by the spinning goroutine; wait for
	// the active spin call (if any) to unwind before tearing registration
	// down. A single wake can race the unwind check, so it is repeated.
	for e.state.Load() == StateSpinning {
		e.notify.Trigger()
		time.Sleep(time.Millisecond)
	}
	for _, ref := range nodes {
		if n := ref.Value(); n != nil {
			n.setChangeHook(nil)
			for _, g := range n.callbackGroups() {
				g.disassociate(e)
			}
			n.disassociate()
		}
	}
	for _, ref := range groups {
		if g := ref.Value(); g != nil {
			g.disassociate(e)
		}
	}
	for _, ref := range timers {
		if t := ref.Value(); t != nil {
			e.timers.RemoveTimer(t)
		}
	}
	e.col.detach()
	if e.ownsTimers {
		e.timers.Stop()
	}
	e.debugLog("lifecycle").Log("executor closed")
	return nil
}
