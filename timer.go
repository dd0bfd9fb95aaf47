package spindle

import (
	"sync"
	"sync/atomic"
	"time"
)

var timerIDCounter atomic.Uint64

// Timer is a periodic timer bound to a clock domain. It doubles as the
// timer primitive a [TimerQueue] schedules against (Call /
// TimeUntilNextCall / NextCallTime) and as the [Waitable] an [Executor]
// dispatches when the queue reports it due.
//
// The queue advances the timer's epoch and signals readiness; the executor
// then consumes that readiness and runs the user callback. The engine never
// reads wall-clock time for timer decisions except through the timer's
// clock.
type Timer struct {
	*GuardWaitable
	id       uint64
	clock    Clock
	callback func()

	mu       sync.Mutex
	period   time.Duration
	nextCall time.Time
	canceled bool
	onReset  func()
}

// NewTimer returns a periodic timer on the given clock. The first expiry is
// one period after creation. The callback runs on the dispatching executor
// goroutine.
func NewTimer(clock Clock, period time.Duration, callback func()) *Timer {
	return &Timer{
		GuardWaitable: NewGuardWaitable(),
		id:            timerIDCounter.Add(1),
		clock:         clock,
		callback:      callback,
		period:        period,
		nextCall:      clock.Now().Add(period),
	}
}

// ID returns the timer's unique id.
func (t *Timer) ID() uint64 { return t.id }

// Clock returns the timer's clock.
func (t *Timer) Clock() Clock { return t.clock }

// ClockType returns the timer's clock domain.
func (t *Timer) ClockType() ClockType { return t.clock.Type() }

// Period returns the timer's period.
func (t *Timer) Period() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.period
}

// Call advances the timer's epoch to the next expiry, reporting
// ErrTimerCanceled if the timer is canceled. Expiries missed while the
// callback lagged are skipped rather than replayed.
func (t *Timer) Call() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.canceled {
		return ErrTimerCanceled
	}
	now := t.clock.Now()
	t.nextCall = t.nextCall.Add(t.period)
	if !t.nextCall.After(now) {
		t.nextCall = now.Add(t.period)
	}
	return nil
}

// TimeUntilNextCall returns the duration until the next expiry (negative if
// overdue), or ErrTimerCanceled.
func (t *Timer) TimeUntilNextCall() (time.Duration, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.canceled {
		return 0, ErrTimerCanceled
	}
	return t.nextCall.Sub(t.clock.Now()), nil
}

// NextCallTime returns the absolute time of the next expiry.
func (t *Timer) NextCallTime() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nextCall
}

// Cancel stops further expiries until Reset.
func (t *Timer) Cancel() {
	t.mu.Lock()
	t.canceled = true
	t.mu.Unlock()
}

// IsCanceled reports whether the timer is canceled.
func (t *Timer) IsCanceled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.canceled
}

// Reset un-cancels the timer, restarts its period from now, and notifies
// the scheduling queue, if any.
func (t *Timer) Reset() {
	t.mu.Lock()
	t.canceled = false
	t.nextCall = t.clock.Now().Add(t.period)
	cb := t.onReset
	t.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// setOnReset installs the queue's reset notification. The hook carries a
// validated (id, generation) handle rather than a pointer into the queue's
// schedule.
func (t *Timer) setOnReset(cb func()) {
	t.mu.Lock()
	t.onReset = cb
	t.mu.Unlock()
}

func (t *Timer) clearOnReset() {
	t.mu.Lock()
	t.onReset = nil
	t.mu.Unlock()
}

// Execute runs the timer's callback.
func (t *Timer) Execute(Data) {
	t.callback()
}
