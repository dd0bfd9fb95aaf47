package spindle

import (
	"sync"
	"time"
)

// ClockType identifies a clock domain. Timers are scheduled exclusively by
// the queue whose clock domain matches theirs.
type ClockType uint8

const (
	// ClockLogical is an externally driven (e.g. simulated) time source.
	ClockLogical ClockType = iota + 1
	// ClockSystem is wall-clock time.
	ClockSystem
	// ClockSteady is monotonic time.
	ClockSteady
)

// String returns a human-readable representation of the clock type.
func (t ClockType) String() string {
	switch t {
	case ClockLogical:
		return "Logical"
	case ClockSystem:
		return "System"
	case ClockSteady:
		return "Steady"
	default:
		return "Unknown"
	}
}

// Clock is the time source a timer queue schedules against. The engine never
// reads wall-clock time directly for timer decisions, only through a Clock,
// so logical/simulated domains are supported transparently.
type Clock interface {
	Type() ClockType

	// Now returns the clock's current time.
	Now() time.Time

	// WaitUntil blocks until the clock reaches t, a value is received on
	// wake, or the clock becomes invalid (ErrClockInvalid). Returning early
	// on a wake is not an error; callers re-derive their deadline.
	WaitUntil(t time.Time, wake <-chan struct{}) error
}

// wallClock backs both the system and steady domains. Go's time package
// reads the monotonic clock for sleeps either way; the two domains exist so
// timers can be partitioned the way the engine's callers expect.
type wallClock struct {
	typ ClockType
}

// NewSystemClock returns a wall-time clock.
func NewSystemClock() Clock { return &wallClock{typ: ClockSystem} }

// NewSteadyClock returns a monotonic clock.
func NewSteadyClock() Clock { return &wallClock{typ: ClockSteady} }

func (c *wallClock) Type() ClockType { return c.typ }

func (c *wallClock) Now() time.Time { return time.Now() }

func (c *wallClock) WaitUntil(t time.Time, wake <-chan struct{}) error {
	d := time.Until(t)
	if d <= 0 {
		return nil
	}
	tm := time.NewTimer(d)
	defer tm.Stop()
	select {
	case <-tm.C:
	case <-wake:
	}
	return nil
}

// LogicalClock is a manually advanced clock. It starts at the zero time and
// only moves when SetNow is called. Invalidate releases all waiters with
// ErrClockInvalid; a timer queue sleeping on an invalidated clock terminates
// its loop rather than propagating the error.
type LogicalClock struct {
	mu      sync.Mutex
	now     time.Time
	invalid bool
	// advCh is closed and replaced on every advance or invalidation,
	// broadcasting to all waiters.
	advCh chan struct{}
}

// NewLogicalClock returns a logical clock at the zero time.
func NewLogicalClock() *LogicalClock {
	return &LogicalClock{advCh: make(chan struct{})}
}

// Type returns ClockLogical.
func (c *LogicalClock) Type() ClockType { return ClockLogical }

// Now returns the current logical time.
func (c *LogicalClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// SetNow advances the clock. Moving backwards is permitted; waiters simply
// keep waiting.
func (c *LogicalClock) SetNow(t time.Time) {
	c.mu.Lock()
	c.now = t
	close(c.advCh)
	c.advCh = make(chan struct{})
	c.mu.Unlock()
}

// Invalidate marks the clock unusable and releases all waiters.
func (c *LogicalClock) Invalidate() {
	c.mu.Lock()
	if !c.invalid {
		c.invalid = true
		close(c.advCh)
		c.advCh = make(chan struct{})
	}
	c.mu.Unlock()
}

// WaitUntil blocks until the logical time reaches t, a wake arrives, or the
// clock is invalidated.
func (c *LogicalClock) WaitUntil(t time.Time, wake <-chan struct{}) error {
	for {
		c.mu.Lock()
		if c.invalid {
			c.mu.Unlock()
			return ErrClockInvalid
		}
		if !c.now.Before(t) {
			c.mu.Unlock()
			return nil
		}
		adv := c.advCh
		c.mu.Unlock()
		select {
		case <-adv:
		case <-wake:
			return nil
		}
	}
}
