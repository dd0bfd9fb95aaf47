package spindle

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"
	"weak"
)

// timerData is one arena entry of a timer queue. The queue holds only a
// weak reference to the timer: the first time the owning handle is observed
// gone, the entry is dropped permanently instead of rescheduled, which is
// how application-side timer destruction is detected without a destructor
// hook.
type timerData struct {
	id        uint64
	gen       uint64
	ref       weak.Pointer[Timer]
	readyCB   func()
	scheduled bool
}

// timerHeapEntry keys a scheduled entry by absolute next call time.
type timerHeapEntry struct {
	when time.Time
	d    *timerData
}

// timerHeap is a min-heap of scheduled timer entries.
type timerHeap []timerHeapEntry

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].when.Before(h[j].when) }
func (h timerHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) {
	*h = append(*h, x.(timerHeapEntry))
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// emptyQueueSleep bounds the sleep when nothing is scheduled. Deliberately a
// very large finite duration rather than an "infinite" sentinel, so the
// underlying sleep's deadline arithmetic cannot overflow.
const emptyQueueSleep = 10000 * time.Hour

// TimerQueue schedules the timers of a single clock domain on its own
// goroutine: fire all due callbacks, sleep until the earliest next expiry or
// an add/remove/reset/shutdown wake, repeat.
type TimerQueue struct {
	clock Clock
	ctx   *Context

	mu      sync.Mutex
	nextID  uint64
	arena   map[uint64]*timerData
	running timerHeap

	notify     chan struct{}
	runFlag    atomic.Bool
	terminated atomic.Bool
	done       chan struct{}
}

// newTimerQueue starts the queue's scheduling goroutine.
func newTimerQueue(ctx *Context, clock Clock) *TimerQueue {
	q := &TimerQueue{
		clock:  clock,
		ctx:    ctx,
		arena:  make(map[uint64]*timerData),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	q.runFlag.Store(true)
	ctx.OnShutdown(q.wake)
	go q.run()
	return q
}

// Clock returns the queue's clock.
func (q *TimerQueue) Clock() Clock { return q.clock }

// AddTimer schedules a timer with this queue. Timers of a different clock
// domain are rejected silently (they belong to another queue). ready is
// invoked by the queue goroutine each time the timer becomes due, after the
// timer's epoch has been advanced.
func (q *TimerQueue) AddTimer(t *Timer, ready func()) {
	if t == nil || t.ClockType() != q.clock.Type() {
		return
	}
	q.mu.Lock()
	for _, d := range q.arena {
		if d.ref.Value() == t {
			q.mu.Unlock()
			return
		}
	}
	q.nextID++
	d := &timerData{id: q.nextID, gen: 1, ref: weak.Make(t), readyCB: ready}
	q.arena[d.id] = d
	q.scheduleLocked(d)
	q.mu.Unlock()
	t.setOnReset(q.resetHandle(d.id, d.gen))
	q.wake()
}

// RemoveTimer drops a timer from both the arena and the schedule, and wakes
// the queue goroutine so a stale wake time is not slept on needlessly.
func (q *TimerQueue) RemoveTimer(t *Timer) {
	if t == nil || t.ClockType() != q.clock.Type() {
		return
	}
	t.clearOnReset()
	q.mu.Lock()
	for _, d := range q.arena {
		if d.ref.Value() == t {
			q.dropLocked(d)
			break
		}
	}
	q.mu.Unlock()
	q.wake()
}

// resetHandle returns the timer's on-reset hook. It carries a stable
// (id, generation) handle into the arena and validates it under the queue
// lock before touching the entry; the entry may have been erased while the
// external timer handle persists.
func (q *TimerQueue) resetHandle(id, gen uint64) func() {
	return func() {
		q.mu.Lock()
		d := q.arena[id]
		if d == nil || d.gen != gen {
			q.mu.Unlock()
			return
		}
		q.scheduleLocked(d)
		q.mu.Unlock()
		q.wake()
	}
}

// scheduleLocked (re)inserts an entry at the timer's next call time,
// dropping it permanently if the owning handle is gone and leaving it
// unscheduled (but resettable) if the timer is canceled.
func (q *TimerQueue) scheduleLocked(d *timerData) {
	t := d.ref.Value()
	if t == nil {
		q.dropLocked(d)
		return
	}
	if d.scheduled {
		q.unscheduleLocked(d)
	}
	if _, err := t.TimeUntilNextCall(); err != nil {
		return
	}
	heap.Push(&q.running, timerHeapEntry{when: t.NextCallTime(), d: d})
	d.scheduled = true
}

func (q *TimerQueue) unscheduleLocked(d *timerData) {
	for i := range q.running {
		if q.running[i].d == d {
			heap.Remove(&q.running, i)
			break
		}
	}
	d.scheduled = false
}

func (q *TimerQueue) dropLocked(d *timerData) {
	if d.scheduled {
		q.unscheduleLocked(d)
	}
	delete(q.arena, d.id)
}

// callReadyLocked pops the earliest entry while it is due: advance the
// timer's epoch, invoke the ready callback, reinsert at the fresh next
// expiry. Entries whose timer was canceled mid-flight leave the schedule;
// entries whose owner is gone leave the arena too.
func (q *TimerQueue) callReadyLocked() {
	for len(q.running) > 0 {
		d := q.running[0].d
		t := d.ref.Value()
		if t == nil {
			heap.Pop(&q.running)
			d.scheduled = false
			delete(q.arena, d.id)
			continue
		}
		until, err := t.TimeUntilNextCall()
		if err != nil {
			heap.Pop(&q.running)
			d.scheduled = false
			continue
		}
		if until > 0 {
			break
		}
		if err := t.Call(); err != nil {
			heap.Pop(&q.running)
			d.scheduled = false
			continue
		}
		heap.Pop(&q.running)
		d.scheduled = false
		d.readyCB()
		if t2 := d.ref.Value(); t2 != nil {
			if _, err := t2.TimeUntilNextCall(); err == nil {
				heap.Push(&q.running, timerHeapEntry{when: t2.NextCallTime(), d: d})
				d.scheduled = true
			}
		} else {
			delete(q.arena, d.id)
		}
	}
}

// nextWakeTimeLocked returns the earliest scheduled expiry, or a very large
// finite deadline when the schedule is empty.
func (q *TimerQueue) nextWakeTimeLocked() time.Time {
	if len(q.running) == 0 {
		return q.clock.Now().Add(emptyQueueSleep)
	}
	return q.running[0].when
}

func (q *TimerQueue) run() {
	for q.runFlag.Load() && q.ctx.OK() {
		q.mu.Lock()
		q.callReadyLocked()
		next := q.nextWakeTimeLocked()
		q.mu.Unlock()
		if err := q.clock.WaitUntil(next, q.notify); err != nil {
			// Shutdown can invalidate the clock mid-sleep; terminate the
			// loop locally instead of propagating.
			break
		}
	}
	q.terminated.Store(true)
	close(q.done)
}

// wake publishes a coalesced wake to the queue goroutine.
func (q *TimerQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Stop terminates the queue goroutine and joins it. A single notify can
// race the predicate check inside the sleep, so the wake is repeated until
// the goroutine confirms termination.
func (q *TimerQueue) Stop() {
	q.runFlag.Store(false)
	for !q.terminated.Load() {
		q.wake()
		time.Sleep(time.Millisecond)
	}
	<-q.done
}

// TimerManager fans timer registration out to one TimerQueue per clock
// domain; each queue self-filters by clock match.
type TimerManager struct {
	logical *LogicalClock
	queues  []*TimerQueue
}

// NewTimerManager starts one queue per clock domain. A nil ctx uses the
// process default context; shutting the context down invalidates the
// logical clock and terminates all queues.
func NewTimerManager(ctx *Context) *TimerManager {
	if ctx == nil {
		ctx = DefaultContext()
	}
	logical := NewLogicalClock()
	ctx.OnShutdown(logical.Invalidate)
	return &TimerManager{
		logical: logical,
		queues: []*TimerQueue{
			newTimerQueue(ctx, logical),
			newTimerQueue(ctx, NewSystemClock()),
			newTimerQueue(ctx, NewSteadyClock()),
		},
	}
}

// LogicalClock returns the manager's manually advanced clock.
func (m *TimerManager) LogicalClock() *LogicalClock { return m.logical }

// Clock returns the manager's clock for the given domain, or nil.
func (m *TimerManager) Clock(typ ClockType) Clock {
	for _, q := range m.queues {
		if q.clock.Type() == typ {
			return q.clock
		}
	}
	return nil
}

// AddTimer offers the timer to every queue; the one whose clock domain
// matches schedules it.
func (m *TimerManager) AddTimer(t *Timer, ready func()) {
	for _, q := range m.queues {
		q.AddTimer(t, ready)
	}
}

// RemoveTimer removes the timer from whichever queue holds it.
func (m *TimerManager) RemoveTimer(t *Timer) {
	for _, q := range m.queues {
		q.RemoveTimer(t)
	}
}

// Stop terminates and joins every queue goroutine.
func (m *TimerManager) Stop() {
	for _, q := range m.queues {
		q.Stop()
	}
}
