package spindle

import (
	"testing"
	"time"
)

func TestWaitSet_TimeoutWithNoSignal(t *testing.T) {
	ws := NewWaitSet()
	ws.AddGuard(NewGuardCondition())

	start := time.Now()
	res := ws.Wait(30 * time.Millisecond)
	if !res.TimedOut() {
		t.Fatal("expected timeout")
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Fatalf("returned too early: %v", elapsed)
	}
}

func TestWaitSet_SignalRacingDeadlineIsNotATimeout(t *testing.T) {
	g := NewGuardCondition()
	ws := NewWaitSet()
	ws.AddGuard(g)

	// Already signaled by the time the zero-timeout wait runs: must report
	// the signal, not the deadline.
	g.Trigger()
	res := ws.Wait(0)
	if res.TimedOut() {
		t.Fatal("pending signal reported as timeout")
	}
	if !res.Signaled(g) {
		t.Fatal("expected signal")
	}
}

func TestWaitSet_MultipleGuardsReportedTogether(t *testing.T) {
	a, b, c := NewGuardCondition(), NewGuardCondition(), NewGuardCondition()
	ws := NewWaitSet()
	ws.AddGuard(a)
	ws.AddGuard(b)
	ws.AddGuard(c)

	a.Trigger()
	c.Trigger()
	res := ws.Wait(0)
	if !res.Signaled(a) || !res.Signaled(c) {
		t.Fatal("expected both triggered guards reported")
	}
	if res.Signaled(b) {
		t.Fatal("untriggered guard reported as signaled")
	}
}

func TestWaitSet_AddGuardIsIdempotent(t *testing.T) {
	g := NewGuardCondition()
	ws := NewWaitSet()
	ws.AddGuard(g)
	ws.AddGuard(g)
	if len(ws.guards) != 1 {
		t.Fatalf("expected 1 registered guard, got %d", len(ws.guards))
	}
}

func TestWaitSet_ClearDetachesGuards(t *testing.T) {
	g := NewGuardCondition()
	ws := NewWaitSet()
	ws.AddGuard(g)
	ws.Clear()

	// Triggers after Clear still latch on the guard, but the wait set no
	// longer observes them.
	g.Trigger()
	if !ws.Wait(0).TimedOut() {
		t.Fatal("cleared wait set must not observe the guard")
	}

	ws.AddGuard(g)
	if !ws.Wait(0).Signaled(g) {
		t.Fatal("re-registered guard must report the latched signal")
	}
}

func TestWaitSet_StaleWakeCostsOneRecheckOnly(t *testing.T) {
	g := NewGuardCondition()
	ws := NewWaitSet()
	ws.AddGuard(g)

	// Consume a signal, leaving a stale coalesced wake behind.
	g.Trigger()
	if !ws.Wait(0).Signaled(g) {
		t.Fatal("expected signal")
	}

	start := time.Now()
	res := ws.Wait(30 * time.Millisecond)
	if !res.TimedOut() {
		t.Fatal("expected timeout after stale wake")
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Fatalf("stale wake terminated the wait early: %v", elapsed)
	}
}
