package spindle

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSpinOnce_DispatchesAtMostOne(t *testing.T) {
	e, ctx := newTestExecutor(t)
	n := NewNode(ctx, "node")
	if err := e.AddNode(n); err != nil {
		t.Fatalf("AddNode failed: %v", err)
	}

	var got atomic.Int64
	for i := 0; i < 3; i++ {
		sub := NewSubscription("topic", 4, func(Data) { got.Add(1) })
		n.AddWaitable(sub, nil)
		sub.Deliver(i)
	}

	if err := e.SpinOnce(time.Second); err != nil {
		t.Fatalf("SpinOnce failed: %v", err)
	}
	if got.Load() != 1 {
		t.Fatalf("SpinOnce dispatched %d entities, want 1", got.Load())
	}

	// Remaining readiness survives to later calls.
	for i := int64(2); i <= 3; i++ {
		if err := e.SpinOnce(time.Second); err != nil {
			t.Fatalf("SpinOnce failed: %v", err)
		}
		if got.Load() != i {
			t.Fatalf("after %d calls dispatched %d, want %d", i, got.Load(), i)
		}
	}
}

func TestSpinOnce_TimeoutWithNoWork(t *testing.T) {
	e, _ := newTestExecutor(t)
	start := time.Now()
	if err := e.SpinOnce(30 * time.Millisecond); err != nil {
		t.Fatalf("SpinOnce failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond || elapsed > time.Second {
		t.Fatalf("unexpected SpinOnce duration %v", elapsed)
	}
}

func TestSpinSome_DispatchesEverythingReadyAtCollect(t *testing.T) {
	e, ctx := newTestExecutor(t)
	n := NewNode(ctx, "node")
	if err := e.AddNode(n); err != nil {
		t.Fatalf("AddNode failed: %v", err)
	}

	var got atomic.Int64
	var late *Subscription
	first := NewSubscription("first", 4, func(Data) {
		got.Add(1)
		// Readiness produced during dispatch belongs to the next call.
		late.Deliver("late")
	})
	second := NewSubscription("second", 4, func(Data) { got.Add(1) })
	late = NewSubscription("late", 4, func(Data) { got.Add(1) })
	n.AddWaitable(first, nil)
	n.AddWaitable(second, nil)
	n.AddWaitable(late, nil)

	first.Deliver("a")
	second.Deliver("b")
	if err := e.SpinSome(time.Second); err != nil {
		t.Fatalf("SpinSome failed: %v", err)
	}
	if got.Load() != 2 {
		t.Fatalf("first SpinSome dispatched %d, want 2", got.Load())
	}

	if err := e.SpinSome(time.Second); err != nil {
		t.Fatalf("SpinSome failed: %v", err)
	}
	if got.Load() != 3 {
		t.Fatalf("second SpinSome dispatched %d, want 3", got.Load())
	}
}

func TestSpinAll_DrainsReadinessProducedDuringDispatch(t *testing.T) {
	e, ctx := newTestExecutor(t)
	n := NewNode(ctx, "node")
	if err := e.AddNode(n); err != nil {
		t.Fatalf("AddNode failed: %v", err)
	}

	var got atomic.Int64
	var chain *Subscription
	chain = NewSubscription("chain", 8, func(d Data) {
		got.Add(1)
		if i := d.(int); i > 0 {
			chain.Deliver(i - 1)
		}
	})
	n.AddWaitable(chain, nil)

	chain.Deliver(4)
	if err := e.SpinAll(time.Second); err != nil {
		t.Fatalf("SpinAll failed: %v", err)
	}
	if got.Load() != 5 {
		t.Fatalf("SpinAll dispatched %d, want 5", got.Load())
	}
}

func TestSpinAll_ReturnsPromptlyWithNoWork(t *testing.T) {
	e, _ := newTestExecutor(t)
	start := time.Now()
	if err := e.SpinAll(time.Second); err != nil {
		t.Fatalf("SpinAll failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("SpinAll blocked with no work: %v", elapsed)
	}
}

func TestSpinUntilFutureComplete_AlreadySettled(t *testing.T) {
	e, _ := newTestExecutor(t)
	f := NewFuture()
	f.Complete("done")

	start := time.Now()
	code, err := e.SpinUntilFutureComplete(f, -1)
	if err != nil {
		t.Fatalf("SpinUntilFutureComplete failed: %v", err)
	}
	if code != FutureSuccess {
		t.Fatalf("expected FutureSuccess, got %v", code)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("settled future must return without waiting, took %v", elapsed)
	}
}

func TestSpinUntilFutureComplete_Timeout(t *testing.T) {
	e, _ := newTestExecutor(t)
	f := NewFuture()

	code, err := e.SpinUntilFutureComplete(f, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("SpinUntilFutureComplete failed: %v", err)
	}
	if code != FutureTimeout {
		t.Fatalf("expected FutureTimeout, got %v", code)
	}
}

func TestSpinUntilFutureComplete_Interrupted(t *testing.T) {
	e, _ := newTestExecutor(t)
	f := NewFuture()

	go func() {
		time.Sleep(20 * time.Millisecond)
		e.Cancel()
	}()
	code, err := e.SpinUntilFutureComplete(f, time.Minute)
	if err != nil {
		t.Fatalf("SpinUntilFutureComplete failed: %v", err)
	}
	if code != FutureInterrupted {
		t.Fatalf("expected FutureInterrupted, got %v", code)
	}
}

func TestSpinUntilFutureComplete_SettledWhileBlocked(t *testing.T) {
	e, _ := newTestExecutor(t)
	f := NewFuture()

	go func() {
		time.Sleep(20 * time.Millisecond)
		f.Complete("done")
	}()
	code, err := e.SpinUntilFutureComplete(f, -1)
	if err != nil {
		t.Fatalf("SpinUntilFutureComplete failed: %v", err)
	}
	if code != FutureSuccess {
		t.Fatalf("expected FutureSuccess, got %v", code)
	}
}

func TestSpinUntilFutureComplete_ServiceRoundTrip(t *testing.T) {
	e, ctx := newTestExecutor(t)
	n := NewNode(ctx, "node")
	if err := e.AddNode(n); err != nil {
		t.Fatalf("AddNode failed: %v", err)
	}

	svc := NewService("double", func(req Data) (Data, error) {
		return req.(int) * 2, nil
	})
	n.AddWaitable(svc, nil)

	f := svc.Call(21)
	code, err := e.SpinUntilFutureComplete(f, time.Second)
	if err != nil {
		t.Fatalf("SpinUntilFutureComplete failed: %v", err)
	}
	if code != FutureSuccess {
		t.Fatalf("expected FutureSuccess, got %v", code)
	}
	v, err := f.Result()
	if err != nil || v != 42 {
		t.Fatalf("unexpected response %v, %v", v, err)
	}
}

func TestSpinUntilFutureComplete_ServiceHandlerErrorFailsFuture(t *testing.T) {
	e, ctx := newTestExecutor(t)
	n := NewNode(ctx, "node")
	if err := e.AddNode(n); err != nil {
		t.Fatalf("AddNode failed: %v", err)
	}

	want := errors.New("bad request")
	svc := NewService("failing", func(Data) (Data, error) { return nil, want })
	n.AddWaitable(svc, nil)

	f := svc.Call(nil)
	code, err := e.SpinUntilFutureComplete(f, time.Second)
	if err != nil {
		t.Fatalf("SpinUntilFutureComplete failed: %v", err)
	}
	if code != FutureSuccess {
		t.Fatalf("a failed future is still settled, got %v", code)
	}
	if _, err := f.Result(); !errors.Is(err, want) {
		t.Fatalf("expected handler error, got %v", err)
	}
}

func TestFutureCode_String(t *testing.T) {
	if FutureSuccess.String() != "Success" || FutureTimeout.String() != "Timeout" ||
		FutureInterrupted.String() != "Interrupted" {
		t.Fatal("unexpected FutureCode strings")
	}
}
