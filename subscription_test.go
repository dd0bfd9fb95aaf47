package spindle

import (
	"testing"
)

func TestSubscription_DeliverTakeExecute(t *testing.T) {
	var got []Data
	sub := NewSubscription("topic", 4, func(msg Data) { got = append(got, msg) })
	if sub.Name() != "topic" {
		t.Fatalf("unexpected name %q", sub.Name())
	}

	ws := NewWaitSet()
	sub.Deliver("hello")
	sub.AddToWaitSet(ws)
	if !sub.IsReady(ws.Wait(0)) {
		t.Fatal("expected readiness after delivery")
	}
	data, err := sub.TakeData()
	if err != nil {
		t.Fatalf("take failed: %v", err)
	}
	sub.Execute(data)
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("unexpected handler input %v", got)
	}
}

func TestSubscription_KeepLastDropsOldest(t *testing.T) {
	var got []Data
	sub := NewSubscription("topic", 2, func(msg Data) { got = append(got, msg) })
	sub.Deliver(1)
	sub.Deliver(2)
	sub.Deliver(3) // displaces 1
	if sub.Dropped() != 1 {
		t.Fatalf("expected 1 drop, got %d", sub.Dropped())
	}

	ws := NewWaitSet()
	for i := 0; i < 3; i++ {
		ws.Clear()
		sub.AddToWaitSet(ws)
		if !sub.IsReady(ws.Wait(0)) {
			t.Fatalf("expected readiness on cycle %d", i)
		}
		data, err := sub.TakeData()
		if err != nil {
			t.Fatalf("take failed on cycle %d: %v", i, err)
		}
		sub.Execute(data)
	}
	// Three readiness signals, two surviving messages; the displaced
	// signal executes as a no-op.
	if len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Fatalf("unexpected messages %v", got)
	}
}

func TestSubscription_MinimumDepth(t *testing.T) {
	sub := NewSubscription("topic", 0, func(Data) {})
	sub.Deliver(1)
	sub.Deliver(2)
	if sub.Dropped() != 1 {
		t.Fatalf("depth must clamp to 1, got %d drops", sub.Dropped())
	}
}

func TestService_CallProducesFuture(t *testing.T) {
	svc := NewService("echo", func(req Data) (Data, error) { return req, nil })
	if svc.Name() != "echo" {
		t.Fatalf("unexpected name %q", svc.Name())
	}

	f := svc.Call("ping")
	if f.IsDone() {
		t.Fatal("future settled before dispatch")
	}

	ws := NewWaitSet()
	svc.AddToWaitSet(ws)
	if !svc.IsReady(ws.Wait(0)) {
		t.Fatal("expected readiness after call")
	}
	data, err := svc.TakeData()
	if err != nil {
		t.Fatalf("take failed: %v", err)
	}
	svc.Execute(data)

	v, err := f.Result()
	if err != nil || v != "ping" {
		t.Fatalf("unexpected response %v, %v", v, err)
	}
}

func TestService_RequestsServedInOrder(t *testing.T) {
	var order []int
	svc := NewService("seq", func(req Data) (Data, error) {
		order = append(order, req.(int))
		return nil, nil
	})
	f1 := svc.Call(1)
	f2 := svc.Call(2)

	ws := NewWaitSet()
	for i := 0; i < 2; i++ {
		ws.Clear()
		svc.AddToWaitSet(ws)
		if !svc.IsReady(ws.Wait(0)) {
			t.Fatalf("expected readiness on cycle %d", i)
		}
		data, err := svc.TakeData()
		if err != nil {
			t.Fatalf("take failed: %v", err)
		}
		svc.Execute(data)
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("unexpected order %v", order)
	}
	if !f1.IsDone() || !f2.IsDone() {
		t.Fatal("futures not settled")
	}
}
