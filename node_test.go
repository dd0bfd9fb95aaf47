package spindle

import (
	"testing"
	"time"
)

func TestNode_DefaultGroupIsMutuallyExclusive(t *testing.T) {
	n := NewNode(nil, "node")
	if n.Name() != "node" {
		t.Fatalf("unexpected name %q", n.Name())
	}
	if n.Context() == nil {
		t.Fatal("nil ctx must fall back to the default context")
	}
	g := n.DefaultCallbackGroup()
	if g == nil || g.Mode() != GroupMutuallyExclusive {
		t.Fatal("default group must be mutually exclusive")
	}
}

func TestNode_GroupSnapshotOrder(t *testing.T) {
	n := NewNode(NewContext(), "node")
	a := n.CreateCallbackGroup(GroupReentrant)
	b := n.CreateCallbackGroup(GroupMutuallyExclusive)

	groups := n.callbackGroups()
	if len(groups) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(groups))
	}
	if groups[0] != n.DefaultCallbackGroup() || groups[1] != a || groups[2] != b {
		t.Fatal("groups must be snapshotted default-first, in creation order")
	}
}

func TestNode_WaitableRoutedToDefaultGroup(t *testing.T) {
	n := NewNode(NewContext(), "node")
	w := NewGuardWaitable()
	n.AddWaitable(w, nil)
	if n.DefaultCallbackGroup().Len() != 1 {
		t.Fatal("nil group must route to the default group")
	}
	n.RemoveWaitable(w, nil)
	if n.DefaultCallbackGroup().Len() != 0 {
		t.Fatal("remove did not take effect")
	}
}

func TestNode_TimerRegistry(t *testing.T) {
	n := NewNode(NewContext(), "node")
	g := n.CreateCallbackGroup(GroupReentrant)
	tm := NewTimer(NewSteadyClock(), time.Second, func() {})

	n.AddTimer(tm, g)
	if g.Len() != 1 {
		t.Fatal("timer must join its group as a waitable")
	}
	snap := n.timersSnapshot()
	if len(snap) != 1 || snap[0] != tm {
		t.Fatal("timer missing from snapshot")
	}

	n.RemoveTimer(tm)
	if g.Len() != 0 || len(n.timersSnapshot()) != 0 {
		t.Fatal("remove did not take effect")
	}
}

func TestNode_ChangeHookFiresAfterMutation(t *testing.T) {
	n := NewNode(NewContext(), "node")
	var sawMember bool
	n.setChangeHook(func() {
		// The hook must observe the mutation that caused it.
		sawMember = n.DefaultCallbackGroup().Len() == 1
	})
	n.AddWaitable(NewGuardWaitable(), nil)
	if !sawMember {
		t.Fatal("change hook ran before the registry mutation")
	}
}
