package spindle

import "sync/atomic"

// ExecutorState represents the current state of an executor's spin machine.
//
// State Machine:
//
//	StateIdle → StateSpinning          [any spin call]
//	StateSpinning → StateIdle          [spin returned normally]
//	StateSpinning → StateCancelled     [spin returned after Cancel()]
//	StateCancelled → StateIdle         [next spin call resets]
//
// StateCancelled is transient: the next spin call observes it and resets to
// StateIdle before attempting the Idle→Spinning transition.
type ExecutorState uint64

const (
	// StateIdle indicates no spin call is in progress.
	StateIdle ExecutorState = iota
	// StateSpinning indicates a spin call is in progress on some goroutine.
	StateSpinning
	// StateCancelled indicates the last spin call was ended by Cancel.
	StateCancelled
)

// String returns a human-readable representation of the state.
func (s ExecutorState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateSpinning:
		return "Spinning"
	case StateCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// spinState is a lock-free state machine with cache-line padding.
//
// Uses pure atomic CAS operations with no mutex; padding prevents false
// sharing with neighbouring hot fields.
type spinState struct {
	_ [64]byte      //nolint:unused
	v atomic.Uint64 // state value
	_ [56]byte      //nolint:unused
}

func newSpinState() *spinState {
	s := &spinState{}
	s.v.Store(uint64(StateIdle))
	return s
}

// Load returns the current state atomically.
func (s *spinState) Load() ExecutorState {
	return ExecutorState(s.v.Load())
}

// Store atomically stores a new state, without transition validation.
func (s *spinState) Store(state ExecutorState) {
	s.v.Store(uint64(state))
}

// TryTransition attempts to atomically transition from one state to another.
// Returns true if the transition was performed.
func (s *spinState) TryTransition(from, to ExecutorState) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}
