package spindle

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrAlreadySpinning is returned when a spin call is made on an executor
	// that is already spinning, including reentrant calls from inside a
	// callback running on that executor.
	ErrAlreadySpinning = errors.New("spindle: executor is already spinning")

	// ErrReentrantSpin is the variant of ErrAlreadySpinning returned when the
	// offending spin call was made from inside a callback dispatched by the
	// same executor. It matches ErrAlreadySpinning under errors.Is.
	ErrReentrantSpin = fmt.Errorf("%w (reentrant call from a dispatched callback)", ErrAlreadySpinning)

	// ErrAlreadyAssociated is returned when a node or callback group that is
	// already owned by a live executor is added to an executor.
	ErrAlreadyAssociated = errors.New("spindle: entity is already associated with an executor")

	// ErrInvariantViolation is returned by TakeData when no readiness report
	// preceded it in the same cycle. It guards the double-take class of bug
	// and should be unreachable through the executor's dispatch path.
	ErrInvariantViolation = errors.New("spindle: take-data called without a preceding readiness check")

	// ErrClockInvalid is reported by a clock whose backing time source became
	// unusable, typically during process shutdown. Timer queues treat it as a
	// request to terminate their scheduling loop.
	ErrClockInvalid = errors.New("spindle: clock is no longer valid")

	// ErrTimerCanceled is reported by a timer primitive whose timer has been
	// canceled and not yet reset.
	ErrTimerCanceled = errors.New("spindle: timer is canceled")

	// ErrShutdown is returned for operations attempted after the owning
	// context has been shut down.
	ErrShutdown = errors.New("spindle: context has been shut down")
)

// FutureCode is the outcome of [Executor.SpinUntilFutureComplete]. Timeout
// and interruption are ordinary return values, not errors.
type FutureCode int

const (
	// FutureSuccess indicates the future resolved while spinning.
	FutureSuccess FutureCode = iota
	// FutureTimeout indicates the timeout budget was exhausted first.
	FutureTimeout
	// FutureInterrupted indicates cancellation or context shutdown was
	// observed before the future resolved or the budget ran out.
	FutureInterrupted
)

// String returns a human-readable representation of the code.
func (c FutureCode) String() string {
	switch c {
	case FutureSuccess:
		return "Success"
	case FutureTimeout:
		return "Timeout"
	case FutureInterrupted:
		return "Interrupted"
	default:
		return "Unknown"
	}
}
