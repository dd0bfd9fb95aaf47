package spindle

import "github.com/joeycumines/logiface"

// Logger is the structured logger the engine emits diagnostics through.
// A nil Logger is valid and disables logging entirely; logiface guards
// every call on a nil receiver.
type Logger = *logiface.Logger[logiface.Event]

// debugLog starts a debug entry tagged with the executor's identity.
func (e *Executor) debugLog(category string) *logiface.Builder[logiface.Event] {
	return e.logger.Debug().
		Str("category", category).
		Uint64("executor", e.id)
}

// errLog starts an error entry tagged with the executor's identity.
func (e *Executor) errLog(category string, err error) *logiface.Builder[logiface.Event] {
	return e.logger.Err().
		Str("category", category).
		Uint64("executor", e.id).
		Err(err)
}
