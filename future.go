package spindle

import "sync"

// Future is a settle-once result carrier, the engine-side view of an
// asynchronous operation such as a service call. It settles exactly once,
// via Complete or Fail; later settle attempts are ignored.
type Future struct {
	mu        sync.Mutex
	done      chan struct{}
	settled   bool
	value     Data
	err       error
	callbacks []func()
}

// NewFuture returns an unsettled future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Complete settles the future with a value. Returns false if it was already
// settled.
func (f *Future) Complete(v Data) bool { return f.settle(v, nil) }

// Fail settles the future with an error. Returns false if it was already
// settled.
func (f *Future) Fail(err error) bool { return f.settle(nil, err) }

func (f *Future) settle(v Data, err error) bool {
	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		return false
	}
	f.settled = true
	f.value = v
	f.err = err
	cbs := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
	return true
}

// Done returns a channel closed when the future settles.
func (f *Future) Done() <-chan struct{} { return f.done }

// IsDone reports whether the future has settled.
func (f *Future) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result blocks until the future settles, then returns its value and error.
func (f *Future) Result() (Data, error) {
	<-f.done
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err
}

// onDone registers a callback invoked when the future settles (immediately
// if it already has). The returned function deregisters it; deregistration
// after settling is a no-op.
func (f *Future) onDone(cb func()) (cancel func()) {
	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		cb()
		return func() {}
	}
	f.callbacks = append(f.callbacks, cb)
	idx := len(f.callbacks) - 1
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		if idx < len(f.callbacks) {
			f.callbacks[idx] = func() {}
		}
		f.mu.Unlock()
	}
}
