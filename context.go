package spindle

import "sync"

// Context is the process-wide shutdown observable the engine cooperates
// with. Shutting it down interrupts in-flight SpinUntilFutureComplete calls,
// terminates timer queue goroutines, and causes subsequent spin cycles to
// return promptly.
type Context struct {
	mu     sync.Mutex
	done   chan struct{}
	shut   bool
	reason string
	hooks  []func()
}

// NewContext returns a live context.
func NewContext() *Context {
	return &Context{done: make(chan struct{})}
}

var (
	defaultContextOnce sync.Once
	defaultContext     *Context
)

// DefaultContext returns the process-wide default context, created on first
// use. Executors constructed without WithContext use it.
func DefaultContext() *Context {
	defaultContextOnce.Do(func() { defaultContext = NewContext() })
	return defaultContext
}

// Done returns a channel closed when the context is shut down.
func (c *Context) Done() <-chan struct{} { return c.done }

// OK reports whether the context is still live.
func (c *Context) OK() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Shutdown shuts the context down with the given reason and runs every
// registered shutdown hook. Subsequent calls are no-ops.
func (c *Context) Shutdown(reason string) {
	c.mu.Lock()
	if c.shut {
		c.mu.Unlock()
		return
	}
	c.shut = true
	c.reason = reason
	hooks := c.hooks
	c.hooks = nil
	close(c.done)
	c.mu.Unlock()
	for _, h := range hooks {
		h()
	}
}

// ShutdownReason returns the reason passed to Shutdown, or "" if live.
func (c *Context) ShutdownReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// OnShutdown registers a hook run when the context is shut down. If it
// already has been, the hook runs immediately on the calling goroutine.
func (c *Context) OnShutdown(hook func()) {
	c.mu.Lock()
	if c.shut {
		c.mu.Unlock()
		hook()
		return
	}
	c.hooks = append(c.hooks, hook)
	c.mu.Unlock()
}
