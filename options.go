// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package spindle

import "fmt"

// CollectionStrategy selects how an executor discovers ready entities.
type CollectionStrategy int

const (
	// CollectionRescan rebuilds the wait set from the registry on every
	// cycle. The safest strategy under churn, and the default.
	CollectionRescan CollectionStrategy = iota
	// CollectionStaticReuse registers once and reuses the wait set until a
	// membership change invalidates it.
	CollectionStaticReuse
	// CollectionEventQueue replaces polled waiting with push notifications
	// consumed in arrival order.
	CollectionEventQueue
)

// String returns a human-readable representation of the strategy.
func (s CollectionStrategy) String() string {
	switch s {
	case CollectionRescan:
		return "Rescan"
	case CollectionStaticReuse:
		return "StaticReuse"
	case CollectionEventQueue:
		return "EventQueue"
	default:
		return "Unknown"
	}
}

// executorOptions holds configuration options for Executor creation.
type executorOptions struct {
	collection CollectionStrategy
	workers    int
	ctx        *Context
	logger     Logger
	timers     *TimerManager
}

// ExecutorOption configures an Executor instance.
type ExecutorOption interface {
	applyExecutor(*executorOptions) error
}

// executorOptionImpl implements ExecutorOption.
type executorOptionImpl struct {
	applyExecutorFunc func(*executorOptions) error
}

func (o *executorOptionImpl) applyExecutor(opts *executorOptions) error {
	return o.applyExecutorFunc(opts)
}

// WithCollection selects the readiness-collection strategy.
// See CollectionStrategy documentation for available strategies.
func WithCollection(s CollectionStrategy) ExecutorOption {
	return &executorOptionImpl{func(opts *executorOptions) error {
		switch s {
		case CollectionRescan, CollectionStaticReuse, CollectionEventQueue:
			opts.collection = s
			return nil
		default:
			return fmt.Errorf("spindle: unknown collection strategy %d", int(s))
		}
	}}
}

// WithWorkers sets the number of dispatch workers. With n == 1 (default)
// callbacks run on the spinning goroutine; with n > 1 each collected batch
// is dispatched by up to n goroutines, subject to callback-group mutual
// exclusion.
func WithWorkers(n int) ExecutorOption {
	return &executorOptionImpl{func(opts *executorOptions) error {
		if n < 1 {
			return fmt.Errorf("spindle: workers must be >= 1, got %d", n)
		}
		opts.workers = n
		return nil
	}}
}

// WithContext sets the shutdown context the executor observes. Defaults to
// DefaultContext.
func WithContext(ctx *Context) ExecutorOption {
	return &executorOptionImpl{func(opts *executorOptions) error {
		opts.ctx = ctx
		return nil
	}}
}

// WithLogger attaches a structured logger to the executor. A nil logger is
// accepted and disables logging.
func WithLogger(logger Logger) ExecutorOption {
	return &executorOptionImpl{func(opts *executorOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithTimerManager shares an externally owned timer manager instead of the
// executor creating (and stopping) its own.
func WithTimerManager(m *TimerManager) ExecutorOption {
	return &executorOptionImpl{func(opts *executorOptions) error {
		opts.timers = m
		return nil
	}}
}

// resolveExecutorOptions applies ExecutorOption instances to
// executorOptions.
func resolveExecutorOptions(opts []ExecutorOption) (*executorOptions, error) {
	cfg := &executorOptions{
		collection: CollectionRescan,
		workers:    1,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyExecutor(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.ctx == nil {
		cfg.ctx = DefaultContext()
	}
	return cfg, nil
}
