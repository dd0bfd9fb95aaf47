// Package spindle implements the client-side scheduling engine of a
// publish/subscribe middleware binding: readiness detection across many
// independently registered callable entities (subscriptions, services,
// timers, user-defined waitables), mutual-exclusion policy between groups of
// entities, and dispatch under several interchangeable collection strategies.
//
// # Architecture
//
// The engine is built from a small number of cooperating pieces:
//
//   - [Waitable] is the capability contract implemented by every schedulable
//     entity. [GuardWaitable] is the embeddable base most implementations
//     build on.
//   - [CallbackGroup] is a mutual-exclusion domain. A group's gate controls
//     whether its members may currently be collected; a dispatcher holds the
//     gate of a mutually exclusive group for the duration of one Execute.
//   - [WaitSet] is the blocking multiplexed-wait primitive. It blocks the
//     calling goroutine until any registered [GuardCondition] signals
//     readiness, a wake is published, or a timeout elapses.
//   - [Executor] orchestrates repeated collect→wait→dispatch cycles and
//     exposes the spin API ([Executor.Spin], [Executor.SpinOnce],
//     [Executor.SpinSome], [Executor.SpinAll],
//     [Executor.SpinUntilFutureComplete]).
//   - [TimerManager] runs one scheduling goroutine per clock domain
//     ([ClockLogical], [ClockSystem], [ClockSteady]), independent of the
//     executor's wait cycle, and notifies the executor through the timer
//     waitable's guard condition when a timer becomes due.
//
// Collection strategy is a construction-time capability
// ([WithCollection]): rescan every cycle, build once and reuse until
// invalidated, or event-queue-driven where waitables push readiness
// notifications instead of being polled. All strategies satisfy the same
// gate and no-double-dispatch invariants.
//
// # Ownership
//
// The executor never owns entities. It holds weak references to registered
// nodes and callback groups, and the timer queues hold weak references to
// timers; destruction of the true owner concurrently with an in-progress
// collection or dispatch is survivable. Members hold a strong reference to
// their group, and node-created groups to their node, so a registration
// stays reachable for as long as the application holds any of its entities;
// dropping the last entity makes the whole ownership cluster collectable at
// once. Collection takes strong
// references only for the duration of a single cycle and no internal lock is
// ever held across a waitable's Execute.
//
// # Blocking and cancellation
//
// Spin calls block the calling goroutine; cancellation is cooperative via
// [Executor.Cancel], which forces any blocked wait to return in bounded
// time. The engine places no timeout on Execute: a slow callback stalls its
// callback group (and, for a single-worker executor, the whole executor)
// until it returns. Panics raised by user callbacks are not recovered by the
// engine.
package spindle
