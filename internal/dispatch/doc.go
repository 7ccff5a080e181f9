// Package dispatch invokes handlers for the event bus.
//
// Two dispatchers are provided:
//
//   - Immediate: runs the handler in the caller's goroutine and returns its Result.
//     The emitting call's stack includes every handler invocation.
//
//   - Deferred: schedules each handler invocation on a worker pool and returns
//     at once. When the queue is full the task runs on a fresh goroutine, so a
//     scheduled invocation is never dropped and the emitter never blocks.
//
// # Isolation
//
// Every invocation goes through an Executor which recovers panics and records
// timing. A handler that fails or panics does not affect any other handler.
// Outcomes are delivered to an optional Reporter.
//
// # Ordering
//
// Immediate invocations run in the order they are dispatched. Deferred
// invocations have no ordering guarantee relative to each other or to other
// work in the process.
//
// # Usage
//
//	d := dispatch.NewDeferred(dispatch.WithWorkers(4))
//	if err := d.Start(); err != nil {
//	    return err
//	}
//	defer d.Stop(ctx)
//
//	_ = d.Enqueue(ctx, payload, handler)
//	_ = d.Flush(ctx) // wait for everything scheduled so far
package dispatch
