package cables

import (
	"time"

	"github.com/flagpoonage/cables/internal/dispatch"
)

// Stats is a snapshot of bus activity.
type Stats struct {
	// Mode is the dispatch mode.
	Mode Mode

	// Emitted is the number of Out calls.
	Emitted uint64

	// Invoked is the number of handler executions started.
	Invoked uint64

	Succeeded uint64
	Failed    uint64
	Panicked  uint64

	// Scheduled is the number of invocations handed to the worker pool.
	Scheduled uint64

	// Overflowed is the number of scheduled invocations that found the
	// queue full and ran on their own goroutine.
	Overflowed uint64

	// Dropped is the number of invocations discarded because the bus was
	// closed.
	Dropped uint64

	// Pending is the number of scheduled invocations not yet finished.
	Pending int

	// QueueDepth is the number of invocations waiting for a worker.
	QueueDepth int

	// Topics is the number of named topics. Only set by Bus.Stats.
	Topics int

	// Handlers is the number of registered handlers, topic subscribers
	// included.
	Handlers int

	// AvgDuration is the mean handler execution time.
	AvgDuration time.Duration

	Closed bool
}

// add folds d into s and returns the handler time it accounts for.
func (s *Stats) add(d dispatch.Stats) time.Duration {
	s.Invoked += d.Dispatched
	s.Succeeded += d.Succeeded
	s.Failed += d.Failed
	s.Panicked += d.Panicked
	s.Scheduled += d.Enqueued
	s.Overflowed += d.Overflowed
	s.Pending += d.Pending
	s.QueueDepth += d.QueueDepth
	return d.TotalDuration
}
