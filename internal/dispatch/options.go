package dispatch

import "time"

// Defaults for the deferred worker pool.
const (
	DefaultQueueSize = 1024
	DefaultWorkers   = 4
)

type config struct {
	queueSize int
	workers   int
	timeout   time.Duration
	reporter  Reporter
}

func defaultConfig() config {
	return config{
		queueSize: DefaultQueueSize,
		workers:   DefaultWorkers,
	}
}

// Option configures a dispatcher.
type Option func(*config)

// WithQueueSize sets the deferred task queue size.
func WithQueueSize(size int) Option {
	return func(c *config) {
		if size > 0 {
			c.queueSize = size
		}
	}
}

// WithWorkers sets the number of deferred worker goroutines.
func WithWorkers(count int) Option {
	return func(c *config) {
		if count > 0 {
			c.workers = count
		}
	}
}

// WithTimeout bounds each handler's context. Zero means no timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *config) {
		if timeout >= 0 {
			c.timeout = timeout
		}
	}
}

// WithReporter sets the function that receives every handler outcome.
func WithReporter(r Reporter) Option {
	return func(c *config) {
		c.reporter = r
	}
}

// Stats contains dispatcher statistics.
type Stats struct {
	// Dispatched is the number of handler executions started.
	Dispatched uint64

	// Succeeded is the number of successful handler executions.
	Succeeded uint64

	// Failed is the number of handlers that returned errors.
	Failed uint64

	// Panicked is the number of handlers that panicked.
	Panicked uint64

	// Enqueued is the number of tasks accepted by a deferred dispatcher.
	Enqueued uint64

	// Overflowed is the number of tasks that found the queue full and ran
	// on their own goroutine.
	Overflowed uint64

	// Pending is the number of scheduled tasks that have not finished.
	Pending int

	// QueueDepth is the current number of tasks waiting in the queue.
	QueueDepth int

	// TotalDuration is the cumulative time spent in handlers.
	TotalDuration time.Duration

	// AvgDuration is the average handler execution time.
	AvgDuration time.Duration
}
