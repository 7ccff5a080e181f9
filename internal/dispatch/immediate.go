package dispatch

import (
	"context"
	"sync/atomic"
	"time"
)

// Immediate executes handlers synchronously in the caller's goroutine.
type Immediate struct {
	executor *Executor
	reporter Reporter

	// Stats
	dispatched  atomic.Uint64
	succeeded   atomic.Uint64
	failed      atomic.Uint64
	panicked    atomic.Uint64
	totalTimeNs atomic.Int64
}

// NewImmediate creates a synchronous dispatcher.
func NewImmediate(opts ...Option) *Immediate {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Immediate{
		executor: NewExecutor(cfg.timeout),
		reporter: cfg.reporter,
	}
}

// Dispatch runs handler with payload and blocks until it returns or panics.
func (d *Immediate) Dispatch(ctx context.Context, payload any, handler Handler) Result {
	d.dispatched.Add(1)

	result := d.executor.Execute(ctx, payload, handler)

	d.totalTimeNs.Add(result.Duration.Nanoseconds())
	switch {
	case result.Panicked:
		d.panicked.Add(1)
	case result.Error != nil:
		d.failed.Add(1)
	default:
		d.succeeded.Add(1)
	}

	report(ctx, d.reporter, payload, handler, result)
	return result
}

// DispatchAll runs every handler in order. A failing handler does not stop
// the remaining ones.
func (d *Immediate) DispatchAll(ctx context.Context, payload any, handlers []Handler) []Result {
	results := make([]Result, len(handlers))
	for i, handler := range handlers {
		results[i] = d.Dispatch(ctx, payload, handler)
	}
	return results
}

// Stats returns dispatch statistics.
func (d *Immediate) Stats() Stats {
	dispatched := d.dispatched.Load()
	totalNs := d.totalTimeNs.Load()

	var avgNs int64
	if dispatched > 0 {
		avgNs = totalNs / int64(dispatched)
	}

	return Stats{
		Dispatched:    dispatched,
		Succeeded:     d.succeeded.Load(),
		Failed:        d.failed.Load(),
		Panicked:      d.panicked.Load(),
		TotalDuration: time.Duration(totalNs),
		AvgDuration:   time.Duration(avgNs),
	}
}
