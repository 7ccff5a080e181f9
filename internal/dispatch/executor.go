package dispatch

import (
	"context"
	"runtime/debug"
	"time"
)

// Executor runs a single handler with panic recovery and timing.
type Executor struct {
	timeout time.Duration
}

// NewExecutor creates an executor. A positive timeout bounds each handler's
// context; handlers must honour ctx for it to take effect.
func NewExecutor(timeout time.Duration) *Executor {
	return &Executor{timeout: timeout}
}

// Execute runs handler with payload and returns the result.
// It never panics.
func (e *Executor) Execute(ctx context.Context, payload any, handler Handler) (result Result) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()

	defer func() {
		result.Duration = time.Since(start)

		if r := recover(); r != nil {
			result.Success = false
			result.Panicked = true
			result.PanicValue = r
			result.PanicStack = debug.Stack()
		}
	}()

	if err := handler.Handle(ctx, payload); err != nil {
		result.Error = err
		return result
	}

	result.Success = true
	return result
}
