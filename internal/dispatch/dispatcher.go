package dispatch

import (
	"context"
	"time"
)

// Handler is a single unit of work invoked with an emitted payload.
type Handler interface {
	Handle(ctx context.Context, payload any) error
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, payload any) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, payload any) error {
	return f(ctx, payload)
}

// Result represents the outcome of a handler execution.
type Result struct {
	// Success is true if the handler completed without error or panic.
	Success bool

	// Error is the error returned by the handler, if any.
	Error error

	// Panicked is true if the handler panicked.
	Panicked bool

	// PanicValue is the value passed to panic(), if Panicked is true.
	PanicValue any

	// PanicStack is the stack trace at the point of panic.
	PanicStack []byte

	// Duration is how long the handler took to execute.
	Duration time.Duration
}

// IsSuccess returns true if the result indicates successful execution.
func (r Result) IsSuccess() bool {
	return r.Success && !r.Panicked && r.Error == nil
}

// IsError returns true if the result indicates an error (not panic).
func (r Result) IsError() bool {
	return r.Error != nil && !r.Panicked
}

// IsPanic returns true if the result indicates a panic.
func (r Result) IsPanic() bool {
	return r.Panicked
}

// Reporter receives the outcome of every handler execution together with
// the context the handler ran with. It is called on the goroutine that ran
// the handler.
type Reporter func(ctx context.Context, payload any, handler Handler, result Result)

// report calls r with panic protection; a misbehaving reporter must not take
// down a worker.
func report(ctx context.Context, r Reporter, payload any, handler Handler, result Result) {
	if r == nil {
		return
	}
	defer func() { _ = recover() }()
	r(ctx, payload, handler, result)
}
