package cables

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrInvalidCallback is returned by On when the callback is nil.
	ErrInvalidCallback = errors.New("callback is not invocable")

	// ErrMalformedEventName is returned by On in strict mode for empty names
	// and names containing the separator more than once.
	ErrMalformedEventName = errors.New("malformed event name")

	// ErrClosed is returned when closing a bus that is already closed.
	ErrClosed = errors.New("bus is closed")

	// ErrHandlerPanic is matched by PanicError via errors.Is.
	ErrHandlerPanic = errors.New("handler panicked")
)

// HandlerError wraps an error returned by a callback.
type HandlerError struct {
	// Topic is the topic name; empty for the default topic.
	Topic string

	// Event is the event name; "*" for topic subscribers.
	Event string

	// HandlerID is the id the callback was registered under.
	HandlerID string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s on %s: %v", e.HandlerID, e.location(), e.Err)
}

// Unwrap returns the underlying error.
func (e *HandlerError) Unwrap() error {
	return e.Err
}

func (e *HandlerError) location() string {
	return location(e.Topic, e.Event)
}

// PanicError wraps a panic value recovered from a callback.
type PanicError struct {
	Topic     string
	Event     string
	HandlerID string

	// Value is the value passed to panic().
	Value any

	// Stack is the stack trace at the time of the panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("handler %s on %s panicked: %v", e.HandlerID, location(e.Topic, e.Event), e.Value)
}

// Is allows errors.Is to match PanicError with ErrHandlerPanic.
func (e *PanicError) Is(target error) bool {
	return target == ErrHandlerPanic
}

func location(topic, event string) string {
	if topic == "" {
		return fmt.Sprintf("%q", event)
	}
	return fmt.Sprintf("%q/%q", topic, event)
}
