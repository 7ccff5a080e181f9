package dispatch

import "errors"

var (
	// ErrAlreadyRunning is returned by Deferred.Start when the workers are up.
	ErrAlreadyRunning = errors.New("deferred dispatch already started")

	// ErrNotRunning is returned when invocations are scheduled on, or Stop
	// is called for, a Deferred that is not running.
	ErrNotRunning = errors.New("deferred dispatch not running")
)
