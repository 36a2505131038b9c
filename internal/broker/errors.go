package broker

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInteractionTimeout reports that no matching event arrived within the configured window.
	ErrInteractionTimeout = errors.New("interaction timed out")
	// ErrShutdown reports that the broker stopped before the wait resolved.
	ErrShutdown = errors.New("broker shut down")
	// ErrCanceled reports that the waiting side gave up on the wait.
	ErrCanceled = errors.New("wait canceled")
	// ErrSessionClosed reports that a component session was disposed before it resolved.
	ErrSessionClosed = errors.New("component session closed")
)

// TimeoutError describes which wait expired. It matches ErrInteractionTimeout with errors.Is.
type TimeoutError struct {
	Category string
	After    time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: no %s event within %s", ErrInteractionTimeout, e.Category, e.After)
}

// Is reports whether target is ErrInteractionTimeout.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrInteractionTimeout
}

// IsTimeout reports whether err is an interaction timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrInteractionTimeout)
}
