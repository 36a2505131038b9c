package dialog

import (
	"errors"
	"fmt"

	"github.com/neoclaw-ai/herald/internal/broker"
)

var (
	// ErrTimeout reports that the user never answered a step in time.
	ErrTimeout = broker.ErrInteractionTimeout
	// ErrAborted reports that the dialog could not talk to the chat platform.
	ErrAborted = errors.New("dialog aborted")
	// ErrChatBlocked reports that dialogs may not run in the invoking chat.
	ErrChatBlocked = errors.New("dialogs are blocked in this chat")
	// ErrMissingValue reports a lookup of an unset context key.
	ErrMissingValue = errors.New("dialog value not set")
	// ErrValueType reports a context value stored with a different type.
	ErrValueType = errors.New("dialog value has a different type")
	// ErrInvalidForm reports a form definition that cannot run.
	ErrInvalidForm = errors.New("invalid dialog form")
	// ErrNoSelection reports menu values that do not form a selection.
	ErrNoSelection = errors.New("menu resolved without a selection")
)

// AbortedError wraps a transport failure. It matches both ErrAborted and the
// underlying cause with errors.Is.
type AbortedError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *AbortedError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrAborted, e.Op, e.Err)
}

// Unwrap exposes ErrAborted and the transport cause.
func (e *AbortedError) Unwrap() []error {
	return []error{ErrAborted, e.Err}
}

func aborted(op string, err error) error {
	if err == nil {
		return nil
	}
	return &AbortedError{Op: op, Err: err}
}

// IsTimeout reports whether err means the user did not respond in time.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsAborted reports whether err means the platform could not be reached.
func IsAborted(err error) bool {
	return errors.Is(err, ErrAborted)
}
