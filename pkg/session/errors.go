package session

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is returned when an operation is not legal in the
	// current session state. Match with errors.Is; the concrete value is a
	// *StateError.
	ErrInvalidState = errors.New("session: invalid state")

	// ErrNotInitialized is returned before Initialize has been called.
	ErrNotInitialized = fmt.Errorf("%w: not initialized", ErrInvalidState)

	ErrUnsupportedTrack = errors.New("session: unsupported track kind")
)

// StateError describes an operation attempted in the wrong state.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("session: %s not allowed in state %s", e.Op, e.State)
}

func (e *StateError) Unwrap() error {
	return ErrInvalidState
}
