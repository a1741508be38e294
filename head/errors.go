package head

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is returned by positioning operations before
	// Initialize has succeeded.
	ErrNotInitialized = errors.New("head: not initialized")

	// ErrClosed is returned once the head lost its link or was closed.
	ErrClosed = errors.New("head: closed")
)

// InitializationError reports the initialization step that failed.
type InitializationError struct {
	Step string
	Err  error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("head: initialization failed at %s: %v", e.Step, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// MoveError means the head acknowledged a move but did not end up at the
// target.
type MoveError struct {
	Target [2]int
	Actual [2]int
}

func (e *MoveError) Error() string {
	return fmt.Sprintf("head: move to %v ended at %v", e.Target, e.Actual)
}
