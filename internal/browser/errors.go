// File: internal/browser/errors.go
package browser

import (
	"errors"
	"fmt"
)

var (
	// ErrStartupTimeout is returned when another task's startup never reached
	// Ready within the bounded wait ceiling.
	ErrStartupTimeout = errors.New("timed out waiting for browser startup")

	// ErrNotInitialized is returned when an operation is attempted with no
	// page available and Ensure did not recover one.
	ErrNotInitialized = errors.New("browser not initialized")
)

// StartupError wraps a failure during browser launch or page creation. It is
// terminal for the session: the state machine has already rolled back to
// Absent by the time the caller sees it, so the next call retries cleanly.
type StartupError struct {
	Cause error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("browser startup failed: %v", e.Cause)
}

func (e *StartupError) Unwrap() error { return e.Cause }

// OperationError wraps a failure of a single action against a live page. It
// never tears down the session; the page handle stays usable for a retry.
type OperationError struct {
	Op  string
	Err error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }
