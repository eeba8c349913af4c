package worker

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when a lifecycle step is attempted
	// from the wrong state.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrNoController is returned when no active worker controls the scope.
	ErrNoController = errors.New("no active worker")

	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")
)

// InstallError reports a failed install. The worker that returned it is
// redundant.
type InstallError struct {
	Version int

	// URL is the precache entry that failed, empty for store errors
	URL string

	Err error
}

// Error implements the error interface.
func (e *InstallError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("install v%d: precache %s: %v", e.Version, e.URL, e.Err)
	}
	return fmt.Sprintf("install v%d: %v", e.Version, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *InstallError) Unwrap() error {
	return e.Err
}

// statusError is a non-200 precache response.
type statusError struct {
	StatusCode int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// retryable reports whether a precache failure may succeed on another
// attempt. Client errors are final.
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == 429
	}
	return true
}
