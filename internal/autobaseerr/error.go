// Package autobaseerr contains error types shared between the GitHub client
// and the components calling it.
package autobaseerr

import (
	"fmt"
	"time"
)

// RetryableError wraps an error of an operation that failed temporarily,
// e.g. because the GitHub API rate limit was exceeded or GitHub responded
// with a 5xx status code.
type RetryableError struct {
	// Err is the wrapped original error
	Err error
	// After is the earliest point in time the operation should be retried.
	// It is the zero value when the operation can be retried immediately.
	After time.Time
}

func NewRetryableError(originalErr error, retryAfter time.Time) *RetryableError {
	return &RetryableError{
		Err:   originalErr,
		After: retryAfter,
	}
}

func NewRetryableAnytimeError(originalErr error) *RetryableError {
	return &RetryableError{
		Err: originalErr,
	}
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

func (e *RetryableError) Error() string {
	if e.After.IsZero() {
		return fmt.Sprintf("retryable error: %s", e.Err)
	}

	return fmt.Sprintf("retryable error (after %s): %s", e.After.Format(time.RFC3339), e.Err)
}
