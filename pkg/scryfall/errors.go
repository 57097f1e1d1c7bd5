package scryfall

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error is a structured client error carrying enough context for callers to
// branch on without string matching.
type Error struct {
	StatusCode int    // HTTP status if the server responded
	Message    string // Human-readable message
	Timeout    bool   // The request exceeded its deadline
	Retryable  bool   // Whether the operation is worth retrying
	Cause      error  // Underlying error

	// RetryAfter is the server-suggested wait on a rate-limit response.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string
	if e.Timeout {
		parts = append(parts, "request timeout")
	}
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("HTTP %d", e.StatusCode))
	}
	parts = append(parts, e.Message)

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", strings.Join(parts, " "), e.Cause)
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the failed operation may succeed on retry.
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// IsTimeout reports whether err is a request-timeout client error.
func IsTimeout(err error) bool {
	var clientErr *Error
	return errors.As(err, &clientErr) && clientErr.Timeout
}
