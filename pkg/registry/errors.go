package registry

import (
	"errors"
	"fmt"
)

var (
	ErrToolNotFound    = errors.New("tool not found")
	ErrDuplicateTool   = errors.New("tool already registered")
	ErrDuplicateSource = errors.New("query source already registered")
	ErrRegistryFrozen  = errors.New("registry is frozen")
)

// RecoverableError is raised by a tool for a condition a human or the model
// can fix with more information, such as insufficient inventory.
type RecoverableError struct {
	Message string
}

func (e *RecoverableError) Error() string { return e.Message }

// AbortAndResolve returns a recoverable error. The evaluator marks the
// failing intent and hands the tree back to the resolver.
func AbortAndResolve(format string, args ...any) error {
	return &RecoverableError{Message: fmt.Sprintf(format, args...)}
}

// RetryError asks for the intent to be evaluated again on the next
// iteration without changing it.
type RetryError struct {
	Message string
}

func (e *RetryError) Error() string { return "retry: " + e.Message }

// Retry returns a RetryError.
func Retry(msg string) error {
	return &RetryError{Message: msg}
}

// IsRecoverable reports whether err carries a RecoverableError and returns it.
func IsRecoverable(err error) (*RecoverableError, bool) {
	var r *RecoverableError
	ok := errors.As(err, &r)
	return r, ok
}

// IsRetry reports whether err carries a RetryError.
func IsRetry(err error) (*RetryError, bool) {
	var r *RetryError
	ok := errors.As(err, &r)
	return r, ok
}
