package analysis

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyInput     = errors.New("empty input")
	ErrInvalidFormat  = errors.New("invalid log format")
	ErrNoValidEntries = errors.New("no valid log entries")
	ErrInputTooLarge  = errors.New("input too large")
)

// BatchError aborts a whole batch. Kind is one of the sentinels above, or the
// context error when the deadline expired.
type BatchError struct {
	Kind error
	Err  error
}

func (e *BatchError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

func (e *BatchError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func batchErr(kind error, format string, args ...any) *BatchError {
	if format == "" {
		return &BatchError{Kind: kind}
	}
	return &BatchError{Kind: kind, Err: fmt.Errorf(format, args...)}
}
