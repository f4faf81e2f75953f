package executor

import (
	"errors"
	"fmt"
)

// NoRetry marks an error as non-retryable.
//
// Handlers can wrap validation errors or other permanent failures with NoRetry
// so the executor won't schedule retry attempts that cannot succeed.
//
// Example:
//
//	return nil, executor.NoRetry(fmt.Errorf("bad config: %w", err))
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

// IsNoRetry reports whether err is wrapped with NoRetry.
func IsNoRetry(err error) bool {
	var e noRetryError
	return errors.As(err, &e)
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return fmt.Sprintf("no-retry: %v", e.err) }
func (e noRetryError) Unwrap() error { return e.err }
