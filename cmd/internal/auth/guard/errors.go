package guard

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRateLimited is returned when an operation exceeds its window budget.
	ErrRateLimited = errors.New("rate limited")

	// ErrCounterUnavailable is returned when the backing counter store
	// cannot be reached.
	ErrCounterUnavailable = errors.New("counter store unavailable")
)

// RateLimitError carries retry metadata for throttled operations.
type RateLimitError struct {
	Key        string
	Operation  string
	RetryAfter time.Duration
}

func (e RateLimitError) Error() string {
	if e.RetryAfter <= 0 {
		return fmt.Sprintf("%s: %s %s", ErrRateLimited.Error(), e.Operation, e.Key)
	}
	return fmt.Sprintf("%s: %s %s: retry after %s", ErrRateLimited.Error(), e.Operation, e.Key, e.RetryAfter)
}

func (e RateLimitError) Unwrap() error { return ErrRateLimited }
