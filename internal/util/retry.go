// Package util provides shared utility functions for i2pmgr.
package util

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v4"

	"i2pmgr/internal/common"
)

// ControlRetryOptions returns retry options for control API calls. Uses
// linear backoff (100ms, 200ms, 300ms) suitable for the daemon briefly
// rebuilding its tunnel table after a command.
func ControlRetryOptions(ctx context.Context) []retry.Option {
	return []retry.Option{
		retry.Attempts(3),
		retry.Delay(100 * time.Millisecond),
		retry.MaxDelay(300 * time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(IsControlFailure),
		retry.Context(ctx),
	}
}

// DefaultRetryOptions returns sensible defaults for retry operations.
func DefaultRetryOptions(ctx context.Context) []retry.Option {
	return []retry.Option{
		retry.Attempts(3),
		retry.Delay(100 * time.Millisecond),
		retry.MaxDelay(1 * time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
	}
}

// Retry executes fn with retry logic.
// Returns the last error if all attempts fail.
func Retry(ctx context.Context, fn func() error, opts ...retry.Option) error {
	if len(opts) == 0 {
		opts = DefaultRetryOptions(ctx)
	}
	return retry.Do(fn, opts...)
}

// RetryWithResult executes fn with retry logic and returns the result.
func RetryWithResult[T any](ctx context.Context, fn func() (T, error), opts ...retry.Option) (T, error) {
	if len(opts) == 0 {
		opts = DefaultRetryOptions(ctx)
	}
	return retry.DoWithData(fn, opts...)
}

// Common retry predicates

// IsControlFailure returns true if the error is a transient control API
// failure (network or parse error talking to the daemon).
func IsControlFailure(err error) bool {
	return errors.Is(err, common.ErrControlRequest)
}
