package backoff

import (
	"context"
	"errors"
)

// ErrExhausted is returned when all retry attempts have been exhausted.
var ErrExhausted = errors.New("backoff: max retry attempts exhausted")

// Result holds the outcome of a retried operation.
type Result[T any] struct {
	Value     T
	Attempts  int
	LastError error
}

// Retry executes fn with exponential backoff between attempts. fn receives
// the current attempt number (1-indexed). Context cancellation is checked
// before every attempt and during the sleep between attempts.
func Retry[T any](
	ctx context.Context,
	policy Policy,
	maxAttempts int,
	fn func(attempt int) (T, error),
) (Result[T], error) {
	var result Result[T]

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt

		if err := ctx.Err(); err != nil {
			return result, err
		}

		value, err := fn(attempt)
		if err == nil {
			result.Value = value
			return result, nil
		}
		result.LastError = err

		if attempt < maxAttempts {
			if err := SleepForAttempt(ctx, policy, attempt); err != nil {
				return result, err
			}
		}
	}

	return result, ErrExhausted
}

// RetrySimple retries a side-effecting operation with the default policy.
func RetrySimple(ctx context.Context, maxAttempts int, fn func() error) error {
	_, err := Retry(ctx, DefaultPolicy(), maxAttempts, func(int) (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
