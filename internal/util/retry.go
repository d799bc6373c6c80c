package util

import (
	"context"
	"time"
)

// DefaultRetryAttempts is the uniform bounded-retry attempt count applied to
// filesystem create/write operations (checkpoints, workspace materialization).
const DefaultRetryAttempts = 3

// DefaultRetryDelay is the fixed delay between retry attempts.
const DefaultRetryDelay = 100 * time.Millisecond

// Retry runs fn up to attempts times with a fixed delay between failures.
// It returns the number of attempts made together with the last error (nil on
// success). Context cancellation aborts the wait and is returned immediately.
func Retry(ctx context.Context, attempts int, delay time.Duration, fn func() error) (int, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt, err
		}
		if lastErr = fn(); lastErr == nil {
			return attempt, nil
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return attempt, ctx.Err()
		case <-time.After(delay):
		}
	}
	return attempts, lastErr
}
