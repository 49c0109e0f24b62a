package retry

import (
	"context"
	"time"
)

// Do executes fn up to attempts times with exponential backoff starting at
// baseDelay. It stops early if the context is canceled.
func Do(ctx context.Context, attempts int, baseDelay time.Duration, fn func() error) error {
	return DoIf(ctx, attempts, baseDelay, func(error) bool { return true }, fn)
}

// DoIf is Do, but gives up at once on errors retryable rejects.
func DoIf(ctx context.Context, attempts int, baseDelay time.Duration, retryable func(error) bool, fn func() error) error {
	var err error
	delay := baseDelay

	for i := 0; i < attempts; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err = fn(); err == nil {
			return nil
		}

		if i == attempts-1 || !retryable(err) {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
