package engine

import (
	"context"
	"time"
)

// Default retry bounds.
const (
	DefaultMaxMutationAttempts = 3
	DefaultMaxPokeAttempts     = 3
)

// retry calls fn until it succeeds, returns an error retryable rejects, or
// attempts run out. It returns the last error and the number of attempts made.
// backoff is multiplied by the attempt number between attempts.
func retry(ctx context.Context, attempts int, backoff time.Duration, retryable func(error) bool, fn func() error) (int, error) {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil || !retryable(err) {
			return attempt, err
		}
		if attempt == attempts {
			return attempt, err
		}
		if backoff > 0 {
			select {
			case <-ctx.Done():
				return attempt, ctx.Err()
			case <-time.After(backoff * time.Duration(attempt)):
			}
		}
	}
	return attempts, err
}

func always(error) bool { return true }
