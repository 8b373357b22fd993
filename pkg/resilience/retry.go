package resilience

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy defines retry behavior for transient failures.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

func NewRetryPolicy(maxRetries int, backoff time.Duration) RetryPolicy {
	if maxRetries <= 0 {
		maxRetries = 2
	}
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return RetryPolicy{MaxRetries: maxRetries, Backoff: backoff}
}

// Do runs fn until it succeeds or retries are exhausted, backing off between
// attempts. It stops early when ctx is cancelled.
func (r RetryPolicy) Do(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i <= r.MaxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if i == r.MaxRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.Backoff):
		}
	}
	return err
}

// RateLimitError marks a provider 429 so callers can back off instead of
// hammering the vendor.
type RateLimitError struct {
	Provider string
	Message  string
}

func (e RateLimitError) Error() string {
	return fmt.Sprintf("%s rate limited: %s", e.Provider, e.Message)
}
