// Package retry provides a single retry executor parameterized by policy,
// shared by every adapter that talks to an external collaborator.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/HariharanV1992/crawlweave/internal/domain"
)

// Policy fixes the retry attempt budget and backoff schedule.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy makes up to 3 attempts (at most 2 retries) on transient
// backend failures, with exponential backoff capped at 10 seconds.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}
}

// Do runs fn, retrying while the returned error is a *domain.TransientBackendError,
// for at most policy.MaxAttempts calls in total, with exponential backoff plus jitter. Any other
// error kind is returned immediately without retry.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoff(policy, attempt)
			select {
			case <-ctx.Done():
				return domain.NewCancelledError("context done while backing off")
			case <-time.After(delay):
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		var transient *domain.TransientBackendError
		if !errors.As(err, &transient) {
			return err
		}
	}
	return lastErr
}

func backoff(policy Policy, attempt int) time.Duration {
	delay := policy.BaseDelay << uint(attempt-1)
	if delay > policy.MaxDelay || delay <= 0 {
		delay = policy.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 2 + 1))
	return delay/2 + jitter
}
