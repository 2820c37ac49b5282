// Package retry wraps calls to the embedding and generation backends in a
// bounded exponential-backoff policy. The policy is built once from config and
// passed into each external-call site.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
}

func NewPolicy(maxAttempts int, initialInterval time.Duration) Policy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if initialInterval <= 0 {
		initialInterval = 500 * time.Millisecond
	}
	return Policy{MaxAttempts: maxAttempts, InitialInterval: initialInterval}
}

// Do runs op under the policy, retrying transient failures with exponential
// backoff until the attempt cap is reached or ctx is cancelled. Wrap an error
// in Permanent to stop early.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialInterval

	return backoff.Retry(ctx, func() (T, error) {
		return op(ctx)
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(p.MaxAttempts)))
}

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
