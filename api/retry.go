package api

import (
	"context"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/warp/fulfillment-engine/generic"
)

// =============================================================================
// STORE RETRY
// =============================================================================

// RetryPolicy bounds how often a handler re-runs an operation that failed
// with a store error (lock timeout, dropped connection, busy database).
type RetryPolicy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy is used when Options leaves the policy empty.
var DefaultRetryPolicy = RetryPolicy{
	MaxTries:        4,
	InitialInterval: 50 * time.Millisecond,
	MaxInterval:     time.Second,
}

// idempotency says whether an operation may be re-run after a commit
// failure whose outcome is unknown.
type idempotency bool

const (
	// dedupSafe operations carry an idempotency key or a unique pair, so
	// a replay after an ambiguous commit cannot apply twice.
	dedupSafe idempotency = true
	// notDedupSafe operations only retry failures known not to have committed.
	notDedupSafe idempotency = false
)

// withRetry runs op, retrying retryable store errors with exponential
// backoff. Every other error ends the loop immediately.
func withRetry[T any](ctx context.Context, p RetryPolicy, mode idempotency, op func() (T, error)) (T, error) {
	if p.MaxTries == 0 {
		p = DefaultRetryPolicy
	}
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}

	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := op()
		if err == nil {
			return v, nil
		}
		if !generic.IsRetryable(err) || (generic.IsAmbiguous(err) && mode == notDedupSafe) {
			return v, backoff.Permanent(err)
		}
		log.Printf("[Retry] attempt %d failed: %v", attempt, err)
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(p.MaxTries))
}
