// Package retry runs calls to external services under a bounded exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hyperjump/compliagent/internal/fault"
)

// Policy bounds the retries of a single external call.
type Policy struct {
	// MaxAttempts counts the first call. Values below 1 mean a single attempt.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// CallTimeout bounds each attempt. Zero means no per-attempt timeout.
	CallTimeout time.Duration
}

// DefaultPolicy is three attempts starting at one second.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		CallTimeout:     2 * time.Minute,
	}
}

// Notify is called before each retry with the failed attempt number and its error.
type Notify func(attempt int, err error, wait time.Duration)

// Do calls op until it succeeds, returns a non-transient error, or the attempt budget runs out.
// Only errors classified as fault.KindTransient are retried. The last error is returned as-is.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error, notify Notify) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)

	attempt := 0
	var last error
	err := backoff.RetryNotify(func() error {
		attempt++
		callCtx, cancel := callContext(ctx, p.CallTimeout)
		defer cancel()
		err := op(callCtx)
		if err == nil {
			return nil
		}
		last = err
		if !fault.IsTransient(err) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		if notify != nil {
			notify(attempt, err, wait)
		}
	})
	if err != nil && last != nil && ctx.Err() != nil {
		// Prefer the call error over the bare context error so callers keep the detail.
		return last
	}
	return err
}

func callContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
