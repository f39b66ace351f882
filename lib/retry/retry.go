// Package retry re-runs whole operations against the portal with a capped
// exponential backoff. Operations are retried from scratch, never resumed.
package retry

import (
	"context"
	"errors"
	"time"

	"paulemploi-bot/internal/components/telemetry"

	"github.com/cenkalti/backoff/v4"
)

const report_retry_attempt = "retry.attempt"

// Policy caps how an operation is retried.
type Policy struct {
	// MaxAttempts counts the first attempt, 1 means no retry.
	MaxAttempts int
	// BaseDelay is the wait before the second attempt, doubled for every following one.
	BaseDelay time.Duration
	// MaxDelay caps a single wait.
	MaxDelay time.Duration
	// MaxElapsed caps the total time spent, 0 means no cap.
	MaxElapsed time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 4,
		BaseDelay:   30 * time.Second,
		MaxDelay:    5 * time.Minute,
		MaxElapsed:  20 * time.Minute,
	}
}

// Permanent wraps err so that WithRetry returns it immediately.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

func (p Policy) backoff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.BaseDelay
	exp.MaxInterval = p.MaxDelay
	exp.MaxElapsedTime = p.MaxElapsed
	exp.Multiplier = 2
	exp.RandomizationFactor = 0

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)
}

// WithRetry runs op until it succeeds, returns a permanent error, the context
// is cancelled or the policy is exhausted. The last error is returned.
func WithRetry[T any](ctx context.Context, policy Policy, tel telemetry.API, name string, op func(ctx context.Context) (T, error)) (T, error) {
	attempt := 0
	operation := func() (T, error) {
		attempt++
		res, err := op(ctx)
		if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}
	notify := func(err error, wait time.Duration) {
		tel.ReportWarning(report_retry_attempt, name, attempt, err, wait.String())
	}
	return backoff.RetryNotifyWithData(operation, policy.backoff(ctx), notify)
}

// Do is WithRetry for operations without a result.
func Do(ctx context.Context, policy Policy, tel telemetry.API, name string, op func(ctx context.Context) error) error {
	_, err := WithRetry(ctx, policy, tel, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
