// Package harness executes named pipeline steps with bounded, backed-off
// retries. The pipeline only decides step boundaries; the retry policy lives
// here.
package harness

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/telhawk-systems/eventgate/internal/metrics"
)

// StepFunc is one attempt of a step.
type StepFunc func(ctx context.Context) error

// Harness runs a step until it succeeds, fails permanently, or runs out of
// attempts. It returns the number of attempts made and the last error.
type Harness interface {
	Execute(ctx context.Context, step string, fn StepFunc) (int, error)
}

// Permanent marks err as not retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Policy bounds retries for every step.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// StepTimeout bounds a single attempt. Zero disables it.
	StepTimeout time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     5,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		StepTimeout:     10 * time.Second,
	}
}

// RetryHook is called before each retry with the failed attempt number.
type RetryHook func(step string, attempt int, err error, wait time.Duration)

type BackoffHarness struct {
	policy  Policy
	onRetry RetryHook
}

func NewBackoffHarness(policy Policy, onRetry RetryHook) *BackoffHarness {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &BackoffHarness{policy: policy, onRetry: onRetry}
}

func (h *BackoffHarness) newBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = h.policy.InitialInterval
	eb.MaxInterval = h.policy.MaxInterval
	// Attempts, not elapsed time, bound the retry budget.
	eb.MaxElapsedTime = 0
	eb.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(h.policy.MaxAttempts-1)), ctx)
}

func (h *BackoffHarness) Execute(ctx context.Context, step string, fn StepFunc) (int, error) {
	attempts := 0

	operation := func() error {
		attempts++
		err := h.attempt(ctx, fn)
		switch {
		case err == nil:
			metrics.StepAttempts.WithLabelValues(step, "success").Inc()
		case isPermanent(err):
			metrics.StepAttempts.WithLabelValues(step, "permanent").Inc()
		default:
			metrics.StepAttempts.WithLabelValues(step, "error").Inc()
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		if h.onRetry != nil {
			h.onRetry(step, attempts, err, wait)
		}
	}

	err := backoff.RetryNotify(operation, h.newBackOff(ctx), notify)
	return attempts, err
}

func (h *BackoffHarness) attempt(ctx context.Context, fn StepFunc) error {
	if h.policy.StepTimeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, h.policy.StepTimeout)
	defer cancel()
	return fn(ctx)
}

func isPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}
