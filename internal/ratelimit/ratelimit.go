// Package ratelimit implements fixed-window admission control keyed by an
// arbitrary string (typically a policy name plus client IP).
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

var ErrInvalidConfig = errors.New("invalid rate limit config")

// Config is a per-call-site limit policy.
type Config struct {
	Limit  int
	Window time.Duration
}

// Validate ensures limit and window are positive.
func (c Config) Validate() error {
	if c.Limit <= 0 {
		return fmt.Errorf("%w: limit must be > 0, got %d", ErrInvalidConfig, c.Limit)
	}
	if c.Window <= 0 {
		return fmt.Errorf("%w: window must be > 0, got %s", ErrInvalidConfig, c.Window)
	}
	return nil
}

// Result is the outcome of a check or status lookup.
// RetryAfter is in whole seconds and only set when Allowed is false.
type Result struct {
	Allowed    bool      `json:"allowed" yaml:"allowed"`
	Remaining  int       `json:"remaining" yaml:"remaining"`
	Limit      int       `json:"limit" yaml:"limit"`
	ResetAt    time.Time `json:"reset_at" yaml:"reset_at"`
	RetryAfter int       `json:"retry_after,omitempty" yaml:"retry_after,omitempty"`
}

// ResetAtMillis returns ResetAt as epoch milliseconds.
func (r Result) ResetAtMillis() int64 {
	return r.ResetAt.UnixMilli()
}

// Limiter is a fixed-window rate limiter.
//
// Methods take no correlation id argument. It travels in ctx, set by
// middleware.WithCorrelationID, and logging.Logger's *Context methods
// attach it to every line logged about the decision.
type Limiter interface {
	// Check counts one request against key and reports whether it is admitted.
	Check(ctx context.Context, key string, cfg Config) (Result, error)
	// GetStatus reports the state of key without counting a request.
	GetStatus(ctx context.Context, key string, cfg Config) (Result, error)
	// Reset deletes the window for key.
	Reset(ctx context.Context, key string) error
	// ResetAll deletes every window.
	ResetAll(ctx context.Context) error
	// Cleanup deletes expired windows and returns how many were removed.
	Cleanup(ctx context.Context) (int, error)
	Close() error
}

// checkResult evaluates a window after its count has been incremented.
func checkResult(count int, cfg Config, resetAt, now time.Time) Result {
	if count <= cfg.Limit {
		return Result{
			Allowed:   true,
			Remaining: cfg.Limit - count,
			Limit:     cfg.Limit,
			ResetAt:   resetAt,
		}
	}
	return Result{
		Allowed:    false,
		Remaining:  0,
		Limit:      cfg.Limit,
		ResetAt:    resetAt,
		RetryAfter: retryAfterSeconds(resetAt, now, cfg.Window),
	}
}

// statusResult evaluates a window without counting a request. Allowed reports
// whether the next Check would be admitted.
func statusResult(count int, cfg Config, resetAt, now time.Time) Result {
	if count < cfg.Limit {
		return Result{
			Allowed:   true,
			Remaining: cfg.Limit - count,
			Limit:     cfg.Limit,
			ResetAt:   resetAt,
		}
	}
	return Result{
		Allowed:    false,
		Remaining:  0,
		Limit:      cfg.Limit,
		ResetAt:    resetAt,
		RetryAfter: retryAfterSeconds(resetAt, now, cfg.Window),
	}
}

// retryAfterSeconds is ceil(resetAt-now) in seconds, clamped to [1, ceil(window)].
func retryAfterSeconds(resetAt, now time.Time, window time.Duration) int {
	secs := int(math.Ceil(resetAt.Sub(now).Seconds()))
	maxSecs := int(math.Ceil(window.Seconds()))
	if maxSecs < 1 {
		maxSecs = 1
	}
	if secs < 1 {
		secs = 1
	}
	if secs > maxSecs {
		secs = maxSecs
	}
	return secs
}

// NoOpLimiter admits everything. Used when rate limiting is disabled.
type NoOpLimiter struct{}

func (NoOpLimiter) Check(_ context.Context, _ string, cfg Config) (Result, error) {
	return Result{Allowed: true, Remaining: cfg.Limit, Limit: cfg.Limit, ResetAt: time.Now().Add(cfg.Window)}, nil
}

func (n NoOpLimiter) GetStatus(ctx context.Context, key string, cfg Config) (Result, error) {
	return n.Check(ctx, key, cfg)
}

func (NoOpLimiter) Reset(context.Context, string) error  { return nil }
func (NoOpLimiter) ResetAll(context.Context) error       { return nil }
func (NoOpLimiter) Cleanup(context.Context) (int, error) { return 0, nil }
func (NoOpLimiter) Close() error                         { return nil }
