package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/telhawk-systems/eventgate/internal/logging"
	"github.com/telhawk-systems/eventgate/internal/metrics"
)

const (
	PolicySubscription = "subscription"
	PolicySample       = "sample"
)

var (
	DefaultSubscription = Config{Limit: 100, Window: time.Hour}
	DefaultSample       = Config{Limit: 60, Window: time.Minute}
)

var ErrUnknownPolicy = errors.New("unknown rate limit policy")

// Key builds the admission key for a policy and client IP.
func Key(policy, ip string) string {
	return policy + ":" + ip
}

// Policies binds named limit configurations to a Limiter.
type Policies struct {
	limiter Limiter
	configs map[string]Config
	logger  *logging.Logger
}

// NewPolicies registers the subscription and sample policies.
func NewPolicies(limiter Limiter, subscription, sample Config, logger *logging.Logger) *Policies {
	if logger == nil {
		logger = logging.Default()
	}
	return &Policies{
		limiter: limiter,
		configs: map[string]Config{
			PolicySubscription: subscription,
			PolicySample:       sample,
		},
		logger: logger,
	}
}

// Config returns the configuration registered for policy.
func (p *Policies) Config(policy string) (Config, error) {
	cfg, ok := p.configs[policy]
	if !ok {
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownPolicy, policy)
	}
	return cfg, nil
}

// Check counts one request from ip against policy.
func (p *Policies) Check(ctx context.Context, policy, ip string) (Result, error) {
	cfg, err := p.Config(policy)
	if err != nil {
		return Result{}, err
	}

	res, err := p.limiter.Check(ctx, Key(policy, ip), cfg)
	if err != nil {
		metrics.RateLimitDecisions.WithLabelValues(policy, "error").Inc()
		return Result{}, err
	}

	if res.Allowed {
		metrics.RateLimitDecisions.WithLabelValues(policy, "allowed").Inc()
	} else {
		metrics.RateLimitDecisions.WithLabelValues(policy, "rejected").Inc()
		p.logger.InfoContext(ctx, "rate limit exceeded",
			logging.Policy(policy),
			logging.IP(ip),
			"retry_after", res.RetryAfter,
		)
	}
	return res, nil
}

// CheckSubscription applies the subscription policy (100 per hour by default).
func (p *Policies) CheckSubscription(ctx context.Context, ip string) (Result, error) {
	return p.Check(ctx, PolicySubscription, ip)
}

// CheckSample applies the sample policy (60 per minute by default).
func (p *Policies) CheckSample(ctx context.Context, ip string) (Result, error) {
	return p.Check(ctx, PolicySample, ip)
}

// Status reports the window for ip under policy without counting.
func (p *Policies) Status(ctx context.Context, policy, ip string) (Result, error) {
	cfg, err := p.Config(policy)
	if err != nil {
		return Result{}, err
	}
	return p.limiter.GetStatus(ctx, Key(policy, ip), cfg)
}

// Reset clears the window for ip under policy.
func (p *Policies) Reset(ctx context.Context, policy, ip string) error {
	if _, err := p.Config(policy); err != nil {
		return err
	}
	return p.limiter.Reset(ctx, Key(policy, ip))
}
