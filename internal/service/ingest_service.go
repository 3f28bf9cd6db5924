// Package service is the ingestion front door: it admits events under the
// channel's rate-limit policy and schedules one pipeline run per admitted
// event.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/telhawk-systems/eventgate/internal/dispatch"
	"github.com/telhawk-systems/eventgate/internal/logging"
	"github.com/telhawk-systems/eventgate/internal/metrics"
	"github.com/telhawk-systems/eventgate/internal/middleware"
	"github.com/telhawk-systems/eventgate/internal/models"
	"github.com/telhawk-systems/eventgate/internal/ratelimit"
)

// Submission channels.
const (
	ChannelSubscription = "subscription"
	ChannelSample       = "sample"
)

var ErrUnknownChannel = errors.New("unknown submission channel")

// PolicyFor returns the rate-limit policy guarding channel.
func PolicyFor(channel string) (string, error) {
	switch channel {
	case ChannelSubscription:
		return ratelimit.PolicySubscription, nil
	case ChannelSample:
		return ratelimit.PolicySample, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}
}

// Outcome is the front door decision for one submission.
type Outcome struct {
	Admitted      bool
	RateLimit     ratelimit.Result
	CorrelationID string
	EventID       string
}

type IngestService struct {
	policies  *ratelimit.Policies
	scheduler dispatch.Scheduler
	logger    *logging.Logger
	now       func() time.Time
}

func NewIngestService(policies *ratelimit.Policies, scheduler dispatch.Scheduler, logger *logging.Logger) *IngestService {
	if logger == nil {
		logger = logging.Default()
	}
	return &IngestService{
		policies:  policies,
		scheduler: scheduler,
		logger:    logger,
		now:       time.Now,
	}
}

// Submit checks the rate limit for ip on channel. A rejected submission
// returns Admitted=false and schedules nothing. An admitted one gets a
// correlation id (kept if the caller sent one), retryAttempt 0, and exactly
// one scheduled pipeline run.
func (s *IngestService) Submit(ctx context.Context, channel, ip string, event *models.Event) (*Outcome, error) {
	policy, err := PolicyFor(channel)
	if err != nil {
		return nil, err
	}

	if event.CorrelationID == "" {
		event.CorrelationID = middleware.GetCorrelationID(ctx)
	}
	if event.CorrelationID == "" {
		event.CorrelationID = middleware.NewCorrelationID()
	}
	ctx = middleware.WithCorrelationID(ctx, event.CorrelationID)

	res, err := s.policies.Check(ctx, policy, ip)
	if err != nil {
		metrics.EventsReceived.WithLabelValues(channel, "error").Inc()
		return nil, fmt.Errorf("rate limit check: %w", err)
	}

	out := &Outcome{
		Admitted:      res.Allowed,
		RateLimit:     res,
		CorrelationID: event.CorrelationID,
		EventID:       event.EventID,
	}
	if !res.Allowed {
		metrics.EventsReceived.WithLabelValues(channel, "rejected").Inc()
		return out, nil
	}

	event.Channel = channel
	event.RetryAttempt = 0
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now().UTC()
	}

	if err := s.scheduler.Schedule(ctx, event); err != nil {
		metrics.EventsReceived.WithLabelValues(channel, "schedule_failed").Inc()
		s.logger.ErrorContext(ctx, "failed to schedule pipeline run",
			logging.EventID(event.EventID),
			logging.Policy(policy),
			logging.Error(err),
		)
		return out, fmt.Errorf("schedule: %w", err)
	}

	metrics.EventsReceived.WithLabelValues(channel, "admitted").Inc()
	s.logger.InfoContext(ctx, "event admitted",
		logging.EventID(event.EventID),
		logging.Policy(policy),
		logging.IP(ip),
	)
	return out, nil
}

// SubmitSubscription is Submit on the subscription channel.
func (s *IngestService) SubmitSubscription(ctx context.Context, ip string, event *models.Event) (*Outcome, error) {
	return s.Submit(ctx, ChannelSubscription, ip, event)
}

// SubmitSample is Submit on the sample channel.
func (s *IngestService) SubmitSample(ctx context.Context, ip string, event *models.Event) (*Outcome, error) {
	return s.Submit(ctx, ChannelSample, ip, event)
}
