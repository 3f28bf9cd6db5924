package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/eventgate/internal/dispatch"
	"github.com/telhawk-systems/eventgate/internal/logging"
	"github.com/telhawk-systems/eventgate/internal/middleware"
	"github.com/telhawk-systems/eventgate/internal/models"
	"github.com/telhawk-systems/eventgate/internal/ratelimit"
)

type recordingScheduler struct {
	mu     sync.Mutex
	events []*models.Event
	err    error
}

func (r *recordingScheduler) Schedule(_ context.Context, ev *models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, ev)
	return nil
}

func newService(t *testing.T, sched dispatch.Scheduler, sub, sample ratelimit.Config) *IngestService {
	t.Helper()
	limiter := ratelimit.NewMemoryLimiter(0)
	t.Cleanup(func() { _ = limiter.Close() })
	policies := ratelimit.NewPolicies(limiter, sub, sample, logging.Discard())
	return NewIngestService(policies, sched, logging.Discard())
}

func event(id string) *models.Event {
	return &models.Event{EventID: id, Payload: json.RawMessage(`{"a":1}`)}
}

func TestPolicyFor(t *testing.T) {
	tests := []struct {
		channel string
		want    string
		wantErr bool
	}{
		{channel: ChannelSubscription, want: ratelimit.PolicySubscription},
		{channel: ChannelSample, want: ratelimit.PolicySample},
		{channel: "webhook", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.channel, func(t *testing.T) {
			got, err := PolicyFor(tt.channel)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownChannel)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSubmit_AdmitsAndSchedulesOnce(t *testing.T) {
	sched := &recordingScheduler{}
	svc := newService(t, sched, ratelimit.DefaultSubscription, ratelimit.DefaultSample)

	ev := event("e1")
	ev.RetryAttempt = 4
	out, err := svc.SubmitSubscription(context.Background(), "1.2.3.4", ev)
	require.NoError(t, err)

	assert.True(t, out.Admitted)
	assert.Equal(t, 99, out.RateLimit.Remaining)
	assert.Equal(t, "e1", out.EventID)
	assert.NotEmpty(t, out.CorrelationID)

	require.Len(t, sched.events, 1)
	scheduled := sched.events[0]
	assert.Equal(t, out.CorrelationID, scheduled.CorrelationID)
	assert.Equal(t, 0, scheduled.RetryAttempt)
	assert.Equal(t, ChannelSubscription, scheduled.Channel)
	assert.False(t, scheduled.Timestamp.IsZero())
}

func TestSubmit_KeepsCallerCorrelationID(t *testing.T) {
	sched := &recordingScheduler{}
	svc := newService(t, sched, ratelimit.DefaultSubscription, ratelimit.DefaultSample)

	ev := event("e1")
	ev.CorrelationID = "from-body"
	out, err := svc.SubmitSample(context.Background(), "1.2.3.4", ev)
	require.NoError(t, err)
	assert.Equal(t, "from-body", out.CorrelationID)

	ctx := middleware.WithCorrelationID(context.Background(), "from-header")
	out, err = svc.SubmitSample(ctx, "1.2.3.4", event("e2"))
	require.NoError(t, err)
	assert.Equal(t, "from-header", out.CorrelationID)
}

func TestSubmit_KeepsCallerTimestamp(t *testing.T) {
	sched := &recordingScheduler{}
	svc := newService(t, sched, ratelimit.DefaultSubscription, ratelimit.DefaultSample)

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ev := event("e1")
	ev.Timestamp = ts
	_, err := svc.SubmitSample(context.Background(), "1.2.3.4", ev)
	require.NoError(t, err)
	assert.True(t, ts.Equal(sched.events[0].Timestamp))
}

func TestSubmit_RejectedSchedulesNothing(t *testing.T) {
	sched := &recordingScheduler{}
	svc := newService(t, sched, ratelimit.Config{Limit: 2, Window: time.Minute}, ratelimit.DefaultSample)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		out, err := svc.SubmitSubscription(ctx, "9.9.9.9", event("ok"))
		require.NoError(t, err)
		assert.True(t, out.Admitted)
	}

	out, err := svc.SubmitSubscription(ctx, "9.9.9.9", event("over"))
	require.NoError(t, err)
	assert.False(t, out.Admitted)
	assert.Equal(t, 0, out.RateLimit.Remaining)
	assert.Greater(t, out.RateLimit.RetryAfter, 0)
	assert.Len(t, sched.events, 2)
}

func TestSubmit_ChannelsUseSeparatePolicies(t *testing.T) {
	sched := &recordingScheduler{}
	svc := newService(t, sched, ratelimit.Config{Limit: 1, Window: time.Minute}, ratelimit.Config{Limit: 1, Window: time.Minute})
	ctx := context.Background()

	out, err := svc.SubmitSubscription(ctx, "1.1.1.1", event("a"))
	require.NoError(t, err)
	assert.True(t, out.Admitted)

	out, err = svc.SubmitSample(ctx, "1.1.1.1", event("b"))
	require.NoError(t, err)
	assert.True(t, out.Admitted, "sample policy is independent of subscription")

	out, err = svc.SubmitSubscription(ctx, "2.2.2.2", event("c"))
	require.NoError(t, err)
	assert.True(t, out.Admitted, "different IP has its own window")
}

func TestSubmit_ScheduleError(t *testing.T) {
	sched := &recordingScheduler{err: dispatch.ErrQueueFull}
	svc := newService(t, sched, ratelimit.DefaultSubscription, ratelimit.DefaultSample)

	out, err := svc.SubmitSample(context.Background(), "1.2.3.4", event("e1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, dispatch.ErrQueueFull))
	require.NotNil(t, out)
	assert.True(t, out.Admitted)
}

func TestSubmit_UnknownChannel(t *testing.T) {
	sched := &recordingScheduler{}
	svc := newService(t, sched, ratelimit.DefaultSubscription, ratelimit.DefaultSample)

	_, err := svc.Submit(context.Background(), "nope", "1.2.3.4", event("e1"))
	assert.ErrorIs(t, err, ErrUnknownChannel)
	assert.Empty(t, sched.events)
}
