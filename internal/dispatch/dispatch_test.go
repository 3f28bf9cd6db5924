package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/eventgate/internal/aggregator"
	"github.com/telhawk-systems/eventgate/internal/dlq"
	"github.com/telhawk-systems/eventgate/internal/harness"
	"github.com/telhawk-systems/eventgate/internal/kvstore"
	"github.com/telhawk-systems/eventgate/internal/logging"
	"github.com/telhawk-systems/eventgate/internal/messaging"
	"github.com/telhawk-systems/eventgate/internal/models"
	"github.com/telhawk-systems/eventgate/internal/pipeline"
	"github.com/telhawk-systems/eventgate/internal/repository"
	"github.com/telhawk-systems/eventgate/internal/testutil"
)

type runnerFunc func(ctx context.Context, event *models.Event) (*models.PipelineRun, error)

func (f runnerFunc) Run(ctx context.Context, event *models.Event) (*models.PipelineRun, error) {
	return f(ctx, event)
}

type recordingDLQ struct {
	mu     sync.Mutex
	failed []dlq.FailedEvent
}

func (r *recordingDLQ) Write(_ context.Context, f dlq.FailedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, f)
	return nil
}

func (r *recordingDLQ) entries() []dlq.FailedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]dlq.FailedEvent(nil), r.failed...)
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []*messaging.Message
	err  error
}

func (f *fakePublisher) Publish(ctx context.Context, subject string, data []byte) error {
	return f.PublishMsg(ctx, &messaging.Message{Subject: subject, Data: data})
}

func (f *fakePublisher) PublishMsg(_ context.Context, msg *messaging.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

type env struct {
	repo     *testutil.FlakyRepository
	agg      *aggregator.Aggregator
	pipeline *pipeline.Pipeline
}

func newEnv(attempts int) *env {
	repo := testutil.NewFlakyRepository(repository.NewMemoryRepository())
	agg := aggregator.New(kvstore.NewMemoryStore())
	h := harness.NewBackoffHarness(harness.Policy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
	}, nil)
	return &env{repo: repo, agg: agg, pipeline: pipeline.New(repo, agg, h, logging.Discard())}
}

func testEvent(id string) *models.Event {
	return &models.Event{
		EventID:       id,
		Payload:       json.RawMessage(`{"plan":"pro"}`),
		CorrelationID: "corr-" + id,
		Channel:       "subscription",
		Timestamp:     time.Now().UTC(),
	}
}

func TestInlineScheduler_RunsPipeline(t *testing.T) {
	e := newEnv(2)
	s := NewInlineScheduler(e.pipeline, nil, 2, 10, logging.Discard())

	for _, id := range []string{"e1", "e2", "e3"} {
		require.NoError(t, s.Schedule(context.Background(), testEvent(id)))
	}
	s.Close()

	n, err := e.repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestInlineScheduler_QueueFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	runner := runnerFunc(func(context.Context, *models.Event) (*models.PipelineRun, error) {
		started <- struct{}{}
		<-release
		return &models.PipelineRun{Status: models.RunSuccess}, nil
	})

	s := NewInlineScheduler(runner, nil, 1, 1, logging.Discard())
	ctx := context.Background()

	require.NoError(t, s.Schedule(ctx, testEvent("busy")))
	<-started
	require.NoError(t, s.Schedule(ctx, testEvent("queued")))

	err := s.Schedule(ctx, testEvent("overflow"))
	assert.ErrorIs(t, err, ErrQueueFull)

	close(release)
	s.Close()
}

func TestInlineScheduler_ClosedRejects(t *testing.T) {
	s := NewInlineScheduler(newEnv(1).pipeline, nil, 1, 1, logging.Discard())
	s.Close()
	s.Close()

	err := s.Schedule(context.Background(), testEvent("late"))
	assert.ErrorIs(t, err, ErrSchedulerClosed)
}

func TestInlineScheduler_DeadLettersFailures(t *testing.T) {
	e := newEnv(2)
	e.repo.FailNext(100)
	sink := &recordingDLQ{}
	s := NewInlineScheduler(e.pipeline, sink, 1, 4, logging.Discard())

	bad := testEvent("")
	require.NoError(t, s.Schedule(context.Background(), bad))
	require.NoError(t, s.Schedule(context.Background(), testEvent("e1")))
	s.Close()

	entries := sink.entries()
	require.Len(t, entries, 2)
	assert.Equal(t, dlq.ReasonValidation, entries[0].Reason)
	assert.Equal(t, pipeline.StepValidate, entries[0].Step)
	assert.Equal(t, dlq.ReasonRetryExhausted, entries[1].Reason)
	assert.Equal(t, pipeline.StepStore, entries[1].Step)
	assert.Equal(t, 2, entries[1].Attempts)
}

func TestJetStreamScheduler_Publishes(t *testing.T) {
	pub := &fakePublisher{}
	s := NewJetStreamScheduler(pub)

	ev := testEvent("e1")
	require.NoError(t, s.Schedule(context.Background(), ev))

	require.Len(t, pub.msgs, 1)
	msg := pub.msgs[0]
	assert.Equal(t, "events.ingest.subscription", msg.Subject)
	assert.Equal(t, "corr-e1", msg.Metadata[messaging.HeaderCorrelationID])
	assert.Equal(t, "e1", msg.Metadata[messaging.HeaderEventID])

	var decoded models.Event
	require.NoError(t, json.Unmarshal(msg.Data, &decoded))
	assert.Equal(t, "e1", decoded.EventID)
	assert.JSONEq(t, `{"plan":"pro"}`, string(decoded.Payload))
}

func TestJetStreamScheduler_PublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("nats: no response from stream")}
	s := NewJetStreamScheduler(pub)

	err := s.Schedule(context.Background(), testEvent("e1"))
	assert.Error(t, err)
}

func delivery(t *testing.T, ev *models.Event, n uint64) *messaging.Message {
	t.Helper()
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	return &messaging.Message{
		Subject:      messaging.IngestSubject(ev.Channel),
		Data:         data,
		Metadata:     map[string]string{messaging.HeaderCorrelationID: ev.CorrelationID},
		NumDelivered: n,
	}
}

func TestWorker_Success(t *testing.T) {
	e := newEnv(1)
	w := NewWorker(e.pipeline, &recordingDLQ{}, 3, logging.Discard())

	err := w.Handle(context.Background(), delivery(t, testEvent("e1"), 1))
	assert.NoError(t, err)
	assert.Equal(t, messaging.DispositionAck, messaging.DispositionFor(err))

	rec, err := e.repo.Get(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, 0, rec.RetryCount)
}

func TestWorker_RetryAttemptFromDeliveryCount(t *testing.T) {
	var seen []int
	runner := runnerFunc(func(_ context.Context, ev *models.Event) (*models.PipelineRun, error) {
		seen = append(seen, ev.RetryAttempt)
		return &models.PipelineRun{Status: models.RunSuccess}, nil
	})
	w := NewWorker(runner, nil, 5, logging.Discard())

	for n := uint64(1); n <= 3; n++ {
		require.NoError(t, w.Handle(context.Background(), delivery(t, testEvent("e1"), n)))
	}
	assert.Equal(t, []int{0, 1, 2}, seen)
}

func TestWorker_ValidationFailureTerminates(t *testing.T) {
	e := newEnv(3)
	sink := &recordingDLQ{}
	w := NewWorker(e.pipeline, sink, 5, logging.Discard())

	ev := testEvent("e1")
	ev.Payload = json.RawMessage(`"just a string"`)
	err := w.Handle(context.Background(), delivery(t, ev, 1))

	assert.Equal(t, messaging.DispositionTerm, messaging.DispositionFor(err))
	require.Len(t, sink.entries(), 1)
	assert.Equal(t, dlq.ReasonValidation, sink.entries()[0].Reason)
	assert.Equal(t, "corr-e1", sink.entries()[0].CorrelationID)
}

func TestWorker_TransientFailureRedelivers(t *testing.T) {
	e := newEnv(2)
	e.repo.FailNext(2)
	sink := &recordingDLQ{}
	w := NewWorker(e.pipeline, sink, 3, logging.Discard())

	err := w.Handle(context.Background(), delivery(t, testEvent("e1"), 1))
	require.Error(t, err)
	assert.Equal(t, messaging.DispositionNak, messaging.DispositionFor(err))
	assert.ErrorIs(t, err, repository.ErrStoreUnavailable)
	assert.Empty(t, sink.entries())

	err = w.Handle(context.Background(), delivery(t, testEvent("e1"), 2))
	require.NoError(t, err)

	rec, err := e.repo.Get(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.RetryCount)
}

func TestWorker_LastDeliveryDeadLetters(t *testing.T) {
	e := newEnv(1)
	e.repo.FailNext(100)
	sink := &recordingDLQ{}
	w := NewWorker(e.pipeline, sink, 3, logging.Discard())

	err := w.Handle(context.Background(), delivery(t, testEvent("e1"), 3))

	assert.Equal(t, messaging.DispositionTerm, messaging.DispositionFor(err))
	require.Len(t, sink.entries(), 1)
	assert.Equal(t, dlq.ReasonRetryExhausted, sink.entries()[0].Reason)
	assert.Equal(t, 2, sink.entries()[0].Event.RetryAttempt)
}

func TestWorker_MalformedMessage(t *testing.T) {
	sink := &recordingDLQ{}
	w := NewWorker(newEnv(1).pipeline, sink, 3, logging.Discard())

	err := w.Handle(context.Background(), &messaging.Message{
		Subject:      "events.ingest.sample",
		Data:         []byte("{not json"),
		NumDelivered: 1,
	})

	assert.Equal(t, messaging.DispositionTerm, messaging.DispositionFor(err))
	require.Len(t, sink.entries(), 1)
	assert.Equal(t, dlq.ReasonMalformed, sink.entries()[0].Reason)
	assert.Equal(t, []byte("{not json"), sink.entries()[0].Raw)
}

func TestWorker_RedeliveryConvergesOnOneRow(t *testing.T) {
	e := newEnv(1)
	w := NewWorker(e.pipeline, nil, 5, logging.Discard())
	ctx := context.Background()

	require.NoError(t, w.Handle(ctx, delivery(t, testEvent("e1"), 1)))
	require.NoError(t, w.Handle(ctx, delivery(t, testEvent("e1"), 2)))

	n, _ := e.repo.Count(ctx)
	assert.Equal(t, int64(1), n)

	snap, err := e.agg.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.Total)
}

type fakeConsumer struct {
	stream, consumer string
	handler          messaging.MessageHandler
}

func (f *fakeConsumer) ConsumeMessages(_ context.Context, stream, consumer string, _ time.Duration, h messaging.MessageHandler) (func(), error) {
	f.stream, f.consumer, f.handler = stream, consumer, h
	return func() {}, nil
}

func TestWorker_Start(t *testing.T) {
	e := newEnv(1)
	w := NewWorker(e.pipeline, nil, 5, logging.Discard())
	c := &fakeConsumer{}

	stop, err := w.Start(context.Background(), c, messaging.StreamEvents, messaging.ConsumerWorkers, time.Second)
	require.NoError(t, err)
	defer stop()

	assert.Equal(t, "EVENTS", c.stream)
	assert.Equal(t, "eventgate-workers", c.consumer)
	require.NotNil(t, c.handler)
	assert.NoError(t, c.handler(context.Background(), delivery(t, testEvent("e9"), 1)))
}
