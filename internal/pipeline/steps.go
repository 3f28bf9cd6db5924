package pipeline

import (
	"context"

	"github.com/telhawk-systems/eventgate/internal/aggregator"
	"github.com/telhawk-systems/eventgate/internal/harness"
	"github.com/telhawk-systems/eventgate/internal/models"
	"github.com/telhawk-systems/eventgate/internal/validator"
)

const (
	StepValidate      = "validate"
	StepStore         = "store"
	StepRecordMetrics = "record_metrics"
)

// Step is one independently retryable unit of the pipeline.
type Step interface {
	Name() string
	Run(ctx context.Context, event *models.Event) error
}

// EventStore is the part of the repository the store step needs.
type EventStore interface {
	Store(ctx context.Context, event *models.Event) (*models.StoredEventRecord, error)
}

// MetricsRecorder is the part of the aggregator the metrics step needs.
type MetricsRecorder interface {
	RecordProcessed(ctx context.Context, event *models.Event, progress *aggregator.Progress) error
}

// runScoped is implemented by steps that keep state across the attempts of
// one run. The pipeline calls ForRun once per run and retries the result.
type runScoped interface {
	ForRun() Step
}

type validateStep struct{}

func ValidateStep() Step { return validateStep{} }

func (validateStep) Name() string { return StepValidate }

func (validateStep) Run(_ context.Context, event *models.Event) error {
	if err := validator.Validate(event); err != nil {
		return harness.Permanent(err)
	}
	return nil
}

type storeStep struct {
	store EventStore
}

func StoreStep(store EventStore) Step { return &storeStep{store: store} }

func (s *storeStep) Name() string { return StepStore }

func (s *storeStep) Run(ctx context.Context, event *models.Event) error {
	_, err := s.store.Store(ctx, event)
	return err
}

type metricsStep struct {
	recorder MetricsRecorder
	progress *aggregator.Progress
}

func MetricsStep(recorder MetricsRecorder) Step { return &metricsStep{recorder: recorder} }

func (s *metricsStep) Name() string { return StepRecordMetrics }

// ForRun returns a copy that remembers which counters it already charged.
func (s *metricsStep) ForRun() Step {
	return &metricsStep{recorder: s.recorder, progress: aggregator.NewProgress()}
}

func (s *metricsStep) Run(ctx context.Context, event *models.Event) error {
	return s.recorder.RecordProcessed(ctx, event, s.progress)
}
