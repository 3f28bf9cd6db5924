// Package pipeline runs one event through validation, storage and metrics
// as a small state machine. Each step is retried on its own by the harness;
// a failing step never causes earlier steps to run again.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/telhawk-systems/eventgate/internal/harness"
	"github.com/telhawk-systems/eventgate/internal/logging"
	"github.com/telhawk-systems/eventgate/internal/metrics"
	"github.com/telhawk-systems/eventgate/internal/middleware"
	"github.com/telhawk-systems/eventgate/internal/models"
)

type State string

const (
	StatePending          State = "pending"
	StateValidating       State = "validating"
	StateStoring          State = "storing"
	StateRecordingMetrics State = "recording_metrics"
	StateSuccess          State = "success"
	StateFailed           State = "failed"
)

// StepError is the terminal error of a failed run.
type StepError struct {
	Step     string
	Attempts int
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed after %d attempt(s): %v", e.Step, e.Attempts, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// FailedStep returns the step name carried by err, if any.
func FailedStep(err error) string {
	var se *StepError
	if errors.As(err, &se) {
		return se.Step
	}
	return ""
}

// Observer is notified when a run starts and when it reaches a terminal state.
// Both calls receive a snapshot the observer may keep.
type Observer interface {
	RunStarted(run models.PipelineRun)
	RunFinished(run models.PipelineRun)
}

type stage struct {
	state State
	step  Step
}

type Pipeline struct {
	stages   []stage
	harness  harness.Harness
	observer Observer
	logger   *logging.Logger
	now      func() time.Time
}

// New wires the three steps in their fixed order.
func New(store EventStore, recorder MetricsRecorder, h harness.Harness, logger *logging.Logger) *Pipeline {
	return NewWithSteps(ValidateStep(), StoreStep(store), MetricsStep(recorder), h, logger)
}

func NewWithSteps(validate, store, record Step, h harness.Harness, logger *logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.Default()
	}
	return &Pipeline{
		stages: []stage{
			{state: StateValidating, step: validate},
			{state: StateStoring, step: store},
			{state: StateRecordingMetrics, step: record},
		},
		harness: h,
		logger:  logger,
		now:     time.Now,
	}
}

func (p *Pipeline) SetObserver(o Observer) {
	p.observer = o
}

// Run drives event to a terminal state. The returned run is always non-nil;
// the error is a *StepError when the run failed.
func (p *Pipeline) Run(ctx context.Context, event *models.Event) (*models.PipelineRun, error) {
	start := p.now()

	if event.CorrelationID == "" {
		event.CorrelationID = middleware.NewCorrelationID()
	}
	ctx = middleware.WithCorrelationID(ctx, event.CorrelationID)

	run := &models.PipelineRun{
		CorrelationID: event.CorrelationID,
		EventID:       event.EventID,
		RetryAttempt:  event.RetryAttempt,
		State:         string(StatePending),
		Status:        models.RunRunning,
		StartedAt:     start.UTC(),
	}

	metrics.PipelineRunsInFlight.Inc()
	defer metrics.PipelineRunsInFlight.Dec()

	if p.observer != nil {
		p.observer.RunStarted(*run)
	}

	for _, st := range p.stages {
		p.transition(ctx, run, st.state)

		step := st.step
		if rs, ok := step.(runScoped); ok {
			step = rs.ForRun()
		}

		stepStart := p.now()
		attempts, err := p.harness.Execute(ctx, step.Name(), func(ctx context.Context) error {
			return step.Run(ctx, event)
		})
		elapsed := p.now().Sub(stepStart)
		metrics.StepDuration.WithLabelValues(st.step.Name()).Observe(elapsed.Seconds())

		outcome := models.StepOutcome{
			StepName:   st.step.Name(),
			Status:     models.StepSucceeded,
			StartedAt:  stepStart.UTC(),
			DurationMs: elapsed.Milliseconds(),
			Attempts:   attempts,
		}

		if err != nil {
			outcome.Status = models.StepFailed
			outcome.Error = err.Error()
			run.Steps = append(run.Steps, outcome)

			p.logger.WarnContext(ctx, "pipeline step failed",
				logging.EventID(event.EventID),
				logging.RetryAttempt(event.RetryAttempt),
				logging.Step(st.step.Name()),
				logging.Duration(elapsed),
				logging.Status(models.StepFailed),
				"attempts", attempts,
				logging.Error(err),
			)

			stepErr := &StepError{Step: st.step.Name(), Attempts: attempts, Err: err}
			run.Error = stepErr.Error()
			p.finish(ctx, run, StateFailed, models.RunFailure, start)
			return run, stepErr
		}

		run.Steps = append(run.Steps, outcome)
		p.logger.InfoContext(ctx, "pipeline step succeeded",
			logging.EventID(event.EventID),
			logging.RetryAttempt(event.RetryAttempt),
			logging.Step(st.step.Name()),
			logging.Duration(elapsed),
			logging.Status(models.StepSucceeded),
			"attempts", attempts,
		)
	}

	p.finish(ctx, run, StateSuccess, models.RunSuccess, start)
	return run, nil
}

func (p *Pipeline) transition(ctx context.Context, run *models.PipelineRun, to State) {
	from := run.State
	run.State = string(to)
	p.logger.DebugContext(ctx, "pipeline transition",
		logging.EventID(run.EventID),
		logging.RetryAttempt(run.RetryAttempt),
		"from", from,
		logging.State(string(to)),
	)
}

func (p *Pipeline) finish(ctx context.Context, run *models.PipelineRun, to State, status models.RunStatus, start time.Time) {
	p.transition(ctx, run, to)
	run.Status = status
	total := p.now().Sub(start)
	run.DurationMs = total.Milliseconds()

	metrics.PipelineRuns.WithLabelValues(string(status)).Inc()

	attrs := []any{
		logging.EventID(run.EventID),
		logging.RetryAttempt(run.RetryAttempt),
		logging.Status(status),
		logging.Duration(total),
	}
	if status == models.RunFailure {
		attrs = append(attrs, slog.String(logging.FieldError, run.Error))
		p.logger.ErrorContext(ctx, "pipeline run failed", attrs...)
	} else {
		p.logger.InfoContext(ctx, "pipeline run succeeded", attrs...)
	}

	if p.observer != nil {
		snapshot := *run
		snapshot.Steps = append([]models.StepOutcome(nil), run.Steps...)
		p.observer.RunFinished(snapshot)
	}
}
