// Package dispatch hands admitted events to the pipeline, either in-process
// through a bounded worker pool or through JetStream for at-least-once
// delivery to separate workers.
package dispatch

import (
	"context"
	"errors"

	"github.com/telhawk-systems/eventgate/internal/dlq"
	"github.com/telhawk-systems/eventgate/internal/models"
	"github.com/telhawk-systems/eventgate/internal/pipeline"
	"github.com/telhawk-systems/eventgate/internal/validator"
)

var (
	ErrQueueFull       = errors.New("scheduling queue is full")
	ErrSchedulerClosed = errors.New("scheduler is closed")
)

// Scheduler schedules exactly one pipeline run for an admitted event.
type Scheduler interface {
	Schedule(ctx context.Context, event *models.Event) error
}

// Runner executes a pipeline run.
type Runner interface {
	Run(ctx context.Context, event *models.Event) (*models.PipelineRun, error)
}

// deadLetter builds the DLQ record for a failed run.
func deadLetter(event *models.Event, run *models.PipelineRun, err error, reason string) dlq.FailedEvent {
	failed := dlq.FailedEvent{
		Event:  event,
		Step:   pipeline.FailedStep(err),
		Error:  err.Error(),
		Reason: reason,
	}
	if run != nil {
		failed.CorrelationID = run.CorrelationID
		for _, s := range run.Steps {
			if s.StepName == failed.Step {
				failed.Attempts = s.Attempts
			}
		}
	}
	return failed
}

func failureReason(err error) string {
	if validator.IsValidationError(err) {
		return dlq.ReasonValidation
	}
	return dlq.ReasonRetryExhausted
}
