package models

import "time"

// RunStatus is the overall status of a pipeline run.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailure RunStatus = "failure"
)

// StepStatus is the outcome of a single pipeline step.
type StepStatus string

const (
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
)

// StepOutcome records one executed step of a pipeline run.
type StepOutcome struct {
	StepName   string     `json:"step"`
	Status     StepStatus `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	DurationMs int64      `json:"duration_ms"`
	Attempts   int        `json:"attempts"`
	Error      string     `json:"error,omitempty"`
}

// PipelineRun is the ephemeral trace of one event's processing. It is kept in
// memory and in logs only.
type PipelineRun struct {
	CorrelationID string        `json:"correlation_id"`
	EventID       string        `json:"event_id"`
	RetryAttempt  int           `json:"retry_attempt"`
	State         string        `json:"state"`
	Status        RunStatus     `json:"status"`
	Steps         []StepOutcome `json:"steps"`
	StartedAt     time.Time     `json:"started_at"`
	DurationMs    int64         `json:"duration_ms"`
	Error         string        `json:"error,omitempty"`
}

// Terminal reports whether the run reached success or failure.
func (r *PipelineRun) Terminal() bool {
	return r.Status == RunSuccess || r.Status == RunFailure
}
