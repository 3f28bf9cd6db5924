package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Process-level metrics. These are independent of the durable aggregate
// counters kept in the key/value store.
var (
	// Admission control
	RateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventgate_ratelimit_decisions_total",
			Help: "Rate limit decisions by policy and outcome",
		},
		[]string{"policy", "outcome"},
	)

	RateLimitWindows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventgate_ratelimit_windows",
			Help: "Number of rate limit windows held in memory",
		},
	)

	// Front door
	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventgate_events_received_total",
			Help: "Events received by channel and result",
		},
		[]string{"channel", "result"},
	)

	// Pipeline
	PipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventgate_pipeline_runs_total",
			Help: "Pipeline runs by terminal status",
		},
		[]string{"status"},
	)

	PipelineRunsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventgate_pipeline_runs_in_flight",
			Help: "Pipeline runs currently executing",
		},
	)

	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eventgate_pipeline_step_duration_seconds",
			Help:    "Duration of pipeline steps including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"step"},
	)

	StepAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventgate_pipeline_step_attempts_total",
			Help: "Pipeline step attempts by step and outcome",
		},
		[]string{"step", "outcome"},
	)

	// Dead letter queue
	DLQWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventgate_dlq_writes_total",
			Help: "Events written to the dead letter queue by reason",
		},
		[]string{"reason"},
	)

	// Scheduling
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventgate_inline_queue_depth",
			Help: "Current depth of the inline scheduling queue",
		},
	)
)
