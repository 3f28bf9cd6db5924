package models

import (
	"encoding/json"
	"time"
)

// Event is a single externally submitted event. EventID is the idempotency key;
// CorrelationID is only used for tracing.
type Event struct {
	EventID       string          `json:"event_id"`
	Payload       json.RawMessage `json:"payload"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	RetryAttempt  int             `json:"retry_attempt"`
	Channel       string          `json:"channel,omitempty"`
}

// RecordStatus is the lifecycle status of a stored event row.
type RecordStatus string

const (
	RecordPending RecordStatus = "pending"
	RecordSuccess RecordStatus = "success"
	RecordFailure RecordStatus = "failure"
)

// StoredEventRecord is the durable projection of an Event, keyed by EventID.
type StoredEventRecord struct {
	EventID    string          `json:"event_id"`
	Status     RecordStatus    `json:"status"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	StoredAt   *time.Time      `json:"stored_at,omitempty"`
	RetryCount int             `json:"retry_count"`
}

// AggregateMetrics is a snapshot of the durable counters. The counters are
// incremented once per pipeline execution, so redelivered events are counted
// again while storage keeps one row per event id.
type AggregateMetrics struct {
	Total           int64      `json:"events_total"`
	Pending         int64      `json:"events_pending"`
	Success         int64      `json:"events_success"`
	Failure         int64      `json:"events_failure"`
	LastProcessedAt *time.Time `json:"last_processed_at,omitempty"`
}
