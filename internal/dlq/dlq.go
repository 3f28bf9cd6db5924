// Package dlq records events whose pipeline run failed for good.
package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/telhawk-systems/eventgate/internal/logging"
	"github.com/telhawk-systems/eventgate/internal/messaging"
	"github.com/telhawk-systems/eventgate/internal/messaging/nats"
	"github.com/telhawk-systems/eventgate/internal/metrics"
	"github.com/telhawk-systems/eventgate/internal/models"
)

// Reasons used as the last subject token.
const (
	ReasonValidation     = "validation"
	ReasonRetryExhausted = "retry_exhausted"
	ReasonMalformed      = "malformed"
)

// FailedEvent is the DLQ record.
type FailedEvent struct {
	Timestamp     time.Time     `json:"timestamp"`
	Event         *models.Event `json:"event,omitempty"`
	Raw           []byte        `json:"raw,omitempty"`
	CorrelationID string        `json:"correlation_id,omitempty"`
	Step          string        `json:"step,omitempty"`
	Error         string        `json:"error"`
	Reason        string        `json:"reason"`
	Attempts      int           `json:"attempts"`
}

// Writer accepts failed events.
type Writer interface {
	Write(ctx context.Context, failed FailedEvent) error
}

type streamInfoFunc func(ctx context.Context) (*jetstream.StreamInfo, error)

// JetStreamQueue publishes failed events to events.dlq.<reason>. A nil queue
// drops writes, which is how a disabled DLQ behaves.
type JetStreamQueue struct {
	pub     messaging.Publisher
	info    streamInfoFunc
	logger  *logging.Logger
	written uint64
}

// NewJetStreamQueue ensures the DLQ stream exists and returns a queue on it.
func NewJetStreamQueue(ctx context.Context, js *nats.JetStreamClient, logger *logging.Logger) (*JetStreamQueue, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream client is nil")
	}

	stream, err := js.CreateOrUpdateStream(ctx, nats.DLQStream)
	if err != nil {
		return nil, fmt.Errorf("create dlq stream: %w", err)
	}

	q := NewQueue(js, logger)
	q.info = func(ctx context.Context) (*jetstream.StreamInfo, error) {
		return stream.Info(ctx)
	}
	q.logger.Info("dlq stream ready", "stream", nats.DLQStream.Name)
	return q, nil
}

// NewQueue returns a queue publishing through pub.
func NewQueue(pub messaging.Publisher, logger *logging.Logger) *JetStreamQueue {
	if logger == nil {
		logger = logging.Default()
	}
	return &JetStreamQueue{pub: pub, logger: logger}
}

func (q *JetStreamQueue) Write(ctx context.Context, failed FailedEvent) error {
	if q == nil {
		return nil
	}

	if failed.Timestamp.IsZero() {
		failed.Timestamp = time.Now().UTC()
	}
	if failed.Event != nil && failed.CorrelationID == "" {
		failed.CorrelationID = failed.Event.CorrelationID
	}

	data, err := json.Marshal(failed)
	if err != nil {
		return fmt.Errorf("marshal dlq entry: %w", err)
	}

	msg := &messaging.Message{
		Subject: messaging.DLQSubject(failed.Reason),
		Data:    data,
	}
	if failed.CorrelationID != "" {
		msg.Metadata = map[string]string{messaging.HeaderCorrelationID: failed.CorrelationID}
	}

	if err := q.pub.PublishMsg(ctx, msg); err != nil {
		q.logger.ErrorContext(ctx, "failed to publish dlq entry",
			"reason", failed.Reason,
			logging.Error(err),
		)
		return err
	}

	atomic.AddUint64(&q.written, 1)
	metrics.DLQWrites.WithLabelValues(failed.Reason).Inc()
	q.logger.WarnContext(ctx, "event dead-lettered",
		"reason", failed.Reason,
		logging.Step(failed.Step),
		"attempts", failed.Attempts,
	)
	return nil
}

// Written returns the number of entries published by this process.
func (q *JetStreamQueue) Written() uint64 {
	if q == nil {
		return 0
	}
	return atomic.LoadUint64(&q.written)
}

// Stats returns DLQ state, including stream totals when available.
func (q *JetStreamQueue) Stats(ctx context.Context) map[string]interface{} {
	if q == nil {
		return map[string]interface{}{
			"enabled": false,
			"backend": "jetstream",
		}
	}

	stats := map[string]interface{}{
		"enabled":       true,
		"backend":       "jetstream",
		"written_local": q.Written(),
	}
	if q.info == nil {
		return stats
	}

	info, err := q.info(ctx)
	if err != nil {
		stats["error"] = err.Error()
		return stats
	}
	stats["total_messages"] = info.State.Msgs
	stats["total_bytes"] = info.State.Bytes
	stats["first_seq"] = info.State.FirstSeq
	stats["last_seq"] = info.State.LastSeq
	return stats
}
