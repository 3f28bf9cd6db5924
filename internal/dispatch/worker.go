package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/telhawk-systems/eventgate/internal/dlq"
	"github.com/telhawk-systems/eventgate/internal/logging"
	"github.com/telhawk-systems/eventgate/internal/messaging"
	"github.com/telhawk-systems/eventgate/internal/models"
	"github.com/telhawk-systems/eventgate/internal/validator"
)

// Consumer delivers messages from a durable stream consumer.
type Consumer interface {
	ConsumeMessages(ctx context.Context, streamName, consumerName string, nakDelay time.Duration, handler messaging.MessageHandler) (func(), error)
}

// Worker runs one pipeline per delivered message. The delivery count drives
// retryAttempt, so a redelivered message carries retryAttempt = deliveries-1.
type Worker struct {
	runner     Runner
	dlq        dlq.Writer
	maxDeliver int
	logger     *logging.Logger
}

// NewWorker returns a worker. maxDeliver must match the consumer's MaxDeliver
// so the last delivery is dead-lettered instead of silently dropped.
func NewWorker(runner Runner, dlqWriter dlq.Writer, maxDeliver int, logger *logging.Logger) *Worker {
	if logger == nil {
		logger = logging.Default()
	}
	return &Worker{
		runner:     runner,
		dlq:        dlqWriter,
		maxDeliver: maxDeliver,
		logger:     logger,
	}
}

// Start consumes from streamName/consumerName until the returned stop
// function is called.
func (w *Worker) Start(ctx context.Context, c Consumer, streamName, consumerName string, nakDelay time.Duration) (func(), error) {
	return c.ConsumeMessages(ctx, streamName, consumerName, nakDelay, w.Handle)
}

// Handle processes one delivery. Success acks; validation failures and
// failures on the final delivery are dead-lettered and terminated; anything
// else is returned for redelivery.
func (w *Worker) Handle(ctx context.Context, msg *messaging.Message) error {
	var event models.Event
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		err = fmt.Errorf("decode event: %w", err)
		w.deadLetter(ctx, dlq.FailedEvent{
			Raw:           msg.Data,
			CorrelationID: msg.Metadata[messaging.HeaderCorrelationID],
			Error:         err.Error(),
			Reason:        dlq.ReasonMalformed,
			Attempts:      int(msg.NumDelivered),
		})
		return messaging.Terminal(err)
	}

	if event.CorrelationID == "" {
		event.CorrelationID = msg.Metadata[messaging.HeaderCorrelationID]
	}
	if msg.NumDelivered > 0 {
		event.RetryAttempt = int(msg.NumDelivered - 1)
	}

	run, err := w.runner.Run(ctx, &event)
	if err == nil {
		return nil
	}

	if validator.IsValidationError(err) {
		w.deadLetter(ctx, deadLetter(&event, run, err, dlq.ReasonValidation))
		return messaging.Terminal(err)
	}

	if w.maxDeliver > 0 && msg.NumDelivered >= uint64(w.maxDeliver) {
		w.deadLetter(ctx, deadLetter(&event, run, err, dlq.ReasonRetryExhausted))
		return messaging.Terminal(err)
	}

	w.logger.WarnContext(ctx, "pipeline run failed, requesting redelivery",
		logging.EventID(event.EventID),
		logging.RetryAttempt(event.RetryAttempt),
		logging.Error(err),
	)
	return err
}

func (w *Worker) deadLetter(ctx context.Context, failed dlq.FailedEvent) {
	if w.dlq == nil {
		return
	}
	if err := w.dlq.Write(ctx, failed); err != nil {
		w.logger.ErrorContext(ctx, "failed to dead-letter event",
			"reason", failed.Reason,
			logging.Error(err),
		)
	}
}
