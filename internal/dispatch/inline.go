package dispatch

import (
	"context"
	"sync"

	"github.com/telhawk-systems/eventgate/internal/dlq"
	"github.com/telhawk-systems/eventgate/internal/logging"
	"github.com/telhawk-systems/eventgate/internal/metrics"
	"github.com/telhawk-systems/eventgate/internal/models"
)

// InlineScheduler runs pipelines in-process on a fixed pool of workers fed by
// a bounded queue. There is no redelivery: a failed run is dead-lettered.
type InlineScheduler struct {
	runner Runner
	dlq    dlq.Writer
	logger *logging.Logger

	queue chan *models.Event
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewInlineScheduler starts workers goroutines. dlqWriter may be nil.
func NewInlineScheduler(runner Runner, dlqWriter dlq.Writer, workers, queueSize int, logger *logging.Logger) *InlineScheduler {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if logger == nil {
		logger = logging.Default()
	}

	s := &InlineScheduler{
		runner: runner,
		dlq:    dlqWriter,
		logger: logger,
		queue:  make(chan *models.Event, queueSize),
	}

	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}

	return s
}

// Schedule enqueues event without blocking. It fails with ErrQueueFull when
// every worker is busy and the queue is at capacity.
func (s *InlineScheduler) Schedule(_ context.Context, event *models.Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrSchedulerClosed
	}

	select {
	case s.queue <- event:
		metrics.QueueDepth.Inc()
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *InlineScheduler) worker() {
	defer s.wg.Done()

	for event := range s.queue {
		metrics.QueueDepth.Dec()
		s.process(event)
	}
}

func (s *InlineScheduler) process(event *models.Event) {
	// Runs are not tied to the request that scheduled them.
	ctx := context.Background()

	run, err := s.runner.Run(ctx, event)
	if err == nil || s.dlq == nil {
		return
	}

	if werr := s.dlq.Write(ctx, deadLetter(event, run, err, failureReason(err))); werr != nil {
		s.logger.Error("failed to dead-letter event",
			logging.EventID(event.EventID),
			logging.CorrelationID(event.CorrelationID),
			logging.Error(werr),
		)
	}
}

// Close stops accepting events and waits for queued runs to finish.
func (s *InlineScheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
}
