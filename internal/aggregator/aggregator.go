// Package aggregator maintains the coarse aggregate counters in the key/value
// store.
//
// Each counter is an independent read-increment-write. Counters are not
// transactional with event storage, so a redelivered event is counted again
// while storage keeps a single row for it. Consumers of these numbers must
// treat them as approximate.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/telhawk-systems/eventgate/internal/kvstore"
	"github.com/telhawk-systems/eventgate/internal/models"
)

const (
	KeyTotal           = "events.total"
	KeyPending         = "events.pending"
	KeySuccess         = "events.success"
	KeyFailure         = "events.failure"
	KeyLastProcessedAt = "events.lastProcessedAt"
)

// ErrMetricsUnavailable marks a transient key/value failure. Callers retry it.
var ErrMetricsUnavailable = errors.New("metrics store unavailable")

type Aggregator struct {
	store kvstore.Store
	now   func() time.Time
}

func New(store kvstore.Store) *Aggregator {
	return &Aggregator{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source. Intended for tests.
func (a *Aggregator) SetClock(now func() time.Time) {
	a.now = now
}

// Progress tracks the writes of one execution that already landed. Passing
// the same Progress to a retried RecordProcessed skips those writes, so one
// execution charges each counter at most once. It is not safe for concurrent
// use.
type Progress struct {
	done map[string]bool
}

func NewProgress() *Progress {
	return &Progress{done: make(map[string]bool)}
}

// Done reports whether the write to key has landed.
func (p *Progress) Done(key string) bool {
	return p != nil && p.done[key]
}

func (p *Progress) mark(key string) {
	if p != nil {
		p.done[key] = true
	}
}

// RecordProcessed bumps events.total and events.pending and stamps
// lastProcessedAt. It runs once per pipeline execution; progress carries the
// completed writes across retries of that execution and may be nil for a
// single attempt.
func (a *Aggregator) RecordProcessed(ctx context.Context, _ *models.Event, progress *Progress) error {
	for _, key := range []string{KeyTotal, KeyPending} {
		if progress.Done(key) {
			continue
		}
		if err := a.increment(ctx, key); err != nil {
			return err
		}
		progress.mark(key)
	}
	if progress.Done(KeyLastProcessedAt) {
		return nil
	}
	if err := a.store.Put(ctx, KeyLastProcessedAt, a.now().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("%w: put %s: %v", ErrMetricsUnavailable, KeyLastProcessedAt, err)
	}
	progress.mark(KeyLastProcessedAt)
	return nil
}

// Snapshot reads every counter. Missing keys read as zero.
func (a *Aggregator) Snapshot(ctx context.Context) (*models.AggregateMetrics, error) {
	var m models.AggregateMetrics
	var err error

	if m.Total, err = a.read(ctx, KeyTotal); err != nil {
		return nil, err
	}
	if m.Pending, err = a.read(ctx, KeyPending); err != nil {
		return nil, err
	}
	if m.Success, err = a.read(ctx, KeySuccess); err != nil {
		return nil, err
	}
	if m.Failure, err = a.read(ctx, KeyFailure); err != nil {
		return nil, err
	}

	raw, err := a.store.Get(ctx, KeyLastProcessedAt)
	switch {
	case errors.Is(err, kvstore.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("%w: get %s: %v", ErrMetricsUnavailable, KeyLastProcessedAt, err)
	default:
		ts, perr := time.Parse(time.RFC3339Nano, raw)
		if perr != nil {
			return nil, fmt.Errorf("corrupt %s value %q: %w", KeyLastProcessedAt, raw, perr)
		}
		m.LastProcessedAt = &ts
	}

	return &m, nil
}

func (a *Aggregator) Ping(ctx context.Context) error {
	if err := a.store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrMetricsUnavailable, err)
	}
	return nil
}

func (a *Aggregator) increment(ctx context.Context, key string) error {
	n, err := a.read(ctx, key)
	if err != nil {
		return err
	}
	if err := a.store.Put(ctx, key, strconv.FormatInt(n+1, 10)); err != nil {
		return fmt.Errorf("%w: put %s: %v", ErrMetricsUnavailable, key, err)
	}
	return nil
}

func (a *Aggregator) read(ctx context.Context, key string) (int64, error) {
	raw, err := a.store.Get(ctx, key)
	if errors.Is(err, kvstore.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: get %s: %v", ErrMetricsUnavailable, key, err)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt counter %s value %q: %w", key, raw, err)
	}
	return n, nil
}
