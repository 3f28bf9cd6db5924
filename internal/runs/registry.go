// Package runs keeps recent pipeline runs in memory so they can be inspected
// by correlation id. Nothing here is persisted.
package runs

import (
	"sync"
	"time"

	"github.com/telhawk-systems/eventgate/internal/models"
)

type entry struct {
	run       models.PipelineRun
	updatedAt time.Time
}

// Registry implements pipeline.Observer.
type Registry struct {
	runs      map[string]*entry
	mu        sync.RWMutex
	ttl       time.Duration
	now       func() time.Time
	cleanupCh chan struct{}
	closeOnce sync.Once
}

// NewRegistry starts a sweeper that drops runs not updated within ttl.
func NewRegistry(ttl time.Duration) *Registry {
	r := &Registry{
		runs:      make(map[string]*entry),
		ttl:       ttl,
		now:       time.Now,
		cleanupCh: make(chan struct{}),
	}

	go r.cleanupLoop(sweepInterval(ttl))

	return r
}

func sweepInterval(ttl time.Duration) time.Duration {
	interval := ttl / 2
	if interval > time.Minute {
		interval = time.Minute
	}
	if interval <= 0 {
		interval = time.Second
	}
	return interval
}

// RunStarted records a run in the running state. A later run for the same
// correlation id replaces the earlier one.
func (r *Registry) RunStarted(run models.PipelineRun) {
	r.put(run)
}

// RunFinished records the terminal state of a run.
func (r *Registry) RunFinished(run models.PipelineRun) {
	r.put(run)
}

func (r *Registry) put(run models.PipelineRun) {
	if run.CorrelationID == "" {
		return
	}
	r.mu.Lock()
	r.runs[run.CorrelationID] = &entry{run: run, updatedAt: r.now()}
	r.mu.Unlock()
}

// Get returns the latest run for correlationID.
func (r *Registry) Get(correlationID string) (models.PipelineRun, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.runs[correlationID]
	if !ok {
		return models.PipelineRun{}, false
	}
	return e.run, true
}

// Running returns the number of tracked runs that have not finished.
func (r *Registry) Running() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, e := range r.runs {
		if !e.run.Terminal() {
			count++
		}
	}
	return count
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runs)
}

func (r *Registry) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.cleanup()
		case <-r.cleanupCh:
			return
		}
	}
}

// cleanup drops runs older than the ttl and returns how many were removed.
func (r *Registry) cleanup() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.ttl)
	removed := 0
	for id, e := range r.runs {
		if e.updatedAt.Before(cutoff) {
			delete(r.runs, id)
			removed++
		}
	}
	return removed
}

// Close stops the sweeper. It is safe to call more than once.
func (r *Registry) Close() {
	r.closeOnce.Do(func() { close(r.cleanupCh) })
}
