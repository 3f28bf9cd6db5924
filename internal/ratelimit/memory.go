package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/telhawk-systems/eventgate/internal/metrics"
)

const shardCount = 32

// window is the fixed-window state for one key.
type window struct {
	count   int
	resetAt time.Time
}

type shard struct {
	mu      sync.Mutex
	windows map[string]*window
}

// MemoryLimiter keeps the window table in process memory. The table is split
// into shards; every read-modify-write on a key happens under its shard lock.
type MemoryLimiter struct {
	shards [shardCount]*shard
	now    func() time.Time

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// MemoryOption configures a MemoryLimiter.
type MemoryOption func(*MemoryLimiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryLimiter) {
		m.now = now
	}
}

// NewMemoryLimiter creates an in-memory limiter. If cleanupInterval is
// positive a background goroutine calls Cleanup on that interval until Close.
func NewMemoryLimiter(cleanupInterval time.Duration, opts ...MemoryOption) *MemoryLimiter {
	m := &MemoryLimiter{
		now:  time.Now,
		done: make(chan struct{}),
	}
	for i := range m.shards {
		m.shards[i] = &shard{windows: make(map[string]*window)}
	}
	for _, opt := range opts {
		opt(m)
	}

	if cleanupInterval > 0 {
		m.wg.Add(1)
		go m.cleanupLoop(cleanupInterval)
	}
	return m
}

func (m *MemoryLimiter) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return m.shards[h.Sum32()%shardCount]
}

// Check increments the counter for key, opening a fresh window when none
// exists or the current one has expired.
func (m *MemoryLimiter) Check(_ context.Context, key string, cfg Config) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}

	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := m.now()
	w, ok := s.windows[key]
	if !ok || !now.Before(w.resetAt) {
		if !ok {
			metrics.RateLimitWindows.Inc()
		}
		w = &window{resetAt: now.Add(cfg.Window)}
		s.windows[key] = w
	}

	// Stop counting once the window is saturated.
	if w.count <= cfg.Limit {
		w.count++
	}

	return checkResult(w.count, cfg, w.resetAt, now), nil
}

// GetStatus reports the window state for key without mutating it.
func (m *MemoryLimiter) GetStatus(_ context.Context, key string, cfg Config) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}

	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := m.now()
	w, ok := s.windows[key]
	if !ok || !now.Before(w.resetAt) {
		return statusResult(0, cfg, now.Add(cfg.Window), now), nil
	}
	return statusResult(w.count, cfg, w.resetAt, now), nil
}

func (m *MemoryLimiter) Reset(_ context.Context, key string) error {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.windows[key]; ok {
		delete(s.windows, key)
		metrics.RateLimitWindows.Dec()
	}
	return nil
}

func (m *MemoryLimiter) ResetAll(_ context.Context) error {
	for _, s := range m.shards {
		s.mu.Lock()
		metrics.RateLimitWindows.Sub(float64(len(s.windows)))
		s.windows = make(map[string]*window)
		s.mu.Unlock()
	}
	return nil
}

// Cleanup removes windows whose reset time has passed.
func (m *MemoryLimiter) Cleanup(_ context.Context) (int, error) {
	removed := 0
	for _, s := range m.shards {
		s.mu.Lock()
		now := m.now()
		for key, w := range s.windows {
			if !now.Before(w.resetAt) {
				delete(s.windows, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	metrics.RateLimitWindows.Sub(float64(removed))
	return removed, nil
}

// Len returns the number of windows currently held.
func (m *MemoryLimiter) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.Lock()
		n += len(s.windows)
		s.mu.Unlock()
	}
	return n
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	m.wg.Wait()
	return nil
}

func (m *MemoryLimiter) cleanupLoop(interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, _ = m.Cleanup(context.Background())
		}
	}
}
