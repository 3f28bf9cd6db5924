// Package testutil wraps the storage backends with fault injection so that
// retry, exhaustion and DLQ paths can be driven from tests in any package.
//
//	repo := testutil.NewFlakyRepository(repository.NewMemoryRepository())
//	repo.FailNext(2) // the next two Store calls return ErrStoreUnavailable
package testutil

import (
	"context"
	"sync"

	"github.com/telhawk-systems/eventgate/internal/kvstore"
	"github.com/telhawk-systems/eventgate/internal/models"
	"github.com/telhawk-systems/eventgate/internal/repository"
)

// FlakyRepository fails a configured number of Store calls before delegating.
type FlakyRepository struct {
	repository.Repository

	mu       sync.Mutex
	failNext int
	failures int
}

func NewFlakyRepository(inner repository.Repository) *FlakyRepository {
	return &FlakyRepository{Repository: inner}
}

// FailNext makes the next n Store calls return repository.ErrStoreUnavailable.
func (r *FlakyRepository) FailNext(n int) {
	r.mu.Lock()
	r.failNext = n
	r.mu.Unlock()
}

// Failures counts Store calls that were failed on purpose.
func (r *FlakyRepository) Failures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures
}

func (r *FlakyRepository) Store(ctx context.Context, event *models.Event) (*models.StoredEventRecord, error) {
	r.mu.Lock()
	if r.failNext > 0 {
		r.failNext--
		r.failures++
		r.mu.Unlock()
		return nil, repository.ErrStoreUnavailable
	}
	r.mu.Unlock()
	return r.Repository.Store(ctx, event)
}

// FlakyStore fails every KV operation while an error is set.
type FlakyStore struct {
	kvstore.Store

	mu  sync.RWMutex
	err error
}

func NewFlakyStore(inner kvstore.Store) *FlakyStore {
	return &FlakyStore{Store: inner}
}

// SetError makes Get, Put and Ping return err until cleared with nil.
func (s *FlakyStore) SetError(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *FlakyStore) fault() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

func (s *FlakyStore) Get(ctx context.Context, key string) (string, error) {
	if err := s.fault(); err != nil {
		return "", err
	}
	return s.Store.Get(ctx, key)
}

func (s *FlakyStore) Put(ctx context.Context, key, value string) error {
	if err := s.fault(); err != nil {
		return err
	}
	return s.Store.Put(ctx, key, value)
}

func (s *FlakyStore) Ping(ctx context.Context) error {
	if err := s.fault(); err != nil {
		return err
	}
	return s.Store.Ping(ctx)
}
