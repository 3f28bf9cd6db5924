package repository

import (
	"context"
	"sync"
	"time"

	"github.com/telhawk-systems/eventgate/internal/models"
)

// MemoryRepository is an in-process Repository for development and tests.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]*models.StoredEventRecord
	now     func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		records: make(map[string]*models.StoredEventRecord),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepository) Store(ctx context.Context, event *models.Event) (*models.StoredEventRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	payload := append([]byte(nil), event.Payload...)

	rec, ok := r.records[event.EventID]
	if !ok {
		rec = &models.StoredEventRecord{
			EventID:   event.EventID,
			CreatedAt: now,
		}
		r.records[event.EventID] = rec
	}
	rec.Payload = payload
	rec.RetryCount = event.RetryAttempt
	rec.Status = models.RecordSuccess
	rec.UpdatedAt = now
	stored := now
	rec.StoredAt = &stored

	out := *rec
	return &out, nil
}

func (r *MemoryRepository) Get(_ context.Context, eventID string) (*models.StoredEventRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[eventID]
	if !ok {
		return nil, ErrEventNotFound
	}
	out := *rec
	return &out, nil
}

func (r *MemoryRepository) Count(context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.records)), nil
}

func (r *MemoryRepository) Ping(context.Context) error {
	return nil
}

func (r *MemoryRepository) Close() {}
