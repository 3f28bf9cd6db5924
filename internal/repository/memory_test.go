package repository

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/eventgate/internal/models"
)

func newEvent(id, payload string) *models.Event {
	return &models.Event{
		EventID:       id,
		Payload:       json.RawMessage(payload),
		Timestamp:     time.Now().UTC(),
		CorrelationID: "corr-" + id,
	}
}

func TestMemoryRepository_StoreInsertsNewRow(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	rec, err := repo.Store(ctx, newEvent("e1", `{"a":1}`))
	require.NoError(t, err)

	assert.Equal(t, "e1", rec.EventID)
	assert.Equal(t, models.RecordSuccess, rec.Status)
	assert.JSONEq(t, `{"a":1}`, string(rec.Payload))
	require.NotNil(t, rec.StoredAt)
	assert.False(t, rec.CreatedAt.IsZero())

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemoryRepository_UpsertIsIdempotent(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	first, err := repo.Store(ctx, newEvent("e1", `{"v":"first"}`))
	require.NoError(t, err)

	second := newEvent("e1", `{"v":"second"}`)
	second.RetryAttempt = 2
	rec, err := repo.Store(ctx, second)
	require.NoError(t, err)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "same event id must map to one row")

	assert.JSONEq(t, `{"v":"second"}`, string(rec.Payload))
	assert.Equal(t, 2, rec.RetryCount)
	assert.Equal(t, first.CreatedAt, rec.CreatedAt)
	assert.False(t, rec.UpdatedAt.Before(first.UpdatedAt))

	got, err := repo.Get(ctx, "e1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":"second"}`, string(got.Payload))
}

func TestMemoryRepository_GetNotFound(t *testing.T) {
	repo := NewMemoryRepository()

	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestMemoryRepository_CancelledContext(t *testing.T) {
	repo := NewMemoryRepository()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.Store(ctx, newEvent("e1", `{}`))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestMemoryRepository_ConcurrentUpserts(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Store(ctx, newEvent("same", `{"x":true}`))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	rec, err := repo.Store(ctx, newEvent("e1", `{}`))
	require.NoError(t, err)
	rec.Status = models.RecordFailure

	got, err := repo.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, models.RecordSuccess, got.Status)
}
