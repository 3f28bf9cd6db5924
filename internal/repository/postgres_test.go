package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/telhawk-systems/eventgate/internal/models"
	"github.com/telhawk-systems/eventgate/migrations"
)

// setupTestDatabase starts a PostgreSQL container and applies the embedded
// migrations. The test is skipped when Docker is not available.
func setupTestDatabase(t *testing.T) *PostgresRepository {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("eventgate_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("skipping integration test - cannot start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, migrations.Up(connStr))

	repo, err := NewPostgresRepository(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(repo.Close)

	return repo
}

func TestNewPostgresRepository_InvalidConnString(t *testing.T) {
	_, err := NewPostgresRepository(context.Background(), "invalid://connection")
	assert.Error(t, err)
}

func TestClassifyStoreError(t *testing.T) {
	t.Run("data exception is permanent", func(t *testing.T) {
		err := classifyStoreError("upsert event e1", &pgconn.PgError{
			Code:    "22P05",
			Message: "unsupported Unicode escape sequence",
		})

		var perm *backoff.PermanentError
		require.ErrorAs(t, err, &perm)
		assert.ErrorIs(t, err, ErrRejectedByStore)
		assert.NotErrorIs(t, err, ErrStoreUnavailable)
		assert.Contains(t, err.Error(), "22P05")
	})

	t.Run("other sqlstate classes stay transient", func(t *testing.T) {
		err := classifyStoreError("upsert event e1", &pgconn.PgError{Code: "40001", Message: "serialization failure"})

		var perm *backoff.PermanentError
		assert.False(t, errors.As(err, &perm))
		assert.ErrorIs(t, err, ErrStoreUnavailable)
	})

	t.Run("connection failure stays transient", func(t *testing.T) {
		err := classifyStoreError("upsert event e1", errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"))

		var perm *backoff.PermanentError
		assert.False(t, errors.As(err, &perm))
		assert.ErrorIs(t, err, ErrStoreUnavailable)
	})
}

func TestPostgresRepository_Store(t *testing.T) {
	repo := setupTestDatabase(t)
	ctx := context.Background()

	ev := newEvent("e1", `{"plan":"pro"}`)
	ev.Metadata = []byte(`{"source":"test"}`)

	rec, err := repo.Store(ctx, ev)
	require.NoError(t, err)

	assert.Equal(t, "e1", rec.EventID)
	assert.Equal(t, models.RecordSuccess, rec.Status)
	assert.JSONEq(t, `{"plan":"pro"}`, string(rec.Payload))
	require.NotNil(t, rec.StoredAt)
	assert.Equal(t, 0, rec.RetryCount)

	got, err := repo.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, rec.EventID, got.EventID)
	assert.Equal(t, models.RecordSuccess, got.Status)
}

func TestPostgresRepository_UpsertConverges(t *testing.T) {
	repo := setupTestDatabase(t)
	ctx := context.Background()

	first, err := repo.Store(ctx, newEvent("e1", `{"v":1}`))
	require.NoError(t, err)

	retry := newEvent("e1", `{"v":2}`)
	retry.RetryAttempt = 1
	retry.Metadata = nil
	second, err := repo.Store(ctx, retry)
	require.NoError(t, err)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.JSONEq(t, `{"v":2}`, string(second.Payload))
	assert.Equal(t, 1, second.RetryCount)
	assert.True(t, first.CreatedAt.Equal(second.CreatedAt))
	assert.False(t, second.UpdatedAt.Before(first.UpdatedAt))
}

func TestPostgresRepository_ConcurrentUpserts(t *testing.T) {
	repo := setupTestDatabase(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Store(ctx, newEvent("shared", `{"ok":true}`))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPostgresRepository_StoreRejectsNulInJSONB(t *testing.T) {
	repo := setupTestDatabase(t)
	ctx := context.Background()

	_, err := repo.Store(ctx, newEvent("e-nul", `{"note":"a\u0000b"}`))
	require.Error(t, err)

	var perm *backoff.PermanentError
	assert.ErrorAs(t, err, &perm)
	assert.ErrorIs(t, err, ErrRejectedByStore)

	_, err = repo.Get(ctx, "e-nul")
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestPostgresRepository_GetNotFound(t *testing.T) {
	repo := setupTestDatabase(t)

	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestPostgresRepository_Ping(t *testing.T) {
	repo := setupTestDatabase(t)
	assert.NoError(t, repo.Ping(context.Background()))
}
