package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telhawk-systems/eventgate/internal/database"
	"github.com/telhawk-systems/eventgate/internal/harness"
	"github.com/telhawk-systems/eventgate/internal/models"
)

const upsertEventSQL = `
	INSERT INTO events
		(event_id, status, payload, metadata, correlation_id, event_timestamp, retry_count, created_at, updated_at)
	VALUES ($1, 'pending', $2, $3, $4, $5, $6, $7, $7)
	ON CONFLICT (event_id) DO UPDATE SET
		status          = 'pending',
		payload         = EXCLUDED.payload,
		metadata        = EXCLUDED.metadata,
		correlation_id  = EXCLUDED.correlation_id,
		event_timestamp = EXCLUDED.event_timestamp,
		retry_count     = EXCLUDED.retry_count,
		updated_at      = EXCLUDED.updated_at
`

const markStoredSQL = `
	UPDATE events
	SET status = 'success', stored_at = $2, updated_at = $2
	WHERE event_id = $1
	RETURNING event_id, status, payload, created_at, updated_at, stored_at, retry_count
`

const selectEventSQL = `
	SELECT event_id, status, payload, created_at, updated_at, stored_at, retry_count
	FROM events
	WHERE event_id = $1
`

type PostgresRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPostgresRepository(ctx context.Context, connString string) (*PostgresRepository, error) {
	pool, err := database.NewPool(ctx, connString, database.DefaultPoolConfig())
	if err != nil {
		return nil, err
	}
	return NewPostgresRepositoryFromPool(pool), nil
}

func NewPostgresRepositoryFromPool(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{
		pool: pool,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Store upserts the row as pending and promotes it to success in the same
// transaction. Postgres serializes concurrent upserts on the primary key, so
// the last committed write wins.
func (r *PostgresRepository) Store(ctx context.Context, event *models.Event) (*models.StoredEventRecord, error) {
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	now := r.now()

	var metadata any
	if len(event.Metadata) > 0 {
		metadata = []byte(event.Metadata)
	}
	var eventTime *time.Time
	if !event.Timestamp.IsZero() {
		ts := event.Timestamp.UTC()
		eventTime = &ts
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: begin transaction: %v", ErrStoreUnavailable, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, upsertEventSQL,
		event.EventID,
		[]byte(event.Payload),
		metadata,
		event.CorrelationID,
		eventTime,
		event.RetryAttempt,
		now,
	); err != nil {
		return nil, classifyStoreError(fmt.Sprintf("upsert event %s", event.EventID), err)
	}

	record, err := scanRecord(tx.QueryRow(ctx, markStoredSQL, event.EventID, now))
	if err != nil {
		return nil, classifyStoreError(fmt.Sprintf("mark event %s stored", event.EventID), err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: commit event %s: %v", ErrStoreUnavailable, event.EventID, err)
	}

	return record, nil
}

func (r *PostgresRepository) Get(ctx context.Context, eventID string) (*models.StoredEventRecord, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	record, err := scanRecord(r.pool.QueryRow(ctx, selectEventSQL, eventID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get event %s: %v", ErrStoreUnavailable, eventID, err)
	}
	return record, nil
}

func (r *PostgresRepository) Count(ctx context.Context) (int64, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count events: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}

// classifyStoreError separates rows Postgres will never accept (SQLSTATE
// class 22, data exception, e.g. 22P05 for \u0000 in jsonb) from failures
// worth retrying. The former are wrapped in ErrRejectedByStore and marked
// permanent so the step fails on its first attempt.
func classifyStoreError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "22") {
		return harness.Permanent(fmt.Errorf("%w: %s: %s (SQLSTATE %s)", ErrRejectedByStore, op, pgErr.Message, pgErr.Code))
	}
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

func scanRecord(row pgx.Row) (*models.StoredEventRecord, error) {
	var rec models.StoredEventRecord
	var status string
	var payload []byte

	if err := row.Scan(
		&rec.EventID,
		&status,
		&payload,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.StoredAt,
		&rec.RetryCount,
	); err != nil {
		return nil, err
	}

	rec.Status = models.RecordStatus(status)
	rec.Payload = payload
	return &rec, nil
}
