// Package repository is the idempotent store writer: events are upserted by
// event id so that redelivery converges on a single row.
package repository

import (
	"context"
	"errors"

	"github.com/telhawk-systems/eventgate/internal/models"
)

var (
	// ErrStoreUnavailable marks a transient storage failure. Callers retry it.
	ErrStoreUnavailable = errors.New("event store unavailable")
	// ErrRejectedByStore marks an event the store can never persist as sent.
	// Retrying it is pointless.
	ErrRejectedByStore = errors.New("event rejected by store")
	ErrEventNotFound   = errors.New("event not found")
)

// Repository persists StoredEventRecords keyed by event id.
type Repository interface {
	// Store upserts the event. An existing row for the same event id is
	// overwritten in place; a new row is inserted otherwise. The returned
	// record reflects the committed row.
	Store(ctx context.Context, event *models.Event) (*models.StoredEventRecord, error)
	// Get returns the row for eventID or ErrEventNotFound.
	Get(ctx context.Context, eventID string) (*models.StoredEventRecord, error)
	// Count returns the number of stored rows.
	Count(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
	Close()
}
