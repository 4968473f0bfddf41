// Package provider defines the storage interfaces the collector depends on.
package provider

import (
	"context"
	"time"

	"github.com/dwsmith1983/tally/pkg/types"
)

// EntitySource lists the entities to collect. Results are ordered by
// publication time, then by ID. A non-nil cutoff keeps only entities
// published at or before it.
type EntitySource interface {
	ListEntities(ctx context.Context, cutoff *time.Time) ([]types.EntityID, error)
}

// EntityWriter registers entities with a source.
type EntityWriter interface {
	AddEntities(ctx context.Context, entities []types.Entity) error
}

// MetricsStore persists daily records. BulkUpsert is idempotent on
// (EntityID, Date): a later write for a key replaces the earlier one.
type MetricsStore interface {
	BulkUpsert(ctx context.Context, records []types.MetricsRecord) error
}

// MetricsReader reads back a stored record. It returns nil when absent.
type MetricsReader interface {
	GetMetrics(ctx context.Context, entity types.EntityID, date string) (*types.MetricsRecord, error)
}

// CheckpointStore records the last fully completed day of a backfill job.
type CheckpointStore interface {
	GetCheckpoint(ctx context.Context, job string) (date string, ok bool, err error)
	PutCheckpoint(ctx context.Context, job, date string) error
}

// Store is a backend that implements every storage interface.
type Store interface {
	EntitySource
	EntityWriter
	MetricsStore
	MetricsReader
	CheckpointStore

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}
