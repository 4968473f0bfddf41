// Package testutil provides shared test utilities for tally.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dwsmith1983/tally/internal/provider"
	"github.com/dwsmith1983/tally/pkg/types"
)

// Compile-time interface satisfaction check.
var _ provider.Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory provider.Store for testing.
type MemoryStore struct {
	mu          sync.Mutex
	entities    map[types.EntityID]time.Time
	records     map[types.RecordKey]types.MetricsRecord
	checkpoints map[string]string

	upsertCalls int
	// UpsertErr, when set, is returned by BulkUpsert.
	UpsertErr error
	// ListErr, when set, is returned by ListEntities.
	ListErr error
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities:    make(map[types.EntityID]time.Time),
		records:     make(map[types.RecordKey]types.MetricsRecord),
		checkpoints: make(map[string]string),
	}
}

// AddEntities registers entities.
func (m *MemoryStore) AddEntities(_ context.Context, entities []types.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entities {
		m.entities[e.ID] = e.PublishedAt
	}
	return nil
}

// ListEntities returns entities by publication time, then ID.
func (m *MemoryStore) ListEntities(_ context.Context, cutoff *time.Time) ([]types.EntityID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	var ids []types.EntityID
	for id, pub := range m.entities {
		if cutoff != nil && pub.After(*cutoff) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		pi, pj := m.entities[ids[i]], m.entities[ids[j]]
		if !pi.Equal(pj) {
			return pi.Before(pj)
		}
		return ids[i] < ids[j]
	})
	return ids, nil
}

// BulkUpsert stores records, replacing existing ones with the same key.
func (m *MemoryStore) BulkUpsert(_ context.Context, records []types.MetricsRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertCalls++
	if m.UpsertErr != nil {
		return m.UpsertErr
	}
	for _, r := range records {
		m.records[r.Key()] = r
	}
	return nil
}

// GetMetrics returns the stored record, or nil.
func (m *MemoryStore) GetMetrics(_ context.Context, entity types.EntityID, date string) (*types.MetricsRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[types.RecordKey{EntityID: entity, Date: date}]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

// GetCheckpoint returns the last completed day of job.
func (m *MemoryStore) GetCheckpoint(_ context.Context, job string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.checkpoints[job]
	return d, ok, nil
}

// PutCheckpoint records date for job.
func (m *MemoryStore) PutCheckpoint(_ context.Context, job, date string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[job] = date
	return nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

// Records returns every stored record for date, sorted by entity.
func (m *MemoryStore) Records(date string) []types.MetricsRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.MetricsRecord
	for k, r := range m.records {
		if k.Date == date {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

// UpsertCalls returns how many times BulkUpsert was called.
func (m *MemoryStore) UpsertCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertCalls
}
