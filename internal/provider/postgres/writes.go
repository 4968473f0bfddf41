package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dwsmith1983/tally/pkg/types"
)

// BulkUpsert writes records in batches of the configured size. Each batch
// runs in its own transaction.
func (s *Store) BulkUpsert(ctx context.Context, records []types.MetricsRecord) error {
	for i := 0; i < len(records); i += s.batchSize {
		j := i + s.batchSize
		if j > len(records) {
			j = len(records)
		}
		if err := s.upsertChunk(ctx, records[i:j]); err != nil {
			return fmt.Errorf("upsert records %d-%d: %w", i, j-1, err)
		}
	}
	return nil
}

func (s *Store) upsertChunk(ctx context.Context, records []types.MetricsRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	b := &pgx.Batch{}
	for _, r := range records {
		b.Queue(upsertMetricsSQL,
			string(r.EntityID), r.Date, r.Views, r.EstimatedMinutesWatched,
			r.AverageViewDuration, r.AverageViewPercentage, r.Likes, r.Dislikes,
			r.Comments, r.Shares, r.SubscribersGained, r.SubscribersLost, r.FetchedAt,
		)
	}

	br := tx.SendBatch(ctx, b)
	for range records {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return err
		}
	}
	if err := br.Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// AddEntities registers entities, updating the publication time of known
// ones.
func (s *Store) AddEntities(ctx context.Context, entities []types.Entity) error {
	if len(entities) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, e := range entities {
		b.Queue(`
			INSERT INTO entities (entity_id, published_at)
			VALUES ($1, $2)
			ON CONFLICT (entity_id) DO UPDATE SET published_at = EXCLUDED.published_at
		`, string(e.ID), e.PublishedAt)
	}
	br := s.pool.SendBatch(ctx, b)
	for range entities {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("insert entity: %w", err)
		}
	}
	return br.Close()
}

// PutCheckpoint records date as the last completed day of job.
func (s *Store) PutCheckpoint(ctx context.Context, job, date string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO backfill_checkpoints (job, date, updated_at)
		VALUES ($1, $2::date, NOW())
		ON CONFLICT (job) DO UPDATE SET
			date       = EXCLUDED.date,
			updated_at = NOW()
	`, job, date)
	if err != nil {
		return fmt.Errorf("put checkpoint %q: %w", job, err)
	}
	return nil
}
