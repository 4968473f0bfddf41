package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dwsmith1983/tally/pkg/types"
)

// ListEntities returns entity IDs ordered by publication time, then ID.
func (s *Store) ListEntities(ctx context.Context, cutoff *time.Time) ([]types.EntityID, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if cutoff != nil {
		rows, err = s.pool.Query(ctx, `
			SELECT entity_id FROM entities
			WHERE published_at <= $1
			ORDER BY published_at, entity_id
		`, *cutoff)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT entity_id FROM entities
			ORDER BY published_at, entity_id
		`)
	}
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	var ids []types.EntityID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, types.EntityID(id))
	}
	return ids, rows.Err()
}

// GetMetrics returns the stored record for entity on date, or nil.
func (s *Store) GetMetrics(ctx context.Context, entity types.EntityID, date string) (*types.MetricsRecord, error) {
	r := types.MetricsRecord{EntityID: entity, Date: date}
	err := s.pool.QueryRow(ctx, `
		SELECT views, estimated_minutes_watched, average_view_duration,
			average_view_percentage, likes, dislikes, comments, shares,
			subscribers_gained, subscribers_lost, fetched_at
		FROM daily_metrics
		WHERE entity_id = $1 AND date = $2::date
	`, string(entity), date).Scan(&r.Views, &r.EstimatedMinutesWatched, &r.AverageViewDuration,
		&r.AverageViewPercentage, &r.Likes, &r.Dislikes, &r.Comments, &r.Shares,
		&r.SubscribersGained, &r.SubscribersLost, &r.FetchedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get metrics %s/%s: %w", entity, date, err)
	}
	return &r, nil
}

// GetCheckpoint returns the last completed day of job.
func (s *Store) GetCheckpoint(ctx context.Context, job string) (string, bool, error) {
	var date time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT date FROM backfill_checkpoints WHERE job = $1
	`, job).Scan(&date)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get checkpoint %q: %w", job, err)
	}
	return date.Format(types.DateLayout), true, nil
}
