package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dwsmith1983/tally/pkg/types"
)

// pipelineChunk bounds the number of commands per pipelined round trip.
const pipelineChunk = 500

// AddEntities adds entities to the sorted set scored by publication time in
// milliseconds.
func (p *RedisProvider) AddEntities(ctx context.Context, entities []types.Entity) error {
	if len(entities) == 0 {
		return nil
	}
	members := make([]goredis.Z, 0, len(entities))
	for _, e := range entities {
		members = append(members, goredis.Z{
			Score:  float64(e.PublishedAt.UnixMilli()),
			Member: string(e.ID),
		})
	}
	if err := p.client.ZAdd(ctx, p.entitiesKey(), members...).Err(); err != nil {
		return fmt.Errorf("adding entities: %w", err)
	}
	return nil
}

// ListEntities returns entity IDs ordered by publication time. Members with
// equal scores come back in lexical order.
func (p *RedisProvider) ListEntities(ctx context.Context, cutoff *time.Time) ([]types.EntityID, error) {
	max := "+inf"
	if cutoff != nil {
		max = strconv.FormatInt(cutoff.UnixMilli(), 10)
	}
	members, err := p.client.ZRangeByScore(ctx, p.entitiesKey(), &goredis.ZRangeBy{
		Min: "-inf",
		Max: max,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}
	ids := make([]types.EntityID, len(members))
	for i, m := range members {
		ids[i] = types.EntityID(m)
	}
	return ids, nil
}

// BulkUpsert stores each record as a JSON value, overwriting any previous
// value for its key.
func (p *RedisProvider) BulkUpsert(ctx context.Context, records []types.MetricsRecord) error {
	for i := 0; i < len(records); i += pipelineChunk {
		j := i + pipelineChunk
		if j > len(records) {
			j = len(records)
		}
		_, err := p.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			for _, r := range records[i:j] {
				data, err := json.Marshal(r)
				if err != nil {
					return fmt.Errorf("marshal record %s/%s: %w", r.EntityID, r.Date, err)
				}
				pipe.Set(ctx, p.metricsKey(r.EntityID, r.Date), data, 0)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("upsert records %d-%d: %w", i, j-1, err)
		}
	}
	return nil
}

// GetMetrics returns the stored record for entity on date, or nil.
func (p *RedisProvider) GetMetrics(ctx context.Context, entity types.EntityID, date string) (*types.MetricsRecord, error) {
	data, err := p.client.Get(ctx, p.metricsKey(entity, date)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get metrics %s/%s: %w", entity, date, err)
	}
	var r types.MetricsRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("unmarshal metrics %s/%s: %w", entity, date, err)
	}
	return &r, nil
}

// GetCheckpoint returns the last completed day of job.
func (p *RedisProvider) GetCheckpoint(ctx context.Context, job string) (string, bool, error) {
	date, err := p.client.Get(ctx, p.checkpointKey(job)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get checkpoint %q: %w", job, err)
	}
	return date, true, nil
}

// PutCheckpoint records date as the last completed day of job.
func (p *RedisProvider) PutCheckpoint(ctx context.Context, job, date string) error {
	if err := p.client.Set(ctx, p.checkpointKey(job), date, 0).Err(); err != nil {
		return fmt.Errorf("put checkpoint %q: %w", job, err)
	}
	return nil
}
