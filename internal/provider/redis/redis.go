// Package redis implements the tally stores using Redis/Valkey.
package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dwsmith1983/tally/pkg/types"
)

const defaultPrefix = "tally:"

// RedisProvider implements provider.Store backed by Redis/Valkey.
type RedisProvider struct {
	client *goredis.Client
	prefix string
}

// New creates a new RedisProvider.
func New(cfg *types.RedisConfig) *RedisProvider {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewFromClient(client, cfg.KeyPrefix)
}

// NewFromClient creates a RedisProvider from an existing client (useful for testing).
func NewFromClient(client *goredis.Client, prefix string) *RedisProvider {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisProvider{
		client: client,
		prefix: prefix,
	}
}

// Ping checks connectivity to the Redis server.
func (p *RedisProvider) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close closes the client.
func (p *RedisProvider) Close() error {
	return p.client.Close()
}

// Client returns the underlying Redis client (for advanced usage/testing).
func (p *RedisProvider) Client() *goredis.Client {
	return p.client
}

func (p *RedisProvider) entitiesKey() string {
	return p.prefix + "entities"
}

func (p *RedisProvider) metricsKey(entity types.EntityID, date string) string {
	return p.prefix + "metrics:" + string(entity) + ":" + date
}

func (p *RedisProvider) checkpointKey(job string) string {
	return p.prefix + "checkpoint:" + job
}
