package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/dwsmith1983/tally/internal/provider"
	ddbprov "github.com/dwsmith1983/tally/internal/provider/dynamodb"
	pgstore "github.com/dwsmith1983/tally/internal/provider/postgres"
	"github.com/dwsmith1983/tally/internal/provider/redis"
	"github.com/dwsmith1983/tally/pkg/types"
)

// Stores holds the backend for each storage role. Roles configured with the
// same provider share one connection.
type Stores struct {
	Metrics     provider.Store
	Entities    provider.Store
	Checkpoints provider.CheckpointStore

	opened map[types.StoreProvider]provider.Store
}

// OpenStores connects every backend the config names.
func OpenStores(ctx context.Context, cfg *types.ProjectConfig) (*Stores, error) {
	s := &Stores{opened: map[types.StoreProvider]provider.Store{}}

	get := func(p types.StoreProvider) (provider.Store, error) {
		if st, ok := s.opened[p]; ok {
			return st, nil
		}
		st, err := openStore(ctx, cfg, p)
		if err != nil {
			return nil, err
		}
		s.opened[p] = st
		return st, nil
	}

	var err error
	if s.Metrics, err = get(cfg.Store.Provider); err != nil {
		return nil, errors.Join(err, s.Close())
	}
	if s.Entities, err = get(cfg.Entities.Provider); err != nil {
		return nil, errors.Join(err, s.Close())
	}
	if cfg.Checkpoints.Provider != types.StoreNone {
		cp, err := get(cfg.Checkpoints.Provider)
		if err != nil {
			return nil, errors.Join(err, s.Close())
		}
		s.Checkpoints = cp
	}
	return s, nil
}

// NewStores wraps already-open backends. It is used by tests and by
// callers that manage connections themselves.
func NewStores(metrics, entities provider.Store, checkpoints provider.CheckpointStore) *Stores {
	return &Stores{
		Metrics:     metrics,
		Entities:    entities,
		Checkpoints: checkpoints,
		opened:      map[types.StoreProvider]provider.Store{},
	}
}

func openStore(ctx context.Context, cfg *types.ProjectConfig, p types.StoreProvider) (provider.Store, error) {
	switch p {
	case types.StorePostgres:
		if cfg.Postgres == nil {
			return nil, fmt.Errorf("postgres config is required when provider is postgres")
		}
		st, err := pgstore.New(ctx, *cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("connecting to Postgres: %w", err)
		}
		return st, nil
	case types.StoreDynamoDB:
		if cfg.DynamoDB == nil {
			return nil, fmt.Errorf("dynamodb config is required when provider is dynamodb")
		}
		st, err := ddbprov.New(cfg.DynamoDB)
		if err != nil {
			return nil, fmt.Errorf("creating DynamoDB provider: %w", err)
		}
		if err := st.Start(ctx); err != nil {
			return nil, fmt.Errorf("starting DynamoDB provider: %w", err)
		}
		return st, nil
	case types.StoreRedis:
		if cfg.Redis == nil {
			return nil, fmt.Errorf("redis config is required when provider is redis")
		}
		st := redis.New(cfg.Redis)
		if err := st.Ping(ctx); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("connecting to Redis: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", p)
	}
}

// Migrate prepares every opened backend's schema: Postgres DDL and the
// DynamoDB table. Redis needs none.
func (s *Stores) Migrate(ctx context.Context) ([]types.StoreProvider, error) {
	var done []types.StoreProvider
	for p, st := range s.opened {
		switch b := st.(type) {
		case *pgstore.Store:
			if err := b.Migrate(ctx); err != nil {
				return done, fmt.Errorf("migrating Postgres: %w", err)
			}
		case *ddbprov.DynamoDBProvider:
			if err := b.EnsureTable(ctx); err != nil {
				return done, fmt.Errorf("creating DynamoDB table: %w", err)
			}
		default:
			continue
		}
		done = append(done, p)
	}
	return done, nil
}

// Ping checks every distinct backend.
func (s *Stores) Ping(ctx context.Context) error {
	var errs []error
	for _, st := range s.distinct() {
		if err := st.Ping(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every distinct backend.
func (s *Stores) Close() error {
	var errs []error
	for _, st := range s.distinct() {
		if err := st.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Stores) distinct() []provider.Store {
	seen := map[provider.Store]bool{}
	var out []provider.Store
	add := func(st provider.Store) {
		if st != nil && !seen[st] {
			seen[st] = true
			out = append(out, st)
		}
	}
	for _, st := range s.opened {
		add(st)
	}
	add(s.Metrics)
	add(s.Entities)
	if cp, ok := s.Checkpoints.(provider.Store); ok {
		add(cp)
	}
	return out
}
