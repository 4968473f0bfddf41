// Package config handles loading and validation of tally.yaml.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dwsmith1983/tally/internal/quota"
	"github.com/dwsmith1983/tally/internal/schedule"
	"github.com/dwsmith1983/tally/pkg/types"
)

// DefaultPath is the config file looked up when none is given.
const DefaultPath = "tally.yaml"

// Environment variables applied over the parsed file.
const (
	EnvAccessToken  = "TALLY_ACCESS_TOKEN"
	EnvRefreshToken = "TALLY_REFRESH_TOKEN"
	EnvClientSecret = "TALLY_CLIENT_SECRET"
	EnvPostgresDSN  = "TALLY_POSTGRES_DSN"
	EnvRedisAddr    = "TALLY_REDIS_ADDR"
)

// Load reads, parses and validates the config file at path.
func Load(path string) (*types.ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates config bytes, applying environment overrides.
func Parse(data []byte) (*types.ProjectConfig, error) {
	var cfg types.ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func applyEnv(cfg *types.ProjectConfig) {
	if v := os.Getenv(EnvAccessToken); v != "" {
		cfg.Auth.AccessToken = v
	}
	if v := os.Getenv(EnvRefreshToken); v != "" {
		cfg.Auth.RefreshToken = v
	}
	if v := os.Getenv(EnvClientSecret); v != "" {
		cfg.Auth.ClientSecret = v
	}
	if v := os.Getenv(EnvPostgresDSN); v != "" {
		if cfg.Postgres == nil {
			cfg.Postgres = &types.PostgresConfig{}
		}
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		if cfg.Redis == nil {
			cfg.Redis = &types.RedisConfig{}
		}
		cfg.Redis.Addr = v
	}
}

func applyDefaults(cfg *types.ProjectConfig) {
	if cfg.Rate.CeilingPerMinute == 0 {
		cfg.Rate.CeilingPerMinute = 720
	}
	if cfg.Rate.TargetUtilization == 0 {
		cfg.Rate.TargetUtilization = quota.DefaultTargetUtilization
	}
	if cfg.Checkpoints.Provider == "" {
		cfg.Checkpoints.Provider = cfg.Store.Provider
	}
	if cfg.Entities.Provider == "" {
		cfg.Entities.Provider = cfg.Store.Provider
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

func validate(cfg *types.ProjectConfig) error {
	if cfg.API.BaseURL == "" {
		return fmt.Errorf("api.baseURL is required")
	}
	if cfg.API.RequestTimeout != "" {
		if _, err := time.ParseDuration(cfg.API.RequestTimeout); err != nil {
			return fmt.Errorf("api.requestTimeout: %w", err)
		}
	}
	if cfg.Auth.AccessToken == "" && cfg.Auth.SecretID == "" {
		return fmt.Errorf("auth.accessToken or auth.secretId is required")
	}
	if cfg.Auth.TokenURL != "" && cfg.Auth.RefreshToken == "" && cfg.Auth.SecretID == "" {
		return fmt.Errorf("auth.refreshToken is required when auth.tokenURL is set")
	}

	if cfg.Rate.CeilingPerMinute < 0 {
		return fmt.Errorf("rate.ceilingPerMinute must be positive")
	}
	if cfg.Rate.TargetUtilization <= 0 || cfg.Rate.TargetUtilization > 1 {
		return fmt.Errorf("rate.targetUtilization must be in (0, 1]")
	}
	if cfg.Rate.DailyCeiling < 0 {
		return fmt.Errorf("rate.dailyCeiling must not be negative")
	}
	if _, err := quota.ParseBands(cfg.Rate.Bands); err != nil {
		return fmt.Errorf("rate.bands: %w", err)
	}
	if _, err := schedule.ParseRetryPolicy(cfg.Retry); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	if cfg.Breaker.Cooldown != "" {
		if _, err := time.ParseDuration(cfg.Breaker.Cooldown); err != nil {
			return fmt.Errorf("breaker.cooldown: %w", err)
		}
	}

	if cfg.Store.Provider == "" || cfg.Store.Provider == types.StoreNone {
		return fmt.Errorf("store.provider is required")
	}
	for role, p := range map[string]types.StoreProvider{
		"store":       cfg.Store.Provider,
		"entities":    cfg.Entities.Provider,
		"checkpoints": cfg.Checkpoints.Provider,
	} {
		if err := validateBackend(cfg, role, p); err != nil {
			return err
		}
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logLevel %q must be one of debug, info, warn, error", cfg.LogLevel)
	}
	return nil
}

func validateBackend(cfg *types.ProjectConfig, role string, p types.StoreProvider) error {
	switch p {
	case types.StorePostgres:
		if cfg.Postgres == nil || cfg.Postgres.DSN == "" {
			return fmt.Errorf("%s: postgres.dsn is required when provider is postgres", role)
		}
	case types.StoreDynamoDB:
		if cfg.DynamoDB == nil {
			return fmt.Errorf("%s: dynamodb config is required when provider is dynamodb", role)
		}
		if cfg.DynamoDB.TableName == "" {
			return fmt.Errorf("%s: dynamodb.tableName is required", role)
		}
	case types.StoreRedis:
		if cfg.Redis == nil || cfg.Redis.Addr == "" {
			return fmt.Errorf("%s: redis.addr is required when provider is redis", role)
		}
	case types.StoreNone:
		if role == "store" || role == "entities" {
			return fmt.Errorf("%s provider cannot be none", role)
		}
	default:
		return fmt.Errorf("%s: unknown provider %q", role, p)
	}
	return nil
}
