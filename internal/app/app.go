// Package app assembles a collector and its collaborators from a
// ProjectConfig. The CLI and the Lambda handler share it.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/quartz"

	"github.com/dwsmith1983/tally/internal/collector"
	"github.com/dwsmith1983/tally/internal/credential"
	"github.com/dwsmith1983/tally/internal/fetcher"
	"github.com/dwsmith1983/tally/internal/quota"
	"github.com/dwsmith1983/tally/internal/schedule"
	"github.com/dwsmith1983/tally/pkg/types"
)

// Options override collaborators Build would otherwise create.
type Options struct {
	Stores     *Stores
	Secrets    credential.SecretsAPI
	HTTPClient *http.Client
	Clock      quartz.Clock
	Sleep      schedule.Sleeper
	OnProgress collector.ProgressFunc
	Logger     *slog.Logger
}

// App is a fully wired collector.
type App struct {
	Config      *types.ProjectConfig
	Stores      *Stores
	Tracker     *quota.Tracker
	Credentials *credential.Coordinator
	Fetcher     *fetcher.Fetcher
	Collector   *collector.Collector
	Logger      *slog.Logger
}

// Build wires an App. Stores are opened from cfg unless opts supplies them.
func Build(ctx context.Context, cfg *types.ProjectConfig, opts Options) (*App, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	logger := opts.Logger

	auth, err := resolveAuth(ctx, cfg.Auth, opts.Secrets)
	if err != nil {
		return nil, err
	}
	refresher, err := credential.NewRefresher(auth, opts.HTTPClient)
	if err != nil {
		return nil, fmt.Errorf("creating refresher: %w", err)
	}
	creds := credential.NewCoordinator(auth.AccessToken, refresher,
		credential.WithClock(opts.Clock), credential.WithLogger(logger))

	bands, err := quota.ParseBands(cfg.Rate.Bands)
	if err != nil {
		return nil, fmt.Errorf("parsing rate bands: %w", err)
	}
	tracker := quota.NewTracker(quota.Config{
		CeilingPerMinute:  cfg.Rate.CeilingPerMinute,
		TargetUtilization: cfg.Rate.TargetUtilization,
		Bands:             bands,
		Clock:             opts.Clock,
	})
	var gate *quota.Gate
	if cfg.Rate.HardLimit {
		gate = quota.NewGate(tracker.Ceiling(), bands[0].BatchSize)
	}

	var timeout time.Duration
	if cfg.API.RequestTimeout != "" {
		if timeout, err = time.ParseDuration(cfg.API.RequestTimeout); err != nil {
			return nil, fmt.Errorf("parsing api.requestTimeout: %w", err)
		}
	}
	f, err := fetcher.New(fetcher.Config{
		BaseURL: cfg.API.BaseURL,
		Metrics: cfg.API.Metrics,
		Timeout: timeout,
		Breaker: cfg.Breaker,
		Client:  opts.HTTPClient,
		Tracker: tracker,
		Gate:    gate,
		Clock:   opts.Clock,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating fetcher: %w", err)
	}

	policy, err := schedule.ParseRetryPolicy(cfg.Retry)
	if err != nil {
		return nil, fmt.Errorf("parsing retry policy: %w", err)
	}

	stores := opts.Stores
	owned := stores == nil
	if owned {
		if stores, err = OpenStores(ctx, cfg); err != nil {
			return nil, err
		}
	}

	c, err := collector.New(collector.Config{
		Entities:    stores.Entities,
		Store:       stores.Metrics,
		Checkpoints: stores.Checkpoints,
		Fetcher:     f,
		Credentials: creds,
		Tracker:     tracker,
		Policy:      policy,
		Sleep:       opts.Sleep,
		Clock:       opts.Clock,
		OnProgress:  opts.OnProgress,
		Logger:      logger,
	})
	if err != nil {
		if owned {
			_ = stores.Close()
		}
		return nil, fmt.Errorf("creating collector: %w", err)
	}

	return &App{
		Config:      cfg,
		Stores:      stores,
		Tracker:     tracker,
		Credentials: creds,
		Fetcher:     f,
		Collector:   c,
		Logger:      logger,
	}, nil
}

// Close releases the stores.
func (a *App) Close() error {
	return a.Stores.Close()
}

// resolveAuth merges the Secrets Manager secret, when configured, into the
// auth settings.
func resolveAuth(ctx context.Context, auth types.AuthConfig, api credential.SecretsAPI) (types.AuthConfig, error) {
	if auth.SecretID != "" {
		if api == nil {
			client, err := credential.NewSecretsClient(ctx, auth.Region)
			if err != nil {
				return auth, err
			}
			api = client
		}
		secret, err := credential.LoadSecret(ctx, api, auth.SecretID)
		if err != nil {
			return auth, err
		}
		secret.Apply(&auth)
	}
	if auth.AccessToken == "" {
		return auth, fmt.Errorf("no access token configured")
	}
	return auth, nil
}

// NewLogger creates the process logger. format is "json" or "text".
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel maps a config log level to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
