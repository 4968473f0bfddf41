package lambda

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/dwsmith1983/tally/internal/app"
	"github.com/dwsmith1983/tally/internal/config"
	"github.com/dwsmith1983/tally/internal/credential"
	"github.com/dwsmith1983/tally/internal/progress"
	"github.com/dwsmith1983/tally/pkg/types"
)

// DefaultConfigPath is where the config is bundled in the deployment package.
const DefaultConfigPath = "/var/task/tally.yaml"

// Deps holds the dependencies shared by every invocation in a container:
// config, stores and API clients. Collector state lives in a Run.
type Deps struct {
	Config *types.ProjectConfig
	Stores *app.Stores
	Logger *slog.Logger

	opts app.Options
}

// Init creates shared dependencies from the bundled config.
// Reads: TALLY_CONFIG plus the config package's secret overrides.
func Init(ctx context.Context) (*Deps, error) {
	path := envOrDefault("TALLY_CONFIG", DefaultConfigPath)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: app.ParseLevel(cfg.LogLevel),
	}))
	return NewDeps(ctx, cfg, app.Options{Logger: logger})
}

// NewDeps opens the stores and clients named by cfg unless opts supplies
// them.
func NewDeps(ctx context.Context, cfg *types.ProjectConfig, opts app.Options) (*Deps, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Secrets == nil && cfg.Auth.SecretID != "" {
		client, err := credential.NewSecretsClient(ctx, cfg.Auth.Region)
		if err != nil {
			return nil, err
		}
		opts.Secrets = client
	}
	if opts.Stores == nil {
		stores, err := app.OpenStores(ctx, cfg)
		if err != nil {
			return nil, err
		}
		opts.Stores = stores
	}
	return &Deps{Config: cfg, Stores: opts.Stores, Logger: opts.Logger, opts: opts}, nil
}

// Run is the collector for a single invocation. Its credential, rate window
// and breaker start fresh and are discarded with it.
type Run struct {
	App      *app.App
	Progress *progress.Notifier
}

// NewRun wires a collector over the shared stores. Progress reports are
// logged.
func (d *Deps) NewRun(ctx context.Context) (*Run, error) {
	r := &Run{}
	opts := d.opts
	opts.OnProgress = func(p types.RunProgress) {
		if r.Progress != nil {
			r.Progress.Publish(p)
		}
	}

	a, err := app.Build(ctx, d.Config, opts)
	if err != nil {
		return nil, fmt.Errorf("building collector: %w", err)
	}
	r.App = a
	r.Progress = progress.NewNotifier(a.Tracker, opts.Clock, progress.LogCallback(d.Logger))
	return r, nil
}

// Close delivers the last progress report. The shared stores stay open.
func (r *Run) Close() {
	r.Progress.Close()
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
