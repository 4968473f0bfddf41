// Package collector drives daily metric collection: it splits the entity
// worklist into paced rounds, runs each entity through the retry pipeline
// and persists the results.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/quartz"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/dwsmith1983/tally/internal/provider"
	"github.com/dwsmith1983/tally/internal/quota"
	"github.com/dwsmith1983/tally/internal/schedule"
	"github.com/dwsmith1983/tally/pkg/types"
)

const instrumentationName = "github.com/dwsmith1983/tally/internal/collector"

// ErrFatal is wrapped by every error that aborts a run.
var ErrFatal = schedule.ErrFatal

// Fetcher performs one request for an entity on a date.
type Fetcher interface {
	Fetch(ctx context.Context, entity types.EntityID, date string, cred types.Credential) types.Outcome
}

// Admitter is implemented by fetchers that shed load. Admit returns how
// long to hold off before the next round and a cap on its size; zero values
// mean no restriction.
type Admitter interface {
	Admit() (wait time.Duration, limit int)
}

// Credentials is the credential coordinator as seen by the collector.
type Credentials interface {
	schedule.CredentialSource
	ForceRefresh(ctx context.Context) (types.Credential, error)
}

// ProgressFunc receives progress snapshots. It must not block.
type ProgressFunc func(types.RunProgress)

// Config wires a Collector.
type Config struct {
	Entities    provider.EntitySource
	Store       provider.MetricsStore
	Checkpoints provider.CheckpointStore
	Fetcher     Fetcher
	Credentials Credentials
	Tracker     *quota.Tracker
	Policy      schedule.RetryPolicy
	// Sleep replaces real waits; nil sleeps on Clock.
	Sleep      schedule.Sleeper
	Clock      quartz.Clock
	OnProgress ProgressFunc
	Logger     *slog.Logger
}

// Collector runs imports and backfills. A Collector serves one run at a
// time.
type Collector struct {
	entities    provider.EntitySource
	store       provider.MetricsStore
	checkpoints provider.CheckpointStore
	fetcher     Fetcher
	admitter    Admitter
	creds       Credentials
	tracker     *quota.Tracker
	scheduler   *schedule.BatchScheduler
	retrier     *schedule.Retrier
	sleep       schedule.Sleeper
	clock       quartz.Clock
	onProgress  ProgressFunc
	logger      *slog.Logger
	tracer      trace.Tracer
}

// New creates a Collector.
func New(cfg Config) (*Collector, error) {
	switch {
	case cfg.Entities == nil:
		return nil, fmt.Errorf("entity source is required")
	case cfg.Store == nil:
		return nil, fmt.Errorf("metrics store is required")
	case cfg.Fetcher == nil:
		return nil, fmt.Errorf("fetcher is required")
	case cfg.Credentials == nil:
		return nil, fmt.Errorf("credentials are required")
	case cfg.Tracker == nil:
		return nil, fmt.Errorf("rate tracker is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = quartz.NewReal()
	}
	if cfg.Sleep == nil {
		cfg.Sleep = schedule.ClockSleeper(cfg.Clock)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Policy == (schedule.RetryPolicy{}) {
		cfg.Policy = schedule.DefaultRetryPolicy()
	}
	if cfg.OnProgress == nil {
		cfg.OnProgress = func(types.RunProgress) {}
	}

	c := &Collector{
		entities:    cfg.Entities,
		store:       cfg.Store,
		checkpoints: cfg.Checkpoints,
		fetcher:     cfg.Fetcher,
		creds:       cfg.Credentials,
		tracker:     cfg.Tracker,
		scheduler:   schedule.NewBatchScheduler(cfg.Tracker),
		retrier:     schedule.NewRetrier(cfg.Policy, cfg.Credentials, cfg.Sleep, cfg.Logger),
		sleep:       cfg.Sleep,
		clock:       cfg.Clock,
		onProgress:  cfg.OnProgress,
		logger:      cfg.Logger,
		tracer:      otel.Tracer(instrumentationName),
	}
	if a, ok := cfg.Fetcher.(Admitter); ok {
		c.admitter = a
	}
	return c, nil
}

func (c *Collector) admit() (time.Duration, int) {
	if c.admitter == nil {
		return 0, 0
	}
	return c.admitter.Admit()
}

func (c *Collector) notify(p *types.RunProgress) {
	c.onProgress(p.Clone())
}

// endOfDay returns the last instant of d's civil day in UTC.
func endOfDay(d time.Time) time.Time {
	y, m, day := d.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC).Add(24*time.Hour - time.Nanosecond)
}

func civil(d time.Time) time.Time {
	y, m, day := d.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}
