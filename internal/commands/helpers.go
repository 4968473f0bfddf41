// Package commands implements the CLI subcommands for the tally binary.
package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/tally/internal/app"
	"github.com/dwsmith1983/tally/internal/config"
	"github.com/dwsmith1983/tally/internal/progress"
	"github.com/dwsmith1983/tally/internal/telemetry"
	"github.com/dwsmith1983/tally/pkg/types"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

// NewRootCmd creates the tally root command with all subcommands attached.
func NewRootCmd(version string) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "tally",
		Short: "Rate-limited daily metrics collector",
		Long: `tally collects per-entity daily metrics from a quota-limited analytics API.
It paces requests against a sliding one-minute window, retries rate-limited
requests with backoff, refreshes expired credentials once for all in-flight
requests, and upserts the results into Postgres, DynamoDB or Redis.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", config.DefaultPath, "path to tally.yaml")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides logLevel")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "log format (text or json)")

	root.AddCommand(
		NewInitCmd(),
		NewImportCmd(opts),
		NewBackfillCmd(opts),
		NewEstimateCmd(opts),
		NewMigrateCmd(opts),
		NewSeedCmd(opts),
		NewStatusCmd(opts),
		NewServeCmd(opts),
	)
	return root
}

// session is a loaded config plus the wired collector for one command.
type session struct {
	cfg      *types.ProjectConfig
	logger   *slog.Logger
	app      *app.App
	notifier *progress.Notifier
	latest   *progress.Latest
	shutdown telemetry.ShutdownFunc
}

func (o *rootOptions) loadConfig() (*types.ProjectConfig, *slog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	level := cfg.LogLevel
	if o.logLevel != "" {
		level = o.logLevel
	}
	logger := app.NewLogger(os.Stderr, level, o.logFormat)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// openSession loads the config, starts telemetry and wires the collector.
// Progress snapshots are logged and kept for the ops server.
func (o *rootOptions) openSession(ctx context.Context) (*session, error) {
	cfg, logger, err := o.loadConfig()
	if err != nil {
		return nil, err
	}

	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("setting up telemetry: %w", err)
	}

	s := &session{cfg: cfg, logger: logger, latest: &progress.Latest{}, shutdown: shutdown}
	a, err := app.Build(ctx, cfg, app.Options{
		Logger: logger,
		OnProgress: func(p types.RunProgress) {
			if s.notifier != nil {
				s.notifier.Publish(p)
			}
		},
	})
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}
	s.app = a
	s.notifier = progress.NewNotifier(a.Tracker, nil, progress.LogCallback(logger), s.latest.Set)
	return s, nil
}

func (s *session) Close() {
	s.notifier.Close()
	if err := s.app.Close(); err != nil {
		s.logger.Warn("closing stores", "error", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.shutdown(ctx); err != nil {
		s.logger.Warn("flushing telemetry", "error", err)
	}
}

// parseDay parses a YYYY-MM-DD flag value.
func parseDay(flag, value string) (time.Time, error) {
	d, err := time.Parse(types.DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s must be YYYY-MM-DD: %w", flag, err)
	}
	return d, nil
}

// yesterday returns the UTC civil day before now.
func yesterday(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
}

// printSummary writes a coloured run summary.
func printSummary(w io.Writer, p types.RunProgress) {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	switch {
	case p.From != "":
		_, _ = bold.Fprintf(w, "Backfill %s..%s (%d days completed)\n", p.From, p.To, p.DaysCompleted)
	default:
		_, _ = bold.Fprintf(w, "Import %s\n", p.Date)
	}
	_, _ = fmt.Fprintf(w, "  entities:   %d\n", p.TotalEntities)
	_, _ = fmt.Fprintf(w, "  processed:  %d\n", p.Processed)
	_, _ = green.Fprintf(w, "  succeeded:  %d\n", p.Succeeded)
	_, _ = fmt.Fprintf(w, "  no data:    %d\n", p.NoData)
	if p.Failed > 0 {
		_, _ = yellow.Fprintf(w, "  failed:     %d\n", p.Failed)
	} else {
		_, _ = fmt.Fprintf(w, "  failed:     %d\n", p.Failed)
	}
	_, _ = fmt.Fprintf(w, "  persisted:  %d\n", p.Persisted)
	_, _ = fmt.Fprintf(w, "  requests:   %d in %d rounds\n", p.QuotaUsed, p.Rounds)

	const maxErrors = 10
	for i, e := range p.Errors {
		if i == maxErrors {
			_, _ = yellow.Fprintf(w, "  ... %d more errors\n", len(p.Errors)-maxErrors)
			break
		}
		_, _ = yellow.Fprintf(w, "  ! %s\n", e)
	}
	if p.Aborted {
		_, _ = red.Fprintf(w, "  ✗ aborted: %s\n", p.FatalError)
	} else {
		_, _ = green.Fprintln(w, "  ✓ done")
	}
}
