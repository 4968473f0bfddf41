package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/tally/internal/collector"
	"github.com/dwsmith1983/tally/internal/server"
	"github.com/dwsmith1983/tally/internal/server/handlers"
)

type backfillFlags struct {
	from   string
	to     string
	job    string
	resume bool
	listen string
}

// NewBackfillCmd creates the backfill command.
func NewBackfillCmd(opts *rootOptions) *cobra.Command {
	var f backfillFlags

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Collect metrics for a range of days, one day at a time",
		Long: `Backfill imports each day from --from to --to inclusive. Completed days are
checkpointed under the job name; --resume skips days already completed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackfill(cmd, opts, f)
		},
	}
	cmd.Flags().StringVar(&f.from, "from", "", "first day, YYYY-MM-DD")
	cmd.Flags().StringVar(&f.to, "to", "", "last day, YYYY-MM-DD (default: yesterday, UTC)")
	cmd.Flags().StringVar(&f.job, "job", "", "checkpoint job name (default: backfill_<from>_<to>)")
	cmd.Flags().BoolVar(&f.resume, "resume", false, "continue after the job's last completed day")
	cmd.Flags().StringVar(&f.listen, "listen", "", "serve progress on this address, e.g. :9090")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func runBackfill(cmd *cobra.Command, opts *rootOptions, f backfillFlags) error {
	from, err := parseDay("from", f.from)
	if err != nil {
		return err
	}
	to := yesterday(time.Now())
	if f.to != "" {
		if to, err = parseDay("to", f.to); err != nil {
			return err
		}
	}
	if to.Before(from) {
		return fmt.Errorf("--to %s is before --from %s", f.to, f.from)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := opts.openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	addr := f.listen
	var apiKey string
	if s.cfg.Server != nil {
		if addr == "" {
			addr = s.cfg.Server.Addr
		}
		apiKey = s.cfg.Server.APIKey
	}
	if addr != "" {
		srv := server.New(addr, handlers.Deps{
			Store:       s.app.Stores,
			Metrics:     s.app.Stores.Metrics,
			Checkpoints: s.app.Stores.Checkpoints,
			Tracker:     s.app.Tracker,
			Latest:      s.latest,
			Logger:      s.logger,
		}, apiKey)
		go func() {
			if err := srv.Start(); err != nil {
				s.logger.Error("ops server stopped", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Stop(shutdownCtx)
		}()
	}

	var bopts []collector.BackfillOption
	if f.job != "" {
		bopts = append(bopts, collector.WithJob(f.job))
	}
	if f.resume {
		bopts = append(bopts, collector.WithResume())
	}

	p, err := s.app.Collector.Backfill(ctx, from, to, bopts...)
	printSummary(cmd.OutOrStdout(), p)
	if err != nil {
		if f.job == "" {
			f.job = collector.JobName(from, to)
		}
		_, _ = color.New(color.FgYellow).Fprintf(cmd.OutOrStdout(), "  → rerun with --resume --job %s to continue\n", f.job)
		return fmt.Errorf("backfill failed: %w", err)
	}
	return nil
}
