package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/tally/internal/app"
	"github.com/dwsmith1983/tally/pkg/types"
)

// NewStatusCmd creates the status command.
func NewStatusCmd(opts *rootOptions) *cobra.Command {
	var job, entity, date string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a backfill checkpoint or a stored metrics record",
		RunE: func(cmd *cobra.Command, args []string) error {
			if job == "" && entity == "" {
				return fmt.Errorf("one of --job or --entity is required")
			}
			return runStatus(cmd, opts, job, entity, date)
		},
	}
	cmd.Flags().StringVar(&job, "job", "", "backfill job name")
	cmd.Flags().StringVar(&entity, "entity", "", "entity ID")
	cmd.Flags().StringVar(&date, "date", "", "day of the record, YYYY-MM-DD (default: yesterday, UTC)")
	return cmd
}

func runStatus(cmd *cobra.Command, opts *rootOptions, job, entity, date string) error {
	cfg, _, err := opts.loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	stores, err := app.OpenStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = stores.Close() }()

	w := cmd.OutOrStdout()
	if job != "" {
		if stores.Checkpoints == nil {
			return fmt.Errorf("checkpoints are disabled in the config")
		}
		last, ok, err := stores.Checkpoints.GetCheckpoint(ctx, job)
		if err != nil {
			return fmt.Errorf("reading checkpoint: %w", err)
		}
		if !ok {
			_, _ = color.New(color.FgYellow).Fprintf(w, "%s: no completed days\n", job)
		} else {
			_, _ = color.New(color.FgGreen).Fprintf(w, "%s: completed through %s\n", job, last)
		}
	}

	if entity != "" {
		day := yesterday(time.Now())
		if date != "" {
			if day, err = parseDay("date", date); err != nil {
				return err
			}
		}
		rec, err := stores.Metrics.GetMetrics(ctx, types.EntityID(entity), day.Format(types.DateLayout))
		if err != nil {
			return fmt.Errorf("reading metrics: %w", err)
		}
		printRecord(cmd, entity, day.Format(types.DateLayout), rec)
	}
	return nil
}

func printRecord(cmd *cobra.Command, entity, day string, rec *types.MetricsRecord) {
	w := cmd.OutOrStdout()
	if rec == nil {
		_, _ = color.New(color.FgYellow).Fprintf(w, "%s on %s: no record\n", entity, day)
		return
	}
	_, _ = color.New(color.Bold).Fprintf(w, "%s on %s (fetched %s)\n", entity, day, rec.FetchedAt.Format(time.RFC3339))
	ints := []struct {
		name string
		v    *int64
	}{
		{"views", rec.Views},
		{"estimatedMinutesWatched", rec.EstimatedMinutesWatched},
		{"likes", rec.Likes},
		{"dislikes", rec.Dislikes},
		{"comments", rec.Comments},
		{"shares", rec.Shares},
		{"subscribersGained", rec.SubscribersGained},
		{"subscribersLost", rec.SubscribersLost},
	}
	for _, f := range ints {
		if f.v != nil {
			_, _ = fmt.Fprintf(w, "  %-24s %d\n", f.name, *f.v)
		}
	}
	if rec.AverageViewDuration != nil {
		_, _ = fmt.Fprintf(w, "  %-24s %.2f\n", "averageViewDuration", *rec.AverageViewDuration)
	}
	if rec.AverageViewPercentage != nil {
		_, _ = fmt.Fprintf(w, "  %-24s %.2f\n", "averageViewPercentage", *rec.AverageViewPercentage)
	}
}
