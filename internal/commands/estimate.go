package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/tally/internal/app"
	"github.com/dwsmith1983/tally/internal/quota"
	"github.com/dwsmith1983/tally/pkg/types"
)

// NewEstimateCmd creates the estimate command.
func NewEstimateCmd(opts *rootOptions) *cobra.Command {
	var from, to string
	var entities int

	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate the request quota a backfill would use",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEstimate(cmd, opts, from, to, entities)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first day, YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "last day, YYYY-MM-DD")
	cmd.Flags().IntVar(&entities, "entities", -1, "entity count (default: count the entity source)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func runEstimate(cmd *cobra.Command, opts *rootOptions, fromFlag, toFlag string, entities int) error {
	from, err := parseDay("from", fromFlag)
	if err != nil {
		return err
	}
	to, err := parseDay("to", toFlag)
	if err != nil {
		return err
	}

	cfg, _, err := opts.loadConfig()
	if err != nil {
		return err
	}

	if entities < 0 {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		if entities, err = countEntities(ctx, cfg, to); err != nil {
			return err
		}
	}

	est, err := quota.Estimate(from, to, entities, quota.DailyCeiling(cfg.Rate))
	if err != nil {
		return err
	}
	printEstimate(cmd, est)
	return nil
}

// countEntities counts the entities published by the end of the last day.
func countEntities(ctx context.Context, cfg *types.ProjectConfig, last time.Time) (int, error) {
	stores, err := app.OpenStores(ctx, cfg)
	if err != nil {
		return 0, err
	}
	defer func() { _ = stores.Close() }()

	cutoff := last.Add(24*time.Hour - time.Nanosecond)
	ids, err := stores.Entities.ListEntities(ctx, &cutoff)
	if err != nil {
		return 0, fmt.Errorf("listing entities: %w", err)
	}
	return len(ids), nil
}

func printEstimate(cmd *cobra.Command, est types.QuotaEstimate) {
	w := cmd.OutOrStdout()
	_, _ = color.New(color.Bold).Fprintln(w, "Quota estimate")
	_, _ = fmt.Fprintf(w, "  days:       %d\n", est.TotalDays)
	_, _ = fmt.Fprintf(w, "  entities:   %d\n", est.TotalEntities)
	_, _ = fmt.Fprintf(w, "  requests:   %d\n", est.EstimatedRequests)

	pct := color.New(color.FgGreen)
	if est.PercentOfDailyCeiling > 100 {
		pct = color.New(color.FgRed)
	} else if est.PercentOfDailyCeiling > 50 {
		pct = color.New(color.FgYellow)
	}
	_, _ = pct.Fprintf(w, "  daily quota: %.1f%%\n", est.PercentOfDailyCeiling)
}
