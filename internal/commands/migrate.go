package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/tally/internal/app"
)

// NewMigrateCmd creates the migrate command.
func NewMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the Postgres schema and DynamoDB table",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd, opts)
		},
	}
}

func runMigrate(cmd *cobra.Command, opts *rootOptions) error {
	cfg, _, err := opts.loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()

	stores, err := app.OpenStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = stores.Close() }()

	done, err := stores.Migrate(ctx)
	for _, p := range done {
		_, _ = color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "  ✓ %s schema ready\n", p)
	}
	if err != nil {
		return err
	}
	if len(done) == 0 {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "  → nothing to migrate")
	}
	return nil
}
