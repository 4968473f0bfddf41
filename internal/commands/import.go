package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// NewImportCmd creates the import command.
func NewImportCmd(opts *rootOptions) *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Collect metrics for every entity on one day",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, opts, date)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "day to collect, YYYY-MM-DD (default: yesterday, UTC)")
	return cmd
}

func runImport(cmd *cobra.Command, opts *rootOptions, date string) error {
	day := yesterday(time.Now())
	if date != "" {
		var err error
		if day, err = parseDay("date", date); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := opts.openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	p, err := s.app.Collector.ImportDay(ctx, day)
	printSummary(cmd.OutOrStdout(), p)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}
	return nil
}
