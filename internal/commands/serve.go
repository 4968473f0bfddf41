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

	"github.com/dwsmith1983/tally/internal/app"
	"github.com/dwsmith1983/tally/internal/server"
	"github.com/dwsmith1983/tally/internal/server/handlers"
)

// NewServeCmd creates the serve command.
func NewServeCmd(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored metrics and checkpoints over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: server.addr or :3000)")
	return cmd
}

func runServe(cmd *cobra.Command, opts *rootOptions, addr string) error {
	cfg, logger, err := opts.loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	stores, err := app.OpenStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = stores.Close() }()

	var apiKey string
	if cfg.Server != nil {
		if addr == "" {
			addr = cfg.Server.Addr
		}
		apiKey = cfg.Server.APIKey
	}
	if addr == "" {
		addr = ":3000"
	}

	srv := server.New(addr, handlers.Deps{
		Store:       stores,
		Metrics:     stores.Metrics,
		Checkpoints: stores.Checkpoints,
		Logger:      logger,
	}, apiKey)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		_, _ = color.New(color.FgYellow).Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		_, _ = color.New(color.FgGreen).Fprintln(cmd.OutOrStdout(), "Server stopped gracefully")
		return nil
	}
}
