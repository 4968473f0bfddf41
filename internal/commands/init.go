package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const valkeyStartTimeout = 60 * time.Second

const valkeyContainer = "tally-valkey"

const starterConfig = `# tally configuration. Secrets may also come from TALLY_ACCESS_TOKEN,
# TALLY_REFRESH_TOKEN and TALLY_CLIENT_SECRET.
api:
  baseURL: https://analytics.example.com/v2
  requestTimeout: 30s
auth:
  accessToken: replace-me
  # tokenURL: https://oauth2.example.com/token
  # clientId: my-client
rate:
  ceilingPerMinute: 720
  targetUtilization: 0.80
retry:
  maxRateLimitRetries: 3
  baseBackoff: 5s
store:
  provider: redis
redis:
  addr: localhost:6379
  keyPrefix: "tally:"
server:
  addr: ":9090"
logLevel: info
`

const starterEntities = `entities:
  - id: example-entity-1
    publishedAt: 2025-01-01T00:00:00Z
`

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	var skipValkey bool

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Scaffold a tally project",
		Long:  "Writes a starter tally.yaml and entities.yaml and optionally starts a local Valkey container.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, args[0], skipValkey)
		},
	}

	cmd.Flags().BoolVar(&skipValkey, "skip-valkey", false, "Skip starting Valkey container")
	return cmd
}

func runInit(cmd *cobra.Command, dir string, skipValkey bool) error {
	w := cmd.OutOrStdout()
	bold := color.New(color.Bold)
	_, _ = bold.Fprintf(w, "Initializing tally project: %s\n", dir)

	if err := writeScaffold(dir); err != nil {
		return err
	}
	_, _ = color.New(color.FgGreen).Fprintln(w, "  ✓ Project scaffolded")

	yellow := color.New(color.FgYellow)
	if !skipValkey {
		if err := startValkey(cmd.Context()); err != nil {
			_, _ = yellow.Fprintf(w, "  ⚠ Valkey setup skipped: %v\n", err)
			_, _ = yellow.Fprintf(w, "    Run manually: docker run -d --name %s -p 6379:6379 valkey/valkey:8\n", valkeyContainer)
		} else {
			_, _ = color.New(color.FgGreen).Fprintln(w, "  ✓ Valkey container started")
		}
	} else {
		_, _ = yellow.Fprintln(w, "  → Valkey setup skipped (--skip-valkey)")
	}

	_, _ = fmt.Fprintln(w)
	_, _ = bold.Fprintln(w, "Next steps:")
	_, _ = fmt.Fprintf(w, "  cd %s\n", dir)
	_, _ = fmt.Fprintln(w, "  tally seed")
	_, _ = fmt.Fprintln(w, "  tally estimate --from 2025-01-01 --to 2025-01-31")
	_, _ = fmt.Fprintln(w, "  tally backfill --from 2025-01-01 --to 2025-01-31 --listen :9090")
	return nil
}

// writeScaffold writes the starter files, refusing to overwrite a config.
func writeScaffold(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	configPath := filepath.Join(dir, "tally.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("%s already exists", configPath)
	}
	if err := os.WriteFile(configPath, []byte(starterConfig), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "entities.yaml"), []byte(starterEntities), 0o644); err != nil {
		return fmt.Errorf("writing entities: %w", err)
	}
	return nil
}

func startValkey(ctx context.Context) error {
	if _, err := exec.LookPath("docker"); err != nil {
		return fmt.Errorf("docker not found in PATH")
	}

	ctx, cancel := context.WithTimeout(ctx, valkeyStartTimeout)
	defer cancel()

	// Restart an existing container rather than creating a second one.
	if exec.CommandContext(ctx, "docker", "inspect", valkeyContainer).Run() == nil {
		if err := exec.CommandContext(ctx, "docker", "start", valkeyContainer).Run(); err != nil {
			return fmt.Errorf("starting existing container: %w", err)
		}
		return nil
	}

	cmd := exec.CommandContext(ctx, "docker", "run", "-d",
		"--name", valkeyContainer,
		"-p", "6379:6379",
		"valkey/valkey:8",
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
