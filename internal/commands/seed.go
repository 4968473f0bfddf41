package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dwsmith1983/tally/internal/app"
	"github.com/dwsmith1983/tally/pkg/types"
)

// entityFile is the YAML document accepted by seed.
type entityFile struct {
	Entities []struct {
		ID          string    `yaml:"id"`
		PublishedAt time.Time `yaml:"publishedAt"`
	} `yaml:"entities"`
}

// NewSeedCmd creates the seed command.
func NewSeedCmd(opts *rootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Register entities with the entity source",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd, opts, file)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "entities.yaml", "YAML file listing entities")
	return cmd
}

// loadEntityFile parses an entities YAML file.
func loadEntityFile(path string) ([]types.Entity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var doc entityFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	out := make([]types.Entity, 0, len(doc.Entities))
	for i, e := range doc.Entities {
		if e.ID == "" {
			return nil, fmt.Errorf("%s: entity %d has no id", path, i)
		}
		if e.PublishedAt.IsZero() {
			return nil, fmt.Errorf("%s: entity %s has no publishedAt", path, e.ID)
		}
		out = append(out, types.Entity{ID: types.EntityID(e.ID), PublishedAt: e.PublishedAt.UTC()})
	}
	return out, nil
}

func runSeed(cmd *cobra.Command, opts *rootOptions, file string) error {
	entities, err := loadEntityFile(file)
	if err != nil {
		return err
	}

	cfg, _, err := opts.loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	stores, err := app.OpenStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = stores.Close() }()

	if err := stores.Entities.AddEntities(ctx, entities); err != nil {
		return fmt.Errorf("adding entities: %w", err)
	}
	_, _ = color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "  ✓ %d entities registered\n", len(entities))
	return nil
}
