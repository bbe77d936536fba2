package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/hazyhaar/brandmig/pkg/pipeline"
	"github.com/hazyhaar/brandmig/pkg/seed"
	"github.com/spf13/cobra"
)

func (a *app) runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the seven-step migration against the configured store",
		Long: `Connects to the store, clears the collection, imports the dirty fixture,
normalizes every imported document, seeds synthetic brands, exports the
collection and disconnects.

The store is selected by STORE_URI, MONGODB_URI or store.uri, e.g.
mongodb://localhost:27017/brandsdb, sqlite://brands.db or pebble://data.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd.Context())
		},
	}

	f := cmd.Flags()
	f.String("fixture", "", "dirty fixture file (default from config)")
	f.String("out", "", "export file (default from config)")
	f.String("format", "", "export format: json or yaml")
	f.Int("seed-count", 0, "number of synthetic brands to add")
	f.String("metrics-file", "", "write Prometheus metrics to this textfile")
	return cmd
}

func (a *app) run(ctx context.Context) error {
	uri, err := a.cfg.RequireURI()
	if err != nil {
		return err
	}
	format, err := a.cfg.ExportFormat()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := &pipeline.Runner{
		Options: pipeline.Options{
			URI:            uri,
			Database:       a.cfg.Store.Database,
			Collection:     a.cfg.Store.Collection,
			ConnectTimeout: a.cfg.Store.ConnectTimeout,
			Fixture:        a.cfg.Fixture,
			ExportPath:     a.cfg.Export.Path,
			ExportFormat:   format,
			Seed: seed.Policy{
				Count:        a.cfg.Seed.Count,
				MinYear:      a.cfg.Seed.MinYear,
				MinLocations: a.cfg.Seed.MinLocations,
				MaxLocations: a.cfg.Seed.MaxLocations,
				RandomSeed:   a.cfg.Seed.RandomSeed,
			},
			MetricsFile: a.cfg.MetricsFile,
		},
		FS:     a.fs,
		Out:    a.stdout,
		Logger: a.logger,
	}
	_, err = runner.Run(ctx)
	return err
}
