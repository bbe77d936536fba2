package main

import (
	"fmt"
	"time"

	"github.com/hazyhaar/brandmig/pkg/brand"
	"github.com/hazyhaar/brandmig/pkg/export"
	"github.com/hazyhaar/brandmig/pkg/fixture"
	"github.com/spf13/cobra"
)

// preview is one normalized fixture document.
type preview struct {
	ID           string `json:"_id" yaml:"_id"`
	brand.Record `yaml:",inline"`
	Adjusted     []string `json:"adjusted,omitempty" yaml:"adjusted,omitempty"`
}

func (a *app) normalizeCmd() *cobra.Command {
	var year int
	cmd := &cobra.Command{
		Use:   "normalize",
		Short: "Print the canonical form of every fixture document without touching a store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if year == 0 {
				year = time.Now().Year()
			}
			if year < brand.MinYearFounded {
				return fmt.Errorf("--year %d is before %d, the earliest valid founding year", year, brand.MinYearFounded)
			}
			return a.normalize(year)
		},
	}

	f := cmd.Flags()
	f.String("fixture", "", "dirty fixture file (default from config)")
	f.String("format", "", "output format: json or yaml (default json)")
	f.IntVar(&year, "year", 0, "current year used to clamp yearFounded (default this year)")
	return cmd
}

func (a *app) normalize(year int) error {
	docs, err := fixture.Load(a.fs, a.cfg.Fixture)
	if err != nil {
		return err
	}

	format := export.JSON
	if a.cfg.Export.Format != "" {
		if format, err = export.ParseFormat(a.cfg.Export.Format); err != nil {
			return err
		}
	}

	out := make([]preview, len(docs))
	for i, d := range docs {
		res := brand.Resolve(d.Raw(), year)
		out[i] = preview{ID: d.ID, Record: res.Record, Adjusted: res.Adjusted}
	}
	a.logger.Debug("fixture normalized", "count", len(out), "year", year)
	return export.Encode(a.stdout, format, out)
}
