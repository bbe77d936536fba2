package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/hazyhaar/brandmig/pkg/config"
	"github.com/hazyhaar/brandmig/pkg/logging"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// env is what a command sees of the outside world.
type env struct {
	stdout io.Writer
	stderr io.Writer
	fs     afero.Fs
	lookup config.LookupFunc
}

// app holds the state shared by the subcommands once flags are parsed.
type app struct {
	env

	cfgPath   string
	logLevel  string
	logFormat string

	cfg    config.Config
	logger *slog.Logger
}

func main() {
	os.Exit(execute(os.Args[1:], env{
		stdout: os.Stdout,
		stderr: os.Stderr,
		fs:     afero.NewOsFs(),
		lookup: os.LookupEnv,
	}))
}

// execute runs the command line and returns the process exit status.
func execute(args []string, e env) int {
	a := &app{env: e}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(e.stdout)
	root.SetErr(e.stderr)

	if err := root.Execute(); err != nil {
		if a.logger != nil {
			a.logger.Error("brandmig failed", "error", err)
		} else {
			fmt.Fprintf(e.stderr, "brandmig: %v\n", err)
		}
		return 1
	}
	return 0
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "brandmig",
		Short:         "Migrate dirty brand documents into canonical form",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgPath, "config", "config.yaml", "path to config file")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.StringVar(&a.logFormat, "log-format", "", "log format: text, json, pretty or auto")

	root.AddCommand(a.runCmd(), a.normalizeCmd())
	return root
}

// load builds the configuration (defaults, YAML file, .env, environment, flags)
// and the logger.
func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.fs, a.cfgPath)
	if err != nil {
		return err
	}

	lookup, err := config.WithDotEnv(a.fs, ".env", a.lookup)
	if err != nil {
		return err
	}
	cfg.ApplyEnv(lookup)

	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Log.Format = a.logFormat
	}
	if err := applyFlags(cmd, &cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(a.stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	if cfg.File() == "" {
		logger.Debug("no config file, using defaults", "path", a.cfgPath)
	}

	a.cfg, a.logger = cfg, logger
	return nil
}

// applyFlags copies explicitly set command flags over the configuration.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	fl := cmd.Flags()
	var errs []error
	str := func(name string, dst *string) {
		if fl.Lookup(name) != nil && fl.Changed(name) {
			v, err := fl.GetString(name)
			errs = append(errs, err)
			*dst = v
		}
	}
	str("fixture", &cfg.Fixture)
	str("out", &cfg.Export.Path)
	str("format", &cfg.Export.Format)
	str("metrics-file", &cfg.MetricsFile)

	if fl.Lookup("seed-count") != nil && fl.Changed("seed-count") {
		v, err := fl.GetInt("seed-count")
		errs = append(errs, err)
		cfg.Seed.Count = v
	}
	return errors.Join(errs...)
}
