// Package config loads brandmig settings: built-in defaults, then an optional
// YAML file, then a .env file and the process environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hazyhaar/brandmig/pkg/brand"
	"github.com/hazyhaar/brandmig/pkg/export"
	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Environment variables holding the store connection string, in priority order.
const (
	EnvStoreURI   = "STORE_URI"
	EnvMongoDBURI = "MONGODB_URI"
)

// Config errors.
var (
	ErrMissingURI     = errors.New("store connection string is not set (STORE_URI, MONGODB_URI or store.uri)")
	ErrNoFixture      = errors.New("fixture path is empty")
	ErrNoExportPath   = errors.New("export path is empty")
	ErrSeedCount      = errors.New("seed.count must not be negative")
	ErrSeedYear       = errors.New("seed.min_year is before the earliest founding year")
	ErrSeedLocations  = errors.New("seed location range is empty or below one")
	ErrConnectTimeout = errors.New("store.connect_timeout must be positive")
)

// StoreConfig selects and names the document collection.
type StoreConfig struct {
	URI            string        `yaml:"uri"`
	Database       string        `yaml:"database"`
	Collection     string        `yaml:"collection"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// ExportConfig is where and how the final collection is written.
type ExportConfig struct {
	Path   string `yaml:"path"`
	Format string `yaml:"format"`
}

// SeedConfig mirrors seed.Policy.
type SeedConfig struct {
	Count        int    `yaml:"count"`
	MinYear      int    `yaml:"min_year"`
	MinLocations int    `yaml:"min_locations"`
	MaxLocations int    `yaml:"max_locations"`
	RandomSeed   uint64 `yaml:"random_seed"`
}

// LogConfig is passed to logging.New.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the full brandmig configuration.
type Config struct {
	Store       StoreConfig  `yaml:"store"`
	Fixture     string       `yaml:"fixture"`
	Export      ExportConfig `yaml:"export"`
	Seed        SeedConfig   `yaml:"seed"`
	Log         LogConfig    `yaml:"log"`
	MetricsFile string       `yaml:"metrics_file"`

	file string
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Store: StoreConfig{
			Database:       "brandsdb",
			Collection:     "brands",
			ConnectTimeout: 10 * time.Second,
		},
		Fixture: "brands.json",
		Export:  ExportConfig{Path: "brands-transformed.json"},
		Seed:    SeedConfig{Count: 10, MinYear: 1980, MinLocations: 1, MaxLocations: 5000},
		Log:     LogConfig{Level: "info", Format: "auto"},
	}
}

// Load overlays the YAML file at path on the defaults. A missing file is not an
// error; File then reports "".
func Load(fs afero.Fs, path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.file = path
	return cfg, nil
}

// File returns the path of the YAML file the configuration was read from.
func (c Config) File() string { return c.file }

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// WithDotEnv returns a lookup that consults base first, then the variables of
// the .env file at path. A missing .env file leaves base unchanged.
func WithDotEnv(fs afero.Fs, path string, base LookupFunc) (LookupFunc, error) {
	f, err := fs.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return base, nil
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	vars, err := godotenv.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return func(key string) (string, bool) {
		if v, ok := base(key); ok {
			return v, true
		}
		v, ok := vars[key]
		return v, ok
	}, nil
}

// ApplyEnv sets the store URI from STORE_URI or MONGODB_URI when either holds
// a non-blank value.
func (c *Config) ApplyEnv(lookup LookupFunc) {
	for _, key := range []string{EnvStoreURI, EnvMongoDBURI} {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			c.Store.URI = strings.TrimSpace(v)
			return
		}
	}
}

// RequireURI returns the store URI or ErrMissingURI.
func (c Config) RequireURI() (string, error) {
	if strings.TrimSpace(c.Store.URI) == "" {
		return "", ErrMissingURI
	}
	return c.Store.URI, nil
}

// ExportFormat resolves export.format, falling back to the export file extension.
func (c Config) ExportFormat() (export.Format, error) {
	if c.Export.Format == "" {
		return export.FormatFromPath(c.Export.Path), nil
	}
	return export.ParseFormat(c.Export.Format)
}

// Validate checks every setting except the store URI, which is checked by
// RequireURI when a store is about to be opened.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Fixture) == "" {
		errs = append(errs, ErrNoFixture)
	}
	if strings.TrimSpace(c.Export.Path) == "" {
		errs = append(errs, ErrNoExportPath)
	}
	if _, err := c.ExportFormat(); err != nil {
		errs = append(errs, err)
	}
	if c.Store.ConnectTimeout <= 0 {
		errs = append(errs, ErrConnectTimeout)
	}
	if c.Seed.Count < 0 {
		errs = append(errs, ErrSeedCount)
	}
	if c.Seed.MinYear < brand.MinYearFounded {
		errs = append(errs, fmt.Errorf("%w: %d < %d", ErrSeedYear, c.Seed.MinYear, brand.MinYearFounded))
	}
	if c.Seed.MinLocations < brand.MinNumberOfLocations || c.Seed.MaxLocations < c.Seed.MinLocations {
		errs = append(errs, fmt.Errorf("%w: [%d, %d]", ErrSeedLocations, c.Seed.MinLocations, c.Seed.MaxLocations))
	}
	return errors.Join(errs...)
}
