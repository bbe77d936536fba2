// Package pipeline runs the seven-step brand migration: connect, clear,
// import, transform, seed, export and disconnect.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/hazyhaar/brandmig/pkg/brand"
	"github.com/hazyhaar/brandmig/pkg/export"
	"github.com/hazyhaar/brandmig/pkg/fixture"
	"github.com/hazyhaar/brandmig/pkg/metrics"
	"github.com/hazyhaar/brandmig/pkg/seed"
	"github.com/hazyhaar/brandmig/pkg/store"
	"github.com/spf13/afero"
)

// ErrConnect wraps every failure to open the store. It is fatal: no step runs.
var ErrConnect = errors.New("connect to store")

const totalSteps = 7

// StepError reports the pipeline step that failed.
type StepError struct {
	Step int
	Name string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d/%d (%s): %v", e.Step, totalSteps, e.Name, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Connector opens the collection a run works on. store.Open is the default.
type Connector func(ctx context.Context, uri string, opts store.Options) (store.Collection, error)

// Options are the settings of one run.
type Options struct {
	URI            string
	Database       string
	Collection     string
	ConnectTimeout time.Duration
	Fixture        string
	ExportPath     string
	ExportFormat   export.Format
	Seed           seed.Policy
	MetricsFile    string
}

// Report counts the documents each step handled.
type Report struct {
	RunID       string
	Cleared     int64
	Imported    int
	Transformed int
	Seeded      int
	Exported    int
}

// Runner executes a migration. Zero-valued collaborators get defaults: the OS
// filesystem, stdout, a discarding logger, a fresh metrics registry,
// store.Open and time.Now.
type Runner struct {
	Options

	FS      afero.Fs
	Out     io.Writer
	Logger  *slog.Logger
	Metrics *metrics.Registry
	Connect Connector
	Now     func() time.Time
}

func (r *Runner) defaults() {
	if r.FS == nil {
		r.FS = afero.NewOsFs()
	}
	if r.Out == nil {
		r.Out = os.Stdout
	}
	if r.Logger == nil {
		r.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if r.Metrics == nil {
		r.Metrics = metrics.NewRegistry()
	}
	if r.Connect == nil {
		r.Connect = store.Open
	}
	if r.Now == nil {
		r.Now = time.Now
	}
	if r.ExportFormat == "" {
		r.ExportFormat = export.FormatFromPath(r.ExportPath)
	}
}

func (r *Runner) progress(step int, format string, args ...any) {
	fmt.Fprintf(r.Out, "%d/%d: %s\n", step, totalSteps, fmt.Sprintf(format, args...))
}

// run is the state shared by the steps of one Run call.
type run struct {
	*Runner
	coll        store.Collection
	logger      *slog.Logger
	currentYear int
	order       []string
	report      Report
}

// Run executes every step in order. A connection failure returns an error
// wrapping ErrConnect; any later failure skips the remaining steps and is
// returned as a *StepError. The store is always closed once it was opened.
func (r *Runner) Run(ctx context.Context) (rep Report, err error) {
	r.defaults()
	start := r.Now()

	runID := uuid.NewString()
	state := &run{
		Runner:      r,
		logger:      r.Logger.With("run_id", runID),
		currentYear: start.Year(),
		report:      Report{RunID: runID},
	}

	defer func() {
		r.Metrics.Finish(start, err == nil)
		if r.MetricsFile == "" {
			return
		}
		if werr := r.Metrics.WriteTextfile(r.MetricsFile); werr != nil {
			state.logger.Warn("write metrics textfile", "path", r.MetricsFile, "error", werr)
		}
	}()

	validator := brand.NewValidator(state.currentYear)
	coll, err := r.Connect(ctx, r.URI, store.Options{
		Database:       r.Database,
		Collection:     r.Collection,
		ConnectTimeout: r.ConnectTimeout,
		Validator:      validator,
		Now:            r.Now,
	})
	if err != nil {
		state.logger.Error("store connection failed", "scheme", store.Scheme(r.URI), "error", err)
		return state.report, fmt.Errorf("%w: %w", ErrConnect, err)
	}
	state.coll = coll
	r.progress(1, "Connected to %s store.", store.Scheme(r.URI))
	state.logger.Info("store connected", "scheme", store.Scheme(r.URI), "collection", r.Collection, "current_year", state.currentYear)

	defer func() {
		if cerr := coll.Close(); cerr != nil {
			state.logger.Warn("close store", "error", cerr)
		}
		r.progress(7, "Disconnected from store.")
	}()

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"clear", state.clear},
		{"import", state.importFixture},
		{"transform", state.transform},
		{"seed", state.seed},
		{"export", state.export},
	}
	for i, s := range steps {
		if err := s.fn(ctx); err != nil {
			state.logger.Error("step failed", "step", s.name, "error", err)
			return state.report, &StepError{Step: i + 2, Name: s.name, Err: err}
		}
	}

	state.logger.Info("migration complete",
		"cleared", state.report.Cleared,
		"imported", state.report.Imported,
		"transformed", state.report.Transformed,
		"seeded", state.report.Seeded,
		"exported", state.report.Exported,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return state.report, nil
}

func (s *run) clear(ctx context.Context) error {
	s.progress(2, "Clearing the %q collection...", s.Collection)
	n, err := s.coll.Clear(ctx)
	if err != nil {
		return err
	}
	s.report.Cleared = n
	s.Metrics.AddDocuments(metrics.StepCleared, int(n))
	s.logger.Info("collection cleared", "deleted", n)
	return nil
}

func (s *run) importFixture(ctx context.Context) error {
	s.progress(3, "Importing dirty documents from %s...", s.Fixture)
	docs, err := fixture.Load(s.FS, s.Fixture)
	if err != nil {
		return err
	}

	if err := s.coll.InsertMany(ctx, docs); err != nil {
		return err
	}
	s.order = make([]string, len(docs))
	for i, d := range docs {
		s.order[i] = d.ID
	}
	s.report.Imported = len(docs)
	s.Metrics.AddDocuments(metrics.StepImported, len(docs))
	s.logger.Info("dirty documents imported", "count", len(docs), "fixture", s.Fixture)
	return nil
}

// transform normalizes the imported documents in fixture order, then any other
// document found in the collection.
func (s *run) transform(ctx context.Context) error {
	s.progress(4, "Transforming %d documents in place...", len(s.order))
	stored, err := s.coll.FindAll(ctx)
	if err != nil {
		return err
	}

	byID := make(map[string]store.Document, len(stored))
	for _, d := range stored {
		byID[d.ID] = d
	}

	ids := make([]string, 0, len(stored))
	for _, id := range s.order {
		if _, ok := byID[id]; !ok {
			return fmt.Errorf("imported document %s: %w", id, store.ErrNotFound)
		}
		ids = append(ids, id)
	}
	imported := make(map[string]struct{}, len(s.order))
	for _, id := range s.order {
		imported[id] = struct{}{}
	}
	for _, d := range stored {
		if _, ok := imported[d.ID]; !ok {
			ids = append(ids, d.ID)
		}
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		res := brand.Resolve(byID[id].Raw(), s.currentYear)
		if err := s.coll.ReplaceCanonical(ctx, id, res.Record); err != nil {
			return err
		}
		s.Metrics.Defaulted(res.Adjusted...)
		s.report.Transformed++
		if len(res.Adjusted) > 0 {
			s.logger.Debug("document normalized", "id", id, "adjusted", res.Adjusted)
		}
	}
	s.Metrics.AddDocuments(metrics.StepTransformed, s.report.Transformed)
	s.logger.Info("documents transformed", "count", s.report.Transformed)
	return nil
}

func (s *run) seed(ctx context.Context) error {
	recs := seed.New(s.Seed).Generate(s.currentYear)
	s.progress(5, "Seeding %d new valid documents...", len(recs))

	docs, err := s.coll.InsertCanonical(ctx, recs)
	if err != nil {
		return err
	}
	s.report.Seeded = len(docs)
	s.Metrics.AddDocuments(metrics.StepSeeded, len(docs))
	s.logger.Info("synthetic documents seeded", "count", len(docs))
	return nil
}

func (s *run) export(ctx context.Context) error {
	s.progress(6, "Exporting all documents to %s...", s.ExportPath)
	docs, err := s.coll.FindAll(ctx)
	if err != nil {
		return err
	}

	n, err := export.Write(s.FS, s.ExportPath, s.ExportFormat, docs)
	if err != nil {
		return err
	}
	s.report.Exported = n
	s.Metrics.AddDocuments(metrics.StepExported, n)
	s.logger.Info("export complete", "path", s.ExportPath, "format", s.ExportFormat, "count", n)
	return nil
}
