// Package metrics records what a migration run did, for a node_exporter
// textfile collector.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Step labels for DocumentsTotal.
const (
	StepCleared     = "cleared"
	StepImported    = "imported"
	StepTransformed = "transformed"
	StepSeeded      = "seeded"
	StepExported    = "exported"
)

// Registry holds the metrics of one migration run on a private registry.
type Registry struct {
	reg            *prometheus.Registry
	Documents      *prometheus.CounterVec
	FieldsDefault  *prometheus.CounterVec
	RunDurationSec prometheus.Gauge
	RunSuccess     prometheus.Gauge
}

// NewRegistry registers every brandmig metric on a fresh registry.
func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	docs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "brandmig_documents_total",
		Help: "Documents handled by each migration step.",
	}, []string{"step"})
	defaulted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "brandmig_fields_defaulted_total",
		Help: "Canonical fields filled by a fallback or clamped during normalization.",
	}, []string{"field"})
	duration := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "brandmig_run_duration_seconds",
		Help: "Wall time of the last migration run.",
	})
	success := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "brandmig_run_success",
		Help: "1 when the last migration run completed every step, 0 otherwise.",
	})

	r.MustRegister(docs, defaulted, duration, success)
	return &Registry{
		reg:            r,
		Documents:      docs,
		FieldsDefault:  defaulted,
		RunDurationSec: duration,
		RunSuccess:     success,
	}
}

// AddDocuments counts n documents for step.
func (r *Registry) AddDocuments(step string, n int) {
	r.Documents.WithLabelValues(step).Add(float64(n))
}

// Defaulted counts one adjusted field per name.
func (r *Registry) Defaulted(fields ...string) {
	for _, f := range fields {
		r.FieldsDefault.WithLabelValues(f).Inc()
	}
}

// Finish records the outcome of a run started at start.
func (r *Registry) Finish(start time.Time, ok bool) {
	r.RunDurationSec.Set(time.Since(start).Seconds())
	if ok {
		r.RunSuccess.Set(1)
	} else {
		r.RunSuccess.Set(0)
	}
}

// WriteTextfile writes every metric to path atomically.
func (r *Registry) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.reg)
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }
