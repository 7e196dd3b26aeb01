// Package metrics exposes validation, scan and export measurements as
// Prometheus metrics. The CLI is short-lived, so instead of serving them the
// registry is written to a node_exporter textfile.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"grimm.is/ztinspect/internal/enforcement"
)

const namespace = "ztinspect"

// Registry holds all ztinspect metrics on a private Prometheus registry.
type Registry struct {
	reg *prometheus.Registry

	// Validation
	PairsTotal     *prometheus.CounterVec
	ProbeDuration  *prometheus.HistogramVec
	RunsTotal      *prometheus.CounterVec
	IsolationScore *prometheus.GaugeVec
	LastRun        *prometheus.GaugeVec
	ProbeErrors    *prometheus.GaugeVec
	CancelledTotal prometheus.Counter

	// Discovery
	ScanDevices *prometheus.GaugeVec

	// Export
	ExportsTotal *prometheus.CounterVec
	ExportBytes  *prometheus.GaugeVec
	ExportRules  *prometheus.GaugeVec
}

// New creates a Registry with every metric registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	r := &Registry{reg: reg}

	r.PairsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "validation_pairs_total",
		Help:      "Zone pairs probed, by outcome",
	}, []string{"status"})

	r.ProbeDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "validation_pair_duration_seconds",
		Help:      "Time spent probing one zone pair",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2, 3, 5, 10},
	}, []string{"status"})

	r.RunsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "validation_runs_total",
		Help:      "Validation runs completed",
	}, []string{"policy"})

	r.IsolationScore = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "isolation_score_percent",
		Help:      "Isolation score of the most recent run",
	}, []string{"policy"})

	r.LastRun = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "validation_last_run_timestamp_seconds",
		Help:      "Unix time the most recent run started",
	}, []string{"policy"})

	r.ProbeErrors = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "validation_probe_errors",
		Help:      "Pairs whose probes could not run in the most recent run",
	}, []string{"policy"})

	r.CancelledTotal = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "validation_cancelled_total",
		Help:      "Validation runs stopped before every pair was probed",
	})

	r.ScanDevices = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "scan_devices",
		Help:      "Devices found by the most recent sweep",
	}, []string{"network"})

	r.ExportsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "config_exports_total",
		Help:      "Firewall configurations generated",
	}, []string{"platform"})

	r.ExportBytes = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "config_export_bytes",
		Help:      "Size of the most recent generated configuration",
	}, []string{"platform"})

	r.ExportRules = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "config_export_rules",
		Help:      "Enabled rules rendered into the most recent configuration",
	}, []string{"platform"})

	return r
}

// Gatherer returns the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// ObservePair implements enforcement.Recorder.
func (r *Registry) ObservePair(status string, d time.Duration) {
	r.PairsTotal.WithLabelValues(status).Inc()
	r.ProbeDuration.WithLabelValues(status).Observe(d.Seconds())
}

// ObserveRun implements enforcement.Recorder.
func (r *Registry) ObserveRun(res *enforcement.Result) {
	r.RunsTotal.WithLabelValues(res.Policy).Inc()
	r.IsolationScore.WithLabelValues(res.Policy).Set(res.Score)
	r.LastRun.WithLabelValues(res.Policy).Set(float64(res.StartedAt.Unix()))
	r.ProbeErrors.WithLabelValues(res.Policy).Set(float64(res.Errors))
	if res.Cancelled() {
		r.CancelledTotal.Inc()
	}
}

// ObserveScan records a completed sweep.
func (r *Registry) ObserveScan(network string, devices int) {
	r.ScanDevices.WithLabelValues(network).Set(float64(devices))
}

// ObserveExport records a generated configuration.
func (r *Registry) ObserveExport(platform string, rules, size int) {
	r.ExportsTotal.WithLabelValues(platform).Inc()
	r.ExportRules.WithLabelValues(platform).Set(float64(rules))
	r.ExportBytes.WithLabelValues(platform).Set(float64(size))
}

// WriteTextfile writes every metric to path in the text exposition format,
// replacing the file atomically.
func (r *Registry) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}

var _ enforcement.Recorder = (*Registry)(nil)
