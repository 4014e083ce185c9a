// Package metrics exposes crontrol counters on a private Prometheus registry.
//
// A nil *Metrics is valid and records nothing, so callers never need to guard.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "crontrol"

type Metrics struct {
	registry *prometheus.Registry

	runs        *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	rescheduled *prometheus.CounterVec
	storeErrors *prometheus.CounterVec
	fired       *prometheus.CounterVec
	jobsInStore prometheus.Gauge
	lastRunAt   *prometheus.GaugeVec
}

// Options toggles the runtime collectors.
type Options struct {
	GoCollector      bool
	ProcessCollector bool
}

func New(opts Options) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Sweep and carryover runs by kind, dry-run flag and outcome.",
		}, []string{"kind", "dry_run", "outcome"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of sweep and carryover runs.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"kind"}),
		rescheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_rescheduled_total",
			Help:      "Jobs moved into the window, by classification.",
		}, []string{"case"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Failed job store operations.",
		}, []string{"op"}),
		fired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_fired_total",
			Help:      "Jobs fired by the dispatcher, by outcome.",
		}, []string{"outcome"}),
		jobsInStore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_scheduled",
			Help:      "Jobs in the store at the last dispatcher tick.",
		}),
		lastRunAt: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last finished run, by kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.runs, m.runDuration, m.rescheduled, m.storeErrors, m.fired, m.jobsInStore, m.lastRunAt)
	if opts.GoCollector {
		reg.MustRegister(collectors.NewGoCollector())
	}
	if opts.ProcessCollector {
		reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRun records a finished sweep or carryover.
func (m *Metrics) ObserveRun(kind string, dryRun bool, errors int, took time.Duration, finished time.Time) {
	if m == nil {
		return
	}
	outcome := "ok"
	if errors > 0 {
		outcome = "error"
	}
	dry := "false"
	if dryRun {
		dry = "true"
	}
	m.runs.WithLabelValues(kind, dry, outcome).Inc()
	m.runDuration.WithLabelValues(kind).Observe(took.Seconds())
	m.lastRunAt.WithLabelValues(kind).Set(float64(finished.Unix()))
}

func (m *Metrics) JobRescheduled(kase string) {
	if m == nil {
		return
	}
	m.rescheduled.WithLabelValues(kase).Inc()
}

func (m *Metrics) StoreError(op string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) JobFired(outcome string) {
	if m == nil {
		return
	}
	m.fired.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetJobsScheduled(n int) {
	if m == nil {
		return
	}
	m.jobsInStore.Set(float64(n))
}
