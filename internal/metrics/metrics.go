// Package metrics exports harvest outcomes and run-guard gauges to
// Prometheus.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Failure reasons used as label values.
const (
	ReasonSchedule = "schedule"
	ReasonListing  = "listing"
	ReasonTransfer = "transfer"
	ReasonState    = "state"
	ReasonPanic    = "panic"
	ReasonAborted  = "aborted"
)

// RunStats is read by the active-run gauges on every scrape.
type RunStats interface {
	ActiveCount() int
	LongestRunning() time.Duration
}

// Prometheus implements the harvest metrics sink.
type Prometheus struct {
	harvests *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	slowRuns *prometheus.CounterVec
}

// New registers the collectors with reg under namespace.
// It panics if a collector is already registered.
func New(namespace string, reg prometheus.Registerer, runs RunStats) *Prometheus {
	m := &Prometheus{
		harvests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_harvests_total", namespace),
			Help: "Finished harvests by source and result.",
		}, []string{"source", "result"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_harvest_failures_total", namespace),
			Help: "Failed harvests by source and reason.",
		}, []string{"source", "reason"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    fmt.Sprintf("%s_harvest_duration_seconds", namespace),
			Help:    "Duration of harvest runs.",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 7200},
		}, []string{"source"}),
		slowRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_slow_runs_total", namespace),
			Help: "Harvest runs that took longer than an hour.",
		}, []string{"source"}),
	}
	reg.MustRegister(m.harvests, m.failures, m.duration, m.slowRuns)

	if runs != nil {
		reg.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: fmt.Sprintf("%s_active_runs", namespace),
				Help: "Harvest runs currently in progress.",
			}, func() float64 { return float64(runs.ActiveCount()) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: fmt.Sprintf("%s_longest_running_seconds", namespace),
				Help: "Age of the oldest harvest run in progress.",
			}, func() float64 { return runs.LongestRunning().Seconds() }),
		)
	}
	return m
}

func (m *Prometheus) HarvestSucceeded(source string) {
	m.harvests.WithLabelValues(source, "success").Inc()
}

func (m *Prometheus) HarvestFailed(source, reason string) {
	m.harvests.WithLabelValues(source, "failure").Inc()
	m.failures.WithLabelValues(source, reason).Inc()
}

// ObserveDuration records a finished run and counts it as slow when it
// exceeded threshold.
func (m *Prometheus) ObserveDuration(source string, d, threshold time.Duration) {
	m.duration.WithLabelValues(source).Observe(d.Seconds())
	if d > threshold {
		m.slowRuns.WithLabelValues(source).Inc()
	}
}
