// Package metrics provides Prometheus metrics for the attendance tracker.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the tracker.
type Metrics struct {
	SessionsOpened prometheus.Counter
	SessionsClosed *prometheus.CounterVec
	OpenSessions   prometheus.Gauge
	PruneRemoved   prometheus.Counter
	PruneTrimmed   prometheus.Counter
	ErrorsTotal    *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		SessionsOpened: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "attendance_sessions_opened_total",
				Help: "Total number of sessions opened.",
			},
		),
		SessionsClosed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "attendance_sessions_closed_total",
				Help: "Total number of sessions closed, by admission result.",
			},
			[]string{"admitted"},
		),
		OpenSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "attendance_open_sessions",
				Help: "Number of currently open sessions.",
			},
		),
		PruneRemoved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "attendance_prune_removed_total",
				Help: "Closed intervals deleted by retention pruning.",
			},
		),
		PruneTrimmed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "attendance_prune_trimmed_total",
				Help: "Closed intervals trimmed at the retention cutoff.",
			},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "attendance_errors_total",
				Help: "Total errors by component and type.",
			},
			[]string{"component", "type"},
		),
		registry: reg,
	}

	reg.MustRegister(m.SessionsOpened)
	reg.MustRegister(m.SessionsClosed)
	reg.MustRegister(m.OpenSessions)
	reg.MustRegister(m.PruneRemoved)
	reg.MustRegister(m.PruneTrimmed)
	reg.MustRegister(m.ErrorsTotal)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordClose increments the session close counter.
func (m *Metrics) RecordClose(admitted bool) {
	label := "false"
	if admitted {
		label = "true"
	}
	m.SessionsClosed.WithLabelValues(label).Inc()
}

// RecordPrune adds the removed and trimmed tallies of one pruning pass.
func (m *Metrics) RecordPrune(removed, trimmed int) {
	m.PruneRemoved.Add(float64(removed))
	m.PruneTrimmed.Add(float64(trimmed))
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, errType string) {
	m.ErrorsTotal.WithLabelValues(component, errType).Inc()
}
