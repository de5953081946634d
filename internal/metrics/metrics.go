// Package metrics holds the Prometheus collectors shared by the pipeline
// stages: scheduler runs, source fetches, provider requests, and deliveries.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	RunsTotal   *prometheus.CounterVec
	MissedRuns  *prometheus.CounterVec
	RunDuration *prometheus.HistogramVec

	SourceFetches    *prometheus.CounterVec
	ProviderRequests *prometheus.CounterVec
	DeliveryAttempts *prometheus.CounterVec
}

// New registers the daybook collectors with reg. Pass
// prometheus.DefaultRegisterer in the daemon; tests use a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "daybook",
				Name:      "runs_total",
				Help:      "Digest runs by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		MissedRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "daybook",
				Name:      "missed_runs_total",
				Help:      "Scheduled firings skipped past the misfire grace or during an active run",
			},
			[]string{"kind"},
		),
		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "daybook",
				Name:      "run_duration_seconds",
				Help:      "End-to-end digest run duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"kind"},
		),
		SourceFetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "daybook",
				Name:      "source_fetch_total",
				Help:      "Source fetches by source and resulting status",
			},
			[]string{"source", "status"},
		),
		ProviderRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "daybook",
				Name:      "provider_requests_total",
				Help:      "Generation provider requests by provider and result",
			},
			[]string{"provider", "result"},
		),
		DeliveryAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "daybook",
				Name:      "delivery_attempts_total",
				Help:      "Slack delivery attempts by result",
			},
			[]string{"result"},
		),
	}
}

func (m *Metrics) RecordRun(kind, outcome string, duration time.Duration) {
	m.RunsTotal.WithLabelValues(kind, outcome).Inc()
	m.RunDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func (m *Metrics) RecordMissedRun(kind string) {
	m.MissedRuns.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordSourceFetch(source, status string) {
	m.SourceFetches.WithLabelValues(source, status).Inc()
}

func (m *Metrics) RecordProviderRequest(provider string, success bool) {
	result := "ok"
	if !success {
		result = "error"
	}
	m.ProviderRequests.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) RecordDeliveryAttempt(success bool) {
	result := "ok"
	if !success {
		result = "error"
	}
	m.DeliveryAttempts.WithLabelValues(result).Inc()
}

// Handler serves the default registry, which New feeds in the daemon.
func Handler() http.Handler {
	return promhttp.Handler()
}
