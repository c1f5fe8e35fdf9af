// Package metrics holds the Prometheus collectors for timeline fetches.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records source and aggregation durations. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	sourceDur    *prometheus.HistogramVec
	aggregateDur prometheus.Histogram
	failures     *prometheus.CounterVec
	events       *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.sourceDur = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "daylog",
		Name:      "source_fetch_duration_seconds",
		Help:      "Time spent fetching the events of one source",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"provider", "result"})
	m.aggregateDur = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "daylog",
		Name:      "fetch_duration_seconds",
		Help:      "Time spent fetching a whole day",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})
	m.failures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "daylog",
		Name:      "source_failures_total",
		Help:      "Number of failed source fetches",
	}, []string{"provider"})
	m.events = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "daylog",
		Name:      "source_events_total",
		Help:      "Number of events returned by sources",
	}, []string{"provider"})

	m.registry.MustRegister(
		m.sourceDur, m.aggregateDur, m.failures, m.events,
		collectors.NewGoCollector(),
	)
	return m
}

// ObserveSource records one (provider, source) fetch.
func (m *Metrics) ObserveSource(provider string, d time.Duration, events int, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
		m.failures.WithLabelValues(provider).Inc()
	} else {
		m.events.WithLabelValues(provider).Add(float64(events))
	}
	m.sourceDur.WithLabelValues(provider, result).Observe(d.Seconds())
}

func (m *Metrics) ObserveFetch(d time.Duration) {
	if m == nil {
		return
	}
	m.aggregateDur.Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
