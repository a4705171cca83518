// Package metrics exposes Prometheus collectors for ingestion and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "statement_recon"

// Metrics groups the collectors the services report to
type Metrics struct {
	registry *prometheus.Registry

	Ingestions        *prometheus.CounterVec
	RowsInserted      prometheus.Counter
	DuplicatesSkipped prometheus.Counter
	ParseFailures     prometheus.Counter
	IngestDuration    prometheus.Histogram

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Ingestions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingestions_total",
			Help:      "Statement ingestions by final status.",
		}, []string{"status"}),
		RowsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_inserted_total",
			Help:      "Transactions inserted into the store.",
		}),
		DuplicatesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_skipped_total",
			Help:      "Parsed transactions skipped because their fingerprint already existed.",
		}),
		ParseFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_failures_total",
			Help:      "Blocks that could not be normalized.",
		}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Wall time of a full ingestion.",
			Buckets:   prometheus.DefBuckets,
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		m.Ingestions,
		m.RowsInserted,
		m.DuplicatesSkipped,
		m.ParseFailures,
		m.IngestDuration,
		m.HTTPRequests,
		m.HTTPDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveIngestion records the outcome of one ingestion
func (m *Metrics) ObserveIngestion(status string, inserted, duplicates, failures int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Ingestions.WithLabelValues(status).Inc()
	m.RowsInserted.Add(float64(inserted))
	m.DuplicatesSkipped.Add(float64(duplicates))
	m.ParseFailures.Add(float64(failures))
	m.IngestDuration.Observe(elapsed.Seconds())
}

// ObserveHTTP records one served request
func (m *Metrics) ObserveHTTP(method, route string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
