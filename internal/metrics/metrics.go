// Package metrics holds the Prometheus collectors for indexing and search.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "docseek"

type Metrics struct {
	registry *prometheus.Registry

	DocumentsIndexed *prometheus.CounterVec
	ChunksIndexed    prometheus.Counter
	IndexDuration    prometheus.Histogram
	Searches         *prometheus.CounterVec
	SearchDuration   prometheus.Histogram
}

// New registers a fresh set of collectors on their own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		DocumentsIndexed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "documents_indexed_total",
				Help:      "Documents processed by IndexDocument, by outcome",
			},
			[]string{"status"},
		),
		ChunksIndexed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chunks_indexed_total",
				Help:      "Chunks appended to the vector store",
			},
		),
		IndexDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "index_duration_seconds",
				Help:      "Time spent indexing one document",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
			},
		),
		Searches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "searches_total",
				Help:      "Search queries, by outcome",
			},
			[]string{"status"},
		),
		SearchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "search_duration_seconds",
				Help:      "Time spent answering one search query",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}

	reg.MustRegister(m.DocumentsIndexed, m.ChunksIndexed, m.IndexDuration, m.Searches, m.SearchDuration)
	return m
}

func (m *Metrics) RecordIndex(status string, chunks int, d time.Duration) {
	if m == nil {
		return
	}
	m.DocumentsIndexed.WithLabelValues(status).Inc()
	m.ChunksIndexed.Add(float64(chunks))
	m.IndexDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordSearch(err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.Searches.WithLabelValues(status).Inc()
	m.SearchDuration.Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
