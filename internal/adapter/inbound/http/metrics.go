package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for Zephir.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	DecisionsTotal  *prometheus.CounterVec
	CacheHitsTotal  *prometheus.CounterVec
	CompileDuration prometheus.Histogram
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "zephir",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"route", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "zephir",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		DecisionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "zephir",
				Name:      "decisions_total",
				Help:      "Total authorization decisions by outcome",
			},
			[]string{"outcome"}, // ALLOWED/DENIED/ABSTAIN
		),
		CacheHitsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "zephir",
				Name:      "compiled_policy_cache_total",
				Help:      "Compiled-policy cache lookups by outcome",
			},
			[]string{"outcome"}, // hit/miss
		),
		CompileDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "zephir",
				Name:      "policy_compile_duration_seconds",
				Help:      "Time to compile a policy's globs and conditions on a cache miss",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}
}
