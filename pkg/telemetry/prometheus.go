package telemetry

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the decision engine.
type Metrics struct {
	decisionsTotal  *prometheus.CounterVec
	decisionLatency prometheus.Histogram

	cacheLookupsTotal *prometheus.CounterVec
	cacheSize         prometheus.Gauge
	tierTwoDegraded   prometheus.Gauge

	partialEvalsTotal prometheus.Counter
	batchSize         prometheus.Histogram

	registry *prometheus.Registry
}

// NewMetrics creates a metrics instance with every engine collector
// registered on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verdict_decisions_total",
				Help: "Total number of decisions by outcome and resolution source",
			},
			[]string{"outcome", "source"},
		),

		decisionLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "verdict_decision_duration_ms",
				Help:    "End-to-end decision latency in milliseconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50, 100},
			},
		),

		cacheLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verdict_cache_lookups_total",
				Help: "Total number of decision cache lookups by tier and outcome",
			},
			[]string{"tier", "outcome"},
		),

		cacheSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "verdict_cache_entries",
				Help: "Current number of tier-1 cache entries",
			},
		),

		tierTwoDegraded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "verdict_cache_tier2_degraded",
				Help: "Whether the distributed cache tier is currently unavailable (1=degraded)",
			},
		),

		partialEvalsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "verdict_partial_evaluations_total",
				Help: "Total number of decisions resolved by the partial-evaluation fast path",
			},
		),

		batchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "verdict_batch_size",
				Help:    "Number of requests per dispatched batch",
				Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
			},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.decisionsTotal,
		m.decisionLatency,
		m.cacheLookupsTotal,
		m.cacheSize,
		m.tierTwoDegraded,
		m.partialEvalsTotal,
		m.batchSize,
	)

	return m
}

// RecordDecision counts one completed decision.
func (m *Metrics) RecordDecision(allow bool, source string) {
	outcome := "deny"
	if allow {
		outcome = "allow"
	}
	m.decisionsTotal.WithLabelValues(outcome, source).Inc()
}

// ObserveDecisionLatency records one end-to-end latency observation.
func (m *Metrics) ObserveDecisionLatency(ms float64) {
	m.decisionLatency.Observe(ms)
}

// RecordCacheLookup counts a cache lookup by tier and outcome.
func (m *Metrics) RecordCacheLookup(hit bool, tier int) {
	outcome := "miss"
	tierLabel := "none"
	if hit {
		outcome = "hit"
		tierLabel = strconv.Itoa(tier)
	}
	m.cacheLookupsTotal.WithLabelValues(tierLabel, outcome).Inc()
}

// UpdateCacheSize updates the tier-1 entry count gauge.
func (m *Metrics) UpdateCacheSize(size int) {
	m.cacheSize.Set(float64(size))
}

// SetTierTwoDegraded flips the tier-2 degraded-mode gauge.
func (m *Metrics) SetTierTwoDegraded(degraded bool) {
	value := 0.0
	if degraded {
		value = 1.0
	}
	m.tierTwoDegraded.Set(value)
}

// RecordPartialEval counts a fast-path resolution.
func (m *Metrics) RecordPartialEval() {
	m.partialEvalsTotal.Inc()
}

// ObserveBatchSize records the size of a dispatched batch.
func (m *Metrics) ObserveBatchSize(size int) {
	m.batchSize.Observe(float64(size))
}

// Handler returns the Prometheus metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
