package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	otelMetricsOnce        sync.Once
	otelMetricsInitErr     error
	decisionCounter        metric.Int64Counter
	decisionDeniedCounter  metric.Int64Counter
	decisionLatencyHistory metric.Float64Histogram
)

// DecisionMetrics captures the fields needed to record decision telemetry.
type DecisionMetrics struct {
	Kind     string
	Allow    bool
	Source   string
	CacheHit bool
	Duration time.Duration
}

// RecordDecisionMetrics emits OTel counters and histograms describing a
// completed decision. It is a no-op when no meter provider is installed.
func RecordDecisionMetrics(ctx context.Context, m DecisionMetrics) {
	if err := ensureOtelMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("request.kind", m.Kind),
		attribute.Bool("decision.allow", m.Allow),
		attribute.String("decision.source", m.Source),
		attribute.Bool("decision.cache_hit", m.CacheHit),
	}

	decisionCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if !m.Allow {
		decisionDeniedCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}

	if m.Duration > 0 {
		decisionLatencyHistory.Record(ctx, float64(m.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}
}

func ensureOtelMetrics() error {
	otelMetricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("verdict.engine")

		decisionCounter, otelMetricsInitErr = meter.Int64Counter(
			"verdict.decisions_total",
			metric.WithDescription("Policy decisions partitioned by outcome and source"),
			metric.WithUnit("{count}"),
		)
		if otelMetricsInitErr != nil {
			return
		}

		decisionDeniedCounter, otelMetricsInitErr = meter.Int64Counter(
			"verdict.decisions_denied_total",
			metric.WithDescription("Denied policy decisions"),
			metric.WithUnit("{count}"),
		)
		if otelMetricsInitErr != nil {
			return
		}

		decisionLatencyHistory, otelMetricsInitErr = meter.Float64Histogram(
			"verdict.decision.duration_ms",
			metric.WithDescription("Observed end-to-end decision latency"),
			metric.WithUnit("ms"),
		)
	})

	return otelMetricsInitErr
}
