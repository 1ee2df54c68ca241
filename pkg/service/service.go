// Package service wires the decision pipeline together and exposes the
// public entry points consumed by the transport layer: Decide, Health,
// Metrics, and the startup Warm hook. The service owns its cache and
// recorder by composition; construct once at startup, inject into the
// transport, and Close on teardown to release tier-2 connections.
package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/verdictai/verdict-oss/pkg/batch"
	"github.com/verdictai/verdict-oss/pkg/cache"
	"github.com/verdictai/verdict-oss/pkg/config"
	"github.com/verdictai/verdict-oss/pkg/decision"
	"github.com/verdictai/verdict-oss/pkg/domain"
	"github.com/verdictai/verdict-oss/pkg/evaluator"
	"github.com/verdictai/verdict-oss/pkg/telemetry"
)

// HealthStatus is the summary returned by Health.
type HealthStatus struct {
	Status          string  `json:"status"`
	AvgLatencyMS    float64 `json:"avg_latency_ms"`
	P99LatencyMS    float64 `json:"p99_latency_ms"`
	CacheHitRate    float64 `json:"cache_hit_rate"`
	TierTwoDegraded bool    `json:"tier2_degraded"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
}

// MetricsReport is the structured view returned by Metrics.
type MetricsReport struct {
	telemetry.Snapshot
	Cache cache.Stats `json:"cache"`
}

// Options configure a Service. Evaluator is the raw full evaluator; the
// service wraps it with the timeout guard itself.
type Options struct {
	Config    *config.Config
	Evaluator evaluator.Evaluator
	TierTwo   cache.Tier
	Logger    *slog.Logger
}

// Service is the decision engine's public entry point.
type Service struct {
	cfg      *config.Config
	logger   *slog.Logger
	recorder *telemetry.Recorder
	metrics  *telemetry.Metrics
	cache    *cache.TwoTierCache
	partial  *decision.PartialEvaluator
	coord    *batch.Coordinator
	tracer   trace.Tracer

	evalMu  sync.RWMutex
	guarded evaluator.Evaluator

	startedAt time.Time
	closed    atomic.Bool
}

// New constructs a ready-to-serve Service. A nil TierTwo with a configured
// tier-2 address builds the HTTP tier client; both nil runs tier-1 only.
func New(opts Options) (*Service, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics := telemetry.NewMetrics()
	recorder := telemetry.NewRecorder(telemetry.DefaultSampleCapacity, metrics)

	tierTwo := opts.TierTwo
	if tierTwo == nil && cfg.Cache.TierTwoAddress != "" {
		tierTwo = cache.NewHTTPTier(cfg.Cache.TierTwoAddress, cfg.Cache.TierTwoTimeout)
	}

	twoTier := cache.New(cache.Options{
		TierOneCapacity: cfg.Cache.TierOneCapacity,
		TTL:             cfg.Cache.TTL,
		TierTwo:         tierTwo,
	}, recorder, metrics, logger)

	partial := decision.NewPartialEvaluator()

	eval := opts.Evaluator
	if eval == nil {
		eval = evaluator.Static{}
	}
	guarded := evaluator.NewGuard(eval, cfg.Evaluator.Timeout, logger)

	coord := batch.New(batch.Options{
		MaxSize:  cfg.Batch.MaxSize,
		Window:   cfg.Batch.Window,
		Coalesce: cfg.Batch.Coalesce,
	}, twoTier, partial, guarded, recorder, metrics, logger)

	return &Service{
		cfg:       cfg,
		logger:    logger,
		recorder:  recorder,
		metrics:   metrics,
		cache:     twoTier,
		partial:   partial,
		guarded:   guarded,
		coord:     coord,
		tracer:    otel.Tracer("verdict.service"),
		startedAt: time.Now(),
	}, nil
}

// Decide evaluates a request. Business-logic denials are returned as
// decisions, never errors; only malformed requests and internal faults
// surface as errors, so callers can always tell the two cases apart.
func (s *Service) Decide(ctx context.Context, req domain.PolicyRequest) (domain.PolicyDecision, error) {
	if s.closed.Load() {
		return domain.PolicyDecision{}, domain.ErrServiceClosed
	}
	if err := req.Validate(); err != nil {
		return domain.PolicyDecision{}, err
	}
	if req.TraceID == "" {
		req.TraceID = uuid.NewString()
	}

	ctx, span := s.tracer.Start(ctx, "verdict.decide", trace.WithAttributes(
		attribute.String("request.kind", req.Kind),
		attribute.String("request.action", req.Action),
		attribute.String("request.trace_id", req.TraceID),
	))
	defer span.End()

	start := time.Now()
	dec, err := s.coord.Submit(ctx, req)
	if err != nil {
		span.RecordError(err)
		return domain.PolicyDecision{}, err
	}

	span.SetAttributes(
		attribute.Bool("decision.allow", dec.Allow),
		attribute.Bool("decision.cache_hit", dec.CacheHit),
		attribute.Bool("decision.partial", dec.PartialEvaluation),
	)

	telemetry.RecordDecisionMetrics(ctx, telemetry.DecisionMetrics{
		Kind:     req.Kind,
		Allow:    dec.Allow,
		Source:   decisionSource(dec),
		CacheHit: dec.CacheHit,
		Duration: time.Since(start),
	})

	return dec, nil
}

// Health reports liveness plus the latency and cache signals the SLA is
// enforced against.
func (s *Service) Health() HealthStatus {
	degraded := s.cache.Degraded()
	status := "ok"
	if degraded {
		status = "degraded"
	}

	return HealthStatus{
		Status:          status,
		AvgLatencyMS:    s.recorder.AvgLatency(),
		P99LatencyMS:    s.recorder.Percentiles().P99,
		CacheHitRate:    s.recorder.CacheHitRate(),
		TierTwoDegraded: degraded,
		UptimeSeconds:   time.Since(s.startedAt).Seconds(),
	}
}

// Metrics returns the structured counters snapshot.
func (s *Service) Metrics() MetricsReport {
	return MetricsReport{
		Snapshot: s.recorder.Stats(),
		Cache:    s.cache.Stats(),
	}
}

// PrometheusHandler exposes the scrape endpoint for the transport layer.
func (s *Service) PrometheusHandler() *telemetry.Metrics {
	return s.metrics
}

// Warm pre-populates the cache from sample requests. Used only at startup,
// never on the request hot path, so it evaluates inline without batching.
func (s *Service) Warm(ctx context.Context, samples []domain.PolicyRequest) int {
	warmed := 0
	for _, req := range samples {
		if err := req.Validate(); err != nil {
			s.logger.Warn("skipping invalid warmup sample", "error", err)
			continue
		}
		if _, ok := s.cache.Get(ctx, req); ok {
			continue
		}

		var dec domain.PolicyDecision
		if s.partial.CanResolve(req) {
			resolved, err := s.partial.Resolve(req)
			if err != nil {
				continue
			}
			dec = resolved
		} else {
			// An evaluation failure is not a verdict about the key; the
			// sample is skipped rather than warmed in as a deny.
			evaluated, err := s.fullEvaluator().Evaluate(ctx, req)
			if err != nil {
				continue
			}
			dec = evaluated
		}

		s.cache.Put(ctx, req, dec)
		warmed++
	}
	if warmed > 0 {
		s.logger.Info("cache warmed", "samples", len(samples), "entries", warmed)
	}
	return warmed
}

// ReloadEvaluator swaps the full evaluator after a policy bundle reload. The
// replacement is wrapped with the same guard as the original. Safe to call
// while Warm or Decide is in flight.
func (s *Service) ReloadEvaluator(eval evaluator.Evaluator) {
	guarded := evaluator.NewGuard(eval, s.cfg.Evaluator.Timeout, s.logger)
	s.evalMu.Lock()
	s.guarded = guarded
	s.evalMu.Unlock()
	s.coord.SetEvaluator(guarded)
	s.logger.Info("full evaluator reloaded")
}

func (s *Service) fullEvaluator() evaluator.Evaluator {
	s.evalMu.RLock()
	defer s.evalMu.RUnlock()
	return s.guarded
}

// Close drains in-flight work and releases tier-2 connections. Decide calls
// after Close fail with ErrServiceClosed.
func (s *Service) Close(_ context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.coord.Close()
	return s.cache.Close()
}

func decisionSource(dec domain.PolicyDecision) string {
	switch {
	case dec.CacheHit:
		return "cache"
	case dec.PartialEvaluation:
		return "partial"
	default:
		return "full"
	}
}
