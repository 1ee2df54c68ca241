package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdictai/verdict-oss/pkg/cache"
	"github.com/verdictai/verdict-oss/pkg/config"
	"github.com/verdictai/verdict-oss/pkg/decision"
	"github.com/verdictai/verdict-oss/pkg/domain"
	"github.com/verdictai/verdict-oss/pkg/evaluator"
)

type countingEvaluator struct {
	calls atomic.Int64
	err   error
	dec   domain.PolicyDecision
}

func (e *countingEvaluator) Evaluate(context.Context, domain.PolicyRequest) (domain.PolicyDecision, error) {
	e.calls.Add(1)
	if e.err != nil {
		return domain.PolicyDecision{}, e.err
	}
	return e.dec.Clone(), nil
}

type erroringTier struct{}

func (erroringTier) Get(context.Context, decision.Key) (domain.PolicyDecision, bool, error) {
	return domain.PolicyDecision{}, false, errors.New("tier2 unreachable")
}

func (erroringTier) Set(context.Context, decision.Key, domain.PolicyDecision, time.Duration) error {
	return errors.New("tier2 unreachable")
}

func (erroringTier) Close() error { return nil }

func fastConfig() *config.Config {
	cfg := config.Default()
	cfg.Batch.MaxSize = 1
	cfg.Batch.Window = time.Millisecond
	return cfg
}

func newTestService(t *testing.T, opts Options) *Service {
	t.Helper()
	if opts.Config == nil {
		opts.Config = fastConfig()
	}
	svc, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	return svc
}

func TestService_NovelRequestFullEvaluation(t *testing.T) {
	eval := &countingEvaluator{dec: domain.PolicyDecision{
		Allow:           true,
		ComplianceScore: 0.85,
		Reasons:         []string{"policy allows workspace access"},
	}}
	svc := newTestService(t, Options{Evaluator: eval})

	dec, err := svc.Decide(context.Background(), domain.PolicyRequest{
		Kind:    "constitutional_evaluation",
		Action:  "workspace.query",
		Context: map[string]any{"trust": 0.5},
	})
	require.NoError(t, err)

	assert.True(t, dec.Allow)
	assert.False(t, dec.CacheHit)
	assert.False(t, dec.PartialEvaluation)
	assert.NotEmpty(t, dec.Reasons)
	assert.EqualValues(t, 1, eval.calls.Load())
}

func TestService_RepeatRequestServedFromCache(t *testing.T) {
	eval := &countingEvaluator{dec: domain.PolicyDecision{Allow: true, ComplianceScore: 0.85}}
	svc := newTestService(t, Options{Evaluator: eval})
	req := domain.PolicyRequest{
		Kind:    "constitutional_evaluation",
		Action:  "workspace.query",
		Context: map[string]any{"trust": 0.5},
	}

	first, err := svc.Decide(context.Background(), req)
	require.NoError(t, err)
	second, err := svc.Decide(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Allow, second.Allow)
	assert.Equal(t, first.ComplianceScore, second.ComplianceScore)
	assert.EqualValues(t, 1, eval.calls.Load())
}

func TestService_SandboxedSafeActionFastPath(t *testing.T) {
	eval := &countingEvaluator{dec: domain.PolicyDecision{Allow: false}}
	svc := newTestService(t, Options{Evaluator: eval})

	dec, err := svc.Decide(context.Background(), domain.PolicyRequest{
		Kind:          "constitutional_evaluation",
		ComplianceTag: "privacy_protection",
		Action:        "data.read_public",
		Context:       map[string]any{"sandbox": true, "audit": true, "trust": 0.95},
	})
	require.NoError(t, err)

	assert.True(t, dec.Allow)
	assert.True(t, dec.PartialEvaluation)
	assert.GreaterOrEqual(t, dec.ComplianceScore, 0.9)
	assert.EqualValues(t, 0, eval.calls.Load(), "fast path must not invoke the full evaluator")
}

func TestService_UnsafeActionDeniedWithoutEvaluator(t *testing.T) {
	eval := &countingEvaluator{dec: domain.PolicyDecision{Allow: true}}
	svc := newTestService(t, Options{Evaluator: eval})

	dec, err := svc.Decide(context.Background(), domain.PolicyRequest{
		Kind:   "constitutional_evaluation",
		Action: "credentials.exfiltrate",
		Context: map[string]any{
			"sandbox": true, "audit": true, "trust": 1.0,
		},
	})
	require.NoError(t, err)

	assert.False(t, dec.Allow)
	assert.True(t, dec.PartialEvaluation)
	assert.EqualValues(t, 0, eval.calls.Load())
}

func TestService_EvaluatorOutageNotCached(t *testing.T) {
	var calls atomic.Int64
	flaky := evaluator.Func(func(context.Context, domain.PolicyRequest) (domain.PolicyDecision, error) {
		if calls.Add(1) == 1 {
			return domain.PolicyDecision{}, errors.New("bundle backend offline")
		}
		return domain.PolicyDecision{Allow: true, ComplianceScore: 0.8}, nil
	})
	svc := newTestService(t, Options{Evaluator: flaky})
	req := domain.PolicyRequest{
		Kind:    "constitutional_evaluation",
		Action:  "workspace.query",
		Context: map[string]any{"trust": 0.5},
	}

	first, err := svc.Decide(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Allow)
	assert.Equal(t, "fail_closed", first.ConstitutionalTag)

	// The outage deny is a per-call substitute, not a verdict about the
	// key; once the evaluator recovers the same request must re-evaluate.
	second, err := svc.Decide(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Allow)
	assert.False(t, second.CacheHit)
	assert.EqualValues(t, 2, calls.Load())

	// The recovered verdict is cached as usual.
	third, err := svc.Decide(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, third.Allow)
	assert.True(t, third.CacheHit)
	assert.EqualValues(t, 2, calls.Load())
}

func TestService_WarmSkipsFailedEvaluations(t *testing.T) {
	eval := &countingEvaluator{err: errors.New("bundle backend offline")}
	svc := newTestService(t, Options{Evaluator: eval})
	req := domain.PolicyRequest{
		Kind:    "constitutional_evaluation",
		Action:  "workspace.query",
		Context: map[string]any{"trust": 0.5},
	}

	assert.Zero(t, svc.Warm(context.Background(), []domain.PolicyRequest{req}))

	eval.err = nil
	eval.dec = domain.PolicyDecision{Allow: true, ComplianceScore: 0.8}

	dec, err := svc.Decide(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, dec.Allow, "failed warmup sample must not leave a deny behind")
	assert.False(t, dec.CacheHit)
}

func TestService_ReloadDuringWarm(t *testing.T) {
	svc := newTestService(t, Options{Evaluator: evaluator.Static{Allow: true, Score: 0.5}})

	samples := make([]domain.PolicyRequest, 0, 64)
	for i := 0; i < 64; i++ {
		samples = append(samples, domain.PolicyRequest{
			Kind:    "constitutional_evaluation",
			Action:  fmt.Sprintf("workspace.query.%d", i),
			Context: map[string]any{"trust": 0.5},
		})
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			svc.ReloadEvaluator(evaluator.Static{Allow: true, Score: 1.0})
		}
	}()

	warmed := svc.Warm(context.Background(), samples)
	<-done
	assert.Equal(t, 64, warmed)
}

func TestService_InvalidRequestRejected(t *testing.T) {
	svc := newTestService(t, Options{})

	_, err := svc.Decide(context.Background(), domain.PolicyRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestService_AssignsTraceID(t *testing.T) {
	svc := newTestService(t, Options{Evaluator: evaluator.Static{Allow: true}})

	// A request without a trace id still resolves; the id is assigned
	// internally and surfaced through error responses only.
	dec, err := svc.Decide(context.Background(), domain.PolicyRequest{
		Kind: "constitutional_evaluation",
	})
	require.NoError(t, err)
	assert.True(t, dec.Allow)
}

func TestService_DegradedTierTwoStillServes(t *testing.T) {
	eval := &countingEvaluator{dec: domain.PolicyDecision{Allow: true, ComplianceScore: 0.8}}
	svc := newTestService(t, Options{Evaluator: eval, TierTwo: erroringTier{}})

	// Repeated misses drive the tier-2 breaker open; requests keep resolving.
	for i := 0; i < 4; i++ {
		dec, err := svc.Decide(context.Background(), domain.PolicyRequest{
			Kind:    "constitutional_evaluation",
			Action:  fmt.Sprintf("workspace.query.%d", i),
			Context: map[string]any{"trust": 0.5},
		})
		require.NoError(t, err)
		assert.True(t, dec.Allow)
	}

	health := svc.Health()
	assert.Equal(t, "degraded", health.Status)
	assert.True(t, health.TierTwoDegraded)
}

func TestService_Health(t *testing.T) {
	svc := newTestService(t, Options{Evaluator: evaluator.Static{Allow: true}})

	_, err := svc.Decide(context.Background(), domain.PolicyRequest{
		Kind:    "constitutional_evaluation",
		Action:  "workspace.query",
		Context: map[string]any{"trust": 0.5},
	})
	require.NoError(t, err)

	health := svc.Health()
	assert.Equal(t, "ok", health.Status)
	assert.False(t, health.TierTwoDegraded)
	assert.Greater(t, health.AvgLatencyMS, 0.0)
	assert.GreaterOrEqual(t, health.UptimeSeconds, 0.0)
}

func TestService_Metrics(t *testing.T) {
	svc := newTestService(t, Options{Evaluator: evaluator.Static{Allow: true}})
	req := domain.PolicyRequest{
		Kind:    "constitutional_evaluation",
		Action:  "workspace.query",
		Context: map[string]any{"trust": 0.5},
	}

	_, err := svc.Decide(context.Background(), req)
	require.NoError(t, err)
	_, err = svc.Decide(context.Background(), req)
	require.NoError(t, err)

	report := svc.Metrics()
	assert.EqualValues(t, 2, report.RequestCount)
	assert.InDelta(t, 0.5, report.CacheHitRate, 1e-9)
	assert.Equal(t, 1, report.Cache.Size)
	assert.GreaterOrEqual(t, report.Batches.Count, uint64(1))
}

func TestService_Warm(t *testing.T) {
	eval := &countingEvaluator{dec: domain.PolicyDecision{Allow: true, ComplianceScore: 0.8}}
	svc := newTestService(t, Options{Evaluator: eval})

	samples := []domain.PolicyRequest{
		{Kind: "constitutional_evaluation", Action: "workspace.query", Context: map[string]any{"trust": 0.5}},
		{Kind: "constitutional_evaluation", Action: "system.execute_shell"},
		{}, // invalid, skipped
	}

	warmed := svc.Warm(context.Background(), samples)
	assert.Equal(t, 2, warmed)

	// The warmed entries now serve from cache.
	dec, err := svc.Decide(context.Background(), samples[0])
	require.NoError(t, err)
	assert.True(t, dec.CacheHit)
	assert.EqualValues(t, 1, eval.calls.Load())

	// Warming again finds everything cached.
	assert.Zero(t, svc.Warm(context.Background(), samples))
}

func TestService_ReloadEvaluator(t *testing.T) {
	svc := newTestService(t, Options{Evaluator: evaluator.Static{Allow: false}})

	before, err := svc.Decide(context.Background(), domain.PolicyRequest{
		Kind:    "constitutional_evaluation",
		Action:  "workspace.query",
		Context: map[string]any{"trust": 0.5},
	})
	require.NoError(t, err)
	require.False(t, before.Allow)

	svc.ReloadEvaluator(evaluator.Static{Allow: true, Score: 1.0})

	// A different key avoids the cached deny from before the reload.
	after, err := svc.Decide(context.Background(), domain.PolicyRequest{
		Kind:    "constitutional_evaluation",
		Action:  "workspace.update",
		Context: map[string]any{"trust": 0.5},
	})
	require.NoError(t, err)
	assert.True(t, after.Allow)
}

func TestService_DecideAfterClose(t *testing.T) {
	svc, err := New(Options{Config: fastConfig()})
	require.NoError(t, err)
	require.NoError(t, svc.Close(context.Background()))

	_, err = svc.Decide(context.Background(), domain.PolicyRequest{Kind: "constitutional_evaluation"})
	assert.ErrorIs(t, err, domain.ErrServiceClosed)

	// Close is idempotent.
	assert.NoError(t, svc.Close(context.Background()))
}

func TestLoadWarmupFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warmup.yaml")
	content := `
requests:
  - kind: constitutional_evaluation
    action: workspace.query
    context:
      trust: 0.5
  - kind: constitutional_evaluation
    compliance_tag: privacy_protection
    action: data.read_public
    context:
      sandbox: true
      audit: true
      trust: 0.95
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	requests, err := LoadWarmupFile(path)
	require.NoError(t, err)
	require.Len(t, requests, 2)
	assert.Equal(t, "workspace.query", requests[0].Action)
	assert.Equal(t, "privacy_protection", requests[1].ComplianceTag)
	assert.Equal(t, true, requests[1].Context["sandbox"])
}

func TestLoadWarmupFile_Missing(t *testing.T) {
	_, err := LoadWarmupFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

var _ cache.Tier = erroringTier{}
