package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/verdictai/verdict-oss/internal/governance"
	"github.com/verdictai/verdict-oss/pkg/decision"
	"github.com/verdictai/verdict-oss/pkg/domain"
	"github.com/verdictai/verdict-oss/pkg/telemetry"
)

// Defaults applied when Options leave fields zero.
const (
	DefaultTierOneCapacity = 1024
	DefaultTTL             = 5 * time.Minute
)

// Options configure a TwoTierCache.
type Options struct {
	// TierOneCapacity is the hard upper bound on in-process entries.
	TierOneCapacity int
	// TTL bounds staleness for both tiers.
	TTL time.Duration
	// TierTwo is the optional distributed backing store. Nil disables tier 2.
	TierTwo Tier
	// Breaker guards tier-2 calls. Nil selects the default breaker when
	// TierTwo is set.
	Breaker *governance.CircuitBreaker
}

// Stats describes the tier-1 store.
type Stats struct {
	Size        int     `json:"size"`
	Capacity    int     `json:"capacity"`
	Utilization float64 `json:"utilization"`
}

// TwoTierCache caches decisions by value under derived keys. Tier 1 is a
// bounded in-process map; tier 2 is optional and reached through a circuit
// breaker so an unreachable backend degrades the cache instead of the
// request.
type TwoTierCache struct {
	mu      sync.Mutex
	tier1   *tierOne
	tier2   Tier
	breaker *governance.CircuitBreaker
	deriver decision.KeyDeriver
	ttl     time.Duration

	recorder *telemetry.Recorder
	metrics  *telemetry.Metrics
	logger   *slog.Logger
}

// New constructs a TwoTierCache.
func New(opts Options, recorder *telemetry.Recorder, metrics *telemetry.Metrics, logger *slog.Logger) *TwoTierCache {
	capacity := opts.TierOneCapacity
	if capacity <= 0 {
		capacity = DefaultTierOneCapacity
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	breaker := opts.Breaker
	if breaker == nil && opts.TierTwo != nil {
		breaker = governance.NewCircuitBreaker(governance.DefaultCircuitBreakerConfig())
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &TwoTierCache{
		tier1:    newTierOne(capacity, ttl),
		tier2:    opts.TierTwo,
		breaker:  breaker,
		ttl:      ttl,
		recorder: recorder,
		metrics:  metrics,
		logger:   logger,
	}
}

// Get looks a request up in tier 1, then tier 2. A tier-2 hit is promoted
// into tier 1 before returning. The returned decision is a clone with
// CacheHit set; callers own it outright. Every call records a hit/miss
// outcome, with the serving tier on hits.
func (c *TwoTierCache) Get(ctx context.Context, req domain.PolicyRequest) (domain.PolicyDecision, bool) {
	key := c.deriver.Derive(req)
	now := time.Now()

	c.mu.Lock()
	dec, ok := c.tier1.get(key, now)
	c.mu.Unlock()

	if ok {
		c.recordOutcome(true, 1)
		return c.serve(dec), true
	}

	if c.tier2 != nil {
		if dec, ok := c.tierTwoGet(ctx, key); ok {
			c.mu.Lock()
			c.tier1.put(key, dec, now)
			size := c.tier1.size()
			c.mu.Unlock()
			c.updateSizeGauge(size)

			c.recordOutcome(true, 2)
			return c.serve(dec), true
		}
	}

	c.recordOutcome(false, 0)
	return domain.PolicyDecision{}, false
}

// Put stores an authoritative decision in tier 1 and, when configured, tier
// 2. Tier-2 write failures are logged and swallowed; they never fail the
// caller's request. The cached copy is a clone with per-call attribution
// (cache_hit, latency) stripped.
func (c *TwoTierCache) Put(ctx context.Context, req domain.PolicyRequest, dec domain.PolicyDecision) {
	key := c.deriver.Derive(req)
	stored := dec.Clone()
	stored.CacheHit = false
	stored.LatencyMS = 0

	c.mu.Lock()
	c.tier1.put(key, stored, time.Now())
	size := c.tier1.size()
	c.mu.Unlock()
	c.updateSizeGauge(size)

	if c.tier2 == nil {
		return
	}

	err := c.breaker.Execute(func() error {
		return c.tier2.Set(ctx, key, stored, c.ttl)
	})
	if err != nil {
		c.noteTierTwoFailure("set", key, err)
		return
	}
	c.noteTierTwoRecovery()
}

// Stats reports tier-1 occupancy.
func (c *TwoTierCache) Stats() Stats {
	c.mu.Lock()
	size := c.tier1.size()
	capacity := c.tier1.capacity
	c.mu.Unlock()

	return Stats{
		Size:        size,
		Capacity:    capacity,
		Utilization: float64(size) / float64(capacity),
	}
}

// Degraded reports whether the distributed tier is currently unavailable.
// Always false when no tier 2 is configured.
func (c *TwoTierCache) Degraded() bool {
	if c.tier2 == nil || c.breaker == nil {
		return false
	}
	return c.breaker.State() != governance.StateClosed
}

// Close releases the tier-2 connection, if any.
func (c *TwoTierCache) Close() error {
	if c.tier2 == nil {
		return nil
	}
	return c.tier2.Close()
}

func (c *TwoTierCache) tierTwoGet(ctx context.Context, key decision.Key) (domain.PolicyDecision, bool) {
	var (
		dec   domain.PolicyDecision
		found bool
	)
	err := c.breaker.Execute(func() error {
		var getErr error
		dec, found, getErr = c.tier2.Get(ctx, key)
		return getErr
	})
	if err != nil {
		c.noteTierTwoFailure("get", key, err)
		return domain.PolicyDecision{}, false
	}
	c.noteTierTwoRecovery()
	return dec, found
}

func (c *TwoTierCache) serve(dec domain.PolicyDecision) domain.PolicyDecision {
	served := dec.Clone()
	served.CacheHit = true
	return served
}

func (c *TwoTierCache) recordOutcome(hit bool, tier int) {
	if c.recorder != nil {
		c.recorder.RecordCacheOutcome(hit, tier)
	}
}

func (c *TwoTierCache) updateSizeGauge(size int) {
	if c.metrics != nil {
		c.metrics.UpdateCacheSize(size)
	}
}

func (c *TwoTierCache) noteTierTwoFailure(op string, key decision.Key, err error) {
	c.logger.Warn("distributed cache tier unavailable, serving tier-1 only",
		"op", op, "key", key.String(), "error", err)
	if c.metrics != nil {
		c.metrics.SetTierTwoDegraded(true)
	}
}

func (c *TwoTierCache) noteTierTwoRecovery() {
	if c.metrics != nil && !c.Degraded() {
		c.metrics.SetTierTwoDegraded(false)
	}
}
