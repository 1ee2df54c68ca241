// Package batch implements the request-batching coordinator. Concurrently
// arriving requests accumulate into a time/size-bounded window, then fan out
// for parallel resolution through the cache, the partial-evaluation fast
// path, and finally the full evaluator. Each caller blocks only on its own
// pending result.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/verdictai/verdict-oss/pkg/cache"
	"github.com/verdictai/verdict-oss/pkg/decision"
	"github.com/verdictai/verdict-oss/pkg/domain"
	"github.com/verdictai/verdict-oss/pkg/evaluator"
	"github.com/verdictai/verdict-oss/pkg/telemetry"
)

// Defaults applied when Options leave fields zero.
const (
	DefaultMaxSize = 16
	DefaultWindow  = 5 * time.Millisecond
)

// Resolution sources reported to metrics.
const (
	sourceCache     = "cache"
	sourcePartial   = "partial"
	sourceFull      = "full"
	sourceCoalesced = "coalesced"
	sourceFailsafe  = "fail_closed"
)

// Options configure a Coordinator.
type Options struct {
	// MaxSize closes a batch as soon as it holds this many items.
	MaxSize int
	// Window closes a batch this long after its first item arrives, whichever
	// of the two thresholds trips first.
	Window time.Duration
	// Coalesce enables the in-flight key registry: concurrent cache misses on
	// the same decision key await the first miss's result instead of each
	// invoking the evaluator. Off by default, matching the documented
	// thundering-herd trade-off.
	Coalesce bool
}

// pendingItem is a single-assignment future for one batched request. The
// coordinator owns the batch queue; the submitting caller exclusively owns
// the wait on done.
type pendingItem struct {
	req        domain.PolicyRequest
	enqueuedAt time.Time

	resolveOnce sync.Once
	done        chan struct{}
	dec         domain.PolicyDecision
	err         error
}

type openBatch struct {
	items      []*pendingItem
	timer      *time.Timer
	dispatched bool
}

// Coordinator accumulates requests into batches and resolves them. Safe for
// concurrent use.
type Coordinator struct {
	opts    Options
	cache   *cache.TwoTierCache
	partial *decision.PartialEvaluator
	deriver decision.KeyDeriver

	evalMu sync.RWMutex
	eval   evaluator.Evaluator

	recorder *telemetry.Recorder
	metrics  *telemetry.Metrics
	logger   *slog.Logger

	mu       sync.Mutex
	open     *openBatch
	inflight map[decision.Key]*pendingItem
	closed   bool
	wg       sync.WaitGroup
}

// New constructs a Coordinator. The evaluator may later be swapped with
// SetEvaluator during a policy bundle reload.
func New(opts Options, c *cache.TwoTierCache, partial *decision.PartialEvaluator, eval evaluator.Evaluator, recorder *telemetry.Recorder, metrics *telemetry.Metrics, logger *slog.Logger) *Coordinator {
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Coordinator{
		opts:     opts,
		cache:    c,
		partial:  partial,
		eval:     eval,
		recorder: recorder,
		metrics:  metrics,
		logger:   logger,
		inflight: make(map[decision.Key]*pendingItem),
	}
}

// Submit enqueues a request and blocks until its decision is resolved or the
// caller's context is cancelled. Evaluator failures resolve into safe-default
// deny decisions; only internal faults and cancellation return errors.
func (c *Coordinator) Submit(ctx context.Context, req domain.PolicyRequest) (domain.PolicyDecision, error) {
	item, err := c.enqueue(req)
	if err != nil {
		return domain.PolicyDecision{}, err
	}

	select {
	case <-item.done:
		return item.dec, item.err
	case <-ctx.Done():
		return domain.PolicyDecision{}, ctx.Err()
	}
}

// SetEvaluator swaps the full evaluator. In-flight resolutions keep the
// evaluator they already picked up.
func (c *Coordinator) SetEvaluator(eval evaluator.Evaluator) {
	c.evalMu.Lock()
	c.eval = eval
	c.evalMu.Unlock()
}

// Close dispatches any open batch and waits for in-flight resolutions.
// Submissions after Close fail with ErrServiceClosed.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	pending := c.open
	c.mu.Unlock()

	if pending != nil {
		c.dispatch(pending)
	}
	c.wg.Wait()
}

func (c *Coordinator) enqueue(req domain.PolicyRequest) (*pendingItem, error) {
	item := &pendingItem{
		req:        req,
		enqueuedAt: time.Now(),
		done:       make(chan struct{}),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, domain.ErrServiceClosed
	}

	if c.open == nil {
		batch := &openBatch{}
		// First item of a new batch starts the window timer.
		batch.timer = time.AfterFunc(c.opts.Window, func() { c.dispatch(batch) })
		c.open = batch
	}

	batch := c.open
	batch.items = append(batch.items, item)
	full := len(batch.items) >= c.opts.MaxSize
	if full {
		// Detach while still holding the lock so no later arrival can push
		// the batch past MaxSize before dispatch marks it.
		c.open = nil
	}
	c.mu.Unlock()

	if full {
		c.dispatch(batch)
	}
	return item, nil
}

// dispatch closes a batch and fans its items out for concurrent resolution.
// Closing atomically swaps in a fresh open slot so new arrivals never race
// with in-flight dispatch. Idempotent: the size threshold and the window
// timer may both fire for the same batch.
func (c *Coordinator) dispatch(batch *openBatch) {
	c.mu.Lock()
	if batch.dispatched {
		c.mu.Unlock()
		return
	}
	batch.dispatched = true
	if batch.timer != nil {
		batch.timer.Stop()
	}
	if c.open == batch {
		c.open = nil
	}
	items := batch.items
	c.wg.Add(len(items))
	c.mu.Unlock()

	if c.recorder != nil {
		c.recorder.RecordBatch(len(items))
	}

	for _, item := range items {
		go c.resolve(item)
	}
}

// resolve runs one item through the chain: cache get, partial evaluation,
// full evaluation, cache put. Batch members never block on each other.
func (c *Coordinator) resolve(item *pendingItem) {
	defer c.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic during batch resolution", "kind", item.req.Kind, "panic", r)
			c.fail(item, &domain.DomainError{
				Err:     domain.ErrInternalFault,
				Code:    "INTERNAL_FAULT",
				Message: fmt.Sprintf("panic during resolution: %v", r),
			})
		}
	}()

	ctx := context.Background()

	if dec, ok := c.cache.Get(ctx, item.req); ok {
		c.fulfil(item, dec, sourceCache)
		return
	}

	if c.opts.Coalesce {
		key := c.deriver.Derive(item.req)
		if leader, owned := c.claimKey(key, item); !owned {
			c.awaitLeader(item, leader)
			return
		}
		defer c.releaseKey(key)
	}

	if c.partial.CanResolve(item.req) {
		dec, err := c.partial.Resolve(item.req)
		if err == nil {
			c.cache.Put(ctx, item.req, dec)
			if c.recorder != nil {
				c.recorder.RecordPartialEval()
			}
			c.fulfil(item, dec, sourcePartial)
			return
		}
		// CanResolve raced a table change; fall through to full evaluation.
		c.logger.Warn("partial resolve declined after positive CanResolve", "action", item.req.Action, "error", err)
	}

	c.evalMu.RLock()
	eval := c.eval
	c.evalMu.RUnlock()

	dec, err := eval.Evaluate(ctx, item.req)
	if err != nil {
		// Fail closed. Failure verdicts are not cached: an evaluator outage
		// is not a decision about the key.
		c.fulfil(item, evaluator.SafeDefaultDeny(err), sourceFailsafe)
		return
	}

	c.cache.Put(ctx, item.req, dec)
	c.fulfil(item, dec, sourceFull)
}

// claimKey registers item as the in-flight owner for key. When another item
// already owns the key, that owner is returned instead.
func (c *Coordinator) claimKey(key decision.Key, item *pendingItem) (*pendingItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if leader, ok := c.inflight[key]; ok {
		return leader, false
	}
	c.inflight[key] = item
	return item, true
}

func (c *Coordinator) releaseKey(key decision.Key) {
	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()
}

// awaitLeader resolves a follower from its leader's result. The follower was
// served without invoking an evaluator for this call, so it counts as a
// cache hit.
func (c *Coordinator) awaitLeader(item *pendingItem, leader *pendingItem) {
	<-leader.done
	if leader.err != nil {
		c.fail(item, leader.err)
		return
	}
	dec := leader.dec.Clone()
	dec.CacheHit = true
	c.fulfil(item, dec, sourceCoalesced)
}

func (c *Coordinator) fulfil(item *pendingItem, dec domain.PolicyDecision, source string) {
	item.resolveOnce.Do(func() {
		latency := time.Since(item.enqueuedAt)
		dec.LatencyMS = float64(latency) / float64(time.Millisecond)
		item.dec = dec
		close(item.done)

		if c.recorder != nil {
			c.recorder.RecordLatency(dec.LatencyMS)
		}
		if c.metrics != nil {
			c.metrics.RecordDecision(dec.Allow, source)
		}
	})
}

func (c *Coordinator) fail(item *pendingItem, err error) {
	item.resolveOnce.Do(func() {
		item.err = err
		close(item.done)
	})
}
