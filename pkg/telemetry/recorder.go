package telemetry

import (
	"math"
	"sort"
	"sync"
)

// DefaultSampleCapacity bounds the latency ring buffer. Memory stays constant
// regardless of request volume; beyond capacity the newest sample overwrites
// the oldest.
const DefaultSampleCapacity = 4096

// Percentiles is a point-in-time latency distribution snapshot.
type Percentiles struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// BatchStats summarizes dispatched batches.
type BatchStats struct {
	Count   uint64  `json:"count"`
	AvgSize float64 `json:"avg_size"`
}

// Snapshot is a consistent view of every recorder counter.
type Snapshot struct {
	RequestCount    uint64      `json:"request_count"`
	Percentiles     Percentiles `json:"percentiles"`
	CacheHitRate    float64     `json:"cache_hit_rate"`
	TierOneHitRate  float64     `json:"tier1_hit_rate"`
	TierTwoHitRate  float64     `json:"tier2_hit_rate"`
	PartialEvalRate float64     `json:"partial_eval_rate"`
	Batches         BatchStats  `json:"batch_stats"`
}

// Recorder accumulates per-request latency samples and pipeline outcome
// counters. Writes are O(1) and allocation-free; percentile computation sorts
// a snapshot of the ring buffer at read time so the hot path stays cheap.
// Safe for concurrent use. An optional Metrics sink mirrors every
// observation into Prometheus collectors.
type Recorder struct {
	mu sync.Mutex

	samples []float64
	next    int
	filled  bool

	requestCount uint64
	cacheHits    uint64
	cacheMisses  uint64
	tierOneHits  uint64
	tierTwoHits  uint64
	partialEvals uint64
	batchCount   uint64
	batchItems   uint64

	metrics *Metrics
}

// NewRecorder builds a recorder with the given ring-buffer capacity. A
// non-positive capacity selects DefaultSampleCapacity. The metrics sink may
// be nil.
func NewRecorder(capacity int, metrics *Metrics) *Recorder {
	if capacity <= 0 {
		capacity = DefaultSampleCapacity
	}
	return &Recorder{
		samples: make([]float64, capacity),
		metrics: metrics,
	}
}

// RecordLatency stores one end-to-end request latency observation.
func (r *Recorder) RecordLatency(ms float64) {
	r.mu.Lock()
	r.samples[r.next] = ms
	r.next++
	if r.next == len(r.samples) {
		r.next = 0
		r.filled = true
	}
	r.requestCount++
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.ObserveDecisionLatency(ms)
	}
}

// RecordCacheOutcome counts a cache lookup. Tier identifies which tier served
// a hit (1 or 2); it is ignored for misses.
func (r *Recorder) RecordCacheOutcome(hit bool, tier int) {
	r.mu.Lock()
	if hit {
		r.cacheHits++
		switch tier {
		case 1:
			r.tierOneHits++
		case 2:
			r.tierTwoHits++
		}
	} else {
		r.cacheMisses++
	}
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordCacheLookup(hit, tier)
	}
}

// RecordPartialEval counts a request answered by the fast path.
func (r *Recorder) RecordPartialEval() {
	r.mu.Lock()
	r.partialEvals++
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordPartialEval()
	}
}

// RecordBatch counts a dispatched batch and its size.
func (r *Recorder) RecordBatch(size int) {
	r.mu.Lock()
	r.batchCount++
	r.batchItems += uint64(size)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.ObserveBatchSize(size)
	}
}

// Percentiles computes P50/P95/P99 over the buffered samples.
func (r *Recorder) Percentiles() Percentiles {
	snapshot := r.sampleSnapshot()
	if len(snapshot) == 0 {
		return Percentiles{}
	}
	sort.Float64s(snapshot)
	return Percentiles{
		P50: percentileOf(snapshot, 50),
		P95: percentileOf(snapshot, 95),
		P99: percentileOf(snapshot, 99),
	}
}

// AvgLatency returns the mean of the buffered samples.
func (r *Recorder) AvgLatency() float64 {
	snapshot := r.sampleSnapshot()
	if len(snapshot) == 0 {
		return 0
	}
	var sum float64
	for _, s := range snapshot {
		sum += s
	}
	return sum / float64(len(snapshot))
}

// CacheHitRate returns hits / lookups, or 0 before any lookup.
func (r *Recorder) CacheHitRate() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := r.cacheHits + r.cacheMisses
	if total == 0 {
		return 0
	}
	return float64(r.cacheHits) / float64(total)
}

// Stats returns a consistent snapshot of every counter.
func (r *Recorder) Stats() Snapshot {
	percentiles := r.Percentiles()

	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		RequestCount: r.requestCount,
		Percentiles:  percentiles,
	}

	lookups := r.cacheHits + r.cacheMisses
	if lookups > 0 {
		snap.CacheHitRate = float64(r.cacheHits) / float64(lookups)
		snap.TierOneHitRate = float64(r.tierOneHits) / float64(lookups)
		snap.TierTwoHitRate = float64(r.tierTwoHits) / float64(lookups)
	}
	if r.requestCount > 0 {
		snap.PartialEvalRate = float64(r.partialEvals) / float64(r.requestCount)
	}
	snap.Batches.Count = r.batchCount
	if r.batchCount > 0 {
		snap.Batches.AvgSize = float64(r.batchItems) / float64(r.batchCount)
	}
	return snap
}

func (r *Recorder) sampleSnapshot() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.filled {
		return append([]float64(nil), r.samples...)
	}
	return append([]float64(nil), r.samples[:r.next]...)
}

// percentileOf applies nearest-rank selection over a sorted slice.
func percentileOf(sorted []float64, q float64) float64 {
	rank := int(math.Ceil(q / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
