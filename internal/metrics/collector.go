package metrics

import (
	"sort"
	"sync"
	"time"
)

// Package metrics tracks process-wide counters, rates, and latency
// quantiles.
//
// Responsibilities:
//   - Count tool requests and errors, with a bounded ring of durations
//   - Count cache hits, misses, writes, and evictions
//   - Track per-strategy success/failure, cumulative duration, fallbacks
//   - Produce consistent point-in-time snapshots with P50/P95/P99 latency
//   - Mirror every recording into the Prometheus registry
//
// All recording methods are safe for concurrent callers and are no-ops on a
// nil receiver so optional wiring stays unconditional at call sites.

// CacheEvent names one resource-cache outcome.
type CacheEvent string

const (
	CacheHit      CacheEvent = "hit"
	CacheMiss     CacheEvent = "miss"
	CacheWrite    CacheEvent = "write"
	CacheEviction CacheEvent = "eviction"
)

// DefaultRingSize bounds the latency ring when no size is configured.
const DefaultRingSize = 1024

// Collector accumulates service metrics.
type Collector struct {
	mu sync.Mutex

	startedAt time.Time

	requestsTotal int64
	requestErrors int64

	cacheHits      int64
	cacheMisses    int64
	cacheWrites    int64
	cacheEvictions int64

	strategies map[string]*strategyCounters

	ring     []int64
	ringNext int
	ringLen  int

	// snapMu admits one snapshot at a time so concurrent snapshots do not
	// stack up behind the write lock.
	snapMu sync.Mutex
}

type strategyCounters struct {
	success    int64
	failure    int64
	durationMS int64
	fallbacks  int64
}

// StrategySnapshot is the per-strategy slice of a Snapshot.
type StrategySnapshot struct {
	Success    int64   `json:"success"`
	Failure    int64   `json:"failure"`
	DurationMS int64   `json:"total_duration_ms"`
	Fallbacks  int64   `json:"fallbacks"`
	AvgMS      float64 `json:"avg_ms"`
}

// Snapshot is a consistent copy of all counters plus derived rates.
type Snapshot struct {
	UptimeSeconds float64 `json:"uptime_seconds"`

	RequestsTotal int64   `json:"requests_total"`
	RequestErrors int64   `json:"request_errors"`
	ErrorRate     float64 `json:"error_rate"`

	CacheHits      int64   `json:"cache_hits"`
	CacheMisses    int64   `json:"cache_misses"`
	CacheWrites    int64   `json:"cache_writes"`
	CacheEvictions int64   `json:"cache_evictions"`
	CacheHitRate   float64 `json:"cache_hit_rate"`

	LatencyP50MS int64 `json:"latency_p50_ms"`
	LatencyP95MS int64 `json:"latency_p95_ms"`
	LatencyP99MS int64 `json:"latency_p99_ms"`

	Strategies map[string]StrategySnapshot `json:"strategies"`
}

var (
	defaultCollector *Collector
	defaultOnce      sync.Once
)

// Default returns the process-wide collector.
func Default() *Collector {
	defaultOnce.Do(func() {
		defaultCollector = New(DefaultRingSize)
	})
	return defaultCollector
}

// New creates a collector with a latency ring of the given size.
func New(ringSize int) *Collector {
	if ringSize < 1 {
		ringSize = DefaultRingSize
	}
	return &Collector{
		startedAt:  time.Now(),
		strategies: make(map[string]*strategyCounters),
		ring:       make([]int64, ringSize),
	}
}

// RecordRequest counts one tool request and appends its duration to the ring.
func (c *Collector) RecordRequest(durationMS int64, isError bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.requestsTotal++
	if isError {
		c.requestErrors++
	}
	c.ring[c.ringNext] = durationMS
	c.ringNext = (c.ringNext + 1) % len(c.ring)
	if c.ringLen < len(c.ring) {
		c.ringLen++
	}
	c.mu.Unlock()

	RequestsTotal.Inc()
	if isError {
		RequestErrorsTotal.Inc()
	}
	RequestDuration.Observe(float64(durationMS) / 1000)
}

// RecordCache counts one cache event.
func (c *Collector) RecordCache(event CacheEvent) {
	if c == nil {
		return
	}
	c.mu.Lock()
	switch event {
	case CacheHit:
		c.cacheHits++
	case CacheMiss:
		c.cacheMisses++
	case CacheWrite:
		c.cacheWrites++
	case CacheEviction:
		c.cacheEvictions++
	}
	c.mu.Unlock()

	CacheEventsTotal.WithLabelValues(string(event)).Inc()
}

// RecordStrategy counts one fetch attempt for the named strategy.
func (c *Collector) RecordStrategy(name string, durationMS int64, success, fallback bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	sc := c.strategies[name]
	if sc == nil {
		sc = &strategyCounters{}
		c.strategies[name] = sc
	}
	if success {
		sc.success++
	} else {
		sc.failure++
	}
	sc.durationMS += durationMS
	if fallback {
		sc.fallbacks++
	}
	c.mu.Unlock()

	outcome := "failure"
	if success {
		outcome = "success"
	}
	StrategyAttemptsTotal.WithLabelValues(name, outcome).Inc()
	StrategyDuration.WithLabelValues(name).Observe(float64(durationMS) / 1000)
	if fallback {
		StrategyFallbacksTotal.Inc()
	}
}

// Snapshot returns a consistent copy of all counters. Quantiles are computed
// from a copy of the ring so writers are blocked only for the copy itself.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.snapMu.Lock()
	defer c.snapMu.Unlock()

	c.mu.Lock()
	snap := Snapshot{
		UptimeSeconds:  time.Since(c.startedAt).Seconds(),
		RequestsTotal:  c.requestsTotal,
		RequestErrors:  c.requestErrors,
		CacheHits:      c.cacheHits,
		CacheMisses:    c.cacheMisses,
		CacheWrites:    c.cacheWrites,
		CacheEvictions: c.cacheEvictions,
		Strategies:     make(map[string]StrategySnapshot, len(c.strategies)),
	}
	for name, sc := range c.strategies {
		ss := StrategySnapshot{
			Success:    sc.success,
			Failure:    sc.failure,
			DurationMS: sc.durationMS,
			Fallbacks:  sc.fallbacks,
		}
		if total := sc.success + sc.failure; total > 0 {
			ss.AvgMS = float64(sc.durationMS) / float64(total)
		}
		snap.Strategies[name] = ss
	}
	durations := make([]int64, c.ringLen)
	if c.ringLen == len(c.ring) {
		copy(durations, c.ring)
	} else {
		copy(durations, c.ring[:c.ringLen])
	}
	c.mu.Unlock()

	if snap.RequestsTotal > 0 {
		snap.ErrorRate = float64(snap.RequestErrors) / float64(snap.RequestsTotal)
	}
	if lookups := snap.CacheHits + snap.CacheMisses; lookups > 0 {
		snap.CacheHitRate = float64(snap.CacheHits) / float64(lookups)
	}

	if len(durations) > 0 {
		sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
		snap.LatencyP50MS = percentile(durations, 50)
		snap.LatencyP95MS = percentile(durations, 95)
		snap.LatencyP99MS = percentile(durations, 99)
	}

	return snap
}

// Reset zeroes all state. Intended for tests and the /metrics/reset endpoint.
func (c *Collector) Reset() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startedAt = time.Now()
	c.requestsTotal = 0
	c.requestErrors = 0
	c.cacheHits = 0
	c.cacheMisses = 0
	c.cacheWrites = 0
	c.cacheEvictions = 0
	c.strategies = make(map[string]*strategyCounters)
	c.ring = make([]int64, len(c.ring))
	c.ringNext = 0
	c.ringLen = 0
}

// percentile picks the nearest-rank entry of an ascending slice.
func percentile(sorted []int64, p int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
