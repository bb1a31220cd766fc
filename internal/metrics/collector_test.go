package metrics

import (
	"sync"
	"testing"
)

func TestRecordRequestCounts(t *testing.T) {
	c := New(16)

	c.RecordRequest(100, false)
	c.RecordRequest(200, true)
	c.RecordRequest(300, false)

	snap := c.Snapshot()
	if snap.RequestsTotal != 3 {
		t.Fatalf("RequestsTotal = %d, want 3", snap.RequestsTotal)
	}
	if snap.RequestErrors != 1 {
		t.Fatalf("RequestErrors = %d, want 1", snap.RequestErrors)
	}
	if got, want := snap.ErrorRate, 1.0/3.0; got != want {
		t.Fatalf("ErrorRate = %v, want %v", got, want)
	}
}

func TestCacheHitRate(t *testing.T) {
	c := New(16)

	c.RecordCache(CacheHit)
	c.RecordCache(CacheHit)
	c.RecordCache(CacheHit)
	c.RecordCache(CacheMiss)
	c.RecordCache(CacheWrite)
	c.RecordCache(CacheEviction)

	snap := c.Snapshot()
	if snap.CacheHits != 3 || snap.CacheMisses != 1 {
		t.Fatalf("hits/misses = %d/%d, want 3/1", snap.CacheHits, snap.CacheMisses)
	}
	if snap.CacheHitRate != 0.75 {
		t.Fatalf("CacheHitRate = %v, want 0.75", snap.CacheHitRate)
	}
	if snap.CacheWrites != 1 || snap.CacheEvictions != 1 {
		t.Fatalf("writes/evictions = %d/%d, want 1/1", snap.CacheWrites, snap.CacheEvictions)
	}
}

func TestLatencyQuantiles(t *testing.T) {
	c := New(200)

	// 1..100 ms, one sample each.
	for i := int64(1); i <= 100; i++ {
		c.RecordRequest(i, false)
	}

	snap := c.Snapshot()
	if snap.LatencyP50MS != 50 {
		t.Errorf("P50 = %d, want 50", snap.LatencyP50MS)
	}
	if snap.LatencyP95MS != 95 {
		t.Errorf("P95 = %d, want 95", snap.LatencyP95MS)
	}
	if snap.LatencyP99MS != 99 {
		t.Errorf("P99 = %d, want 99", snap.LatencyP99MS)
	}
}

func TestRingWrapsOldestFirst(t *testing.T) {
	c := New(4)

	for i := int64(1); i <= 6; i++ {
		c.RecordRequest(i*10, false)
	}

	// Ring holds 30,40,50,60; P50 over those is 40 by nearest rank.
	snap := c.Snapshot()
	if snap.LatencyP50MS != 40 {
		t.Fatalf("P50 after wrap = %d, want 40", snap.LatencyP50MS)
	}
	if snap.LatencyP99MS != 60 {
		t.Fatalf("P99 after wrap = %d, want 60", snap.LatencyP99MS)
	}
}

func TestStrategyCounters(t *testing.T) {
	c := New(16)

	c.RecordStrategy("native", 120, true, false)
	c.RecordStrategy("native", 80, false, false)
	c.RecordStrategy("enhanced", 400, true, true)

	snap := c.Snapshot()
	native := snap.Strategies["native"]
	if native.Success != 1 || native.Failure != 1 {
		t.Fatalf("native success/failure = %d/%d, want 1/1", native.Success, native.Failure)
	}
	if native.DurationMS != 200 {
		t.Fatalf("native duration = %d, want 200", native.DurationMS)
	}
	if native.AvgMS != 100 {
		t.Fatalf("native avg = %v, want 100", native.AvgMS)
	}

	enhanced := snap.Strategies["enhanced"]
	if enhanced.Fallbacks != 1 {
		t.Fatalf("enhanced fallbacks = %d, want 1", enhanced.Fallbacks)
	}
}

func TestReset(t *testing.T) {
	c := New(16)
	c.RecordRequest(10, true)
	c.RecordCache(CacheHit)
	c.RecordStrategy("native", 5, true, false)

	c.Reset()

	snap := c.Snapshot()
	if snap.RequestsTotal != 0 || snap.CacheHits != 0 || len(snap.Strategies) != 0 {
		t.Fatalf("reset left state behind: %+v", snap)
	}
	if snap.LatencyP50MS != 0 {
		t.Fatalf("reset left latency samples: %d", snap.LatencyP50MS)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.RecordRequest(1, false)
	c.RecordCache(CacheHit)
	c.RecordStrategy("native", 1, true, false)
	c.Reset()
	if snap := c.Snapshot(); snap.RequestsTotal != 0 {
		t.Fatalf("nil snapshot = %+v", snap)
	}
}

func TestConcurrentRecording(t *testing.T) {
	c := New(DefaultRingSize)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				c.RecordRequest(int64(i%50), i%7 == 0)
				c.RecordCache(CacheHit)
				c.RecordStrategy("enhanced", int64(i%30), true, false)
			}
		}()
	}
	// Snapshots race against the writers on purpose.
	for i := 0; i < 20; i++ {
		_ = c.Snapshot()
	}
	wg.Wait()

	snap := c.Snapshot()
	if snap.RequestsTotal != 4000 {
		t.Fatalf("RequestsTotal = %d, want 4000", snap.RequestsTotal)
	}
	if snap.CacheHits != 4000 {
		t.Fatalf("CacheHits = %d, want 4000", snap.CacheHits)
	}
	if snap.Strategies["enhanced"].Success != 4000 {
		t.Fatalf("strategy successes = %d, want 4000", snap.Strategies["enhanced"].Success)
	}
}
