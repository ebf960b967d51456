package storage

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"
)

func TestHistogramPercentiles(t *testing.T) {
	h := NewHistogram(1000)

	// 1..100: percentiles are easy to predict
	for i := 1; i <= 100; i++ {
		h.Record(float64(i))
	}

	if h.Count() != 100 {
		t.Errorf("Expected 100 samples, got %d", h.Count())
	}
	if h.Min() != 1 {
		t.Errorf("Expected min 1, got %f", h.Min())
	}
	if h.Max() != 100 {
		t.Errorf("Expected max 100, got %f", h.Max())
	}
	if h.Mean() != 50.5 {
		t.Errorf("Expected mean 50.5, got %f", h.Mean())
	}

	p50 := h.Percentile(50)
	if p50 < 50 || p50 > 51 {
		t.Errorf("Expected p50 around 50.5, got %f", p50)
	}
	p99 := h.Percentile(99)
	if p99 < 99 || p99 > 100 {
		t.Errorf("Expected p99 around 99, got %f", p99)
	}
}

func TestHistogramEmpty(t *testing.T) {
	h := NewHistogram(100)

	if h.Percentile(50) != 0 || h.Mean() != 0 || h.Min() != 0 || h.Max() != 0 {
		t.Error("Empty histogram must report zeroes")
	}
}

func TestHistogramEvictsOldestSample(t *testing.T) {
	h := NewHistogram(3)

	h.Record(1)
	h.Record(2)
	h.Record(3)
	h.Record(100) // Pushes out the oldest sample (1)

	if h.Count() != 3 {
		t.Errorf("Expected capped count 3, got %d", h.Count())
	}
	if h.Min() != 2 {
		t.Errorf("Expected min 2 after FIFO eviction, got %f", h.Min())
	}
}

func TestHistogramReset(t *testing.T) {
	h := NewHistogram(100)
	h.Record(42)
	h.Reset()

	if h.Count() != 0 {
		t.Errorf("Expected empty histogram after reset, got %d samples", h.Count())
	}
}

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()

	m.RecordCacheHit()
	m.RecordCacheHit()
	m.RecordCacheHit()
	m.RecordCacheMiss()
	m.RecordPageEviction()
	m.RecordDirtyPageFlush()
	m.RecordPagePrefetch()

	if m.GetCacheHits() != 3 {
		t.Errorf("Expected 3 hits, got %d", m.GetCacheHits())
	}
	if m.GetCacheMisses() != 1 {
		t.Errorf("Expected 1 miss, got %d", m.GetCacheMisses())
	}
	if m.GetCacheHitRate() != 0.75 {
		t.Errorf("Expected hit rate 0.75, got %f", m.GetCacheHitRate())
	}
	if m.GetPageEvictions() != 1 {
		t.Errorf("Expected 1 eviction, got %d", m.GetPageEvictions())
	}
	if m.GetDirtyPageFlushes() != 1 {
		t.Errorf("Expected 1 dirty flush, got %d", m.GetDirtyPageFlushes())
	}
	if m.GetPagesPrefetched() != 1 {
		t.Errorf("Expected 1 prefetch, got %d", m.GetPagesPrefetched())
	}
}

func TestMetricsHitRateWithoutTraffic(t *testing.T) {
	m := NewMetrics()
	if m.GetCacheHitRate() != 0 {
		t.Errorf("Expected 0 hit rate with no accesses, got %f", m.GetCacheHitRate())
	}
}

func TestMetricsLatencySnapshots(t *testing.T) {
	m := NewMetrics()

	m.RecordPageFetchLatency(100 * time.Microsecond)
	m.RecordPageFetchLatency(300 * time.Microsecond)
	m.RecordPageFlushLatency(time.Millisecond)

	fetch := m.GetPageFetchLatency()
	if fetch.Count != 2 {
		t.Errorf("Expected 2 fetch samples, got %d", fetch.Count)
	}
	if fetch.Mean != 200 {
		t.Errorf("Expected mean 200us, got %f", fetch.Mean)
	}

	flush := m.GetPageFlushLatency()
	if flush.Count != 1 || flush.Max != 1000 {
		t.Errorf("Expected one 1000us flush sample, got count=%d max=%f", flush.Count, flush.Max)
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()

	m.RecordCacheHit()
	m.RecordPageFetchLatency(time.Microsecond)
	m.Reset()

	if m.GetCacheHits() != 0 {
		t.Errorf("Expected 0 hits after reset, got %d", m.GetCacheHits())
	}
	if m.GetPageFetchLatency().Count != 0 {
		t.Error("Expected empty fetch histogram after reset")
	}
}

func TestMetricsLogOutput(t *testing.T) {
	m := NewMetrics()
	m.RecordCacheHit()
	m.RecordCacheMiss()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	m.LogMetrics(logger)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Log output is not valid JSON: %v", err)
	}

	pool, ok := entry["buffer_pool"].(map[string]any)
	if !ok {
		t.Fatal("Expected a buffer_pool group in the log output")
	}
	if pool["cache_hits"].(float64) != 1 {
		t.Errorf("Expected cache_hits 1 in log output, got %v", pool["cache_hits"])
	}
	if pool["cache_hit_rate"].(float64) != 0.5 {
		t.Errorf("Expected cache_hit_rate 0.5, got %v", pool["cache_hit_rate"])
	}
}
