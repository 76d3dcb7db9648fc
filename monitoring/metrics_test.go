package monitoring

import (
	"encoding/json"
	"testing"
	"time"
)

func TestMetricsCollectorSnapshot(t *testing.T) {
	mc := NewMetricsCollector()
	mc.IncrCounter("requests_total", 1)
	mc.IncrCounter("requests_total", 2)
	mc.SetGauge("cache_entries", 7)
	for i := 1; i <= 100; i++ {
		mc.RecordLatency("predict", time.Duration(i)*time.Millisecond)
	}

	snap := mc.Snapshot()
	if snap.Counters["requests_total"] != 3 {
		t.Fatalf("expected counter 3, got %v", snap.Counters["requests_total"])
	}
	if snap.Gauges["cache_entries"] != 7 {
		t.Fatalf("expected gauge 7, got %v", snap.Gauges["cache_entries"])
	}
	lat := snap.Latencies["predict"]
	if lat.Count != 100 || lat.MinMs != 1 || lat.MaxMs != 100 {
		t.Fatalf("unexpected latency stats: %+v", lat)
	}
	if lat.MeanMs != 50.5 {
		t.Fatalf("expected mean 50.5, got %v", lat.MeanMs)
	}
	if lat.P50Ms != 50 || lat.P95Ms != 95 {
		t.Fatalf("unexpected quantiles: p50=%v p95=%v", lat.P50Ms, lat.P95Ms)
	}

	// 快照是副本
	snap.Counters["requests_total"] = 100
	if mc.Counter("requests_total") != 3 {
		t.Fatal("snapshot must not alias collector state")
	}
}

func TestLatencyWindowWraps(t *testing.T) {
	mc := NewMetricsCollector()
	for i := 0; i < latencyWindow+10; i++ {
		mc.RecordLatency("predict", time.Millisecond)
	}
	mc.RecordLatency("predict", time.Second)
	lat := mc.Snapshot().Latencies["predict"]
	if lat.Count != int64(latencyWindow+11) {
		t.Fatalf("unexpected count %d", lat.Count)
	}
	if lat.MaxMs != 1000 {
		t.Fatalf("expected max 1000ms, got %v", lat.MaxMs)
	}
}

func TestExportJSON(t *testing.T) {
	mc := NewMetricsCollector()
	mc.IncrCounter("predictions_total", 1)
	payload, err := mc.ExportJSON()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decoded Snapshot
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if decoded.Counters["predictions_total"] != 1 {
		t.Fatalf("unexpected counters: %v", decoded.Counters)
	}
}
