package monitoring

import (
	"encoding/json"
	"runtime"
	"sort"
	"sync"
	"time"
)

// 最近延迟样本的窗口大小，用于计算分位数
const latencyWindow = 1024

// MetricsCollector 指标收集器
type MetricsCollector struct {
	mu        sync.RWMutex
	counters  map[string]float64
	gauges    map[string]float64
	latencies map[string]*latencySummary

	startTime time.Time
}

// latencySummary 延迟摘要
type latencySummary struct {
	count  int64
	sum    time.Duration
	min    time.Duration
	max    time.Duration
	recent []time.Duration
	next   int
}

// LatencyStats 延迟统计
type LatencyStats struct {
	Count  int64   `json:"count"`
	MeanMs float64 `json:"mean_ms"`
	MinMs  float64 `json:"min_ms"`
	MaxMs  float64 `json:"max_ms"`
	P50Ms  float64 `json:"p50_ms"`
	P95Ms  float64 `json:"p95_ms"`
	P99Ms  float64 `json:"p99_ms"`
}

// Snapshot 指标快照
type Snapshot struct {
	Timestamp  time.Time               `json:"timestamp"`
	Uptime     string                  `json:"uptime"`
	Counters   map[string]float64      `json:"counters"`
	Gauges     map[string]float64      `json:"gauges"`
	Latencies  map[string]LatencyStats `json:"latencies"`
	Goroutines int                     `json:"goroutines"`
	HeapAlloc  uint64                  `json:"heap_alloc_bytes"`
	GCCount    uint32                  `json:"gc_count"`
}

// NewMetricsCollector 创建指标收集器
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:  make(map[string]float64),
		gauges:    make(map[string]float64),
		latencies: make(map[string]*latencySummary),
		startTime: time.Now(),
	}
}

// IncrCounter 增加计数器
func (mc *MetricsCollector) IncrCounter(name string, value float64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.counters[name] += value
}

// SetGauge 设置仪表
func (mc *MetricsCollector) SetGauge(name string, value float64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.gauges[name] = value
}

// RecordLatency 记录一次耗时
func (mc *MetricsCollector) RecordLatency(name string, d time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	s, ok := mc.latencies[name]
	if !ok {
		s = &latencySummary{min: d, max: d, recent: make([]time.Duration, 0, latencyWindow)}
		mc.latencies[name] = s
	}
	s.count++
	s.sum += d
	if d < s.min {
		s.min = d
	}
	if d > s.max {
		s.max = d
	}
	if len(s.recent) < latencyWindow {
		s.recent = append(s.recent, d)
	} else {
		s.recent[s.next] = d
		s.next = (s.next + 1) % latencyWindow
	}
}

// Counter 读取计数器
func (mc *MetricsCollector) Counter(name string) float64 {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.counters[name]
}

// GetUptime 获取运行时间
func (mc *MetricsCollector) GetUptime() time.Duration {
	return time.Since(mc.startTime)
}

// Snapshot 生成快照
func (mc *MetricsCollector) Snapshot() Snapshot {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	mc.mu.RLock()
	defer mc.mu.RUnlock()

	snap := Snapshot{
		Timestamp:  time.Now(),
		Uptime:     mc.GetUptime().Round(time.Second).String(),
		Counters:   make(map[string]float64, len(mc.counters)),
		Gauges:     make(map[string]float64, len(mc.gauges)),
		Latencies:  make(map[string]LatencyStats, len(mc.latencies)),
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  m.HeapAlloc,
		GCCount:    m.NumGC,
	}
	for k, v := range mc.counters {
		snap.Counters[k] = v
	}
	for k, v := range mc.gauges {
		snap.Gauges[k] = v
	}
	for k, s := range mc.latencies {
		snap.Latencies[k] = s.stats()
	}
	return snap
}

// ExportJSON 导出JSON格式
func (mc *MetricsCollector) ExportJSON() ([]byte, error) {
	return json.Marshal(mc.Snapshot())
}

func (s *latencySummary) stats() LatencyStats {
	sorted := append([]time.Duration(nil), s.recent...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return LatencyStats{
		Count:  s.count,
		MeanMs: ms(s.sum) / float64(s.count),
		MinMs:  ms(s.min),
		MaxMs:  ms(s.max),
		P50Ms:  ms(quantile(sorted, 0.50)),
		P95Ms:  ms(quantile(sorted, 0.95)),
		P99Ms:  ms(quantile(sorted, 0.99)),
	}
}

func quantile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(q * float64(len(sorted)-1))
	return sorted[idx]
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
