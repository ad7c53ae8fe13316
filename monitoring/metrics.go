// Package monitoring 汇总诊断流水线的运行指标
package monitoring

import (
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/shoswaller/Ghetto-style-Quant-Trading/diagnosis"
)

const (
	// 保留最近的耗时样本数
	maxSamples = 1000
	// 未结束的请求上限，超过后丢弃最早的记录
	maxPending = 10000
)

// LatencySummary 耗时统计(毫秒)
type LatencySummary struct {
	Count int     `json:"count"`
	Avg   float64 `json:"avg_ms"`
	P50   float64 `json:"p50_ms"`
	P95   float64 `json:"p95_ms"`
	Max   float64 `json:"max_ms"`
}

// RuntimeStats 进程运行时指标
type RuntimeStats struct {
	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc"`
	HeapSys    uint64 `json:"heap_sys"`
	NumGC      uint32 `json:"num_gc"`
}

// Snapshot is a point-in-time copy of the collected metrics.
type Snapshot struct {
	Uptime    string                    `json:"uptime"`
	Requests  int64                     `json:"requests"`
	Completed int64                     `json:"completed"`
	Failed    int64                     `json:"failed"`
	CacheHits int64                     `json:"cache_hits"`
	HitRate   float64                   `json:"hit_rate"`
	States    map[diagnosis.State]int64 `json:"states"`
	Latency   LatencySummary            `json:"latency"`
	Runtime   RuntimeStats              `json:"runtime"`
}

// DiagnosisMetrics 实现 diagnosis.Observer，按状态事件计数并统计端到端耗时
type DiagnosisMetrics struct {
	mu        sync.Mutex
	states    map[diagnosis.State]int64
	pending   map[string]time.Time
	samples   []float64
	startTime time.Time
}

var _ diagnosis.Observer = (*DiagnosisMetrics)(nil)

// NewDiagnosisMetrics 创建指标收集器
func NewDiagnosisMetrics() *DiagnosisMetrics {
	return &DiagnosisMetrics{
		states:    make(map[diagnosis.State]int64),
		pending:   make(map[string]time.Time),
		samples:   make([]float64, 0, maxSamples),
		startTime: time.Now(),
	}
}

func eventKey(e diagnosis.Event) string {
	if e.RequestID != "" {
		return e.RequestID
	}
	return e.Code + "|" + e.Category
}

// Observe records one state transition.
func (m *DiagnosisMetrics) Observe(e diagnosis.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.states[e.State]++
	key := eventKey(e)

	switch e.State {
	case diagnosis.StateFetchingBase:
		if len(m.pending) >= maxPending {
			m.evictOldest()
		}
		m.pending[key] = e.At
	case diagnosis.StateDone:
		if start, ok := m.pending[key]; ok {
			m.record(float64(e.At.Sub(start)) / float64(time.Millisecond))
		}
		delete(m.pending, key)
	case diagnosis.StateFailed:
		delete(m.pending, key)
	}
}

func (m *DiagnosisMetrics) record(ms float64) {
	if len(m.samples) >= maxSamples {
		m.samples = append(m.samples[:0], m.samples[maxSamples/10:]...)
	}
	m.samples = append(m.samples, ms)
}

func (m *DiagnosisMetrics) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for k, t := range m.pending {
		if oldestKey == "" || t.Before(oldest) {
			oldestKey, oldest = k, t
		}
	}
	delete(m.pending, oldestKey)
}

// Snapshot 获取指标快照
func (m *DiagnosisMetrics) Snapshot() Snapshot {
	m.mu.Lock()
	states := make(map[diagnosis.State]int64, len(m.states))
	for s, n := range m.states {
		states[s] = n
	}
	samples := append([]float64(nil), m.samples...)
	uptime := time.Since(m.startTime)
	m.mu.Unlock()

	snap := Snapshot{
		Uptime:    uptime.Round(time.Second).String(),
		Requests:  states[diagnosis.StateFetchingBase],
		Completed: states[diagnosis.StateDone],
		Failed:    states[diagnosis.StateFailed],
		CacheHits: states[diagnosis.StateCacheHit],
		States:    states,
		Latency:   summarize(samples),
		Runtime:   readRuntime(),
	}
	if snap.Completed > 0 {
		snap.HitRate = float64(snap.CacheHits) / float64(snap.Completed)
	}
	return snap
}

func summarize(values []float64) LatencySummary {
	if len(values) == 0 {
		return LatencySummary{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	return LatencySummary{
		Count: len(sorted),
		Avg:   sum / float64(len(sorted)),
		P50:   percentile(sorted, 0.50),
		P95:   percentile(sorted, 0.95),
		Max:   sorted[len(sorted)-1],
	}
}

// percentile 最近秩法，sorted 须已升序
func percentile(sorted []float64, p float64) float64 {
	idx := int(p*float64(len(sorted))+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func readRuntime() RuntimeStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return RuntimeStats{
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  ms.HeapAlloc,
		HeapSys:    ms.HeapSys,
		NumGC:      ms.NumGC,
	}
}
