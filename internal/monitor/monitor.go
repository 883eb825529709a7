// Package monitor tracks live model health: per-inference latency,
// confidence, and accuracy, process resource usage, and threshold alerts.
// Recording is cheap and never blocks or fails the inference path.
package monitor

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crimson-sun/tally/internal/model"
)

// Options configures a Monitor. Zero values take the defaults noted on each
// field.
type Options struct {
	SampleInterval time.Duration // resource sampling period, default 30s
	MetricCapacity int           // metric ring size, default 10000
	AlertCapacity  int           // alert history size, default 500
	WindowCapacity int           // latency/accuracy window size, default 1000
	Thresholds     map[string]threshold
}

// Monitor collects inference and system metrics into bounded ring buffers
// and evaluates alert thresholds. Start launches the background resource
// sampler; recording works with or without it.
type Monitor struct {
	metrics  *ring[model.Metric]
	alerts   *ring[model.Alert]
	latency  *ring[float64]
	accuracy *ring[bool]

	thresholds map[string]threshold
	interval   time.Duration
	prom       *promMetrics

	totalPredictions atomic.Uint64
	totalErrors      atomic.Uint64
	cacheHits        atomic.Uint64
	cacheMisses      atomic.Uint64

	startedAt time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stopped Monitor.
func New(opts Options) *Monitor {
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = 30 * time.Second
	}
	if opts.MetricCapacity <= 0 {
		opts.MetricCapacity = 10000
	}
	if opts.AlertCapacity <= 0 {
		opts.AlertCapacity = 500
	}
	if opts.WindowCapacity <= 0 {
		opts.WindowCapacity = 1000
	}
	thresholds := opts.Thresholds
	if thresholds == nil {
		thresholds = defaultThresholds()
	}
	return &Monitor{
		metrics:    newRing[model.Metric](opts.MetricCapacity),
		alerts:     newRing[model.Alert](opts.AlertCapacity),
		latency:    newRing[float64](opts.WindowCapacity),
		accuracy:   newRing[bool](opts.WindowCapacity),
		thresholds: thresholds,
		interval:   opts.SampleInterval,
		prom:       newPromMetrics(),
		startedAt:  time.Now().UTC(),
	}
}

// Start launches the background resource sampler. Calling Start on a
// running monitor is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.sample(ctx)
	slog.Info("monitor started", "sample_interval", m.interval)
}

// Stop cancels the sampler and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	slog.Info("monitor stopped")
}

// Running reports whether the sampler is live.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

func (m *Monitor) sample(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sampleResources()
		}
	}
}

func (m *Monitor) sampleResources() {
	memMB, cpuPct, err := processUsage()
	if err != nil {
		slog.Warn("resource sampling failed", "error", err)
		return
	}
	m.record("memory_usage_mb", memMB, "", nil)
	m.record("cpu_usage_percent", cpuPct, "", nil)
	m.prom.memoryMB.Set(memMB)
	m.prom.cpuPercent.Set(cpuPct)

	if total := m.totalPredictions.Load(); total > 0 {
		m.record("error_rate", float64(m.totalErrors.Load())/float64(total), "", nil)
	}
	if hits, misses := m.cacheHits.Load(), m.cacheMisses.Load(); hits+misses > 0 {
		m.record("cache_hit_rate", float64(hits)/float64(hits+misses), "", nil)
	}
}

// RecordInference records one served classification. isCorrect is nil when
// ground truth is unknown at serving time; feedback submits it later as a
// separate call.
func (m *Monitor) RecordInference(latencyMs, confidence float64, modelVersion string, isCorrect *bool) {
	m.totalPredictions.Add(1)
	m.latency.append(latencyMs)
	m.record("inference_time_ms", latencyMs, modelVersion, nil)
	m.record("confidence", confidence, modelVersion, nil)
	m.prom.inferenceTotal.Inc()
	m.prom.latencyMs.Observe(latencyMs)

	if isCorrect != nil {
		m.accuracy.append(*isCorrect)
		if acc, ok := m.currentAccuracy(); ok {
			m.record("accuracy", acc, modelVersion, nil)
			m.prom.accuracy.Set(acc)
		}
	}
}

// RecordError counts a failed classification.
func (m *Monitor) RecordError(kind string) {
	m.totalPredictions.Add(1)
	m.totalErrors.Add(1)
	m.prom.errorsTotal.WithLabelValues(kind).Inc()

	total := m.totalPredictions.Load()
	rate := float64(m.totalErrors.Load()) / float64(total)
	m.record("error_rate", rate, "", map[string]string{"kind": kind})
}

// RecordCacheStats replaces the cumulative cache counters.
func (m *Monitor) RecordCacheStats(hits, misses uint64) {
	m.cacheHits.Store(hits)
	m.cacheMisses.Store(misses)
	if hits+misses > 0 {
		m.prom.cacheHitRate.Set(float64(hits) / float64(hits+misses))
	}
}

// record appends the metric and evaluates its threshold, if one exists.
func (m *Monitor) record(name string, value float64, modelVersion string, labels map[string]string) {
	m.metrics.append(model.Metric{
		Name:         name,
		Value:        value,
		Timestamp:    time.Now().UTC(),
		ModelVersion: modelVersion,
		Labels:       labels,
	})
	if t, ok := m.thresholds[name]; ok {
		if alert := t.evaluate(name, value); alert != nil {
			m.raise(alert)
		}
	}
}

func (m *Monitor) currentAccuracy() (float64, bool) {
	window := m.accuracy.snapshot()
	if len(window) == 0 {
		return 0, false
	}
	correct := 0
	for _, ok := range window {
		if ok {
			correct++
		}
	}
	return float64(correct) / float64(len(window)), true
}

// Snapshot is a point-in-time aggregate over the in-memory buffers.
type Snapshot struct {
	AvgLatencyMs        float64 `json:"avg_latency_ms"`
	P95LatencyMs        float64 `json:"p95_latency_ms"`
	P99LatencyMs        float64 `json:"p99_latency_ms"`
	ThroughputPerSecond float64 `json:"throughput_per_second"`
	Accuracy            float64 `json:"accuracy"`
	AccuracySamples     int     `json:"accuracy_samples"`
	ErrorRate           float64 `json:"error_rate"`
	CacheHitRate        float64 `json:"cache_hit_rate"`
	MemoryUsageMB       float64 `json:"memory_usage_mb"`
	CPUUsagePercent     float64 `json:"cpu_usage_percent"`
	TotalPredictions    uint64  `json:"total_predictions"`
	TotalErrors         uint64  `json:"total_errors"`
	UptimeSeconds       float64 `json:"uptime_seconds"`
}

// PerformanceSnapshot recomputes the aggregate from the buffers on every
// call.
func (m *Monitor) PerformanceSnapshot() Snapshot {
	snap := Snapshot{
		TotalPredictions: m.totalPredictions.Load(),
		TotalErrors:      m.totalErrors.Load(),
		UptimeSeconds:    time.Since(m.startedAt).Seconds(),
	}

	if lats := m.latency.snapshot(); len(lats) > 0 {
		sorted := make([]float64, len(lats))
		copy(sorted, lats)
		sort.Float64s(sorted)
		var sum float64
		for _, l := range sorted {
			sum += l
		}
		snap.AvgLatencyMs = sum / float64(len(sorted))
		snap.P95LatencyMs = sorted[clampIndex(len(sorted), 0.95)]
		snap.P99LatencyMs = sorted[clampIndex(len(sorted), 0.99)]
	}
	if snap.UptimeSeconds > 0 {
		snap.ThroughputPerSecond = float64(snap.TotalPredictions) / snap.UptimeSeconds
	}
	if acc, ok := m.currentAccuracy(); ok {
		snap.Accuracy = acc
		snap.AccuracySamples = m.accuracy.len()
	}
	if snap.TotalPredictions > 0 {
		snap.ErrorRate = float64(snap.TotalErrors) / float64(snap.TotalPredictions)
	}
	if hits, misses := m.cacheHits.Load(), m.cacheMisses.Load(); hits+misses > 0 {
		snap.CacheHitRate = float64(hits) / float64(hits+misses)
	}

	// Latest sampled resource readings, if any.
	for _, metric := range m.metrics.snapshot() {
		switch metric.Name {
		case "memory_usage_mb":
			snap.MemoryUsageMB = metric.Value
		case "cpu_usage_percent":
			snap.CPUUsagePercent = metric.Value
		}
	}
	return snap
}

// MetricSummary aggregates one metric over a dashboard window.
type MetricSummary struct {
	Count int     `json:"count"`
	Avg   float64 `json:"avg"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// DashboardData is the windowed reporting view.
type DashboardData struct {
	WindowHours float64                  `json:"window_hours"`
	Metrics     map[string]MetricSummary `json:"metrics"`
	AlertCounts map[model.AlertLevel]int `json:"alert_counts"`
	GeneratedAt time.Time                `json:"generated_at"`
}

// Dashboard aggregates the buffers over the trailing window.
func (m *Monitor) Dashboard(hours float64) DashboardData {
	if hours <= 0 {
		hours = 24
	}
	cutoff := time.Now().UTC().Add(-time.Duration(hours * float64(time.Hour)))

	data := DashboardData{
		WindowHours: hours,
		Metrics:     make(map[string]MetricSummary),
		AlertCounts: make(map[model.AlertLevel]int),
		GeneratedAt: time.Now().UTC(),
	}
	for _, metric := range m.metrics.snapshot() {
		if metric.Timestamp.Before(cutoff) {
			continue
		}
		s, ok := data.Metrics[metric.Name]
		if !ok {
			s = MetricSummary{Min: metric.Value, Max: metric.Value}
		}
		s.Count++
		s.Avg += metric.Value // running sum until the final pass below
		if metric.Value < s.Min {
			s.Min = metric.Value
		}
		if metric.Value > s.Max {
			s.Max = metric.Value
		}
		data.Metrics[metric.Name] = s
	}
	for name, s := range data.Metrics {
		s.Avg /= float64(s.Count)
		data.Metrics[name] = s
	}
	for _, alert := range m.alerts.snapshot() {
		if alert.Timestamp.Before(cutoff) {
			continue
		}
		data.AlertCounts[alert.Level]++
	}
	return data
}

// Alerts returns the alert history, oldest first.
func (m *Monitor) Alerts() []model.Alert {
	return m.alerts.snapshot()
}

func clampIndex(n int, p float64) int {
	idx := int(p * float64(n))
	if idx >= n {
		idx = n - 1
	}
	return idx
}
