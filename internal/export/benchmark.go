package export

import (
	"fmt"
	"log/slog"
	"time"
)

// BenchmarkResult holds single-item latency and throughput measurements for
// one variant. Latency is measured per call because production serves one
// transaction per request on the hot path.
type BenchmarkResult struct {
	Variant             string  `json:"variant"`
	Samples             int     `json:"samples"`
	AvgLatencyMs        float64 `json:"avg_latency_ms"`
	P95LatencyMs        float64 `json:"p95_latency_ms"`
	ThroughputPerSecond float64 `json:"throughput_per_second"`
	ModelSizeBytes      int64   `json:"model_size_bytes"`
}

// Benchmark measures each variant over the given texts. One untimed warmup
// pass precedes measurement so session initialization does not pollute the
// numbers.
func (x *Exporter) Benchmark(variants []Variant, texts []string) ([]BenchmarkResult, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("export: benchmark needs at least one text")
	}

	results := make([]BenchmarkResult, 0, len(variants))
	for _, v := range variants {
		res, err := x.benchmarkOne(v, texts)
		if err != nil {
			return nil, fmt.Errorf("export: benchmark %s: %w", v.Name, err)
		}
		slog.Info("benchmarked variant",
			"variant", v.Name,
			"avg_latency_ms", res.AvgLatencyMs,
			"throughput_per_s", res.ThroughputPerSecond)
		results = append(results, res)
	}
	return results, nil
}

func (x *Exporter) benchmarkOne(v Variant, texts []string) (BenchmarkResult, error) {
	emb, err := x.openVariant(v)
	if err != nil {
		return BenchmarkResult{}, err
	}
	defer emb.Close()

	// Warmup.
	if _, err := emb.Embed(texts[0]); err != nil {
		return BenchmarkResult{}, err
	}

	latencies := make([]float64, 0, len(texts))
	start := time.Now()
	for _, text := range texts {
		t0 := time.Now()
		if _, err := emb.Embed(text); err != nil {
			return BenchmarkResult{}, err
		}
		latencies = append(latencies, float64(time.Since(t0).Microseconds())/1000)
	}
	total := time.Since(start).Seconds()

	var sum float64
	for _, l := range latencies {
		sum += l
	}
	return BenchmarkResult{
		Variant:             v.Name,
		Samples:             len(texts),
		AvgLatencyMs:        sum / float64(len(latencies)),
		P95LatencyMs:        percentile(latencies, 0.95),
		ThroughputPerSecond: float64(len(texts)) / total,
		ModelSizeBytes:      v.SizeBytes,
	}, nil
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j] < sorted[j-1]; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	idx := int(p * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
