package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// promMetrics mirrors the monitor's key signals into the default prometheus
// registry for scraping at /metrics.
type promMetrics struct {
	inferenceTotal prometheus.Counter
	errorsTotal    *prometheus.CounterVec
	latencyMs      prometheus.Histogram
	accuracy       prometheus.Gauge
	cacheHitRate   prometheus.Gauge
	memoryMB       prometheus.Gauge
	cpuPercent     prometheus.Gauge
}

var sharedProm *promMetrics

// newPromMetrics registers the collectors once; subsequent monitors share
// them since promauto panics on duplicate registration.
func newPromMetrics() *promMetrics {
	if sharedProm != nil {
		return sharedProm
	}
	sharedProm = &promMetrics{
		inferenceTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "tally",
			Name:      "inference_total",
			Help:      "Total classifications served.",
		}),
		errorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tally",
			Name:      "inference_errors_total",
			Help:      "Total failed classifications by kind.",
		}, []string{"kind"}),
		latencyMs: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tally",
			Name:      "inference_latency_ms",
			Help:      "Classification latency in milliseconds.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		accuracy: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "tally",
			Name:      "accuracy",
			Help:      "Windowed accuracy from feedback.",
		}),
		cacheHitRate: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "tally",
			Name:      "cache_hit_rate",
			Help:      "Embedding cache hit rate.",
		}),
		memoryMB: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "tally",
			Name:      "memory_usage_mb",
			Help:      "Process resident memory in MB.",
		}),
		cpuPercent: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "tally",
			Name:      "cpu_usage_percent",
			Help:      "Process CPU usage percent.",
		}),
	}
	return sharedProm
}
