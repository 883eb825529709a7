package monitor

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimson-sun/tally/internal/model"
)

func newTestMonitor() *Monitor {
	return New(Options{SampleInterval: time.Hour})
}

func boolPtr(b bool) *bool { return &b }

func TestThresholdEvaluate(t *testing.T) {
	high := threshold{warning: 50, critical: 200}
	assert.Nil(t, high.evaluate("inference_time_ms", 10))

	alert := high.evaluate("inference_time_ms", 75)
	require.NotNil(t, alert)
	assert.Equal(t, model.AlertWarning, alert.Level)
	assert.Equal(t, 50.0, alert.Threshold)

	alert = high.evaluate("inference_time_ms", 300)
	require.NotNil(t, alert)
	assert.Equal(t, model.AlertCritical, alert.Level)

	low := threshold{warning: 0.8, critical: 0.7, lowIsBad: true}
	assert.Nil(t, low.evaluate("accuracy", 0.95))

	alert = low.evaluate("accuracy", 0.75)
	require.NotNil(t, alert)
	assert.Equal(t, model.AlertWarning, alert.Level)

	alert = low.evaluate("accuracy", 0.5)
	require.NotNil(t, alert)
	assert.Equal(t, model.AlertCritical, alert.Level)
}

func TestRecordInferenceSnapshot(t *testing.T) {
	m := newTestMonitor()
	for _, latency := range []float64{2, 4, 6} {
		m.RecordInference(latency, 0.9, "fp32", nil)
	}

	snap := m.PerformanceSnapshot()
	assert.Equal(t, uint64(3), snap.TotalPredictions)
	assert.InDelta(t, 4.0, snap.AvgLatencyMs, 1e-9)
	assert.Equal(t, 6.0, snap.P99LatencyMs)
	assert.Zero(t, snap.AccuracySamples)
}

func TestAccuracyFromFeedback(t *testing.T) {
	m := newTestMonitor()
	m.RecordInference(1, 0.9, "fp32", boolPtr(true))
	m.RecordInference(1, 0.9, "fp32", boolPtr(true))
	m.RecordInference(1, 0.9, "fp32", boolPtr(false))
	m.RecordInference(1, 0.9, "fp32", nil)

	snap := m.PerformanceSnapshot()
	assert.Equal(t, 3, snap.AccuracySamples)
	assert.InDelta(t, 2.0/3.0, snap.Accuracy, 1e-9)
}

func TestRecordErrorRate(t *testing.T) {
	m := newTestMonitor()
	m.RecordInference(1, 0.9, "fp32", nil)
	m.RecordError("embed_failure")

	snap := m.PerformanceSnapshot()
	assert.Equal(t, uint64(2), snap.TotalPredictions)
	assert.Equal(t, uint64(1), snap.TotalErrors)
	assert.InDelta(t, 0.5, snap.ErrorRate, 1e-9)
}

func TestRecordCacheStats(t *testing.T) {
	m := newTestMonitor()
	m.RecordCacheStats(75, 25)
	assert.InDelta(t, 0.75, m.PerformanceSnapshot().CacheHitRate, 1e-9)
}

func TestAlertOnSlowInference(t *testing.T) {
	m := newTestMonitor()
	m.RecordInference(500, 0.9, "fp32", nil)

	alerts := m.Alerts()
	require.NotEmpty(t, alerts)
	last := alerts[len(alerts)-1]
	assert.Equal(t, "inference_time_ms", last.MetricName)
	assert.Equal(t, model.AlertCritical, last.Level)
	assert.Equal(t, 500.0, last.CurrentValue)
}

func TestLowAccuracyAlertInverts(t *testing.T) {
	m := newTestMonitor()
	// One wrong answer makes windowed accuracy 0, well below critical.
	m.RecordInference(1, 0.9, "fp32", boolPtr(false))

	var found bool
	for _, alert := range m.Alerts() {
		if alert.MetricName == "accuracy" && alert.Level == model.AlertCritical {
			found = true
		}
	}
	assert.True(t, found, "expected a critical accuracy alert")
}

func TestDashboardWindow(t *testing.T) {
	m := newTestMonitor()
	m.RecordInference(3, 0.9, "fp32", nil)
	m.RecordInference(5, 0.7, "fp32", nil)

	data := m.Dashboard(1)
	lat, ok := data.Metrics["inference_time_ms"]
	require.True(t, ok)
	assert.Equal(t, 2, lat.Count)
	assert.InDelta(t, 4.0, lat.Avg, 1e-9)
	assert.Equal(t, 3.0, lat.Min)
	assert.Equal(t, 5.0, lat.Max)

	conf, ok := data.Metrics["confidence"]
	require.True(t, ok)
	assert.Equal(t, 2, conf.Count)
}

func TestDashboardExcludesStaleEntries(t *testing.T) {
	m := newTestMonitor()
	m.metrics.append(model.Metric{
		Name:      "inference_time_ms",
		Value:     9,
		Timestamp: time.Now().UTC().Add(-48 * time.Hour),
	})
	m.RecordInference(3, 0.9, "fp32", nil)

	data := m.Dashboard(1)
	assert.Equal(t, 1, data.Metrics["inference_time_ms"].Count)
}

func TestStartStop(t *testing.T) {
	m := New(Options{SampleInterval: 10 * time.Millisecond})
	assert.False(t, m.Running())

	m.Start()
	assert.True(t, m.Running())
	m.Start() // no-op

	time.Sleep(30 * time.Millisecond)
	m.Stop()
	assert.False(t, m.Running())
	m.Stop() // no-op
}

func TestExportCSV(t *testing.T) {
	m := newTestMonitor()
	m.RecordInference(3, 0.9, "fp32", nil)
	m.RecordError("timeout")

	path := filepath.Join(t.TempDir(), "metrics.csv")
	require.NoError(t, m.ExportCSV(path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	assert.Equal(t, []string{"timestamp", "name", "value", "model_version", "kind"}, rows[0])
	assert.Greater(t, len(rows), 2)
}
