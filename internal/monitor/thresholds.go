package monitor

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/crimson-sun/tally/internal/model"
)

// threshold holds the warning and critical levels for one metric. For most
// metrics a higher value is worse; lowIsBad inverts the comparison for
// metrics like accuracy where dropping below the threshold is the problem.
type threshold struct {
	warning  float64
	critical float64
	lowIsBad bool
}

// defaultThresholds cover the metrics the sampler and the inference path
// report. Values are per-metric units: milliseconds, rates in [0,1], MB,
// and percent.
func defaultThresholds() map[string]threshold {
	return map[string]threshold{
		"inference_time_ms": {warning: 50, critical: 200},
		"error_rate":        {warning: 0.05, critical: 0.15},
		"accuracy":          {warning: 0.80, critical: 0.70, lowIsBad: true},
		"memory_usage_mb":   {warning: 1024, critical: 2048},
		"cpu_usage_percent": {warning: 70, critical: 90},
		"cache_hit_rate":    {warning: 0.30, critical: 0.10, lowIsBad: true},
	}
}

// evaluate returns the alert for a crossing, or nil when the value is
// within bounds.
func (t threshold) evaluate(name string, value float64) *model.Alert {
	level := model.AlertInfo
	bound := 0.0
	if t.lowIsBad {
		switch {
		case value <= t.critical:
			level, bound = model.AlertCritical, t.critical
		case value <= t.warning:
			level, bound = model.AlertWarning, t.warning
		default:
			return nil
		}
	} else {
		switch {
		case value >= t.critical:
			level, bound = model.AlertCritical, t.critical
		case value >= t.warning:
			level, bound = model.AlertWarning, t.warning
		default:
			return nil
		}
	}

	direction := "above"
	if t.lowIsBad {
		direction = "below"
	}
	return &model.Alert{
		Level:        level,
		MetricName:   name,
		CurrentValue: value,
		Threshold:    bound,
		Message:      fmt.Sprintf("%s is %.4f, %s %s threshold %.4f", name, value, direction, level, bound),
		Timestamp:    time.Now().UTC(),
	}
}

// raise logs the alert at its matching severity and appends it to history.
func (m *Monitor) raise(alert *model.Alert) {
	m.alerts.append(*alert)
	attrs := []any{
		"metric", alert.MetricName,
		"value", alert.CurrentValue,
		"threshold", alert.Threshold,
	}
	switch alert.Level {
	case model.AlertCritical:
		slog.Error("metric alert", attrs...)
	case model.AlertWarning:
		slog.Warn("metric alert", attrs...)
	default:
		slog.Info("metric alert", attrs...)
	}
}
