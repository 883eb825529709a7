package model

import "time"

// Metric is a timestamped scalar observation recorded by the monitor.
type Metric struct {
	Name         string            `json:"name"`
	Value        float64           `json:"value"`
	Timestamp    time.Time         `json:"timestamp"`
	ModelVersion string            `json:"model_version,omitempty"`
	Labels       map[string]string `json:"labels,omitempty"`
}

// AlertLevel is the severity of a threshold crossing.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "info"
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
)

// Alert records a metric crossing a configured threshold. Alerts are
// advisory: they are appended to a bounded history and logged, never raised
// into the inference path.
type Alert struct {
	Level        AlertLevel `json:"level"`
	MetricName   string     `json:"metric_name"`
	CurrentValue float64    `json:"current_value"`
	Threshold    float64    `json:"threshold"`
	Message      string     `json:"message"`
	Timestamp    time.Time  `json:"timestamp"`
}
