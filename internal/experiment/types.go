// Package experiment implements A/B testing over named model variants:
// weighted traffic splitting, sticky per-user assignment, guard-rail
// auto-pause, and two-sample significance testing with effect sizes,
// confidence intervals, and post-hoc power.
package experiment

import (
	"fmt"
	"time"
)

// Status is the experiment lifecycle state.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// SplitStrategy selects how traffic is divided among variants.
type SplitStrategy string

const (
	// SplitRandom draws uniformly per call.
	SplitRandom SplitStrategy = "random"
	// SplitUserIDHash hashes the user id so a given user always sees the
	// same variant for the life of the experiment.
	SplitUserIDHash SplitStrategy = "user_id_hash"
	// SplitTimeBased cycles on the wall-clock minute. Coarse and not
	// user-sticky.
	SplitTimeBased SplitStrategy = "time_based"
)

// ModelVariant is one deployable configuration under comparison.
type ModelVariant struct {
	Name         string  `json:"name"`
	ModelPath    string  `json:"model_path"`
	ModelVersion string  `json:"model_version"`
	Weight       float64 `json:"weight"`
}

// GuardRails are live safety thresholds. A variant crossing one pauses the
// experiment. Extra holds thresholds beyond the two first-class ones,
// keyed by metric name.
type GuardRails struct {
	MinAccuracy        float64            `json:"min_accuracy,omitempty"`
	MaxInferenceTimeMs float64            `json:"max_inference_time_ms,omitempty"`
	Extra              map[string]float64 `json:"extra,omitempty"`
}

// Config defines an experiment.
type Config struct {
	ExperimentID      string         `json:"experiment_id"`
	Description       string         `json:"description,omitempty"`
	Variants          []ModelVariant `json:"variants"`
	Strategy          SplitStrategy  `json:"traffic_split_strategy"`
	StartTime         time.Time      `json:"start_time"`
	EndTime           *time.Time     `json:"end_time,omitempty"`
	SuccessMetrics    []string       `json:"success_metrics"`
	MinimumSampleSize int            `json:"minimum_sample_size"`
	SignificanceLevel float64        `json:"significance_level"`
	GuardRails        *GuardRails    `json:"guard_rails,omitempty"`
}

// validate enforces the config invariants at creation time.
func (c *Config) validate() error {
	if c.ExperimentID == "" {
		return fmt.Errorf("experiment: empty experiment id")
	}
	if len(c.Variants) < 2 {
		return fmt.Errorf("experiment %s: need at least 2 variants, got %d", c.ExperimentID, len(c.Variants))
	}
	seen := make(map[string]struct{}, len(c.Variants))
	var sum float64
	for _, v := range c.Variants {
		if v.Name == "" {
			return fmt.Errorf("experiment %s: variant with empty name", c.ExperimentID)
		}
		if _, dup := seen[v.Name]; dup {
			return fmt.Errorf("experiment %s: duplicate variant name %q", c.ExperimentID, v.Name)
		}
		seen[v.Name] = struct{}{}
		if v.Weight < 0 || v.Weight > 1 {
			return fmt.Errorf("experiment %s: variant %q weight %v out of [0,1]", c.ExperimentID, v.Name, v.Weight)
		}
		sum += v.Weight
	}
	if sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("experiment %s: variant weights sum to %v, want 1.0", c.ExperimentID, sum)
	}
	if c.EndTime != nil && !c.EndTime.After(c.StartTime) {
		return fmt.Errorf("experiment %s: end time not after start time", c.ExperimentID)
	}
	switch c.Strategy {
	case SplitRandom, SplitUserIDHash, SplitTimeBased:
	default:
		return fmt.Errorf("experiment %s: unknown traffic split strategy %q", c.ExperimentID, c.Strategy)
	}
	return nil
}

// Result is one classification served under an experiment. IsCorrect is the
// only field ever back-filled after creation, by feedback submission.
type Result struct {
	Timestamp       time.Time         `json:"timestamp"`
	ExperimentID    string            `json:"experiment_id"`
	VariantName     string            `json:"variant_name"`
	UserID          string            `json:"user_id,omitempty"`
	Prediction      string            `json:"prediction"`
	Confidence      float64           `json:"confidence"`
	InferenceTimeMs float64           `json:"inference_time_ms"`
	IsCorrect       *bool             `json:"is_correct,omitempty"`
	UserFeedback    string            `json:"user_feedback,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// StatisticalTest is a pairwise comparison between two variants for one
// metric. Derived on demand, never persisted as source of truth.
type StatisticalTest struct {
	MetricName         string     `json:"metric_name"`
	VariantA           string     `json:"variant_a"`
	VariantB           string     `json:"variant_b"`
	PValue             float64    `json:"p_value"`
	EffectSize         float64    `json:"effect_size"`
	ConfidenceInterval [2]float64 `json:"confidence_interval"`
	IsSignificant      bool       `json:"is_significant"`
	SampleSizeA        int        `json:"sample_size_a"`
	SampleSizeB        int        `json:"sample_size_b"`
	Power              float64    `json:"power"`
}

// VariantSummary aggregates one variant's observed results.
type VariantSummary struct {
	Name            string  `json:"name"`
	SampleSize      int     `json:"sample_size"`
	Accuracy        float64 `json:"accuracy"`
	AccuracySamples int     `json:"accuracy_samples"`
	AvgLatencyMs    float64 `json:"avg_latency_ms"`
	P95LatencyMs    float64 `json:"p95_latency_ms"`
	AvgConfidence   float64 `json:"avg_confidence"`
	StdConfidence   float64 `json:"std_confidence"`
}

// Report is the full experiment readout.
type Report struct {
	ExperimentID     string            `json:"experiment_id"`
	Status           Status            `json:"status"`
	StopReason       string            `json:"stop_reason,omitempty"`
	GeneratedAt      time.Time         `json:"generated_at"`
	TotalResults     int               `json:"total_results"`
	Variants         []VariantSummary  `json:"variants"`
	Tests            []StatisticalTest `json:"tests"`
	SignificantTests []StatisticalTest `json:"significant_tests"`
	// WinningVariant has the highest raw accuracy. Raw means exactly that:
	// the lead may not be statistically significant.
	WinningVariant        string   `json:"winning_variant,omitempty"`
	WinnerIsSignificant   bool     `json:"winner_is_significant"`
	Recommendations       []string `json:"recommendations"`
}
