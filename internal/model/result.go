package model

// ConfidenceLevel buckets a cosine similarity score into a coarse band.
type ConfidenceLevel string

const (
	ConfidenceLow    ConfidenceLevel = "low"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceHigh   ConfidenceLevel = "high"
)

// InferenceResult is the outcome of a single classification. It is a value
// object, created fresh per call and never mutated.
type InferenceResult struct {
	PredictedCategory string             `json:"predicted_category"`
	Confidence        float64            `json:"confidence"`
	ConfidenceLevel   ConfidenceLevel    `json:"confidence_level"`
	InferenceTimeMs   float64            `json:"inference_time_ms"`
	ModelVersion      string             `json:"model_version"`
	AllSimilarities   map[string]float64 `json:"all_similarities,omitempty"`
}

// BatchStats summarizes a ClassifyBatch call.
type BatchStats struct {
	Total               int     `json:"total"`
	TotalTimeMs         float64 `json:"total_time_ms"`
	AvgTimePerItemMs    float64 `json:"avg_time_per_item_ms"`
	ThroughputPerSecond float64 `json:"throughput_per_second"`
}
