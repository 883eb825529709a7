package embed

import (
	"math"
	"testing"
)

func TestMeanPoolMasksPadding(t *testing.T) {
	// One sample, seqLen 3, dim 2; last position is padding.
	hidden := []float32{1, 2, 3, 4, 100, 100}
	mask := []int64{1, 1, 0}

	out := meanPool(hidden, mask, 1, 3, 2)
	if out[0] != 2 || out[1] != 3 {
		t.Errorf("meanPool = %v, want [2 3]", out)
	}
}

func TestMeanPoolAllPadding(t *testing.T) {
	out := meanPool([]float32{1, 2}, []int64{0}, 1, 1, 2)
	if out[0] != 0 || out[1] != 0 {
		t.Errorf("meanPool with empty mask = %v, want zeros", out)
	}
}

func TestL2Normalize(t *testing.T) {
	vec := l2Normalize([]float32{3, 4})
	if math.Abs(float64(vec[0]-0.6)) > 1e-6 || math.Abs(float64(vec[1]-0.8)) > 1e-6 {
		t.Errorf("l2Normalize = %v, want [0.6 0.8]", vec)
	}

	zero := l2Normalize([]float32{0, 0})
	if zero[0] != 0 || zero[1] != 0 {
		t.Errorf("zero vector changed: %v", zero)
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"mismatched length", []float32{1}, []float32{1, 2}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 2}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("CosineSimilarity = %v, want %v", got, tt.want)
			}
		})
	}
}
