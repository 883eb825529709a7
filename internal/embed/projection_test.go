package embed

import (
	"math"
	"path/filepath"
	"testing"
)

func writeFloatHead(t *testing.T, weights []float32, outDim, inDim int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "head.safetensors")
	err := WriteTensors(path, map[string]Tensor{
		"linear.weight": {Dtype: "F32", Shape: []int{outDim, inDim}, F32: weights},
	})
	if err != nil {
		t.Fatal(err)
	}
	return path
}

func TestProjectionFloatApply(t *testing.T) {
	// 2x3 weight, identity-ish rows.
	path := writeFloatHead(t, []float32{1, 0, 0, 0, 2, 0}, 2, 3)
	p, err := loadProjection(path)
	if err != nil {
		t.Fatalf("loadProjection() error: %v", err)
	}
	if p.mode != headFloat || p.inDim != 3 || p.outDim != 2 {
		t.Fatalf("head = %+v", p)
	}

	out := p.apply([]float32{0.5, -1, 7})
	if out[0] != 0.5 || out[1] != -2 {
		t.Errorf("apply = %v, want [0.5 -2]", out)
	}
}

func TestProjectionDynamicMatchesFloat(t *testing.T) {
	// Quantize a known row to INT8 with per-channel scale and check the
	// dynamic path tracks the float product closely.
	inDim, outDim := 4, 2
	weights := []float32{0.5, -0.25, 0.125, 1.0, -1.0, 0.75, 0.0, -0.5}

	i8 := make([]int8, len(weights))
	scales := make([]float32, outDim)
	for r := 0; r < outDim; r++ {
		row := weights[r*inDim : (r+1)*inDim]
		var maxAbs float32
		for _, w := range row {
			if a := float32(math.Abs(float64(w))); a > maxAbs {
				maxAbs = a
			}
		}
		scales[r] = maxAbs / 127
		for c, w := range row {
			i8[r*inDim+c] = int8(math.Round(float64(w / scales[r])))
		}
	}

	path := filepath.Join(t.TempDir(), "head.safetensors")
	err := WriteTensors(path, map[string]Tensor{
		"linear.weight":       {Dtype: "I8", Shape: []int{outDim, inDim}, I8: i8},
		"linear.weight_scale": {Dtype: "F32", Shape: []int{outDim}, F32: scales},
	})
	if err != nil {
		t.Fatal(err)
	}

	p, err := loadProjection(path)
	if err != nil {
		t.Fatalf("loadProjection() error: %v", err)
	}
	if p.mode != headDynamicInt8 {
		t.Fatalf("mode = %v, want dynamic", p.mode)
	}

	input := []float32{1, 0.5, -0.5, 0.25}
	got := p.apply(input)

	want := make([]float32, outDim)
	for r := 0; r < outDim; r++ {
		for c := 0; c < inDim; c++ {
			want[r] += weights[r*inDim+c] * input[c]
		}
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 0.02 {
			t.Errorf("out[%d] = %v, want ~%v", i, got[i], want[i])
		}
	}
}

func TestProjectionStaticRequiresBothScaleAndZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "head.safetensors")
	err := WriteTensors(path, map[string]Tensor{
		"linear.weight":       {Dtype: "I8", Shape: []int{1, 2}, I8: []int8{1, 2}},
		"linear.weight_scale": {Dtype: "F32", Shape: []int{1}, F32: []float32{0.1}},
		"linear.input_scale":  {Dtype: "F32", Shape: []int{1}, F32: []float32{0.01}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := loadProjection(path); err == nil {
		t.Fatal("expected error for missing input_zero_point")
	}
}

func TestProjectionStaticApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "head.safetensors")
	err := WriteTensors(path, map[string]Tensor{
		"linear.weight":           {Dtype: "I8", Shape: []int{1, 2}, I8: []int8{100, -50}},
		"linear.weight_scale":     {Dtype: "F32", Shape: []int{1}, F32: []float32{0.01}},
		"linear.input_scale":      {Dtype: "F32", Shape: []int{1}, F32: []float32{0.01}},
		"linear.input_zero_point": {Dtype: "F32", Shape: []int{1}, F32: []float32{0}},
	})
	if err != nil {
		t.Fatal(err)
	}
	p, err := loadProjection(path)
	if err != nil {
		t.Fatalf("loadProjection() error: %v", err)
	}
	if p.mode != headStaticInt8 {
		t.Fatalf("mode = %v, want static", p.mode)
	}

	// input quantizes to [100, -100]; acc = 100*100 + (-50)*(-100) = 15000;
	// out = 15000 * 0.01 * 0.01 = 1.5. Float product is 1*1 + (-0.5)*(-1) = 1.5.
	got := p.apply([]float32{1, -1})
	if math.Abs(float64(got[0]-1.5)) > 1e-5 {
		t.Errorf("out = %v, want 1.5", got[0])
	}
}

func TestProjectionMissingWeight(t *testing.T) {
	path := filepath.Join(t.TempDir(), "head.safetensors")
	err := WriteTensors(path, map[string]Tensor{
		"other": {Dtype: "F32", Shape: []int{1}, F32: []float32{1}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := loadProjection(path); err == nil {
		t.Fatal("expected error for missing linear.weight")
	}
}
