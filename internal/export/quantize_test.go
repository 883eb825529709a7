package export

import (
	"errors"
	"math"
	"testing"

	"github.com/crimson-sun/tally/internal/embed"
)

func floatHead(outDim, inDim int, values []float32) map[string]embed.Tensor {
	return map[string]embed.Tensor{
		"linear.weight": {Dtype: "F32", Shape: []int{outDim, inDim}, F32: values},
	}
}

func TestQuantizeDynamicHead(t *testing.T) {
	head := floatHead(2, 3, []float32{1.0, -2.0, 0.5, 0.25, 0.1, -0.05})

	q, err := quantizeDynamicHead(head)
	if err != nil {
		t.Fatalf("quantizeDynamicHead: %v", err)
	}

	weight := q["linear.weight"]
	if weight.Dtype != "I8" {
		t.Fatalf("weight dtype = %s, want I8", weight.Dtype)
	}
	scales := q["linear.weight_scale"]
	if len(scales.F32) != 2 {
		t.Fatalf("got %d scales, want 2", len(scales.F32))
	}

	// Row 0 max abs is 2.0, so its scale is 2/127 and the -2.0 entry maps
	// to exactly -127.
	wantScale := float32(2.0 / 127.0)
	if math.Abs(float64(scales.F32[0]-wantScale)) > 1e-7 {
		t.Errorf("row 0 scale = %v, want %v", scales.F32[0], wantScale)
	}
	if weight.I8[1] != -127 {
		t.Errorf("quantized -2.0 = %d, want -127", weight.I8[1])
	}
}

func TestQuantizeDynamicHeadRoundTrip(t *testing.T) {
	values := []float32{0.8, -0.3, 0.05, -0.9, 0.41, 0.002}
	head := floatHead(2, 3, values)

	q, err := quantizeDynamicHead(head)
	if err != nil {
		t.Fatalf("quantizeDynamicHead: %v", err)
	}

	weight := q["linear.weight"]
	scales := q["linear.weight_scale"]
	for r := 0; r < 2; r++ {
		scale := float64(scales.F32[r])
		for c := 0; c < 3; c++ {
			idx := r*3 + c
			got := float64(weight.I8[idx]) * scale
			want := float64(values[idx])
			// Max symmetric round-trip error is half a quantization step.
			if math.Abs(got-want) > scale/2+1e-9 {
				t.Errorf("round trip [%d][%d]: got %v, want %v within %v", r, c, got, want, scale/2)
			}
		}
	}
}

func TestQuantizeDynamicHeadMissingWeight(t *testing.T) {
	if _, err := quantizeDynamicHead(map[string]embed.Tensor{}); err == nil {
		t.Fatal("expected error for missing weight tensor")
	}
}

func TestQuantizeStaticHead(t *testing.T) {
	head := floatHead(2, 3, []float32{1.0, -2.0, 0.5, 0.25, 0.1, -0.05})
	activations := [][]float32{
		{0.5, -1.0, 2.0},
		{1.5, 0.0, -0.5},
	}

	q, err := quantizeStaticHead(head, activations)
	if err != nil {
		t.Fatalf("quantizeStaticHead: %v", err)
	}

	weight := q["linear.weight"]
	// Reduced range: the row max maps to 63, not 127.
	if weight.I8[1] != -63 {
		t.Errorf("quantized -2.0 = %d, want -63", weight.I8[1])
	}

	// Observed activations span [-1, 2], so scale is 3/255 and zero point
	// is round(1/scale) - 128 = -43.
	scale := q["linear.input_scale"].F32[0]
	zero := q["linear.input_zero_point"].F32[0]
	wantScale := float32(3.0 / 255.0)
	if math.Abs(float64(scale-wantScale)) > 1e-7 {
		t.Errorf("input scale = %v, want %v", scale, wantScale)
	}
	if zero != -43 {
		t.Errorf("input zero point = %v, want -43", zero)
	}
}

func TestQuantizeStaticHeadRejectsBadCalibration(t *testing.T) {
	head := floatHead(2, 3, make([]float32, 6))

	if _, err := quantizeStaticHead(head, nil); err == nil {
		t.Error("expected error for empty activations")
	}
	if _, err := quantizeStaticHead(head, [][]float32{{1, 2}}); err == nil {
		t.Error("expected error for activation dim mismatch")
	}
}

func TestActivationRangeIncludesZero(t *testing.T) {
	// All-positive activations still anchor the range at zero so the zero
	// point is representable.
	scale, zero := activationRange([][]float32{{1.0, 2.0, 4.0}})
	wantScale := float32(4.0 / 255.0)
	if math.Abs(float64(scale-wantScale)) > 1e-7 {
		t.Errorf("scale = %v, want %v", scale, wantScale)
	}
	if zero != -128 {
		t.Errorf("zero point = %v, want -128", zero)
	}
}

func TestActivationRangeConstantInput(t *testing.T) {
	scale, zero := activationRange([][]float32{{0, 0, 0}})
	if scale != 1 || zero != 0 {
		t.Errorf("got scale=%v zero=%v, want 1, 0", scale, zero)
	}
}

type fakeEncoder struct {
	calls int
	dim   int
	fail  bool
}

func (f *fakeEncoder) EncodeBatch(texts []string) ([][]float32, error) {
	f.calls++
	if f.fail {
		return nil, errors.New("encode failed")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}

func TestCollectActivations(t *testing.T) {
	enc := &fakeEncoder{dim: 4}
	acts, err := collectActivations(enc)
	if err != nil {
		t.Fatalf("collectActivations: %v", err)
	}
	want := len(calibrationPhrases) * calibrationRepeats
	if len(acts) != want {
		t.Errorf("got %d activations, want %d", len(acts), want)
	}
	wantCalls := (want + calibrationBatchSize - 1) / calibrationBatchSize
	if enc.calls != wantCalls {
		t.Errorf("got %d encode calls, want %d", enc.calls, wantCalls)
	}
}

func TestCollectActivationsPropagatesError(t *testing.T) {
	if _, err := collectActivations(&fakeEncoder{dim: 4, fail: true}); err == nil {
		t.Fatal("expected encoder failure to propagate")
	}
}
