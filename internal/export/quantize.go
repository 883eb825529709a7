package export

import (
	"fmt"
	"math"

	"github.com/crimson-sun/tally/internal/embed"
)

// INT8 ranges. Static quantization uses a reduced weight range: clipping
// weights to 7 effective bits keeps int32 accumulators well away from
// saturation when the activation side is also quantized.
const (
	fullRangeMax    = 127
	reducedRangeMax = 63
)

// quantizeDynamicHead converts a float32 dense head into a weight-only INT8
// head: per-output-channel symmetric scales, full INT8 range. No calibration
// data needed.
func quantizeDynamicHead(tensors map[string]embed.Tensor) (map[string]embed.Tensor, error) {
	weight, ok := tensors["linear.weight"]
	if !ok || weight.Dtype != "F32" {
		return nil, fmt.Errorf("quantize: float32 'linear.weight' not found")
	}
	if len(weight.Shape) != 2 {
		return nil, fmt.Errorf("quantize: expected 2D weight, got shape %v", weight.Shape)
	}

	i8, scales, err := quantizeWeightPerChannel(weight, fullRangeMax)
	if err != nil {
		return nil, err
	}

	return map[string]embed.Tensor{
		"linear.weight":       {Dtype: "I8", Shape: weight.Shape, I8: i8},
		"linear.weight_scale": {Dtype: "F32", Shape: []int{weight.Shape[0]}, F32: scales},
	}, nil
}

// quantizeStaticHead converts a float32 dense head into a fully INT8 head:
// reduced-range per-channel weights plus an affine activation scale/zero
// point derived from observed calibration activations.
func quantizeStaticHead(tensors map[string]embed.Tensor, activations [][]float32) (map[string]embed.Tensor, error) {
	weight, ok := tensors["linear.weight"]
	if !ok || weight.Dtype != "F32" {
		return nil, fmt.Errorf("quantize: float32 'linear.weight' not found")
	}
	if len(weight.Shape) != 2 {
		return nil, fmt.Errorf("quantize: expected 2D weight, got shape %v", weight.Shape)
	}
	if len(activations) == 0 {
		return nil, fmt.Errorf("quantize: no calibration activations")
	}
	inDim := weight.Shape[1]
	for _, act := range activations {
		if len(act) != inDim {
			return nil, fmt.Errorf("quantize: activation dim %d != weight input dim %d", len(act), inDim)
		}
	}

	i8, scales, err := quantizeWeightPerChannel(weight, reducedRangeMax)
	if err != nil {
		return nil, err
	}

	inputScale, inputZero := activationRange(activations)

	return map[string]embed.Tensor{
		"linear.weight":           {Dtype: "I8", Shape: weight.Shape, I8: i8},
		"linear.weight_scale":     {Dtype: "F32", Shape: []int{weight.Shape[0]}, F32: scales},
		"linear.input_scale":      {Dtype: "F32", Shape: []int{1}, F32: []float32{inputScale}},
		"linear.input_zero_point": {Dtype: "F32", Shape: []int{1}, F32: []float32{inputZero}},
	}, nil
}

// quantizeWeightPerChannel maps each output channel's weights onto
// [-rangeMax, rangeMax] with a symmetric scale.
func quantizeWeightPerChannel(weight embed.Tensor, rangeMax int) ([]int8, []float32, error) {
	outDim, inDim := weight.Shape[0], weight.Shape[1]
	if len(weight.F32) != outDim*inDim {
		return nil, nil, fmt.Errorf("quantize: weight has %d values for shape %v", len(weight.F32), weight.Shape)
	}

	i8 := make([]int8, len(weight.F32))
	scales := make([]float32, outDim)
	for r := 0; r < outDim; r++ {
		row := weight.F32[r*inDim : (r+1)*inDim]
		var maxAbs float64
		for _, w := range row {
			if a := math.Abs(float64(w)); a > maxAbs {
				maxAbs = a
			}
		}
		if maxAbs == 0 {
			// All-zero channel: any positive scale round-trips to zeros.
			scales[r] = 1
			continue
		}
		scale := maxAbs / float64(rangeMax)
		scales[r] = float32(scale)
		for c, w := range row {
			q := math.Round(float64(w) / scale)
			if q > float64(rangeMax) {
				q = float64(rangeMax)
			} else if q < -float64(rangeMax) {
				q = -float64(rangeMax)
			}
			i8[r*inDim+c] = int8(q)
		}
	}
	return i8, scales, nil
}

// activationRange derives an affine INT8 scale and zero point covering the
// observed calibration activations.
func activationRange(activations [][]float32) (scale, zero float32) {
	min := math.Inf(1)
	max := math.Inf(-1)
	for _, act := range activations {
		for _, v := range act {
			f := float64(v)
			if f < min {
				min = f
			}
			if f > max {
				max = f
			}
		}
	}
	if min > 0 {
		min = 0
	}
	if max < 0 {
		max = 0
	}
	span := max - min
	if span == 0 {
		return 1, 0
	}
	s := span / 255.0
	z := math.Round(-min/s) - 128
	return float32(s), float32(z)
}
