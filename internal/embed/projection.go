package embed

import (
	"fmt"
	"math"
)

// headMode selects the arithmetic used by the dense projection head.
type headMode int

const (
	headFloat headMode = iota
	headDynamicInt8
	headStaticInt8
)

// projection is the dense pooling head some sentence encoders attach after
// mean pooling (no bias, identity activation). The head can be stored in
// float32 or in INT8 with per-channel scales; static INT8 heads additionally
// quantize the input activation.
type projection struct {
	mode headMode

	weightsF32 []float32 // row-major [outDim, inDim], float heads
	weightsI8  []int8    // row-major [outDim, inDim], INT8 heads
	scales     []float32 // per-output-channel weight scales, INT8 heads
	inputScale float32   // activation scale, static heads
	inputZero  float32   // activation zero point, static heads

	inDim  int
	outDim int
}

// loadProjection reads a projection head from a safetensors file. The head
// mode is inferred from the stored tensors: a float32 "linear.weight" alone
// is a float head; an INT8 weight plus "linear.weight_scale" is a dynamic
// head; adding "linear.input_scale"/"linear.input_zero_point" makes it
// static.
func loadProjection(path string) (*projection, error) {
	tensors, err := ReadTensors(path)
	if err != nil {
		return nil, fmt.Errorf("projection: %w", err)
	}

	weight, ok := tensors["linear.weight"]
	if !ok {
		return nil, fmt.Errorf("projection: tensor 'linear.weight' not found in %s", path)
	}
	if len(weight.Shape) != 2 {
		return nil, fmt.Errorf("projection: expected 2D weight, got shape %v", weight.Shape)
	}
	outDim, inDim := weight.Shape[0], weight.Shape[1]

	p := &projection{inDim: inDim, outDim: outDim}

	switch weight.Dtype {
	case "F32":
		p.mode = headFloat
		p.weightsF32 = weight.F32
		return p, nil
	case "I8":
		p.weightsI8 = weight.I8
	default:
		return nil, fmt.Errorf("projection: unsupported weight dtype %s", weight.Dtype)
	}

	scale, ok := tensors["linear.weight_scale"]
	if !ok || scale.Dtype != "F32" || len(scale.F32) != outDim {
		return nil, fmt.Errorf("projection: INT8 weight needs a per-channel F32 'linear.weight_scale' of length %d", outDim)
	}
	p.scales = scale.F32
	p.mode = headDynamicInt8

	inScale, hasScale := tensors["linear.input_scale"]
	inZero, hasZero := tensors["linear.input_zero_point"]
	if hasScale != hasZero {
		return nil, fmt.Errorf("projection: static head needs both input_scale and input_zero_point")
	}
	if hasScale {
		if inScale.Dtype != "F32" || len(inScale.F32) != 1 || inZero.Dtype != "F32" || len(inZero.F32) != 1 {
			return nil, fmt.Errorf("projection: input_scale/input_zero_point must be scalar F32 tensors")
		}
		p.inputScale = inScale.F32[0]
		p.inputZero = inZero.F32[0]
		p.mode = headStaticInt8
		if p.inputScale <= 0 {
			return nil, fmt.Errorf("projection: non-positive input scale %v", p.inputScale)
		}
	}

	return p, nil
}

// apply projects a single vector from inDim to outDim.
func (p *projection) apply(vec []float32) []float32 {
	switch p.mode {
	case headDynamicInt8:
		return p.applyDynamic(vec)
	case headStaticInt8:
		return p.applyStatic(vec)
	default:
		return p.applyFloat(vec)
	}
}

func (p *projection) applyFloat(vec []float32) []float32 {
	out := make([]float32, p.outDim)
	for i := 0; i < p.outDim; i++ {
		row := p.weightsF32[i*p.inDim : (i+1)*p.inDim]
		var sum float32
		for j, w := range row {
			sum += w * vec[j]
		}
		out[i] = sum
	}
	return out
}

// applyDynamic dequantizes weights on the fly: the float accumulation uses
// the raw INT8 weight and a single per-channel rescale at the end.
func (p *projection) applyDynamic(vec []float32) []float32 {
	out := make([]float32, p.outDim)
	for i := 0; i < p.outDim; i++ {
		row := p.weightsI8[i*p.inDim : (i+1)*p.inDim]
		var sum float32
		for j, w := range row {
			sum += float32(w) * vec[j]
		}
		out[i] = sum * p.scales[i]
	}
	return out
}

// applyStatic quantizes the activation, accumulates in int32, and rescales
// once per channel.
func (p *projection) applyStatic(vec []float32) []float32 {
	quantized := make([]int32, len(vec))
	for j, v := range vec {
		q := math.Round(float64(v)/float64(p.inputScale)) + float64(p.inputZero)
		if q > 127 {
			q = 127
		} else if q < -128 {
			q = -128
		}
		quantized[j] = int32(q)
	}
	zero := int32(p.inputZero)

	out := make([]float32, p.outDim)
	for i := 0; i < p.outDim; i++ {
		row := p.weightsI8[i*p.inDim : (i+1)*p.inDim]
		var acc int32
		for j, w := range row {
			acc += int32(w) * (quantized[j] - zero)
		}
		out[i] = float32(acc) * p.scales[i] * p.inputScale
	}
	return out
}
