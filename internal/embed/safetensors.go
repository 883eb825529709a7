package embed

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
)

// Tensor is a named array loaded from (or destined for) a safetensors file.
// Exactly one of F32/I8 is populated, matching Dtype.
type Tensor struct {
	Dtype string // "F32" or "I8"
	Shape []int
	F32   []float32
	I8    []int8
}

// Elems returns the number of elements implied by the shape.
func (t Tensor) Elems() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

type tensorMeta struct {
	Dtype       string `json:"dtype"`
	Shape       []int  `json:"shape"`
	DataOffsets [2]int `json:"data_offsets"`
}

// ReadTensors parses a safetensors file: an 8-byte little-endian header
// length, a JSON header mapping tensor names to dtype/shape/offsets, then
// raw tensor bytes. Only F32 and I8 dtypes are supported.
func ReadTensors(path string) (map[string]Tensor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("safetensors: %w", err)
	}
	if len(data) < 8 {
		return nil, fmt.Errorf("safetensors: file too small: %d bytes", len(data))
	}

	headerLen := binary.LittleEndian.Uint64(data[:8])
	if uint64(len(data)) < 8+headerLen {
		return nil, fmt.Errorf("safetensors: header length %d exceeds file size", headerLen)
	}

	var header map[string]json.RawMessage
	if err := json.Unmarshal(data[8:8+headerLen], &header); err != nil {
		return nil, fmt.Errorf("safetensors: failed to parse header: %w", err)
	}

	dataStart := int(8 + headerLen)
	out := make(map[string]Tensor, len(header))
	for name, raw := range header {
		if name == "__metadata__" {
			continue
		}
		var meta tensorMeta
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, fmt.Errorf("safetensors: tensor %q metadata: %w", name, err)
		}

		start := dataStart + meta.DataOffsets[0]
		end := dataStart + meta.DataOffsets[1]
		if start > end || end > len(data) {
			return nil, fmt.Errorf("safetensors: tensor %q data range [%d:%d] exceeds file size %d",
				name, start, end, len(data))
		}
		raw := data[start:end]

		tensor := Tensor{Dtype: meta.Dtype, Shape: meta.Shape}
		elems := tensor.Elems()
		switch meta.Dtype {
		case "F32":
			if len(raw) != elems*4 {
				return nil, fmt.Errorf("safetensors: tensor %q data size %d doesn't match shape %v",
					name, len(raw), meta.Shape)
			}
			vals := make([]float32, elems)
			for i := range vals {
				bits := binary.LittleEndian.Uint32(raw[i*4 : i*4+4])
				vals[i] = math.Float32frombits(bits)
			}
			tensor.F32 = vals
		case "I8":
			if len(raw) != elems {
				return nil, fmt.Errorf("safetensors: tensor %q data size %d doesn't match shape %v",
					name, len(raw), meta.Shape)
			}
			vals := make([]int8, elems)
			for i := range vals {
				vals[i] = int8(raw[i])
			}
			tensor.I8 = vals
		default:
			return nil, fmt.Errorf("safetensors: tensor %q has unsupported dtype %s", name, meta.Dtype)
		}
		out[name] = tensor
	}
	return out, nil
}

// WriteTensors serializes tensors to a safetensors file. Tensor names are
// laid out in sorted order so output bytes are deterministic.
func WriteTensors(path string, tensors map[string]Tensor) error {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]tensorMeta, len(tensors))
	var body []byte
	for _, name := range names {
		t := tensors[name]
		elems := t.Elems()
		start := len(body)
		switch t.Dtype {
		case "F32":
			if len(t.F32) != elems {
				return fmt.Errorf("safetensors: tensor %q has %d values for shape %v", name, len(t.F32), t.Shape)
			}
			buf := make([]byte, elems*4)
			for i, v := range t.F32 {
				binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
			}
			body = append(body, buf...)
		case "I8":
			if len(t.I8) != elems {
				return fmt.Errorf("safetensors: tensor %q has %d values for shape %v", name, len(t.I8), t.Shape)
			}
			buf := make([]byte, elems)
			for i, v := range t.I8 {
				buf[i] = byte(v)
			}
			body = append(body, buf...)
		default:
			return fmt.Errorf("safetensors: tensor %q has unsupported dtype %s", name, t.Dtype)
		}
		header[name] = tensorMeta{Dtype: t.Dtype, Shape: t.Shape, DataOffsets: [2]int{start, len(body)}}
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("safetensors: marshal header: %w", err)
	}

	out := make([]byte, 0, 8+len(headerJSON)+len(body))
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(headerJSON)))
	out = append(out, lenBuf[:]...)
	out = append(out, headerJSON...)
	out = append(out, body...)

	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("safetensors: %w", err)
	}
	return nil
}
