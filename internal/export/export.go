// Package export builds the deployable model artifacts: the base ONNX
// encoder with a float head, plus INT8-quantized head variants, each
// validated against the float path and benchmarked before production use.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/crimson-sun/tally/internal/embed"
)

// Options configures an Exporter.
type Options struct {
	ModelPath string
	VocabPath string

	// HeadPath is the float32 dense pooling head. Optional: without it only
	// the fp32 variant can be produced, since quantization operates on the
	// head tensors.
	HeadPath string

	MaxSeqLen      int
	IntraOpThreads int

	// Tolerance bounds the mean absolute embedding difference accepted by
	// Validate. Zero means 1e-3.
	Tolerance float64
}

// Exporter produces, validates, and benchmarks model variants.
type Exporter struct {
	opts Options
}

// New creates an Exporter.
func New(opts Options) (*Exporter, error) {
	if opts.ModelPath == "" || opts.VocabPath == "" {
		return nil, fmt.Errorf("export: model and vocab paths are required")
	}
	if opts.Tolerance == 0 {
		opts.Tolerance = 1e-3
	}
	return &Exporter{opts: opts}, nil
}

// Variant is one deployable model configuration.
type Variant struct {
	Name         string `json:"name"`
	ModelPath    string `json:"model_path"`
	HeadPath     string `json:"head_path,omitempty"`
	Quantization string `json:"quantization"`
	Fallback     bool   `json:"fallback,omitempty"`
	SizeBytes    int64  `json:"size_bytes"`
}

// manifest records what Export produced.
type manifest struct {
	SourceModel string    `json:"source_model"`
	SourceHead  string    `json:"source_head,omitempty"`
	EmbedDim    int       `json:"embed_dim"`
	ExportedAt  time.Time `json:"exported_at"`
}

// Export validates the full embedding chain on the source artifacts, copies
// them into outDir, and returns the fp32 variant. The smoke embedding is
// the cheap stand-in for graph-level verification: if tokenize → infer →
// pool → head works end to end, the artifact is loadable in production.
func (x *Exporter) Export(outDir string) (Variant, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return Variant{}, fmt.Errorf("export: %w", err)
	}

	emb, err := embed.NewONNX(embed.Options{
		ModelPath:      x.opts.ModelPath,
		VocabPath:      x.opts.VocabPath,
		ProjectionPath: x.opts.HeadPath,
		MaxSeqLen:      x.opts.MaxSeqLen,
		IntraOpThreads: x.opts.IntraOpThreads,
	})
	if err != nil {
		return Variant{}, fmt.Errorf("export: source model failed to load: %w", err)
	}
	dim := emb.Dim()
	_, smokeErr := emb.Embed(canonicalText)
	emb.Close()
	if smokeErr != nil {
		return Variant{}, fmt.Errorf("export: source model failed smoke inference: %w", smokeErr)
	}

	modelOut := filepath.Join(outDir, "model.onnx")
	if err := copyFile(x.opts.ModelPath, modelOut); err != nil {
		return Variant{}, fmt.Errorf("export: %w", err)
	}

	headOut := ""
	if x.opts.HeadPath != "" {
		headOut = filepath.Join(outDir, "head_fp32.safetensors")
		if err := copyFile(x.opts.HeadPath, headOut); err != nil {
			return Variant{}, fmt.Errorf("export: %w", err)
		}
	}

	m := manifest{
		SourceModel: x.opts.ModelPath,
		SourceHead:  x.opts.HeadPath,
		EmbedDim:    dim,
		ExportedAt:  time.Now().UTC(),
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return Variant{}, fmt.Errorf("export: %w", err)
	}
	if err := os.WriteFile(filepath.Join(outDir, "manifest.json"), data, 0o644); err != nil {
		return Variant{}, fmt.Errorf("export: %w", err)
	}

	v := Variant{
		Name:         "fp32",
		ModelPath:    modelOut,
		HeadPath:     headOut,
		Quantization: "none",
	}
	v.SizeBytes = variantSize(v)
	slog.Info("exported fp32 variant", "dir", outDir, "size_bytes", v.SizeBytes)
	return v, nil
}

// QuantizeDynamic produces the weight-only INT8 head variant. No
// calibration data is needed, so this path always succeeds when a float
// head exists.
func (x *Exporter) QuantizeDynamic(outDir string) (Variant, error) {
	if x.opts.HeadPath == "" {
		return Variant{}, fmt.Errorf("export: dynamic quantization needs a dense head")
	}
	tensors, err := embed.ReadTensors(x.opts.HeadPath)
	if err != nil {
		return Variant{}, fmt.Errorf("export: %w", err)
	}
	quantized, err := quantizeDynamicHead(tensors)
	if err != nil {
		return Variant{}, fmt.Errorf("export: %w", err)
	}

	headOut := filepath.Join(outDir, "head_dynamic_int8.safetensors")
	if err := embed.WriteTensors(headOut, quantized); err != nil {
		return Variant{}, fmt.Errorf("export: %w", err)
	}

	v := Variant{
		Name:         "dynamic_int8",
		ModelPath:    filepath.Join(outDir, "model.onnx"),
		HeadPath:     headOut,
		Quantization: "dynamic_int8",
	}
	v.SizeBytes = variantSize(v)
	slog.Info("quantized dynamic INT8 head", "path", headOut)
	return v, nil
}

// QuantizeStatic produces the calibrated INT8 head variant. Any calibration
// failure falls back to dynamic quantization rather than failing the
// pipeline; the returned variant is then marked as a fallback.
func (x *Exporter) QuantizeStatic(outDir string) (Variant, error) {
	if x.opts.HeadPath == "" {
		return Variant{}, fmt.Errorf("export: static quantization needs a dense head")
	}
	tensors, err := embed.ReadTensors(x.opts.HeadPath)
	if err != nil {
		return Variant{}, fmt.Errorf("export: %w", err)
	}

	headOut := filepath.Join(outDir, "head_static_int8.safetensors")
	quantized, calErr := x.calibrateStatic(tensors)
	fallback := false
	if calErr != nil {
		slog.Warn("static quantization calibration failed, falling back to dynamic",
			"error", calErr)
		quantized, err = quantizeDynamicHead(tensors)
		if err != nil {
			return Variant{}, fmt.Errorf("export: %w", err)
		}
		fallback = true
	}

	if err := embed.WriteTensors(headOut, quantized); err != nil {
		return Variant{}, fmt.Errorf("export: %w", err)
	}

	v := Variant{
		Name:         "static_int8",
		ModelPath:    filepath.Join(outDir, "model.onnx"),
		HeadPath:     headOut,
		Quantization: "static_int8",
		Fallback:     fallback,
	}
	v.SizeBytes = variantSize(v)
	slog.Info("quantized static INT8 head", "path", headOut, "fallback", fallback)
	return v, nil
}

// calibrateStatic runs the calibration corpus through the headless encoder
// and quantizes the head against the observed activations.
func (x *Exporter) calibrateStatic(tensors map[string]embed.Tensor) (map[string]embed.Tensor, error) {
	enc, err := embed.NewONNX(embed.Options{
		ModelPath:      x.opts.ModelPath,
		VocabPath:      x.opts.VocabPath,
		MaxSeqLen:      x.opts.MaxSeqLen,
		IntraOpThreads: x.opts.IntraOpThreads,
	})
	if err != nil {
		return nil, err
	}
	defer enc.Close()

	activations, err := collectActivations(enc)
	if err != nil {
		return nil, err
	}
	return quantizeStaticHead(tensors, activations)
}

// openVariant builds an embedder for the given variant.
func (x *Exporter) openVariant(v Variant) (*embed.ONNXEmbedder, error) {
	return embed.NewONNX(embed.Options{
		ModelPath:      v.ModelPath,
		VocabPath:      x.opts.VocabPath,
		ProjectionPath: v.HeadPath,
		MaxSeqLen:      x.opts.MaxSeqLen,
		IntraOpThreads: x.opts.IntraOpThreads,
	})
}

func variantSize(v Variant) int64 {
	var size int64
	for _, path := range []string{v.ModelPath, v.HeadPath} {
		if path == "" {
			continue
		}
		if info, err := os.Stat(path); err == nil {
			size += info.Size()
		}
	}
	return size
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
