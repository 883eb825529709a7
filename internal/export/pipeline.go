package export

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// ProductionModels is the full pipeline output: every produced variant with
// its validation and benchmark results, also written to outDir as
// benchmark_report.json.
type ProductionModels struct {
	Variants    map[string]Variant          `json:"variants"`
	Validations map[string]ValidationResult `json:"validations"`
	Benchmarks  []BenchmarkResult           `json:"benchmarks"`
	CreatedAt   time.Time                   `json:"created_at"`
}

// CreateProductionModels runs the complete pipeline: export the fp32
// artifacts, quantize the head dynamically and statically, validate each
// quantized variant against fp32, and benchmark everything. Variants that
// fail validation are dropped from the result rather than aborting the run.
func (x *Exporter) CreateProductionModels(outDir string) (*ProductionModels, error) {
	fp32, err := x.Export(outDir)
	if err != nil {
		return nil, err
	}

	out := &ProductionModels{
		Variants:    map[string]Variant{fp32.Name: fp32},
		Validations: make(map[string]ValidationResult),
		CreatedAt:   time.Now().UTC(),
	}

	if x.opts.HeadPath == "" {
		slog.Info("no dense head configured, skipping quantized variants")
	} else {
		for _, build := range []func(string) (Variant, error){x.QuantizeDynamic, x.QuantizeStatic} {
			v, err := build(outDir)
			if err != nil {
				return nil, err
			}
			res, err := x.Validate(fp32, v)
			if err != nil {
				return nil, err
			}
			out.Validations[v.Name] = res
			if !res.Passed {
				slog.Warn("dropping variant after failed validation", "variant", v.Name)
				continue
			}
			out.Variants[v.Name] = v
		}
	}

	variants := make([]Variant, 0, len(out.Variants))
	for _, v := range out.Variants {
		variants = append(variants, v)
	}
	benchmarks, err := x.Benchmark(variants, BenchmarkTexts())
	if err != nil {
		return nil, err
	}
	out.Benchmarks = benchmarks

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	reportPath := filepath.Join(outDir, "benchmark_report.json")
	if err := os.WriteFile(reportPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	slog.Info("production models ready",
		"dir", outDir, "variants", len(out.Variants), "report", reportPath)
	return out, nil
}

// BenchmarkTexts reuses the calibration corpus so benchmark inputs match
// the traffic the model was calibrated on.
func BenchmarkTexts() []string {
	texts := make([]string, len(calibrationPhrases))
	copy(texts, calibrationPhrases)
	return texts
}
