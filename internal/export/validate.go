package export

import (
	"fmt"
	"log/slog"
	"math"
)

// canonicalText is the fixed phrase used for variant fidelity checks. Kept
// identical across releases so validation drift is attributable to the
// model, not the probe.
const canonicalText = "starbucks coffee morning purchase"

// ValidationResult reports how closely a variant tracks the fp32 reference.
type ValidationResult struct {
	Variant     string  `json:"variant"`
	MeanAbsDiff float64 `json:"mean_abs_diff"`
	Tolerance   float64 `json:"tolerance"`
	Passed      bool    `json:"passed"`
}

// Validate embeds the canonical phrase with the fp32 reference and with the
// variant, and compares the vectors element-wise.
func (x *Exporter) Validate(reference, variant Variant) (ValidationResult, error) {
	ref, err := x.openVariant(reference)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("export: reference %s: %w", reference.Name, err)
	}
	defer ref.Close()

	cand, err := x.openVariant(variant)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("export: variant %s: %w", variant.Name, err)
	}
	defer cand.Close()

	want, err := ref.Embed(canonicalText)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("export: reference embed: %w", err)
	}
	got, err := cand.Embed(canonicalText)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("export: variant embed: %w", err)
	}

	diff, err := meanAbsDiff(want, got)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("export: %w", err)
	}

	res := ValidationResult{
		Variant:     variant.Name,
		MeanAbsDiff: diff,
		Tolerance:   x.opts.Tolerance,
		Passed:      diff <= x.opts.Tolerance,
	}
	if res.Passed {
		slog.Info("variant validated", "variant", variant.Name, "mean_abs_diff", diff)
	} else {
		slog.Warn("variant failed validation",
			"variant", variant.Name, "mean_abs_diff", diff, "tolerance", x.opts.Tolerance)
	}
	return res, nil
}

func meanAbsDiff(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("dimension mismatch: %d vs %d", len(a), len(b))
	}
	if len(a) == 0 {
		return 0, fmt.Errorf("empty vectors")
	}
	var sum float64
	for i := range a {
		sum += math.Abs(float64(a[i]) - float64(b[i]))
	}
	return sum / float64(len(a)), nil
}
