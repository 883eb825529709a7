package experiment

import (
	"fmt"
	"math"
	"sort"
)

// Effect sizes at or above this are "large" in the Cohen convention and
// drive the stronger recommendation texts.
const largeEffect = 0.8

// GenerateReport builds the full readout for an experiment without
// changing its state.
func (f *Framework) GenerateReport(id string) (*Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	exp, err := f.get(id)
	if err != nil {
		return nil, err
	}
	return f.buildReport(exp), nil
}

// buildReport is called with the framework lock held.
func (f *Framework) buildReport(exp *experiment) *Report {
	report := &Report{
		ExperimentID: exp.config.ExperimentID,
		Status:       exp.status,
		StopReason:   exp.stopReason,
		GeneratedAt:  f.now().UTC(),
		TotalResults: len(exp.results),
	}

	byVariant := make(map[string][]Result)
	for _, r := range exp.results {
		byVariant[r.VariantName] = append(byVariant[r.VariantName], r)
	}
	names := make([]string, 0, len(byVariant))
	for name := range byVariant {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		report.Variants = append(report.Variants, summarize(name, byVariant[name]))
	}

	if len(exp.results) >= analysisMinTotal {
		report.Tests = analyze(exp.config, exp.results)
		for _, test := range report.Tests {
			if test.IsSignificant {
				report.SignificantTests = append(report.SignificantTests, test)
			}
		}
	}

	report.WinningVariant, report.WinnerIsSignificant = pickWinner(report)
	report.Recommendations = recommend(report)
	return report
}

func summarize(name string, results []Result) VariantSummary {
	s := VariantSummary{Name: name, SampleSize: len(results)}

	latencies := make([]float64, 0, len(results))
	confidences := make([]float64, 0, len(results))
	correct := 0
	for _, r := range results {
		latencies = append(latencies, r.InferenceTimeMs)
		confidences = append(confidences, r.Confidence)
		if r.IsCorrect != nil {
			s.AccuracySamples++
			if *r.IsCorrect {
				correct++
			}
		}
	}
	if s.AccuracySamples > 0 {
		s.Accuracy = float64(correct) / float64(s.AccuracySamples)
	}
	s.AvgLatencyMs = mean(latencies)
	s.P95LatencyMs = percentile(latencies, 0.95)
	s.AvgConfidence = mean(confidences)
	s.StdConfidence = stdDev(confidences)
	return s
}

// pickWinner returns the variant with the highest raw accuracy and whether
// that lead is backed by a significant accuracy test involving it.
func pickWinner(report *Report) (string, bool) {
	winner := ""
	best := math.Inf(-1)
	for _, v := range report.Variants {
		if v.AccuracySamples == 0 {
			continue
		}
		if v.Accuracy > best {
			best = v.Accuracy
			winner = v.Name
		}
	}
	if winner == "" {
		return "", false
	}
	for _, test := range report.SignificantTests {
		if test.MetricName == "accuracy" && (test.VariantA == winner || test.VariantB == winner) {
			return winner, true
		}
	}
	return winner, false
}

func recommend(report *Report) []string {
	var recs []string

	if report.TotalResults < analysisMinTotal {
		recs = append(recs, fmt.Sprintf(
			"Insufficient data: %d results recorded, at least %d needed for statistical analysis.",
			report.TotalResults, analysisMinTotal))
		return recs
	}

	for _, test := range report.SignificantTests {
		switch test.MetricName {
		case "accuracy":
			if math.Abs(test.EffectSize) >= largeEffect {
				better := test.VariantA
				if test.EffectSize < 0 {
					better = test.VariantB
				}
				recs = append(recs, fmt.Sprintf(
					"Variant %q shows a large, significant accuracy improvement over %q (p=%.4f); consider promoting it.",
					better, other(test, better), test.PValue))
			}
		case "inference_time":
			if math.Abs(test.EffectSize) >= largeEffect {
				slower := test.VariantA
				if test.EffectSize < 0 {
					slower = test.VariantB
				}
				recs = append(recs, fmt.Sprintf(
					"Variant %q shows a large, significant latency regression versus %q (p=%.4f); investigate before promoting.",
					slower, other(test, slower), test.PValue))
			}
		}
	}

	lowPower := 0
	for _, test := range report.Tests {
		if test.Power < 0.8 {
			lowPower++
		}
	}
	if lowPower > 0 {
		recs = append(recs, fmt.Sprintf(
			"%d of %d tests are under 80%% power; results may not detect real differences. Collect more data.",
			lowPower, len(report.Tests)))
	}

	if len(recs) == 0 {
		recs = append(recs, "No significant difference between variants; either variant is acceptable.")
	}
	return recs
}

func other(test StatisticalTest, name string) string {
	if test.VariantA == name {
		return test.VariantB
	}
	return test.VariantA
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	idx := int(p * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
