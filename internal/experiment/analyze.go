package experiment

import (
	"fmt"
	"sort"
)

// Analysis needs enough data overall, and per variant, before any test is
// meaningful.
const (
	analysisMinTotal      = 30
	analysisMinPerVariant = 30
)

// Analyze runs every configured success metric over every variant pair.
// Pairs with fewer than 30 samples on either side are skipped, not errors.
func (f *Framework) Analyze(id string) ([]StatisticalTest, error) {
	f.mu.Lock()
	exp, err := f.get(id)
	if err != nil {
		f.mu.Unlock()
		return nil, err
	}
	cfg := exp.config
	results := make([]Result, len(exp.results))
	copy(results, exp.results)
	f.mu.Unlock()

	if len(results) < analysisMinTotal {
		return nil, fmt.Errorf("experiment %s: %d results, need at least %d for analysis",
			id, len(results), analysisMinTotal)
	}
	return analyze(cfg, results), nil
}

func analyze(cfg Config, results []Result) []StatisticalTest {
	byVariant := make(map[string][]Result)
	for _, r := range results {
		byVariant[r.VariantName] = append(byVariant[r.VariantName], r)
	}

	names := make([]string, 0, len(byVariant))
	for name := range byVariant {
		names = append(names, name)
	}
	sort.Strings(names)

	alpha := cfg.SignificanceLevel
	if alpha <= 0 || alpha >= 1 {
		alpha = 0.05
	}

	var tests []StatisticalTest
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			a, b := byVariant[names[i]], byVariant[names[j]]
			for _, metric := range cfg.SuccessMetrics {
				if test, ok := compare(metric, names[i], a, names[j], b, alpha); ok {
					tests = append(tests, test)
				}
			}
		}
	}
	return tests
}

func compare(metric, nameA string, a []Result, nameB string, b []Result, alpha float64) (StatisticalTest, bool) {
	test := StatisticalTest{
		MetricName: metric,
		VariantA:   nameA,
		VariantB:   nameB,
	}

	switch metric {
	case "accuracy":
		correctA, gradedA := gradedCounts(a)
		correctB, gradedB := gradedCounts(b)
		if gradedA < analysisMinPerVariant || gradedB < analysisMinPerVariant {
			return StatisticalTest{}, false
		}
		test.SampleSizeA, test.SampleSizeB = gradedA, gradedB
		test.PValue, test.EffectSize, test.ConfidenceInterval =
			proportionTest(correctA, gradedA, correctB, gradedB, alpha)

	case "inference_time", "confidence":
		valsA := metricValues(a, metric)
		valsB := metricValues(b, metric)
		if len(valsA) < analysisMinPerVariant || len(valsB) < analysisMinPerVariant {
			return StatisticalTest{}, false
		}
		test.SampleSizeA, test.SampleSizeB = len(valsA), len(valsB)
		test.PValue, test.EffectSize, test.ConfidenceInterval =
			welchTest(valsA, valsB, alpha)

	default:
		return StatisticalTest{}, false
	}

	test.IsSignificant = test.PValue < alpha
	test.Power = postHocPower(test.EffectSize, test.SampleSizeA, test.SampleSizeB, alpha)
	return test, true
}

func gradedCounts(results []Result) (correct, graded int) {
	for _, r := range results {
		if r.IsCorrect == nil {
			continue
		}
		graded++
		if *r.IsCorrect {
			correct++
		}
	}
	return correct, graded
}

func metricValues(results []Result, metric string) []float64 {
	vals := make([]float64, 0, len(results))
	for _, r := range results {
		switch metric {
		case "inference_time":
			vals = append(vals, r.InferenceTimeMs)
		case "confidence":
			vals = append(vals, r.Confidence)
		}
	}
	return vals
}
