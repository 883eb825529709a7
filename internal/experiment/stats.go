package experiment

import (
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

var stdNormal = distuv.Normal{Mu: 0, Sigma: 1}

// proportionTest is a two-sided two-proportion z-test. successesA/B are
// counts out of nA/nB trials. Effect size is Cohen's h. The confidence
// interval is on the proportion difference pA-pB via the normal
// approximation to the standard error of the difference.
func proportionTest(successesA, nA, successesB, nB int, alpha float64) (pValue, effectSize float64, ci [2]float64) {
	pA := float64(successesA) / float64(nA)
	pB := float64(successesB) / float64(nB)

	pooled := float64(successesA+successesB) / float64(nA+nB)
	se := math.Sqrt(pooled * (1 - pooled) * (1/float64(nA) + 1/float64(nB)))
	if se == 0 {
		pValue = 1
	} else {
		z := (pA - pB) / se
		pValue = 2 * stdNormal.Survival(math.Abs(z))
	}

	effectSize = 2 * (math.Asin(math.Sqrt(pA)) - math.Asin(math.Sqrt(pB)))

	seDiff := math.Sqrt(pA*(1-pA)/float64(nA) + pB*(1-pB)/float64(nB))
	zCrit := stdNormal.Quantile(1 - alpha/2)
	diff := pA - pB
	ci = [2]float64{diff - zCrit*seDiff, diff + zCrit*seDiff}
	return pValue, effectSize, ci
}

// welchTest is a two-sided Welch two-sample t-test. Effect size is Cohen's
// d with pooled standard deviation. The confidence interval is on the mean
// difference via the t-distribution at the Welch-Satterthwaite degrees of
// freedom.
func welchTest(a, b []float64, alpha float64) (pValue, effectSize float64, ci [2]float64) {
	meanA, varA := stat.MeanVariance(a, nil)
	meanB, varB := stat.MeanVariance(b, nil)
	nA, nB := float64(len(a)), float64(len(b))

	seSq := varA/nA + varB/nB
	se := math.Sqrt(seSq)

	df := welchDF(varA, nA, varB, nB)
	diff := meanA - meanB

	if se == 0 || df <= 0 {
		pValue = 1
		if diff != 0 {
			pValue = 0
		}
		return pValue, 0, [2]float64{diff, diff}
	}

	tDist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	t := diff / se
	pValue = 2 * tDist.Survival(math.Abs(t))

	pooledSD := math.Sqrt(((nA-1)*varA + (nB-1)*varB) / (nA + nB - 2))
	if pooledSD > 0 {
		effectSize = diff / pooledSD
	}

	tCrit := tDist.Quantile(1 - alpha/2)
	ci = [2]float64{diff - tCrit*se, diff + tCrit*se}
	return pValue, effectSize, ci
}

func welchDF(varA, nA, varB, nB float64) float64 {
	num := varA/nA + varB/nB
	num *= num
	den := (varA * varA) / (nA * nA * (nA - 1))
	den += (varB * varB) / (nB * nB * (nB - 1))
	if den == 0 {
		return 0
	}
	return num / den
}

// postHocPower estimates achieved power from the observed effect size and
// per-group sample sizes: a two-sided two-sample normal approximation at
// the harmonic mean sample size.
func postHocPower(effectSize float64, nA, nB int, alpha float64) float64 {
	if nA == 0 || nB == 0 {
		return 0
	}
	nHarm := 2 / (1/float64(nA) + 1/float64(nB))
	lambda := math.Abs(effectSize) * math.Sqrt(nHarm/2)
	zCrit := stdNormal.Quantile(1 - alpha/2)

	power := stdNormal.Survival(zCrit-lambda) + stdNormal.CDF(-zCrit-lambda)
	if power > 1 {
		power = 1
	}
	return power
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	return stat.StdDev(values, nil)
}
