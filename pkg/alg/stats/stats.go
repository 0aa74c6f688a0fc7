// Package stats summarizes samples of estimator errors.
// Standard deviations are population deviations (÷n, not ÷(n−1)).
package stats

import (
	"math"
	"slices"
)

// Well-known percentile thresholds.
const (
	PercentileMedian = 0.5
	PercentileP95    = 0.95
)

// Summary describes a sample of values.
type Summary struct {
	Count  int     `json:"count"  yaml:"count"`
	Mean   float64 `json:"mean"   yaml:"mean"`
	StdDev float64 `json:"stddev" yaml:"stddev"`
	Median float64 `json:"median" yaml:"median"`
	P95    float64 `json:"p95"    yaml:"p95"`
	Max    float64 `json:"max"    yaml:"max"`
}

// Summarize computes the summary of values. The input is not modified.
// An empty input yields the zero Summary.
func Summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}

	sorted := slices.Clone(values)
	slices.Sort(sorted)

	mean, stddev := meanStdDev(sorted)

	return Summary{
		Count:  len(sorted),
		Mean:   mean,
		StdDev: stddev,
		Median: percentileSorted(sorted, PercentileMedian),
		P95:    percentileSorted(sorted, PercentileP95),
		Max:    sorted[len(sorted)-1],
	}
}

// Percentile returns the p-th percentile of values using linear
// interpolation between closest ranks. p must be in [0, 1].
// Returns 0 for an empty slice.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sorted := slices.Clone(values)
	slices.Sort(sorted)

	return percentileSorted(sorted, p)
}

func meanStdDev(values []float64) (mean, stddev float64) {
	var sum float64

	for _, v := range values {
		sum += v
	}

	mean = sum / float64(len(values))

	var sumSq float64

	for _, v := range values {
		diff := v - mean
		sumSq += diff * diff
	}

	return mean, math.Sqrt(sumSq / float64(len(values)))
}

func percentileSorted(sorted []float64, p float64) float64 {
	idx := p * float64(len(sorted)-1)
	lower := int(math.Floor(idx))
	upper := int(math.Ceil(idx))

	if lower == upper {
		return sorted[lower]
	}

	frac := idx - float64(lower)

	return sorted[lower]*(1-frac) + sorted[upper]*frac
}
