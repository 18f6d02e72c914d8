// Package stats provides the descriptive statistics shared by the
// extractors, the PRNU estimator and calibration. Variances are population
// variances; percentiles interpolate linearly between closest ranks.
package stats

import (
	"math"
	"sort"
)

// Mean returns the arithmetic mean, or 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// Variance returns the population variance.
func Variance(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := Mean(xs)
	var acc float64
	for _, x := range xs {
		d := x - m
		acc += d * d
	}
	return acc / float64(len(xs))
}

// Std returns the population standard deviation.
func Std(xs []float64) float64 {
	return math.Sqrt(Variance(xs))
}

// MeanStd returns the mean and population standard deviation.
func MeanStd(xs []float64) (mean, std float64) {
	return Mean(xs), Std(xs)
}

// Median returns the median without modifying xs.
func Median(xs []float64) float64 {
	return Percentile(xs, 50)
}

// Percentile returns the p-th percentile (0..100) using linear interpolation
// between closest ranks. xs is not modified.
func Percentile(xs []float64, p float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	return percentileSorted(sorted, p)
}

func percentileSorted(sorted []float64, p float64) float64 {
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// MAD returns the median absolute deviation from the median (unscaled).
func MAD(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	med := Median(xs)
	dev := make([]float64, len(xs))
	for i, x := range xs {
		dev[i] = math.Abs(x - med)
	}
	return Median(dev)
}

// MinStd is the standard deviation below which a series is treated as constant.
const MinStd = 1e-6

// Pearson returns the Pearson correlation of a and b. ok is false when the
// slices differ in length, either side is (near) constant, or the result is NaN.
func Pearson(a, b []float64) (r float64, ok bool) {
	if len(a) != len(b) || len(a) < 2 {
		return 0, false
	}
	ma, mb := Mean(a), Mean(b)
	var sab, saa, sbb float64
	for i := range a {
		da := a[i] - ma
		db := b[i] - mb
		sab += da * db
		saa += da * da
		sbb += db * db
	}
	n := float64(len(a))
	if math.Sqrt(saa/n) < MinStd || math.Sqrt(sbb/n) < MinStd {
		return 0, false
	}
	r = sab / math.Sqrt(saa*sbb)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0, false
	}
	return r, true
}

// Histogram bins xs into n equal-width bins spanning [min, max]. The last
// bin is closed on both sides. A constant input spans [v-0.5, v+0.5].
func Histogram(xs []float64, n int) (counts []int, edges []float64) {
	if n <= 0 {
		return nil, nil
	}
	counts = make([]int, n)
	edges = make([]float64, n+1)
	if len(xs) == 0 {
		for i := range edges {
			edges[i] = float64(i) / float64(n)
		}
		return counts, edges
	}

	lo, hi := xs[0], xs[0]
	for _, x := range xs {
		if x < lo {
			lo = x
		}
		if x > hi {
			hi = x
		}
	}
	if lo == hi {
		lo -= 0.5
		hi += 0.5
	}
	width := (hi - lo) / float64(n)
	for i := range edges {
		edges[i] = lo + float64(i)*width
	}
	for _, x := range xs {
		idx := int((x - lo) / width)
		if idx >= n {
			idx = n - 1
		}
		if idx < 0 {
			idx = 0
		}
		counts[idx]++
	}
	return counts, edges
}

// Round rounds x to the given number of decimal places.
func Round(x float64, places int) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}

// Clamp limits x to [lo, hi].
func Clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

// Summary is the five-number summary of a batch.
type Summary struct {
	Min    float64 `json:"min" yaml:"min"`
	P25    float64 `json:"p25" yaml:"p25"`
	Median float64 `json:"median" yaml:"median"`
	P75    float64 `json:"p75" yaml:"p75"`
	Max    float64 `json:"max" yaml:"max"`
}

// Summarize computes the five-number summary of xs.
func Summarize(xs []float64) Summary {
	if len(xs) == 0 {
		return Summary{}
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	return Summary{
		Min:    sorted[0],
		P25:    percentileSorted(sorted, 25),
		Median: percentileSorted(sorted, 50),
		P75:    percentileSorted(sorted, 75),
		Max:    sorted[len(sorted)-1],
	}
}
