package compute

import (
	"math"
	"sort"
)

// madToSigma converts a median absolute deviation into a Gaussian standard
// deviation estimate (the 0.75 quantile of the standard normal).
const madToSigma = 0.6744897501960817

// median returns the median of x, averaging the two middle values when len(x)
// is even. It returns NaN for an empty slice and does not modify x.
func median(x []float64) float64 {
	n := len(x)
	if n == 0 {
		return math.NaN()
	}
	s := make([]float64, n)
	copy(s, x)
	sort.Float64s(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// mad returns the median absolute deviation of x scaled to a standard deviation.
func mad(x []float64) float64 {
	m := median(x)
	dev := make([]float64, len(x))
	for i, v := range x {
		dev[i] = math.Abs(v - m)
	}
	return median(dev) / madToSigma
}

// nanMap returns a map with every unit set to NaN.
func nanMap(units []string) map[string]float64 {
	out := make(map[string]float64, len(units))
	for _, u := range units {
		out[u] = math.NaN()
	}
	return out
}

// clamp01 restricts v to the range [0, 1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
