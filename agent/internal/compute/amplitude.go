package compute

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/obsidianstack/spikeqc/agent/internal/ephys"
)

// SpikeAmplitudes returns, per unit, the value of every extracted waveform at
// the alignment frame on the unit's extremum channel.
func SpikeAmplitudes(a *Analyzer, sign ephys.PeakSign) (map[string][]float64, error) {
	if a.Templates == nil {
		return nil, ErrNoTemplates
	}
	if a.Waveforms == nil {
		return nil, ErrNoWaveforms
	}
	chans, err := ExtremumChannels(a.Templates, sign, ephys.ModeExtremum)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]float64, len(a.Templates.UnitIDs))
	for _, unit := range a.Templates.UnitIDs {
		snips := a.Waveforms.ByUnit[unit]
		amps := make([]float64, len(snips))
		for k, w := range snips {
			amps[k] = w.At(a.Waveforms.NBefore, chans[unit])
		}
		out[unit] = amps
	}
	return out, nil
}

// AmplitudeCutoffOptions configures AmplitudeCutoffs.
type AmplitudeCutoffOptions struct {
	PeakSign                ephys.PeakSign
	NumHistogramBins        int
	HistogramSmoothingValue float64
	AmplitudesBinsMinRatio  float64
}

// AmplitudeCutoffs estimates the fraction of spikes missed below the detection
// threshold, assuming a symmetric amplitude distribution. The density
// histogram is Gaussian-smoothed, the point above the peak where it matches
// the lowest bin is found, and the mass beyond that point is the estimate,
// capped at 0.5. Units without waveforms or with too few spikes per bin
// are NaN.
func AmplitudeCutoffs(a *Analyzer, opts AmplitudeCutoffOptions) (map[string]float64, error) {
	if opts.NumHistogramBins <= 0 {
		return nil, fmt.Errorf("compute: num_histogram_bins must be positive, got %d", opts.NumHistogramBins)
	}
	all, err := SpikeAmplitudes(a, opts.PeakSign)
	if err != nil {
		return nil, err
	}
	invert := opts.PeakSign == ephys.PeakPos

	out := make(map[string]float64, len(all))
	var sparse []string
	for unit, amps := range all {
		if len(amps) == 0 {
			out[unit] = math.NaN()
			continue
		}
		if float64(len(amps))/float64(opts.NumHistogramBins) < opts.AmplitudesBinsMinRatio {
			out[unit] = math.NaN()
			sparse = append(sparse, unit)
			continue
		}
		x := make([]float64, len(amps))
		copy(x, amps)
		if invert {
			floats.Scale(-1, x)
		}
		frac, ties := amplitudeCutoff(x, opts.NumHistogramBins, opts.HistogramSmoothingValue)
		if ties {
			slog.Warn("compute: amplitude cutoff has more than one matching bin", "unit", unit)
		}
		out[unit] = frac
	}
	if len(sparse) > 0 {
		sort.Strings(sparse)
		slog.Warn("compute: too few spikes for amplitude cutoff",
			"units", sparse, "min_ratio", opts.AmplitudesBinsMinRatio)
	}
	return out, nil
}

func amplitudeCutoff(x []float64, bins int, sigma float64) (float64, bool) {
	sort.Float64s(x)
	lo, hi := x[0], x[len(x)-1]
	if lo == hi {
		lo -= 0.5
		hi += 0.5
	}
	dividers := make([]float64, bins+1)
	floats.Span(dividers, lo, hi)
	// stat.Histogram bins are half-open; widen the last edge so hi is counted.
	dividers[bins] = math.Nextafter(hi, math.Inf(1))
	counts := stat.Histogram(nil, dividers, x, nil)

	binSize := (hi - lo) / float64(bins)
	pdf := make([]float64, bins)
	for i, c := range counts {
		pdf[i] = c / (float64(len(x)) * binSize)
	}
	pdf = gaussianFilter1D(pdf, sigma)

	peak := floats.MaxIdx(pdf)
	diff := make([]float64, bins-peak)
	for i := range diff {
		diff[i] = math.Abs(pdf[peak+i] - pdf[0])
	}
	g := floats.MinIdx(diff)
	var ties int
	for _, d := range diff {
		if d == diff[g] {
			ties++
		}
	}
	g += peak

	frac := floats.Sum(pdf[g:]) * binSize
	return math.Min(frac, 0.5), ties > 1
}

// gaussianFilter1D smooths x with a Gaussian kernel of the given sigma,
// truncated at four sigma, reflecting at the edges (d c b a | a b c d).
func gaussianFilter1D(x []float64, sigma float64) []float64 {
	out := make([]float64, len(x))
	if sigma <= 0 || len(x) == 0 {
		copy(out, x)
		return out
	}
	radius := int(4*sigma + 0.5)
	kernel := make([]float64, 2*radius+1)
	for k := -radius; k <= radius; k++ {
		kernel[k+radius] = math.Exp(-0.5 * float64(k*k) / (sigma * sigma))
	}
	floats.Scale(1/floats.Sum(kernel), kernel)

	n := len(x)
	for i := range x {
		var acc float64
		for k := -radius; k <= radius; k++ {
			acc += kernel[k+radius] * x[reflectIndex(i+k, n)]
		}
		out[i] = acc
	}
	return out
}

func reflectIndex(i, n int) int {
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - 1 - i
	}
	return i
}

// AmplitudeMedianOptions configures AmplitudeMedians.
type AmplitudeMedianOptions struct {
	PeakSign ephys.PeakSign
}

// AmplitudeMedians returns the median absolute spike amplitude of every unit.
func AmplitudeMedians(a *Analyzer, opts AmplitudeMedianOptions) (map[string]float64, error) {
	all, err := SpikeAmplitudes(a, opts.PeakSign)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(all))
	for unit, amps := range all {
		abs := make([]float64, len(amps))
		for i, v := range amps {
			abs[i] = math.Abs(v)
		}
		out[unit] = median(abs)
	}
	return out, nil
}
