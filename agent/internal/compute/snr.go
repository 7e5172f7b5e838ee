package compute

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/obsidianstack/spikeqc/agent/internal/ephys"
)

// SNROptions selects how the template amplitude is read.
type SNROptions struct {
	PeakSign ephys.PeakSign
	PeakMode ephys.PeakMode
}

// DefaultSNROptions returns neg / extremum.
func DefaultSNROptions() SNROptions {
	return SNROptions{PeakSign: ephys.PeakNeg, PeakMode: ephys.ModeExtremum}
}

// SNR returns the signal-to-noise ratio of one template together with the
// channel it was measured on.
//
// The channel is the one with the largest amplitude under opts; the ratio is
// |amplitude| / noise[channel]. A zero noise level yields +Inf (or NaN for a
// flat template). Multiplying the template and the noise by the same factor
// leaves the result unchanged.
func SNR(tmpl mat.Matrix, nbefore int, noise []float64, opts SNROptions) (float64, int, error) {
	amps, err := ChannelAmplitudes(tmpl, nbefore, opts.PeakSign, opts.PeakMode)
	if err != nil {
		return 0, -1, err
	}
	if len(noise) != len(amps) {
		return 0, -1, fmt.Errorf("compute: %d noise levels for %d channels", len(noise), len(amps))
	}
	ch := floats.MaxIdx(amps)
	return math.Abs(amps[ch]) / noise[ch], ch, nil
}

// SNRs computes the signal-to-noise ratio of every unit of a.
func SNRs(a *Analyzer, opts SNROptions) (map[string]float64, error) {
	if a.Templates == nil {
		return nil, ErrNoTemplates
	}
	noise, err := a.NoiseLevels()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(a.Templates.UnitIDs))
	for i, unit := range a.Templates.UnitIDs {
		snr, _, err := SNR(a.Templates.Arrays[i], a.Templates.NBefore, noise, opts)
		if err != nil {
			return nil, fmt.Errorf("compute: snr of unit %q: %w", unit, err)
		}
		out[unit] = snr
	}
	return out, nil
}
