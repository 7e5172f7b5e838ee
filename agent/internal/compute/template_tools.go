package compute

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/obsidianstack/spikeqc/agent/internal/ephys"
)

// ChannelAmplitudes returns the amplitude of one template on every channel.
//
// In extremum mode the amplitude is -min for neg, max for pos and the larger
// absolute excursion for both. In at_index mode it is the value at nbefore,
// negated for neg and taken absolute for both.
func ChannelAmplitudes(tmpl mat.Matrix, nbefore int, sign ephys.PeakSign, mode ephys.PeakMode) ([]float64, error) {
	if err := sign.Validate(); err != nil {
		return nil, err
	}
	if err := mode.Validate(); err != nil {
		return nil, err
	}
	rows, cols := tmpl.Dims()
	if rows == 0 || cols == 0 {
		return nil, fmt.Errorf("compute: empty template")
	}
	if mode == ephys.ModeAtIndex && (nbefore < 0 || nbefore >= rows) {
		return nil, fmt.Errorf("compute: nbefore %d outside template of %d frames", nbefore, rows)
	}

	amps := make([]float64, cols)
	col := make([]float64, rows)
	for ch := 0; ch < cols; ch++ {
		var v float64
		if mode == ephys.ModeExtremum {
			mat.Col(col, ch, tmpl)
			switch sign {
			case ephys.PeakNeg:
				v = -floats.Min(col)
			case ephys.PeakPos:
				v = floats.Max(col)
			default:
				v = math.Max(math.Abs(floats.Min(col)), math.Abs(floats.Max(col)))
			}
		} else {
			v = tmpl.At(nbefore, ch)
			switch sign {
			case ephys.PeakNeg:
				v = -v
			case ephys.PeakBoth:
				v = math.Abs(v)
			}
		}
		amps[ch] = v
	}
	return amps, nil
}

// TemplateAmplitudes returns ChannelAmplitudes for every unit of t.
func TemplateAmplitudes(t *ephys.Templates, sign ephys.PeakSign, mode ephys.PeakMode) (map[string][]float64, error) {
	out := make(map[string][]float64, len(t.UnitIDs))
	for i, unit := range t.UnitIDs {
		amps, err := ChannelAmplitudes(t.Arrays[i], t.NBefore, sign, mode)
		if err != nil {
			return nil, fmt.Errorf("compute: unit %q: %w", unit, err)
		}
		out[unit] = amps
	}
	return out, nil
}

// ExtremumChannels returns, per unit, the index of the channel with the
// largest amplitude. Ties resolve to the lowest index.
func ExtremumChannels(t *ephys.Templates, sign ephys.PeakSign, mode ephys.PeakMode) (map[string]int, error) {
	amps, err := TemplateAmplitudes(t, sign, mode)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(amps))
	for unit, a := range amps {
		out[unit] = floats.MaxIdx(a)
	}
	return out, nil
}

// ExtremumAmplitudes returns, per unit, the amplitude on its extremum channel.
func ExtremumAmplitudes(t *ephys.Templates, sign ephys.PeakSign, mode ephys.PeakMode) (map[string]float64, error) {
	amps, err := TemplateAmplitudes(t, sign, mode)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(amps))
	for unit, a := range amps {
		out[unit] = a[floats.MaxIdx(a)]
	}
	return out, nil
}

// ExtremumPeakShifts returns, per unit, how many frames the template peak on
// the extremum channel sits away from nbefore. Positive means later.
func ExtremumPeakShifts(t *ephys.Templates, sign ephys.PeakSign) (map[string]int, error) {
	chans, err := ExtremumChannels(t, sign, ephys.ModeExtremum)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(chans))
	for i, unit := range t.UnitIDs {
		col := mat.Col(nil, chans[unit], t.Arrays[i])
		var idx int
		switch sign {
		case ephys.PeakNeg:
			idx = floats.MinIdx(col)
		case ephys.PeakPos:
			idx = floats.MaxIdx(col)
		default:
			for k := range col {
				col[k] = math.Abs(col[k])
			}
			idx = floats.MaxIdx(col)
		}
		out[unit] = idx - t.NBefore
	}
	return out, nil
}
