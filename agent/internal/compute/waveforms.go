package compute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/obsidianstack/spikeqc/agent/internal/ephys"
)

// Template estimation modes.
const (
	TemplateAverage = "average"
	TemplateMedian  = "median"
)

// ErrInvalidTemplateMode is returned for a template mode other than average or median.
var ErrInvalidTemplateMode = errors.New("compute: invalid template mode")

// WaveformOptions controls snippet extraction around each spike.
type WaveformOptions struct {
	MsBefore         float64
	MsAfter          float64
	MaxSpikesPerUnit int // 0 keeps every spike
	Seed             int64
	TemplateMode     string
}

// DefaultWaveformOptions returns 1 ms before, 2 ms after, at most 500 spikes
// per unit, averaged templates.
func DefaultWaveformOptions() WaveformOptions {
	return WaveformOptions{
		MsBefore:         1.0,
		MsAfter:          2.0,
		MaxSpikesPerUnit: 500,
		TemplateMode:     TemplateAverage,
	}
}

// Frames converts the millisecond window into frame counts at fs.
func (o WaveformOptions) Frames(fs float64) (nbefore, nafter int) {
	return int(o.MsBefore * fs / 1000), int(o.MsAfter * fs / 1000)
}

// SpikeRef identifies one spike by segment and position in that segment's train.
type SpikeRef struct {
	Segment int
	Index   int
}

// Waveforms holds the extracted snippets. ByUnit[u][k] is an
// (NBefore+NAfter) × channels matrix for the spike Spikes[u][k].
type Waveforms struct {
	NBefore    int
	NAfter     int
	Scaled     bool
	ChannelIDs []string
	ByUnit     map[string][]*mat.Dense
	Spikes     map[string][]SpikeRef
}

// NumSamples returns the snippet length in frames.
func (w *Waveforms) NumSamples() int { return w.NBefore + w.NAfter }

// ExtractWaveforms cuts a window around up to MaxSpikesPerUnit randomly chosen
// spikes of every unit. Spikes whose window would cross a segment border are
// skipped.
func ExtractWaveforms(ctx context.Context, rec *ephys.Recording, sorting *ephys.Sorting, opts WaveformOptions, scaled bool) (*Waveforms, error) {
	nbefore, nafter := opts.Frames(rec.SamplingFrequency)
	if nbefore+nafter <= 0 {
		return nil, fmt.Errorf("compute: waveform window is empty (ms_before=%v ms_after=%v)", opts.MsBefore, opts.MsAfter)
	}
	if opts.MaxSpikesPerUnit < 0 {
		return nil, fmt.Errorf("compute: max_spikes_per_unit must be >= 0, got %d", opts.MaxSpikesPerUnit)
	}

	rng := rand.New(rand.NewSource(opts.Seed)) //nolint:gosec // reproducible sampling
	w := &Waveforms{
		NBefore:    nbefore,
		NAfter:     nafter,
		Scaled:     scaled,
		ChannelIDs: rec.ChannelIDs,
		ByUnit:     make(map[string][]*mat.Dense, len(sorting.UnitIDs)),
		Spikes:     make(map[string][]SpikeRef, len(sorting.UnitIDs)),
	}

	for _, unit := range sorting.UnitIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var refs []SpikeRef
		for seg := 0; seg < sorting.NumSegments() && seg < rec.NumSegments(); seg++ {
			n := int64(rec.NumSamples(seg))
			for i, t := range sorting.SpikeTrain(unit, seg) {
				if t-int64(nbefore) < 0 || t+int64(nafter) > n {
					continue
				}
				refs = append(refs, SpikeRef{Segment: seg, Index: i})
			}
		}

		if opts.MaxSpikesPerUnit > 0 && len(refs) > opts.MaxSpikesPerUnit {
			pick := rng.Perm(len(refs))[:opts.MaxSpikesPerUnit]
			sort.Ints(pick)
			sel := make([]SpikeRef, len(pick))
			for k, p := range pick {
				sel[k] = refs[p]
			}
			refs = sel
		}

		snippets := make([]*mat.Dense, 0, len(refs))
		for _, r := range refs {
			t := int(sorting.SpikeTrain(unit, r.Segment)[r.Index])
			tr, err := rec.Traces(r.Segment, t-nbefore, t+nafter, scaled)
			if err != nil {
				return nil, fmt.Errorf("compute: waveform of unit %q: %w", unit, err)
			}
			snippets = append(snippets, tr)
		}
		w.ByUnit[unit] = snippets
		w.Spikes[unit] = refs
	}
	return w, nil
}

// EstimateTemplates reduces each unit's snippets to a single template using
// the mean or the per-sample median. A unit without snippets gets an all-zero
// template.
func EstimateTemplates(w *Waveforms, unitIDs []string, mode string) (*ephys.Templates, error) {
	if mode == "" {
		mode = TemplateAverage
	}
	if mode != TemplateAverage && mode != TemplateMedian {
		return nil, fmt.Errorf("%w %q: want average|median", ErrInvalidTemplateMode, mode)
	}

	rows, cols := w.NumSamples(), len(w.ChannelIDs)
	t := &ephys.Templates{
		UnitIDs:    unitIDs,
		ChannelIDs: w.ChannelIDs,
		NBefore:    w.NBefore,
		Arrays:     make([]*mat.Dense, len(unitIDs)),
		Scaled:     w.Scaled,
	}

	for i, unit := range unitIDs {
		snips := w.ByUnit[unit]
		tmpl := mat.NewDense(rows, cols, nil)
		switch {
		case len(snips) == 0:
			slog.Warn("compute: unit has no waveforms, template is zero", "unit", unit)
		case mode == TemplateAverage:
			for _, s := range snips {
				tmpl.Add(tmpl, s)
			}
			tmpl.Scale(1/float64(len(snips)), tmpl)
		default:
			vals := make([]float64, len(snips))
			for r := 0; r < rows; r++ {
				for c := 0; c < cols; c++ {
					for k, s := range snips {
						vals[k] = s.At(r, c)
					}
					tmpl.Set(r, c, median(vals))
				}
			}
		}
		t.Arrays[i] = tmpl
	}
	return t, nil
}
