package compute

import (
	"errors"
	"fmt"

	"github.com/obsidianstack/spikeqc/agent/internal/ephys"
)

var (
	// ErrNoTemplates is returned by metrics that read templates when none were estimated.
	ErrNoTemplates = errors.New("compute: templates not available")
	// ErrNoWaveforms is returned by metrics that read spike amplitudes when no
	// waveforms were extracted.
	ErrNoWaveforms = errors.New("compute: waveforms not available")
)

// Analyzer bundles everything the metrics read for one session. Only
// Recording and Sorting are required; Templates, Waveforms, Locations and
// Noise are filled in by the Engine or by the caller.
//
// An Analyzer is not safe for concurrent use.
type Analyzer struct {
	Recording *ephys.Recording
	Sorting   *ephys.Sorting
	Templates *ephys.Templates
	Waveforms *Waveforms
	Locations ephys.SpikeLocations

	// Noise caches per-channel noise levels. When nil, NoiseLevels computes
	// them with NoiseOptions.
	Noise        []float64
	NoiseOptions NoiseOptions
}

// UnitIDs returns the sorting's unit identifiers.
func (a *Analyzer) UnitIDs() []string { return a.Sorting.UnitIDs }

// NoiseLevels returns the per-channel noise levels, computing and caching
// them on first use. Noise is measured in the same units as the templates.
func (a *Analyzer) NoiseLevels() ([]float64, error) {
	if a.Noise != nil {
		return a.Noise, nil
	}
	opts := a.NoiseOptions
	if opts.NumChunksPerSegment == 0 && opts.ChunkSize == 0 {
		opts = DefaultNoiseOptions()
	}
	if a.Templates != nil {
		opts.Scaled = a.Templates.Scaled
	}
	levels, err := NoiseLevels(a.Recording, opts)
	if err != nil {
		return nil, fmt.Errorf("compute: noise levels: %w", err)
	}
	a.Noise = levels
	return levels, nil
}
