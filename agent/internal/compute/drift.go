package compute

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/obsidianstack/spikeqc/agent/internal/ephys"
)

// DriftOptions configures DriftMetrics.
type DriftOptions struct {
	IntervalS                 float64
	MinSpikesPerInterval      int
	Direction                 string
	MinFractionValidIntervals float64
	MinNumBins                int
}

// DriftMetrics measures how far each unit's median spike position moves over
// time. Positions are binned in IntervalS windows per segment; bins with fewer
// than MinSpikesPerInterval spikes are invalid. maximum_drift is the
// peak-to-peak of the binned medians relative to the unit's overall median,
// cumulative_drift the sum of their absolute deviations.
//
// Every unit is NaN when no spike locations are attached or the recording is
// shorter than MinNumBins intervals. A unit is NaN when more than
// MinFractionValidIntervals of its bins are invalid.
func DriftMetrics(a *Analyzer, opts DriftOptions) (maxDrift, cumDrift map[string]float64, err error) {
	if opts.Direction != "x" && opts.Direction != "y" && opts.Direction != "z" {
		return nil, nil, fmt.Errorf("compute: drift direction %q: want x|y|z", opts.Direction)
	}
	units := a.UnitIDs()
	if a.Locations == nil {
		slog.Warn("compute: no spike locations, drift metrics are NaN")
		return nanMap(units), nanMap(units), nil
	}
	rec := a.Recording
	if rec.TotalDuration() < float64(opts.MinNumBins)*opts.IntervalS {
		slog.Warn("compute: recording too short for drift metrics",
			"duration_s", rec.TotalDuration(), "interval_s", opts.IntervalS, "min_num_bins", opts.MinNumBins)
		return nanMap(units), nanMap(units), nil
	}
	interval := int64(opts.IntervalS * rec.SamplingFrequency)
	if interval <= 0 {
		return nil, nil, fmt.Errorf("compute: drift interval of %v s is shorter than one frame", opts.IntervalS)
	}

	maxDrift = make(map[string]float64, len(units))
	cumDrift = make(map[string]float64, len(units))
	for _, unit := range units {
		positions, err := a.unitPositions(unit, opts.Direction)
		if err != nil {
			return nil, nil, err
		}
		var all []float64
		for _, p := range positions {
			all = append(all, p...)
		}
		ref := median(all)

		var diffs []float64
		for seg := 0; seg < rec.NumSegments(); seg++ {
			train := a.Sorting.SpikeTrain(unit, seg)
			var pos []float64
			if seg < len(positions) {
				pos = positions[seg]
			}
			numBins := int64(rec.NumSamples(seg)) / interval
			for b := int64(0); b < numBins; b++ {
				lo := searchFrames(train, b*interval)
				hi := searchFrames(train, (b+1)*interval)
				if hi-lo >= opts.MinSpikesPerInterval {
					diffs = append(diffs, median(pos[lo:hi])-ref)
				} else {
					diffs = append(diffs, math.NaN())
				}
			}
		}
		maxDrift[unit], cumDrift[unit] = driftSummary(diffs, opts.MinFractionValidIntervals)
	}
	return maxDrift, cumDrift, nil
}

func driftSummary(diffs []float64, minFrac float64) (ptp, cum float64) {
	var valid []float64
	for _, d := range diffs {
		if !math.IsNaN(d) {
			valid = append(valid, d)
		}
	}
	nanCount := len(diffs) - len(valid)
	if len(valid) == 0 || (nanCount > 0 && float64(nanCount) > minFrac*float64(len(diffs))) {
		return math.NaN(), math.NaN()
	}
	for _, d := range valid {
		cum += math.Abs(d)
	}
	return floats.Max(valid) - floats.Min(valid), cum
}

// unitPositions returns the coordinate along direction of every spike of
// unit, per segment, in spike train order.
func (a *Analyzer) unitPositions(unit, direction string) ([][]float64, error) {
	out := make([][]float64, a.Sorting.NumSegments())
	for seg := range out {
		train := a.Sorting.SpikeTrain(unit, seg)
		var locs []ephys.Location
		if seg < len(a.Locations) {
			locs = a.Locations[seg][unit]
		}
		if len(locs) != len(train) {
			return nil, fmt.Errorf("compute: unit %q segment %d: %d locations for %d spikes", unit, seg, len(locs), len(train))
		}
		p := make([]float64, len(locs))
		for i, l := range locs {
			p[i], _ = l.Coord(direction)
		}
		out[seg] = p
	}
	return out, nil
}

// searchFrames returns the index of the first spike at or after frame.
func searchFrames(train []int64, frame int64) int {
	return sort.Search(len(train), func(i int) bool { return train[i] >= frame })
}
