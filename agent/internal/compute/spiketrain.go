package compute

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/obsidianstack/spikeqc/agent/internal/ephys"
)

// NumSpikes returns the spike count of every unit across all segments.
func NumSpikes(s *ephys.Sorting) map[string]float64 {
	out := make(map[string]float64, len(s.UnitIDs))
	for _, unit := range s.UnitIDs {
		var n int
		for seg := 0; seg < s.NumSegments(); seg++ {
			n += len(s.SpikeTrain(unit, seg))
		}
		out[unit] = float64(n)
	}
	return out
}

// FiringRates returns spikes per second over the total recording duration.
func FiringRates(rec *ephys.Recording, s *ephys.Sorting) map[string]float64 {
	dur := rec.TotalDuration()
	out := NumSpikes(s)
	for unit, n := range out {
		out[unit] = n / dur
	}
	return out
}

// PresenceRatioOptions configures PresenceRatios.
type PresenceRatioOptions struct {
	BinDurationS float64
}

// PresenceRatios returns the fraction of fixed-width time bins, laid over the
// concatenated segments, that contain at least one spike. Every unit is NaN
// when the recording is shorter than one bin.
func PresenceRatios(rec *ephys.Recording, s *ephys.Sorting, opts PresenceRatioOptions) (map[string]float64, error) {
	binSamples := int64(opts.BinDurationS * rec.SamplingFrequency)
	if binSamples <= 0 {
		return nil, fmt.Errorf("compute: presence ratio bin of %v s is shorter than one frame", opts.BinDurationS)
	}
	total := int64(rec.TotalSamples())
	if total < binSamples {
		slog.Warn("compute: recording shorter than one presence ratio bin",
			"bin_duration_s", opts.BinDurationS, "duration_s", rec.TotalDuration())
		return nanMap(s.UnitIDs), nil
	}

	numBins := total / binSamples
	lastEdge := numBins * binSamples
	out := make(map[string]float64, len(s.UnitIDs))
	for _, unit := range s.UnitIDs {
		occupied := make([]bool, numBins)
		var offset int64
		for seg := 0; seg < s.NumSegments(); seg++ {
			for _, t := range s.SpikeTrain(unit, seg) {
				t += offset
				if t < 0 || t > lastEdge {
					continue
				}
				idx := t / binSamples
				if idx == numBins {
					// the right edge belongs to the last bin
					idx--
				}
				occupied[idx] = true
			}
			if seg < rec.NumSegments() {
				offset += int64(rec.NumSamples(seg))
			}
		}
		var n int
		for _, o := range occupied {
			if o {
				n++
			}
		}
		out[unit] = float64(n) / float64(numBins)
	}
	return out, nil
}

// ISIOptions configures ISIViolations.
type ISIOptions struct {
	ThresholdMs float64
	MinISIMs    float64
}

// ISIViolations counts inter-spike intervals shorter than ThresholdMs and
// returns the violation ratio (violation rate over the unit's total rate) and
// the raw count. Units without spikes are NaN in both maps.
func ISIViolations(rec *ephys.Recording, s *ephys.Sorting, opts ISIOptions) (ratio, count map[string]float64) {
	fs := rec.SamplingFrequency
	dur := rec.TotalDuration()
	thrS := opts.ThresholdMs / 1000
	minS := opts.MinISIMs / 1000
	thrSamples := int64(thrS * fs)

	ratio = make(map[string]float64, len(s.UnitIDs))
	count = make(map[string]float64, len(s.UnitIDs))
	for _, unit := range s.UnitIDs {
		var n, nv int
		for seg := 0; seg < s.NumSegments(); seg++ {
			train := s.SpikeTrain(unit, seg)
			n += len(train)
			for i := 1; i < len(train); i++ {
				if train[i]-train[i-1] < thrSamples {
					nv++
				}
			}
		}
		if n == 0 {
			ratio[unit] = math.NaN()
			count[unit] = math.NaN()
			continue
		}
		violationTime := 2 * float64(n) * (thrS - minS)
		totalRate := float64(n) / dur
		ratio[unit] = (float64(nv) / violationTime) / totalRate
		count[unit] = float64(nv)
	}
	return ratio, count
}

// RPOptions configures RPViolations.
type RPOptions struct {
	RefractoryPeriodMs float64
	CensoredPeriodMs   float64
}

// RPViolations counts every pair of spikes (not only neighbours) closer than
// the refractory period and estimates the contamination fraction from it.
// Contamination is NaN for units without spikes or when the refractory and
// censored periods coincide; it is 1 when the estimate has no real solution.
func RPViolations(rec *ephys.Recording, s *ephys.Sorting, opts RPOptions) (contamination, violations map[string]float64) {
	fs := rec.SamplingFrequency
	tc := math.RoundToEven(opts.CensoredPeriodMs * fs * 1e-3)
	tr := math.RoundToEven(opts.RefractoryPeriodMs * fs * 1e-3)
	trFrames := int64(tr)
	T := float64(rec.TotalSamples())

	contamination = make(map[string]float64, len(s.UnitIDs))
	violations = make(map[string]float64, len(s.UnitIDs))
	for _, unit := range s.UnitIDs {
		var n, nv int
		for seg := 0; seg < s.NumSegments(); seg++ {
			train := s.SpikeTrain(unit, seg)
			n += len(train)
			for i := range train {
				for j := i + 1; j < len(train); j++ {
					if train[j]-train[i] > trFrames {
						break
					}
					nv++
				}
			}
		}
		violations[unit] = float64(nv)

		N := float64(n)
		if n == 0 || tr == tc {
			contamination[unit] = math.NaN()
			continue
		}
		D := 1 - float64(nv)*(T-2*N*tc)/(N*N*(tr-tc))
		if D < 0 {
			contamination[unit] = 1
		} else {
			contamination[unit] = 1 - math.Sqrt(D)
		}
	}
	return contamination, violations
}
