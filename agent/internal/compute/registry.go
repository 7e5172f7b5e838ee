package compute

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/obsidianstack/spikeqc/agent/internal/ephys"
)

// Metric names accepted by ComputeQualityMetrics.
const (
	MetricNumSpikes       = "num_spikes"
	MetricFiringRate      = "firing_rate"
	MetricPresenceRatio   = "presence_ratio"
	MetricSNR             = "snr"
	MetricISIViolation    = "isi_violation"
	MetricRPViolation     = "rp_violation"
	MetricAmplitudeCutoff = "amplitude_cutoff"
	MetricAmplitudeMedian = "amplitude_median"
	MetricDrift           = "drift"
)

// Output column names. Most metrics produce one column named after the metric.
const (
	ColISIViolationsRatio = "isi_violations_ratio"
	ColISIViolationsCount = "isi_violations_count"
	ColRPContamination    = "rp_contamination"
	ColRPViolations       = "rp_violations"
	ColMaximumDrift       = "maximum_drift"
	ColCumulativeDrift    = "cumulative_drift"
)

// ErrUnknownMetric is returned for a metric name that is not registered.
var ErrUnknownMetric = errors.New("compute: unknown metric")

// Params holds the parameters of every metric.
type Params struct {
	SNR             SNROptions
	PresenceRatio   PresenceRatioOptions
	ISI             ISIOptions
	RP              RPOptions
	AmplitudeCutoff AmplitudeCutoffOptions
	AmplitudeMedian AmplitudeMedianOptions
	Drift           DriftOptions
}

// DefaultParams returns the default parameters of every metric.
func DefaultParams() Params {
	return Params{
		SNR:           DefaultSNROptions(),
		PresenceRatio: PresenceRatioOptions{BinDurationS: 60},
		ISI:           ISIOptions{ThresholdMs: 1.5, MinISIMs: 0},
		RP:            RPOptions{RefractoryPeriodMs: 1, CensoredPeriodMs: 0},
		AmplitudeCutoff: AmplitudeCutoffOptions{
			PeakSign:                ephys.PeakNeg,
			NumHistogramBins:        100,
			HistogramSmoothingValue: 3,
			AmplitudesBinsMinRatio:  5,
		},
		AmplitudeMedian: AmplitudeMedianOptions{PeakSign: ephys.PeakNeg},
		Drift: DriftOptions{
			IntervalS:                 60,
			MinSpikesPerInterval:      100,
			Direction:                 "y",
			MinFractionValidIntervals: 0.5,
			MinNumBins:                2,
		},
	}
}

// Table maps unit ID → column → value. Missing or undefined values are NaN.
type Table map[string]map[string]float64

// Get returns the value of column for unit, or NaN.
func (t Table) Get(unit, column string) float64 {
	if row, ok := t[unit]; ok {
		if v, ok := row[column]; ok {
			return v
		}
	}
	return math.NaN()
}

func (t Table) set(column string, values map[string]float64) {
	for unit, v := range values {
		row, ok := t[unit]
		if !ok {
			row = make(map[string]float64)
			t[unit] = row
		}
		row[column] = v
	}
}

type metricFunc func(a *Analyzer, p Params, t Table) error

type metricDef struct {
	columns []string
	fn      metricFunc
	// needsWaveforms reports whether the metric reads waveforms or templates.
	needsWaveforms bool
}

// metricOrder is the canonical order of metrics and their columns.
var metricOrder = []string{
	MetricNumSpikes,
	MetricFiringRate,
	MetricPresenceRatio,
	MetricSNR,
	MetricISIViolation,
	MetricRPViolation,
	MetricAmplitudeCutoff,
	MetricAmplitudeMedian,
	MetricDrift,
}

var registry = map[string]metricDef{
	MetricNumSpikes: {
		columns: []string{MetricNumSpikes},
		fn: func(a *Analyzer, _ Params, t Table) error {
			t.set(MetricNumSpikes, NumSpikes(a.Sorting))
			return nil
		},
	},
	MetricFiringRate: {
		columns: []string{MetricFiringRate},
		fn: func(a *Analyzer, _ Params, t Table) error {
			t.set(MetricFiringRate, FiringRates(a.Recording, a.Sorting))
			return nil
		},
	},
	MetricPresenceRatio: {
		columns: []string{MetricPresenceRatio},
		fn: func(a *Analyzer, p Params, t Table) error {
			v, err := PresenceRatios(a.Recording, a.Sorting, p.PresenceRatio)
			if err != nil {
				return err
			}
			t.set(MetricPresenceRatio, v)
			return nil
		},
	},
	MetricSNR: {
		columns:        []string{MetricSNR},
		needsWaveforms: true,
		fn: func(a *Analyzer, p Params, t Table) error {
			v, err := SNRs(a, p.SNR)
			if err != nil {
				return err
			}
			t.set(MetricSNR, v)
			return nil
		},
	},
	MetricISIViolation: {
		columns: []string{ColISIViolationsRatio, ColISIViolationsCount},
		fn: func(a *Analyzer, p Params, t Table) error {
			ratio, count := ISIViolations(a.Recording, a.Sorting, p.ISI)
			t.set(ColISIViolationsRatio, ratio)
			t.set(ColISIViolationsCount, count)
			return nil
		},
	},
	MetricRPViolation: {
		columns: []string{ColRPContamination, ColRPViolations},
		fn: func(a *Analyzer, p Params, t Table) error {
			cont, viol := RPViolations(a.Recording, a.Sorting, p.RP)
			t.set(ColRPContamination, cont)
			t.set(ColRPViolations, viol)
			return nil
		},
	},
	MetricAmplitudeCutoff: {
		columns:        []string{MetricAmplitudeCutoff},
		needsWaveforms: true,
		fn: func(a *Analyzer, p Params, t Table) error {
			v, err := AmplitudeCutoffs(a, p.AmplitudeCutoff)
			if err != nil {
				return err
			}
			t.set(MetricAmplitudeCutoff, v)
			return nil
		},
	},
	MetricAmplitudeMedian: {
		columns:        []string{MetricAmplitudeMedian},
		needsWaveforms: true,
		fn: func(a *Analyzer, p Params, t Table) error {
			v, err := AmplitudeMedians(a, p.AmplitudeMedian)
			if err != nil {
				return err
			}
			t.set(MetricAmplitudeMedian, v)
			return nil
		},
	},
	MetricDrift: {
		columns: []string{ColMaximumDrift, ColCumulativeDrift},
		fn: func(a *Analyzer, p Params, t Table) error {
			maxD, cumD, err := DriftMetrics(a, p.Drift)
			if err != nil {
				return err
			}
			t.set(ColMaximumDrift, maxD)
			t.set(ColCumulativeDrift, cumD)
			return nil
		},
	},
}

// Metrics returns every registered metric name in canonical order.
func Metrics() []string {
	out := make([]string, len(metricOrder))
	copy(out, metricOrder)
	return out
}

// Columns returns the output columns produced by names, in canonical order.
// An empty names selects every metric.
func Columns(names []string) ([]string, error) {
	sel, err := resolve(names)
	if err != nil {
		return nil, err
	}
	var cols []string
	for _, n := range sel {
		cols = append(cols, registry[n].columns...)
	}
	return cols, nil
}

// NeedsWaveforms reports whether any of names reads templates or waveforms.
func NeedsWaveforms(names []string) (bool, error) {
	sel, err := resolve(names)
	if err != nil {
		return false, err
	}
	for _, n := range sel {
		if registry[n].needsWaveforms {
			return true, nil
		}
	}
	return false, nil
}

// resolve validates names and returns them in canonical order without duplicates.
func resolve(names []string) ([]string, error) {
	if len(names) == 0 {
		return Metrics(), nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := registry[n]; !ok {
			return nil, fmt.Errorf("%w %q", ErrUnknownMetric, n)
		}
		want[n] = true
	}
	var out []string
	for _, n := range metricOrder {
		if want[n] {
			out = append(out, n)
		}
	}
	return out, nil
}

// ComputeQualityMetrics runs the named metrics (all when names is empty) over
// a and returns one row per unit. Every row has every selected column; values
// a metric does not produce for a unit are NaN.
func ComputeQualityMetrics(ctx context.Context, a *Analyzer, names []string, p Params) (Table, error) {
	sel, err := resolve(names)
	if err != nil {
		return nil, err
	}
	t := make(Table, len(a.UnitIDs()))
	for _, n := range sel {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		def := registry[n]
		if err := def.fn(a, p, t); err != nil {
			return nil, fmt.Errorf("compute: metric %s: %w", n, err)
		}
	}
	for _, unit := range a.UnitIDs() {
		row, ok := t[unit]
		if !ok {
			row = make(map[string]float64)
			t[unit] = row
		}
		for _, n := range sel {
			for _, c := range registry[n].columns {
				if _, ok := row[c]; !ok {
					row[c] = math.NaN()
				}
			}
		}
	}
	return t, nil
}
