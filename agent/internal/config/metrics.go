package config

import (
	"github.com/obsidianstack/spikeqc/agent/internal/compute"
	"github.com/obsidianstack/spikeqc/agent/internal/ephys"
)

// MetricsConfig selects quality metrics and their parameters.
type MetricsConfig struct {
	// Names lists the metrics to compute; empty computes all of them.
	Names []string `yaml:"names"`

	SNR             SNRConfig             `yaml:"snr"`
	Noise           NoiseConfig           `yaml:"noise"`
	Waveforms       WaveformConfig        `yaml:"waveforms"`
	PresenceRatio   PresenceRatioConfig   `yaml:"presence_ratio"`
	ISI             ISIConfig             `yaml:"isi_violation"`
	RP              RPConfig              `yaml:"rp_violation"`
	AmplitudeCutoff AmplitudeCutoffConfig `yaml:"amplitude_cutoff"`
	AmplitudeMedian PeakSignConfig        `yaml:"amplitude_median"`
	Drift           DriftConfig           `yaml:"drift"`
}

// SNRConfig selects the template amplitude read by the snr metric.
type SNRConfig struct {
	PeakSign string `yaml:"peak_sign"`
	PeakMode string `yaml:"peak_mode"`
}

// NoiseConfig controls the random chunks drawn for per-channel noise levels.
// Leaving both counts at zero selects the defaults.
type NoiseConfig struct {
	NumChunksPerSegment int   `yaml:"num_chunks_per_segment"`
	ChunkSize           int   `yaml:"chunk_size"`
	Seed                int64 `yaml:"seed"`
}

// WaveformConfig sets the snippet window and sampling used for templates.
type WaveformConfig struct {
	MsBefore         float64 `yaml:"ms_before"`
	MsAfter          float64 `yaml:"ms_after"`
	MaxSpikesPerUnit int     `yaml:"max_spikes_per_unit"`
	Seed             int64   `yaml:"seed"`
	TemplateMode     string  `yaml:"template_mode"`
}

// PresenceRatioConfig sets the bin width of presence_ratio.
type PresenceRatioConfig struct {
	BinDurationS float64 `yaml:"bin_duration_s"`
}

// ISIConfig sets the inter-spike interval threshold of isi_violation.
type ISIConfig struct {
	ThresholdMs float64 `yaml:"isi_threshold_ms"`
	MinISIMs    float64 `yaml:"min_isi_ms"`
}

// RPConfig sets the refractory and censored periods of rp_violation.
type RPConfig struct {
	RefractoryPeriodMs float64 `yaml:"refractory_period_ms"`
	CensoredPeriodMs   float64 `yaml:"censored_period_ms"`
}

// AmplitudeCutoffConfig configures the amplitude histogram of amplitude_cutoff.
type AmplitudeCutoffConfig struct {
	PeakSign                string  `yaml:"peak_sign"`
	NumHistogramBins        int     `yaml:"num_histogram_bins"`
	HistogramSmoothingValue float64 `yaml:"histogram_smoothing_value"`
	AmplitudesBinsMinRatio  float64 `yaml:"amplitudes_bins_min_ratio"`
}

// PeakSignConfig holds the peak sign of metrics that take no other parameter.
type PeakSignConfig struct {
	PeakSign string `yaml:"peak_sign"`
}

// DriftConfig configures the position binning of the drift metrics.
type DriftConfig struct {
	IntervalS                 float64 `yaml:"interval_s"`
	MinSpikesPerInterval      int     `yaml:"min_spikes_per_interval"`
	Direction                 string  `yaml:"direction"`
	MinFractionValidIntervals float64 `yaml:"min_fraction_valid_intervals"`
	MinNumBins                int     `yaml:"min_num_bins"`
}

// defaultMetrics mirrors compute.DefaultOptions in config form so that a
// partially specified metrics block keeps the defaults of omitted fields.
func defaultMetrics() MetricsConfig {
	o := compute.DefaultOptions()
	p := o.Params
	return MetricsConfig{
		SNR: SNRConfig{PeakSign: string(p.SNR.PeakSign), PeakMode: string(p.SNR.PeakMode)},
		Noise: NoiseConfig{
			NumChunksPerSegment: o.Noise.NumChunksPerSegment,
			ChunkSize:           o.Noise.ChunkSize,
			Seed:                o.Noise.Seed,
		},
		Waveforms: WaveformConfig{
			MsBefore:         o.Waveforms.MsBefore,
			MsAfter:          o.Waveforms.MsAfter,
			MaxSpikesPerUnit: o.Waveforms.MaxSpikesPerUnit,
			Seed:             o.Waveforms.Seed,
			TemplateMode:     o.Waveforms.TemplateMode,
		},
		PresenceRatio: PresenceRatioConfig{BinDurationS: p.PresenceRatio.BinDurationS},
		ISI:           ISIConfig{ThresholdMs: p.ISI.ThresholdMs, MinISIMs: p.ISI.MinISIMs},
		RP:            RPConfig{RefractoryPeriodMs: p.RP.RefractoryPeriodMs, CensoredPeriodMs: p.RP.CensoredPeriodMs},
		AmplitudeCutoff: AmplitudeCutoffConfig{
			PeakSign:                string(p.AmplitudeCutoff.PeakSign),
			NumHistogramBins:        p.AmplitudeCutoff.NumHistogramBins,
			HistogramSmoothingValue: p.AmplitudeCutoff.HistogramSmoothingValue,
			AmplitudesBinsMinRatio:  p.AmplitudeCutoff.AmplitudesBinsMinRatio,
		},
		AmplitudeMedian: PeakSignConfig{PeakSign: string(p.AmplitudeMedian.PeakSign)},
		Drift: DriftConfig{
			IntervalS:                 p.Drift.IntervalS,
			MinSpikesPerInterval:      p.Drift.MinSpikesPerInterval,
			Direction:                 p.Drift.Direction,
			MinFractionValidIntervals: p.Drift.MinFractionValidIntervals,
			MinNumBins:                p.Drift.MinNumBins,
		},
	}
}

// EngineOptions converts the metrics block into compute options. Metric
// names, enums and parameter ranges are validated.
func (m MetricsConfig) EngineOptions() (compute.Options, error) {
	snrSign, err := ephys.ParsePeakSign(m.SNR.PeakSign)
	if err != nil {
		return compute.Options{}, err
	}
	snrMode, err := ephys.ParsePeakMode(m.SNR.PeakMode)
	if err != nil {
		return compute.Options{}, err
	}
	cutoffSign, err := ephys.ParsePeakSign(m.AmplitudeCutoff.PeakSign)
	if err != nil {
		return compute.Options{}, err
	}
	medianSign, err := ephys.ParsePeakSign(m.AmplitudeMedian.PeakSign)
	if err != nil {
		return compute.Options{}, err
	}

	opts := compute.Options{
		Metrics: m.Names,
		Params: compute.Params{
			SNR:           compute.SNROptions{PeakSign: snrSign, PeakMode: snrMode},
			PresenceRatio: compute.PresenceRatioOptions{BinDurationS: m.PresenceRatio.BinDurationS},
			ISI:           compute.ISIOptions{ThresholdMs: m.ISI.ThresholdMs, MinISIMs: m.ISI.MinISIMs},
			RP: compute.RPOptions{
				RefractoryPeriodMs: m.RP.RefractoryPeriodMs,
				CensoredPeriodMs:   m.RP.CensoredPeriodMs,
			},
			AmplitudeCutoff: compute.AmplitudeCutoffOptions{
				PeakSign:                cutoffSign,
				NumHistogramBins:        m.AmplitudeCutoff.NumHistogramBins,
				HistogramSmoothingValue: m.AmplitudeCutoff.HistogramSmoothingValue,
				AmplitudesBinsMinRatio:  m.AmplitudeCutoff.AmplitudesBinsMinRatio,
			},
			AmplitudeMedian: compute.AmplitudeMedianOptions{PeakSign: medianSign},
			Drift: compute.DriftOptions{
				IntervalS:                 m.Drift.IntervalS,
				MinSpikesPerInterval:      m.Drift.MinSpikesPerInterval,
				Direction:                 m.Drift.Direction,
				MinFractionValidIntervals: m.Drift.MinFractionValidIntervals,
				MinNumBins:                m.Drift.MinNumBins,
			},
		},
		Noise: compute.NoiseOptions{
			NumChunksPerSegment: m.Noise.NumChunksPerSegment,
			ChunkSize:           m.Noise.ChunkSize,
			Seed:                m.Noise.Seed,
			Scaled:              true,
		},
		Waveforms: compute.WaveformOptions{
			MsBefore:         m.Waveforms.MsBefore,
			MsAfter:          m.Waveforms.MsAfter,
			MaxSpikesPerUnit: m.Waveforms.MaxSpikesPerUnit,
			Seed:             m.Waveforms.Seed,
			TemplateMode:     m.Waveforms.TemplateMode,
		},
	}
	if err := opts.Validate(); err != nil {
		return compute.Options{}, err
	}
	return opts, nil
}
