package compute

import (
	"fmt"
)

// Validate range-checks every parameter so that a bad configuration is
// rejected once instead of failing each session at processing time.
func (o Options) Validate() error {
	if _, err := Columns(o.Metrics); err != nil {
		return err
	}
	if err := o.Noise.validate(); err != nil {
		return err
	}
	if err := o.Waveforms.validate(); err != nil {
		return err
	}
	return o.Params.validate()
}

func (n NoiseOptions) validate() error {
	// Both zero selects the defaults, see Analyzer.NoiseLevels.
	if n.NumChunksPerSegment == 0 && n.ChunkSize == 0 {
		return nil
	}
	if n.NumChunksPerSegment <= 0 {
		return fmt.Errorf("compute: noise num_chunks_per_segment must be positive, got %d", n.NumChunksPerSegment)
	}
	if n.ChunkSize <= 0 {
		return fmt.Errorf("compute: noise chunk_size must be positive, got %d", n.ChunkSize)
	}
	return nil
}

func (w WaveformOptions) validate() error {
	if w.MsBefore < 0 || w.MsAfter < 0 {
		return fmt.Errorf("compute: waveform ms_before/ms_after must be >= 0, got %v/%v", w.MsBefore, w.MsAfter)
	}
	if w.MsBefore+w.MsAfter <= 0 {
		return fmt.Errorf("compute: waveform window is empty (ms_before=%v ms_after=%v)", w.MsBefore, w.MsAfter)
	}
	if w.MaxSpikesPerUnit < 0 {
		return fmt.Errorf("compute: max_spikes_per_unit must be >= 0, got %d", w.MaxSpikesPerUnit)
	}
	switch w.TemplateMode {
	case "", TemplateAverage, TemplateMedian:
	default:
		return fmt.Errorf("%w %q: want average|median", ErrInvalidTemplateMode, w.TemplateMode)
	}
	return nil
}

func (p Params) validate() error {
	if p.PresenceRatio.BinDurationS <= 0 {
		return fmt.Errorf("compute: presence_ratio bin_duration_s must be positive, got %v", p.PresenceRatio.BinDurationS)
	}
	if p.ISI.MinISIMs < 0 || p.ISI.ThresholdMs <= p.ISI.MinISIMs {
		return fmt.Errorf("compute: isi_violation needs 0 <= min_isi_ms < isi_threshold_ms, got %v/%v",
			p.ISI.MinISIMs, p.ISI.ThresholdMs)
	}
	if p.RP.RefractoryPeriodMs < 0 || p.RP.CensoredPeriodMs < 0 {
		return fmt.Errorf("compute: rp_violation periods must be >= 0, got %v/%v",
			p.RP.RefractoryPeriodMs, p.RP.CensoredPeriodMs)
	}

	c := p.AmplitudeCutoff
	if c.NumHistogramBins <= 0 {
		return fmt.Errorf("compute: amplitude_cutoff num_histogram_bins must be positive, got %d", c.NumHistogramBins)
	}
	if c.HistogramSmoothingValue < 0 {
		return fmt.Errorf("compute: amplitude_cutoff histogram_smoothing_value must be >= 0, got %v", c.HistogramSmoothingValue)
	}
	if c.AmplitudesBinsMinRatio < 0 {
		return fmt.Errorf("compute: amplitude_cutoff amplitudes_bins_min_ratio must be >= 0, got %v", c.AmplitudesBinsMinRatio)
	}

	d := p.Drift
	switch d.Direction {
	case "x", "y", "z":
	default:
		return fmt.Errorf("compute: drift direction %q: want x|y|z", d.Direction)
	}
	if d.IntervalS <= 0 {
		return fmt.Errorf("compute: drift interval_s must be positive, got %v", d.IntervalS)
	}
	if d.MinSpikesPerInterval < 0 || d.MinNumBins < 0 {
		return fmt.Errorf("compute: drift min_spikes_per_interval/min_num_bins must be >= 0, got %d/%d",
			d.MinSpikesPerInterval, d.MinNumBins)
	}
	if d.MinFractionValidIntervals < 0 || d.MinFractionValidIntervals > 1 {
		return fmt.Errorf("compute: drift min_fraction_valid_intervals must be in [0, 1], got %v", d.MinFractionValidIntervals)
	}
	return nil
}
