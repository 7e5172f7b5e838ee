package compute

import (
	"math"

	"github.com/obsidianstack/spikeqc/pkg/types"
)

// Weight constants for the unit quality score formula.
// They must sum to 1.0.
const (
	weightSNR      = 0.40
	weightISI      = 0.30
	weightPresence = 0.20
	weightCutoff   = 0.10
)

// Factor limits. Each factor is linear between its worst and best value.
const (
	// SNRTarget is the SNR that earns full credit.
	SNRTarget = 5.0
	// ISIRatioLimit is the ISI violation ratio that earns no credit.
	ISIRatioLimit = 0.5
	// AmplitudeCutoffLimit is the missed-spike fraction that earns no credit.
	AmplitudeCutoffLimit = 0.1
)

// Thresholds that map a score to a unit label.
const (
	ThresholdGood = 85.0
	ThresholdMUA  = 60.0
)

// Good-unit fractions that map a session to a state.
const (
	ThresholdPass = 0.5
	ThresholdWarn = 0.2
)

// Input holds the metric values fed into the score formula.
// NaN marks a metric that was not computed or is undefined for the unit.
type Input struct {
	SNR                float64
	ISIViolationsRatio float64
	PresenceRatio      float64
	AmplitudeCutoff    float64
}

// InputFromRow picks the scored columns out of a metrics row.
func InputFromRow(row map[string]float64) Input {
	get := func(k string) float64 {
		if v, ok := row[k]; ok {
			return v
		}
		return math.NaN()
	}
	return Input{
		SNR:                get(MetricSNR),
		ISIViolationsRatio: get(ColISIViolationsRatio),
		PresenceRatio:      get(MetricPresenceRatio),
		AmplitudeCutoff:    get(MetricAmplitudeCutoff),
	}
}

// Output is the result of the unit score calculation.
type Output struct {
	// Score is the composite quality score in the range 0–100, NaN when
	// Label is "unknown".
	Score float64

	// Label is one of "good", "mua", "noise", "unknown".
	Label string

	// The four factor values (each 0–1, NaN when dropped).
	SNRFactor      float64
	ISIFactor      float64
	PresenceFactor float64
	CutoffFactor   float64
}

// Score calculates the unit quality score from the given inputs.
//
//	score = (
//	    clamp(snr / 5)                  * 0.40  +
//	    (1 - clamp(isi_ratio / 0.5))    * 0.30  +
//	    clamp(presence_ratio)           * 0.20  +
//	    (1 - clamp(cutoff / 0.1))       * 0.10
//	) / sum(weights of present factors) * 100
//
// Factors whose input is NaN are left out and the remaining weights are
// renormalised. With no factor at all the label is "unknown".
func Score(in Input) Output {
	out := Output{
		SNRFactor:      factor(in.SNR, func(v float64) float64 { return clamp01(v / SNRTarget) }),
		ISIFactor:      factor(in.ISIViolationsRatio, func(v float64) float64 { return 1 - clamp01(v/ISIRatioLimit) }),
		PresenceFactor: factor(in.PresenceRatio, clamp01),
		CutoffFactor:   factor(in.AmplitudeCutoff, func(v float64) float64 { return 1 - clamp01(v/AmplitudeCutoffLimit) }),
	}

	var sum, weights float64
	for _, f := range []struct{ v, w float64 }{
		{out.SNRFactor, weightSNR},
		{out.ISIFactor, weightISI},
		{out.PresenceFactor, weightPresence},
		{out.CutoffFactor, weightCutoff},
	} {
		if math.IsNaN(f.v) {
			continue
		}
		sum += f.v * f.w
		weights += f.w
	}
	if weights == 0 {
		out.Score = math.NaN()
		out.Label = types.LabelUnknown
		return out
	}

	out.Score = sum / weights * 100
	out.Label = labelFromScore(out.Score)
	return out
}

func factor(v float64, f func(float64) float64) float64 {
	if math.IsNaN(v) {
		return math.NaN()
	}
	return f(v)
}

// labelFromScore maps a numeric score to a unit label.
func labelFromScore(score float64) string {
	switch {
	case score >= ThresholdGood:
		return types.LabelGood
	case score >= ThresholdMUA:
		return types.LabelMUA
	default:
		return types.LabelNoise
	}
}

// SessionState maps label counts to a session state. Units labelled
// unknown do not count towards the good fraction.
func SessionState(good, mua, noise int) (state string, goodFraction float64) {
	scored := good + mua + noise
	if scored == 0 {
		return types.StateUnknown, math.NaN()
	}
	goodFraction = float64(good) / float64(scored)
	switch {
	case goodFraction >= ThresholdPass:
		return types.StatePass, goodFraction
	case goodFraction >= ThresholdWarn:
		return types.StateWarn, goodFraction
	default:
		return types.StateFail, goodFraction
	}
}
