package api

import (
	"fmt"
	"math"
	"sort"

	"github.com/obsidianstack/spikeqc/pkg/types"
)

// Thresholds used by the hints. They track the agent's scoring: an SNR of 5
// earns full credit and an ISI violation ratio of 0.5 earns none.
const (
	lowMedianSNR      = 5.0
	isiRatioLimit     = 0.5
	noiseFractionWarn = 0.5
)

// DiagnosticHint is one human-readable finding about a session.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical".
	Level  string   `json:"level"`
	Title  string   `json:"title"`
	Detail string   `json:"detail"`
	Value  *float64 `json:"value,omitempty"`
}

var levelRank = map[string]int{"critical": 0, "warning": 1, "info": 2, "ok": 3}

// computeDiagnostics derives hints from a report, critical first.
func computeDiagnostics(r *types.QualityReport) []DiagnosticHint {
	if r.ErrorMessage != "" {
		return []DiagnosticHint{{
			Key:   "load_failed",
			Level: "critical",
			Title: "Session failed to load",
			Detail: fmt.Sprintf("The agent could not evaluate this session: %q. "+
				"Check that the recording and sorting files exist and match the configured format, "+
				"sampling frequency and channel count.", r.ErrorMessage),
		}}
	}
	if r.Summary.NumUnits == 0 {
		return []DiagnosticHint{{
			Key:   "no_units",
			Level: "warning",
			Title: "No units",
			Detail: "The sorting contains no units, so there is nothing to score. " +
				"If the sorter ran, check whether every cluster was discarded as noise or MUA.",
		}}
	}

	var hints []DiagnosticHint
	s := r.Summary

	gf := float64(s.GoodFraction)
	switch r.State {
	case types.StateFail:
		hints = append(hints, DiagnosticHint{
			Key: "good_fraction", Level: "critical", Title: "Few good units", Value: ptr(gf),
			Detail: fmt.Sprintf("Only %d of %d units (%.0f%%) were labelled good. "+
				"The sorting is unlikely to be usable without curation.", s.GoodUnits, s.NumUnits, gf*100),
		})
	case types.StateWarn:
		hints = append(hints, DiagnosticHint{
			Key: "good_fraction", Level: "warning", Title: "Some good units", Value: ptr(gf),
			Detail: fmt.Sprintf("%d of %d units (%.0f%%) were labelled good. "+
				"Review the MUA and noise units before analysis.", s.GoodUnits, s.NumUnits, gf*100),
		})
	case types.StatePass:
		hints = append(hints, DiagnosticHint{
			Key: "good_fraction", Level: "ok", Title: "Healthy sorting", Value: ptr(gf),
			Detail: fmt.Sprintf("%d of %d units (%.0f%%) were labelled good.", s.GoodUnits, s.NumUnits, gf*100),
		})
	}

	if m := float64(s.MedianSNR); !math.IsNaN(m) && m < lowMedianSNR {
		hints = append(hints, DiagnosticHint{
			Key: "median_snr", Level: "warning", Title: fmt.Sprintf("Median SNR %.1f", m), Value: ptr(m),
			Detail: fmt.Sprintf("Half of the units have a signal-to-noise ratio below %.1f. "+
				"Low SNR usually means noisy channels, a poor reference or templates built from misassigned spikes.", m),
		})
	}

	if nf := float64(s.NoiseUnits) / float64(s.NumUnits); nf >= noiseFractionWarn {
		hints = append(hints, DiagnosticHint{
			Key: "noise_units", Level: "warning", Title: "Mostly noise units", Value: ptr(nf),
			Detail: fmt.Sprintf("%d of %d units were labelled noise.", s.NoiseUnits, s.NumUnits),
		})
	}

	var isiBad, snrMissing int
	for _, u := range r.Units {
		if v := u.Metric("isi_violations_ratio"); !math.IsNaN(v) && v > isiRatioLimit {
			isiBad++
		}
		if math.IsNaN(u.Metric("snr")) {
			snrMissing++
		}
	}
	if isiBad > 0 {
		v := float64(isiBad)
		hints = append(hints, DiagnosticHint{
			Key: "isi_violations", Level: "warning", Title: fmt.Sprintf("%d contaminated units", isiBad), Value: &v,
			Detail: fmt.Sprintf("%d units fire inside the refractory period far more often than a single neuron would. "+
				"They are probably merges of several neurons.", isiBad),
		})
	}
	if snrMissing > 0 {
		v := float64(snrMissing)
		hints = append(hints, DiagnosticHint{
			Key: "snr_missing", Level: "info", Title: fmt.Sprintf("SNR missing for %d units", snrMissing), Value: &v,
			Detail: "SNR could not be computed for these units, usually because they have no spikes " +
				"or snr is not among the configured metrics.",
		})
	}

	sort.SliceStable(hints, func(i, j int) bool {
		return levelRank[hints[i].Level] < levelRank[hints[j].Level]
	})
	return hints
}

// ptr returns nil for values JSON cannot carry.
func ptr(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
