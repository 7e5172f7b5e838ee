package shipper

import (
	"github.com/obsidianstack/spikeqc/agent/internal/compute"
	"github.com/obsidianstack/spikeqc/pkg/types"
)

// toReport converts a compute.Result into the wire report sent to
// spikeqc-server. Only the columns computed for the session are carried in
// each unit's metric map.
func toReport(r *compute.Result) *types.QualityReport {
	rep := &types.QualityReport{
		ReportID:          r.ReportID,
		SessionID:         r.SessionID,
		RecordingID:       r.RecordingID,
		GeneratedAtUnix:   r.Timestamp.Unix(),
		State:             r.State,
		Score:             types.Value(r.Score),
		DurationS:         r.DurationS,
		SamplingFrequency: r.SamplingFrequency,
		NumChannels:       r.NumChannels,
		ErrorMessage:      r.ErrorMessage,
		Summary: types.ReportSummary{
			NumUnits:     r.Summary.NumUnits,
			GoodUnits:    r.Summary.Good,
			MUAUnits:     r.Summary.MUA,
			NoiseUnits:   r.Summary.Noise,
			UnknownUnits: r.Summary.Unknown,
			GoodFraction: types.Value(r.Summary.GoodFraction),
			MedianSNR:    types.Value(r.Summary.MedianSNR),
		},
	}

	for _, u := range r.Units {
		m := make(map[string]types.Value, len(r.Columns))
		for _, col := range r.Columns {
			if v, ok := u.Metrics[col]; ok {
				m[col] = types.Value(v)
			}
		}
		rep.Units = append(rep.Units, types.UnitQuality{
			UnitID:  u.UnitID,
			Group:   u.Group,
			Label:   u.Label,
			Score:   types.Value(u.Score),
			Metrics: m,
		})
	}
	return rep
}
