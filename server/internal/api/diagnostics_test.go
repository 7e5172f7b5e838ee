package api

import (
	"math"
	"testing"

	"github.com/obsidianstack/spikeqc/pkg/types"
)

func keys(hints []DiagnosticHint) []string {
	out := make([]string, len(hints))
	for i, h := range hints {
		out[i] = h.Key
	}
	return out
}

func TestComputeDiagnostics(t *testing.T) {
	unit := func(snr, isi float64) types.UnitQuality {
		return types.UnitQuality{UnitID: "u", Metrics: map[string]types.Value{
			"snr": types.Value(snr), "isi_violations_ratio": types.Value(isi),
		}}
	}

	tests := []struct {
		name     string
		rep      *types.QualityReport
		wantKeys []string
	}{
		{
			name:     "load failure short-circuits",
			rep:      &types.QualityReport{ErrorMessage: "open s1.dat: no such file", State: types.StateUnknown},
			wantKeys: []string{"load_failed"},
		},
		{
			name:     "no units",
			rep:      &types.QualityReport{State: types.StateUnknown},
			wantKeys: []string{"no_units"},
		},
		{
			name: "healthy",
			rep: &types.QualityReport{
				State:   types.StatePass,
				Units:   []types.UnitQuality{unit(9, 0), unit(12, 0.1)},
				Summary: types.ReportSummary{NumUnits: 2, GoodUnits: 2, GoodFraction: 1, MedianSNR: 10.5},
			},
			wantKeys: []string{"good_fraction"},
		},
		{
			name: "failing with noisy contaminated units",
			rep: &types.QualityReport{
				State:   types.StateFail,
				Units:   []types.UnitQuality{unit(2, 0.9), unit(math.NaN(), 0)},
				Summary: types.ReportSummary{NumUnits: 2, NoiseUnits: 2, GoodFraction: 0, MedianSNR: 2},
			},
			wantKeys: []string{"good_fraction", "median_snr", "noise_units", "isi_violations", "snr_missing"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := keys(computeDiagnostics(tt.rep))
			if len(got) != len(tt.wantKeys) {
				t.Fatalf("keys: got %v, want %v", got, tt.wantKeys)
			}
			for i := range got {
				if got[i] != tt.wantKeys[i] {
					t.Errorf("keys: got %v, want %v", got, tt.wantKeys)
					break
				}
			}
		})
	}
}

func TestComputeDiagnostics_CriticalFirst(t *testing.T) {
	hints := computeDiagnostics(&types.QualityReport{
		State:   types.StateFail,
		Units:   []types.UnitQuality{{UnitID: "1", Metrics: map[string]types.Value{}}},
		Summary: types.ReportSummary{NumUnits: 1, GoodFraction: 0, MedianSNR: types.Value(math.NaN())},
	})
	if hints[0].Level != "critical" {
		t.Errorf("first hint level: got %q", hints[0].Level)
	}
	if hints[len(hints)-1].Level != "info" {
		t.Errorf("last hint level: got %q", hints[len(hints)-1].Level)
	}
}
