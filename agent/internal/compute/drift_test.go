package compute

import (
	"math"
	"testing"

	"github.com/obsidianstack/spikeqc/agent/internal/ephys"
)

// driftAnalyzer: 6 s at 100 Hz, unit "steady" fires every 10 frames and its
// y position equals the index of the 1 s bin it falls in. Unit "early" only
// fires during the first two seconds.
func driftAnalyzer() *Analyzer {
	rec := trainRecording(100, 600)
	var steady, early []int64
	var steadyLoc, earlyLoc []ephys.Location
	for f := int64(0); f < 600; f += 10 {
		steady = append(steady, f)
		steadyLoc = append(steadyLoc, ephys.Location{Y: float64(f / 100)})
		if f < 200 {
			early = append(early, f)
			earlyLoc = append(earlyLoc, ephys.Location{Y: 1})
		}
	}
	return &Analyzer{
		Recording: rec,
		Sorting: &ephys.Sorting{
			SamplingFrequency: 100,
			UnitIDs:           []string{"steady", "early"},
			Segments:          []map[string][]int64{{"steady": steady, "early": early}},
		},
		Locations: ephys.SpikeLocations{{"steady": steadyLoc, "early": earlyLoc}},
	}
}

func driftOptions() DriftOptions {
	return DriftOptions{
		IntervalS:                 1,
		MinSpikesPerInterval:      5,
		Direction:                 "y",
		MinFractionValidIntervals: 0.5,
		MinNumBins:                2,
	}
}

func TestDriftMetrics(t *testing.T) {
	maxD, cumD, err := DriftMetrics(driftAnalyzer(), driftOptions())
	if err != nil {
		t.Fatalf("DriftMetrics: %v", err)
	}
	// reference median 2.5 → deviations -2.5 -1.5 -0.5 0.5 1.5 2.5
	if !almostEqual(maxD["steady"], 5, 1e-12) {
		t.Errorf("maximum_drift = %v, want 5", maxD["steady"])
	}
	if !almostEqual(cumD["steady"], 9, 1e-12) {
		t.Errorf("cumulative_drift = %v, want 9", cumD["steady"])
	}
	// 4 of 6 bins empty
	if !math.IsNaN(maxD["early"]) || !math.IsNaN(cumD["early"]) {
		t.Errorf("early unit = %v/%v, want NaN", maxD["early"], cumD["early"])
	}
}

func TestDriftMetrics_ToleratesFewInvalidBins(t *testing.T) {
	opts := driftOptions()
	opts.MinFractionValidIntervals = 0.7
	maxD, _, err := DriftMetrics(driftAnalyzer(), opts)
	if err != nil {
		t.Fatal(err)
	}
	// early: two valid bins, both at its reference → no drift
	if maxD["early"] != 0 {
		t.Errorf("maximum_drift = %v, want 0", maxD["early"])
	}
}

func TestDriftMetrics_NaNCases(t *testing.T) {
	a := driftAnalyzer()
	a.Locations = nil
	maxD, _, err := DriftMetrics(a, driftOptions())
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsNaN(maxD["steady"]) {
		t.Errorf("without locations maximum_drift = %v, want NaN", maxD["steady"])
	}

	opts := driftOptions()
	opts.MinNumBins = 10
	maxD, _, err = DriftMetrics(driftAnalyzer(), opts)
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsNaN(maxD["steady"]) {
		t.Errorf("short recording maximum_drift = %v, want NaN", maxD["steady"])
	}
}

func TestDriftMetrics_Errors(t *testing.T) {
	opts := driftOptions()
	opts.Direction = "w"
	if _, _, err := DriftMetrics(driftAnalyzer(), opts); err == nil {
		t.Error("expected error for direction w")
	}

	a := driftAnalyzer()
	a.Locations[0]["steady"] = a.Locations[0]["steady"][:3]
	if _, _, err := DriftMetrics(a, driftOptions()); err == nil {
		t.Error("expected error for location/spike count mismatch")
	}
}
