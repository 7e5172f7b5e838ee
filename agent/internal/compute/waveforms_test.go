package compute

import (
	"errors"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/obsidianstack/spikeqc/agent/internal/ephys"
)

// rampRecording has one channel whose sample value equals its frame index.
func rampRecording(n int) *ephys.Recording {
	data := make([]float64, n)
	for i := range data {
		data[i] = float64(i)
	}
	return &ephys.Recording{
		SamplingFrequency: 1000,
		ChannelIDs:        []string{"c0"},
		Segments:          []*ephys.Segment{ephys.NewSegment(n, 1, data)},
	}
}

func TestExtractWaveforms_SkipsBorderSpikes(t *testing.T) {
	rec := rampRecording(100)
	s := &ephys.Sorting{
		SamplingFrequency: 1000,
		UnitIDs:           []string{"u"},
		Segments:          []map[string][]int64{{"u": {0, 1, 50, 98, 99}}},
	}
	// 1 ms before, 2 ms after at 1 kHz → window [t-1, t+2)
	w, err := ExtractWaveforms(ctxBG, rec, s, WaveformOptions{MsBefore: 1, MsAfter: 2}, false)
	if err != nil {
		t.Fatalf("ExtractWaveforms: %v", err)
	}
	if w.NBefore != 1 || w.NAfter != 2 {
		t.Fatalf("nbefore/nafter = %d/%d, want 1/2", w.NBefore, w.NAfter)
	}
	got := w.ByUnit["u"]
	// t=0 starts before the segment, t=99 ends after it
	if len(got) != 3 {
		t.Fatalf("kept %d snippets, want 3", len(got))
	}
	if got[1].At(0, 0) != 49 || got[1].At(2, 0) != 51 {
		t.Errorf("snippet around 50 = %v", mat.Col(nil, 0, got[1]))
	}
}

func TestExtractWaveforms_MaxSpikesPerUnit(t *testing.T) {
	rec := rampRecording(1000)
	var train []int64
	for i := int64(10); i < 990; i += 10 {
		train = append(train, i)
	}
	s := &ephys.Sorting{
		SamplingFrequency: 1000,
		UnitIDs:           []string{"u"},
		Segments:          []map[string][]int64{{"u": train}},
	}
	opts := WaveformOptions{MsBefore: 1, MsAfter: 2, MaxSpikesPerUnit: 7, Seed: 3}
	a, err := ExtractWaveforms(ctxBG, rec, s, opts, false)
	if err != nil {
		t.Fatal(err)
	}
	b, err := ExtractWaveforms(ctxBG, rec, s, opts, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(a.ByUnit["u"]) != 7 {
		t.Fatalf("kept %d snippets, want 7", len(a.ByUnit["u"]))
	}
	for k := range a.Spikes["u"] {
		if a.Spikes["u"][k] != b.Spikes["u"][k] {
			t.Fatal("same seed picked different spikes")
		}
		if k > 0 && a.Spikes["u"][k].Index <= a.Spikes["u"][k-1].Index {
			t.Error("picked spikes are not in train order")
		}
	}
}

func TestExtractWaveforms_EmptyWindow(t *testing.T) {
	rec := rampRecording(10)
	s := &ephys.Sorting{SamplingFrequency: 1000, Segments: []map[string][]int64{{}}}
	if _, err := ExtractWaveforms(ctxBG, rec, s, WaveformOptions{}, false); err == nil {
		t.Error("expected error for an empty window")
	}
}

func TestEstimateTemplates_AverageAndMedian(t *testing.T) {
	w := &Waveforms{
		NBefore:    1,
		NAfter:     1,
		ChannelIDs: []string{"c0"},
		ByUnit: map[string][]*mat.Dense{
			"u": {
				mat.NewDense(2, 1, []float64{0, -3}),
				mat.NewDense(2, 1, []float64{0, -6}),
				mat.NewDense(2, 1, []float64{3, -30}),
			},
		},
	}
	avg, err := EstimateTemplates(w, []string{"u", "silent"}, TemplateAverage)
	if err != nil {
		t.Fatal(err)
	}
	if got := avg.Template("u"); got.At(0, 0) != 1 || got.At(1, 0) != -13 {
		t.Errorf("average template = %v", mat.Col(nil, 0, got))
	}
	if got := avg.Template("silent"); got.At(0, 0) != 0 || got.At(1, 0) != 0 {
		t.Errorf("silent unit template should be zero, got %v", mat.Col(nil, 0, got))
	}
	if err := avg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}

	med, err := EstimateTemplates(w, []string{"u"}, TemplateMedian)
	if err != nil {
		t.Fatal(err)
	}
	if got := med.Template("u"); got.At(0, 0) != 0 || got.At(1, 0) != -6 {
		t.Errorf("median template = %v", mat.Col(nil, 0, got))
	}

	if _, err := EstimateTemplates(w, []string{"u"}, "mode"); !errors.Is(err, ErrInvalidTemplateMode) {
		t.Errorf("err = %v, want ErrInvalidTemplateMode", err)
	}
}

func TestExtremumPeakShifts(t *testing.T) {
	tmpl := &ephys.Templates{
		UnitIDs:    []string{"u"},
		ChannelIDs: []string{"c0", "c1"},
		NBefore:    2,
		Arrays: []*mat.Dense{mat.NewDense(5, 2, []float64{
			0, 0,
			0, 0,
			-1, 0,
			-2, 4,
			0, -9,
		})},
	}
	neg, err := ExtremumPeakShifts(tmpl, ephys.PeakNeg)
	if err != nil {
		t.Fatal(err)
	}
	// best neg channel is c1 with its minimum at frame 4
	if neg["u"] != 2 {
		t.Errorf("neg shift = %d, want 2", neg["u"])
	}
	pos, err := ExtremumPeakShifts(tmpl, ephys.PeakPos)
	if err != nil {
		t.Fatal(err)
	}
	if pos["u"] != 1 {
		t.Errorf("pos shift = %d, want 1", pos["u"])
	}
}

func TestTemplateAmplitudes(t *testing.T) {
	tmpl := &ephys.Templates{
		UnitIDs:    []string{"u"},
		ChannelIDs: []string{"c0", "c1"},
		NBefore:    1,
		Arrays:     []*mat.Dense{smallTemplate()},
	}
	amps, err := TemplateAmplitudes(tmpl, ephys.PeakBoth, ephys.ModeExtremum)
	if err != nil {
		t.Fatal(err)
	}
	if amps["u"][0] != 4 || amps["u"][1] != 8 {
		t.Errorf("amplitudes = %v, want [4 8]", amps["u"])
	}
	ext, err := ExtremumAmplitudes(tmpl, ephys.PeakNeg, ephys.ModeExtremum)
	if err != nil {
		t.Fatal(err)
	}
	if ext["u"] != 8 {
		t.Errorf("extremum amplitude = %v, want 8", ext["u"])
	}
}
