package compute

import (
	"math"
	"math/rand"
	"testing"

	"github.com/obsidianstack/spikeqc/agent/internal/ephys"
)

// almostEqual returns true if a and b are within epsilon of each other.
func almostEqual(a, b, epsilon float64) bool {
	return math.Abs(a-b) < epsilon
}

const (
	synthFS       = 10000.0
	synthSamples  = 30000
	synthChannels = 4
)

// synthTrains returns the spike trains of the synthetic session: unit "a"
// fires every 15 ms, unit "b" every 30 ms.
func synthTrains() (a, b []int64) {
	for t := int64(100); t < synthSamples-100; t += 150 {
		a = append(a, t)
	}
	for t := int64(175); t < synthSamples-100; t += 300 {
		b = append(b, t)
	}
	return a, b
}

// synthSession builds a 3 s, 4-channel recording of Gaussian noise (σ=2) with
// a large unit "a" on channel 2 and a small unit "b" on channel 0. Every
// channel gain is set to gain.
func synthSession(t *testing.T, gain float64) *Session {
	t.Helper()
	rng := rand.New(rand.NewSource(42))
	data := make([]float64, synthSamples*synthChannels)
	for i := range data {
		data[i] = rng.NormFloat64() * 2
	}

	a, b := synthTrains()
	inject := func(train []int64, ch int, amp float64) {
		for _, s := range train {
			f := int(s)
			data[f*synthChannels+ch] -= amp
			data[(f-1)*synthChannels+ch] -= amp / 2
			data[(f+1)*synthChannels+ch] -= amp / 2
		}
	}
	inject(a, 2, 40)
	inject(b, 0, 5)

	gains := make([]float64, synthChannels)
	for i := range gains {
		gains[i] = gain
	}
	rec := &ephys.Recording{
		ID:                "synth",
		SamplingFrequency: synthFS,
		ChannelIDs:        []string{"c0", "c1", "c2", "c3"},
		Gains:             gains,
		Segments:          []*ephys.Segment{ephys.NewSegment(synthSamples, synthChannels, data)},
	}
	sorting := &ephys.Sorting{
		SamplingFrequency: synthFS,
		UnitIDs:           []string{"a", "b"},
		Segments:          []map[string][]int64{{"a": a, "b": b}},
	}
	if err := sorting.ValidateAgainst(rec); err != nil {
		t.Fatalf("synthetic sorting invalid: %v", err)
	}
	return &Session{ID: "synth-session", Recording: rec, Sorting: sorting}
}

// synthAnalyzer extracts waveforms and templates for the synthetic session.
func synthAnalyzer(t *testing.T, gain float64) *Analyzer {
	t.Helper()
	sess := synthSession(t, gain)
	wf, err := ExtractWaveforms(ctxBG, sess.Recording, sess.Sorting, DefaultWaveformOptions(), sess.Recording.Scaled())
	if err != nil {
		t.Fatalf("ExtractWaveforms: %v", err)
	}
	tmpl, err := EstimateTemplates(wf, sess.Sorting.UnitIDs, TemplateAverage)
	if err != nil {
		t.Fatalf("EstimateTemplates: %v", err)
	}
	return &Analyzer{
		Recording:    sess.Recording,
		Sorting:      sess.Sorting,
		Templates:    tmpl,
		Waveforms:    wf,
		NoiseOptions: DefaultNoiseOptions(),
	}
}

// trainRecording returns a single-segment recording with no traces attached
// beyond its length, for spike-train metrics.
func trainRecording(fs float64, segLens ...int) *ephys.Recording {
	rec := &ephys.Recording{SamplingFrequency: fs, ChannelIDs: []string{"c0"}}
	for _, n := range segLens {
		rec.Segments = append(rec.Segments, ephys.NewSegment(n, 1, nil))
	}
	return rec
}
