package compute

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/obsidianstack/spikeqc/pkg/types"
)

// baseTime is a fixed reference point so all test timings are deterministic.
var baseTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestEngine(opts Options) *Engine {
	e := NewEngine(opts)
	e.newID = func() string { return "report-1" }
	return e
}

func TestEngine_ProcessSyntheticSession(t *testing.T) {
	e := newTestEngine(DefaultOptions())
	out := e.Process(context.Background(), synthSession(t, 1), baseTime)

	if out.ErrorMessage != "" {
		t.Fatalf("ErrorMessage = %q", out.ErrorMessage)
	}
	if out.ReportID != "report-1" || out.SessionID != "synth-session" || out.RecordingID != "synth" {
		t.Errorf("ids = %q/%q/%q", out.ReportID, out.SessionID, out.RecordingID)
	}
	if !out.Timestamp.Equal(baseTime) {
		t.Errorf("Timestamp = %v, want %v", out.Timestamp, baseTime)
	}
	if out.DurationS != 3 || out.NumChannels != synthChannels {
		t.Errorf("duration/channels = %v/%d", out.DurationS, out.NumChannels)
	}
	if len(out.Columns) != 12 {
		t.Errorf("Columns = %v", out.Columns)
	}
	if len(out.Units) != 2 || out.Units[0].UnitID != "a" || out.Units[1].UnitID != "b" {
		t.Fatalf("Units = %+v", out.Units)
	}

	// a: strong, no ISI violations; presence, cutoff and drift are NaN on a
	// 3 s recording and drop out of the score.
	a := out.Units[0]
	if a.Label != types.LabelGood {
		t.Errorf("unit a label = %q (score %.1f, metrics %v)", a.Label, a.Score, a.Metrics)
	}
	if !math.IsNaN(a.Metrics[MetricPresenceRatio]) {
		t.Errorf("presence_ratio = %v, want NaN for a 3 s recording", a.Metrics[MetricPresenceRatio])
	}
	// b: SNR ≈ 2.5 → mua
	if b := out.Units[1]; b.Label != types.LabelMUA {
		t.Errorf("unit b label = %q (score %.1f, snr %.2f)", b.Label, b.Score, b.Metrics[MetricSNR])
	}

	if out.Summary.NumUnits != 2 || out.Summary.Good != 1 || out.Summary.MUA != 1 {
		t.Errorf("Summary = %+v", out.Summary)
	}
	if out.State != types.StatePass {
		t.Errorf("State = %q, want %q", out.State, types.StatePass)
	}
	if math.IsNaN(out.Summary.MedianSNR) || math.IsNaN(out.Score) {
		t.Errorf("median snr / score = %v / %v", out.Summary.MedianSNR, out.Score)
	}
}

func TestEngine_CachesWaveformsByFingerprint(t *testing.T) {
	e := newTestEngine(DefaultOptions())
	sess := synthSession(t, 1)
	sess.Fingerprint = "fp-1"

	e.Process(context.Background(), sess, baseTime)
	first := e.cache[sess.ID]
	if first == nil || first.waveforms == nil || first.noise == nil {
		t.Fatalf("cache entry after first run = %+v", first)
	}

	e.Process(context.Background(), sess, baseTime.Add(time.Minute))
	if e.cache[sess.ID].waveforms != first.waveforms {
		t.Error("unchanged session should reuse cached waveforms")
	}

	sess.Fingerprint = "fp-2"
	e.Process(context.Background(), sess, baseTime.Add(2*time.Minute))
	if e.cache[sess.ID].waveforms == first.waveforms {
		t.Error("changed fingerprint should recompute waveforms")
	}
	second := e.cache[sess.ID]

	opts := DefaultOptions()
	opts.Waveforms.MsAfter = 1.5
	e.SetOptions(opts)
	e.Process(context.Background(), sess, baseTime.Add(3*time.Minute))
	if e.cache[sess.ID].waveforms == second.waveforms {
		t.Error("changed waveform options should recompute waveforms")
	}

	e.Forget(sess.ID)
	if _, ok := e.cache[sess.ID]; ok {
		t.Error("Forget left the entry behind")
	}
}

func TestEngine_NoFingerprintNoCache(t *testing.T) {
	e := newTestEngine(DefaultOptions())
	e.Process(context.Background(), synthSession(t, 1), baseTime)
	if len(e.cache) != 0 {
		t.Errorf("cache has %d entries, want 0", len(e.cache))
	}
}

func TestEngine_SpikeTrainMetricsOnly(t *testing.T) {
	opts := DefaultOptions()
	opts.Metrics = []string{MetricNumSpikes, MetricISIViolation}
	e := newTestEngine(opts)
	sess := synthSession(t, 1)
	sess.Fingerprint = "fp"

	out := e.Process(context.Background(), sess, baseTime)
	if out.ErrorMessage != "" {
		t.Fatalf("ErrorMessage = %q", out.ErrorMessage)
	}
	if len(out.Columns) != 3 {
		t.Errorf("Columns = %v", out.Columns)
	}
	// only the ISI factor is present and neither unit violates
	for _, u := range out.Units {
		if u.Label != types.LabelGood || u.Score != 100 {
			t.Errorf("unit %s = %s/%.1f, want good/100", u.UnitID, u.Label, u.Score)
		}
	}
	if !math.IsNaN(out.Summary.MedianSNR) {
		t.Errorf("MedianSNR = %v, want NaN without snr", out.Summary.MedianSNR)
	}
	if len(e.cache) != 0 {
		t.Error("no waveforms were needed, nothing should be cached")
	}
}

func TestEngine_UnknownMetricFails(t *testing.T) {
	opts := DefaultOptions()
	opts.Metrics = []string{"silhouette"}
	out := newTestEngine(opts).Process(context.Background(), synthSession(t, 1), baseTime)
	if out.State != types.StateUnknown {
		t.Errorf("State = %q, want unknown", out.State)
	}
	if !strings.Contains(out.ErrorMessage, "unknown metric") {
		t.Errorf("ErrorMessage = %q", out.ErrorMessage)
	}
}

func TestEngine_InvalidSessionFails(t *testing.T) {
	sess := synthSession(t, 1)
	sess.Sorting.Segments[0]["a"] = append(sess.Sorting.Segments[0]["a"], synthSamples+5)
	out := newTestEngine(DefaultOptions()).Process(context.Background(), sess, baseTime)
	if out.State != types.StateUnknown || out.ErrorMessage == "" {
		t.Errorf("State/ErrorMessage = %q/%q", out.State, out.ErrorMessage)
	}
}

func TestEngine_Failed(t *testing.T) {
	out := newTestEngine(DefaultOptions()).Failed("s1", errors.New("loader: open: no such file"), baseTime)
	if out.State != types.StateUnknown || out.SessionID != "s1" || out.ReportID != "report-1" {
		t.Errorf("Failed = %+v", out)
	}
	if !math.IsNaN(out.Score) {
		t.Errorf("Score = %v, want NaN", out.Score)
	}
}

func TestEngine_UnitsWithoutWaveforms(t *testing.T) {
	sess := synthSession(t, 1)
	// "silent" never fires; every spike of "edge" sits too close to a
	// segment border for a waveform window.
	sess.Sorting.UnitIDs = append(sess.Sorting.UnitIDs, "silent", "edge")
	sess.Sorting.Segments[0]["edge"] = []int64{3, synthSamples - 3}

	opts := DefaultOptions()
	opts.Params.AmplitudeCutoff.AmplitudesBinsMinRatio = 0
	out := newTestEngine(opts).Process(context.Background(), sess, baseTime)
	if out.ErrorMessage != "" {
		t.Fatalf("ErrorMessage = %q", out.ErrorMessage)
	}
	if len(out.Units) != 4 {
		t.Fatalf("Units = %+v", out.Units)
	}

	for _, u := range out.Units[2:] {
		if snr := u.Metrics[MetricSNR]; snr != 0 {
			t.Errorf("unit %s: snr = %v, want 0 for an all-zero template", u.UnitID, snr)
		}
		if v := u.Metrics[MetricAmplitudeCutoff]; !math.IsNaN(v) {
			t.Errorf("unit %s: amplitude_cutoff = %v, want NaN", u.UnitID, v)
		}
		if v := u.Metrics[MetricAmplitudeMedian]; !math.IsNaN(v) {
			t.Errorf("unit %s: amplitude_median = %v, want NaN", u.UnitID, v)
		}
		if u.Label != types.LabelNoise {
			t.Errorf("unit %s: label = %q (score %.1f), want noise", u.UnitID, u.Label, u.Score)
		}
	}
	if !math.IsNaN(out.Units[2].Metrics[ColISIViolationsRatio]) {
		t.Errorf("silent isi ratio = %v, want NaN", out.Units[2].Metrics[ColISIViolationsRatio])
	}
	// the real units still get a cutoff once the ratio guard is off
	if v := out.Units[0].Metrics[MetricAmplitudeCutoff]; math.IsNaN(v) {
		t.Error("unit a amplitude_cutoff is NaN")
	}

	if out.Summary.Good != 1 || out.Summary.Noise != 2 {
		t.Errorf("Summary = %+v", out.Summary)
	}
	if out.State != types.StateWarn {
		t.Errorf("State = %q, want %q", out.State, types.StateWarn)
	}
}
