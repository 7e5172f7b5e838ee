package ephys

import (
	"errors"
	"testing"
)

func twoChannelRecording() *Recording {
	return &Recording{
		ID:                "rec",
		SamplingFrequency: 1000,
		ChannelIDs:        []string{"a", "b"},
		Gains:             []float64{2, 0.5},
		Offsets:           []float64{1, 0},
		Segments: []*Segment{
			NewSegment(4, 2, []float64{
				1, 10,
				2, 20,
				3, 30,
				4, 40,
			}),
			NewSegment(2, 2, []float64{5, 50, 6, 60}),
		},
	}
}

func TestRecording_Durations(t *testing.T) {
	rec := twoChannelRecording()
	if err := rec.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := rec.TotalSamples(); got != 6 {
		t.Errorf("TotalSamples = %d, want 6", got)
	}
	if got := rec.TotalDuration(); got != 0.006 {
		t.Errorf("TotalDuration = %v, want 0.006", got)
	}
	if got := rec.ChannelIndex("b"); got != 1 {
		t.Errorf("ChannelIndex(b) = %d, want 1", got)
	}
	if got := rec.ChannelIndex("zz"); got != -1 {
		t.Errorf("ChannelIndex(zz) = %d, want -1", got)
	}
}

func TestRecording_TracesScaled(t *testing.T) {
	rec := twoChannelRecording()

	raw, err := rec.Traces(0, 1, 3, false)
	if err != nil {
		t.Fatalf("Traces raw: %v", err)
	}
	if raw.At(0, 0) != 2 || raw.At(1, 1) != 30 {
		t.Errorf("raw window wrong: %v", raw.RawMatrix().Data)
	}

	scaled, err := rec.Traces(0, 1, 3, true)
	if err != nil {
		t.Fatalf("Traces scaled: %v", err)
	}
	// a: 2*2+1 = 5, b: 30*0.5 = 15
	if scaled.At(0, 0) != 5 || scaled.At(1, 1) != 15 {
		t.Errorf("scaled window wrong: %v", scaled.RawMatrix().Data)
	}

	// the copy must not alias the segment
	again, err := rec.Traces(0, 1, 2, false)
	if err != nil {
		t.Fatal(err)
	}
	if again.At(0, 0) != 2 {
		t.Error("scaling modified the underlying segment")
	}
}

func TestRecording_TracesOutOfRange(t *testing.T) {
	rec := twoChannelRecording()
	for _, tc := range []struct{ seg, start, end int }{
		{0, -1, 2}, {0, 2, 5}, {0, 3, 3}, {2, 0, 1},
	} {
		if _, err := rec.Traces(tc.seg, tc.start, tc.end, false); !errors.Is(err, ErrFrameRange) {
			t.Errorf("Traces(%d,%d,%d) err = %v, want ErrFrameRange", tc.seg, tc.start, tc.end, err)
		}
	}
}

func TestRecording_ValidateDuplicateChannel(t *testing.T) {
	rec := twoChannelRecording()
	rec.ChannelIDs = []string{"a", "a"}
	if err := rec.Validate(); err == nil {
		t.Fatal("expected duplicate channel error")
	}
}

func TestSorting_ValidateAgainst(t *testing.T) {
	rec := twoChannelRecording()
	s := &Sorting{
		SamplingFrequency: 1000,
		UnitIDs:           []string{"u1", "u2"},
		Segments: []map[string][]int64{
			{"u1": {0, 3}, "u2": {1}},
			{"u1": {1}},
		},
	}
	if err := s.ValidateAgainst(rec); err != nil {
		t.Fatalf("ValidateAgainst: %v", err)
	}

	s.Segments[1]["u1"] = []int64{2}
	if err := s.ValidateAgainst(rec); err == nil {
		t.Error("expected error for spike beyond segment end")
	}

	s.Segments[1]["u1"] = []int64{1}
	s.Segments[0]["u3"] = []int64{1}
	if err := s.Validate(); err == nil {
		t.Error("expected error for undeclared unit")
	}
}

func TestSorting_SortTrains(t *testing.T) {
	s := &Sorting{
		SamplingFrequency: 1,
		UnitIDs:           []string{"u"},
		Segments:          []map[string][]int64{{"u": {5, 1, 3}}},
	}
	s.SortTrains()
	got := s.SpikeTrain("u", 0)
	if got[0] != 1 || got[1] != 3 || got[2] != 5 {
		t.Errorf("SortTrains = %v", got)
	}
	if s.SpikeTrain("u", 4) != nil {
		t.Error("SpikeTrain on missing segment should be nil")
	}
}

func TestParsePeak(t *testing.T) {
	if s, err := ParsePeakSign(""); err != nil || s != PeakNeg {
		t.Errorf("ParsePeakSign(\"\") = %q, %v", s, err)
	}
	if _, err := ParsePeakSign("up"); !errors.Is(err, ErrInvalidPeakSign) {
		t.Errorf("ParsePeakSign(up) err = %v", err)
	}
	if m, err := ParsePeakMode("at_index"); err != nil || m != ModeAtIndex {
		t.Errorf("ParsePeakMode(at_index) = %q, %v", m, err)
	}
	if _, err := ParsePeakMode("peak"); !errors.Is(err, ErrInvalidPeakMode) {
		t.Errorf("ParsePeakMode(peak) err = %v", err)
	}
}

func TestLocation_Coord(t *testing.T) {
	l := Location{X: 1, Y: 2, Z: 3}
	if v, ok := l.Coord("y"); !ok || v != 2 {
		t.Errorf("Coord(y) = %v, %v", v, ok)
	}
	if _, ok := l.Coord("w"); ok {
		t.Error("Coord(w) should fail")
	}
}

// rampSource yields sample value frame*10 + channel.
type rampSource struct {
	channels int
	reads    int
}

func (s *rampSource) ReadFrames(start, end int, dst []float64) error {
	s.reads++
	for f := start; f < end; f++ {
		for ch := 0; ch < s.channels; ch++ {
			dst[(f-start)*s.channels+ch] = float64(f*10 + ch)
		}
	}
	return nil
}

func TestRecording_SourceSegment(t *testing.T) {
	src := &rampSource{channels: 2}
	rec := &Recording{
		ID:                "disk",
		SamplingFrequency: 1000,
		ChannelIDs:        []string{"a", "b"},
		Gains:             []float64{2, 1},
		Offsets:           []float64{0, 0},
		Segments:          []*Segment{NewSourceSegment(100, 2, src)},
	}
	if err := rec.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if rec.NumSamples(0) != 100 || src.reads != 0 {
		t.Fatalf("NumSamples = %d, reads = %d", rec.NumSamples(0), src.reads)
	}

	tr, err := rec.Traces(0, 40, 42, true)
	if err != nil {
		t.Fatalf("Traces: %v", err)
	}
	// frame 40 ch a: 400*2, frame 41 ch b: 411
	if tr.At(0, 0) != 800 || tr.At(1, 1) != 411 {
		t.Errorf("window = %v", tr.RawMatrix().Data)
	}
	if src.reads != 1 {
		t.Errorf("reads = %d, want 1", src.reads)
	}
	if _, err := rec.Traces(0, 99, 101, false); !errors.Is(err, ErrFrameRange) {
		t.Errorf("err = %v, want ErrFrameRange", err)
	}
}

type failingSource struct{}

func (failingSource) ReadFrames(int, int, []float64) error { return errors.New("disk gone") }

func TestRecording_SourceSegmentError(t *testing.T) {
	rec := &Recording{
		SamplingFrequency: 1000,
		ChannelIDs:        []string{"a"},
		Segments:          []*Segment{NewSourceSegment(10, 1, failingSource{})},
	}
	if _, err := rec.Traces(0, 0, 5, false); err == nil {
		t.Error("expected read error")
	}
}
