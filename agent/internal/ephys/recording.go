package ephys

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ErrFrameRange is returned when a requested frame window falls outside a segment.
var ErrFrameRange = errors.New("ephys: frame range out of bounds")

// Recording is a multi-channel, multi-segment extracellular recording.
type Recording struct {
	ID                string
	SamplingFrequency float64
	ChannelIDs        []string

	// Gains and Offsets convert raw samples to microvolts per channel:
	// scaled = raw*gain + offset. Nil means gain 1 and offset 0.
	Gains   []float64
	Offsets []float64

	Segments []*Segment
}

// FrameSource reads raw frames from outside memory, typically a file.
type FrameSource interface {
	// ReadFrames fills dst, row-major (end-start) × channels, with frames
	// [start, end).
	ReadFrames(start, end int, dst []float64) error
}

// Segment holds one contiguous block of raw traces, samples × channels,
// either in memory or behind a FrameSource.
type Segment struct {
	numSamples  int
	numChannels int
	traces      *mat.Dense
	src         FrameSource
}

// NewSegment wraps row-major samples × channels data.
func NewSegment(numSamples, numChannels int, data []float64) *Segment {
	return &Segment{
		numSamples:  numSamples,
		numChannels: numChannels,
		traces:      mat.NewDense(numSamples, numChannels, data),
	}
}

// NewSourceSegment returns a segment whose frames are read from src on
// demand; nothing is held in memory.
func NewSourceSegment(numSamples, numChannels int, src FrameSource) *Segment {
	return &Segment{numSamples: numSamples, numChannels: numChannels, src: src}
}

// Dims returns the frame and channel counts.
func (s *Segment) Dims() (samples, channels int) { return s.numSamples, s.numChannels }

// frames returns a copy of frames [start, end).
func (s *Segment) frames(start, end int) (*mat.Dense, error) {
	if s.traces != nil {
		return mat.DenseCopyOf(s.traces.Slice(start, end, 0, s.numChannels)), nil
	}
	data := make([]float64, (end-start)*s.numChannels)
	if err := s.src.ReadFrames(start, end, data); err != nil {
		return nil, fmt.Errorf("ephys: read frames [%d, %d): %w", start, end, err)
	}
	return mat.NewDense(end-start, s.numChannels, data), nil
}

// NumChannels returns the channel count.
func (r *Recording) NumChannels() int { return len(r.ChannelIDs) }

// NumSegments returns the segment count.
func (r *Recording) NumSegments() int { return len(r.Segments) }

// NumSamples returns the number of frames in segment seg.
func (r *Recording) NumSamples(seg int) int {
	n, _ := r.Segments[seg].Dims()
	return n
}

// TotalSamples returns the frame count summed over all segments.
func (r *Recording) TotalSamples() int {
	var total int
	for i := range r.Segments {
		total += r.NumSamples(i)
	}
	return total
}

// TotalDuration returns the recording length in seconds across all segments.
func (r *Recording) TotalDuration() float64 {
	return float64(r.TotalSamples()) / r.SamplingFrequency
}

// ChannelIndex returns the column of channel id, or -1.
func (r *Recording) ChannelIndex(id string) int {
	for i, c := range r.ChannelIDs {
		if c == id {
			return i
		}
	}
	return -1
}

// Gain returns the scaling gain of channel ch.
func (r *Recording) Gain(ch int) float64 {
	if r.Gains == nil {
		return 1
	}
	return r.Gains[ch]
}

// Offset returns the scaling offset of channel ch.
func (r *Recording) Offset(ch int) float64 {
	if r.Offsets == nil {
		return 0
	}
	return r.Offsets[ch]
}

// Scaled reports whether the recording carries a non-identity scaling.
func (r *Recording) Scaled() bool {
	for ch := range r.ChannelIDs {
		if r.Gain(ch) != 1 || r.Offset(ch) != 0 {
			return true
		}
	}
	return false
}

// Traces returns a copy of frames [start, end) of segment seg. When scaled is
// true every sample is converted with the channel gain and offset.
func (r *Recording) Traces(seg, start, end int, scaled bool) (*mat.Dense, error) {
	if seg < 0 || seg >= len(r.Segments) {
		return nil, fmt.Errorf("%w: segment %d of %d", ErrFrameRange, seg, len(r.Segments))
	}
	n := r.NumSamples(seg)
	if start < 0 || end > n || start >= end {
		return nil, fmt.Errorf("%w: [%d, %d) in segment %d with %d frames", ErrFrameRange, start, end, seg, n)
	}
	out, err := r.Segments[seg].frames(start, end)
	if err != nil {
		return nil, err
	}
	if scaled {
		r.scaleInPlace(out)
	}
	return out, nil
}

func (r *Recording) scaleInPlace(m *mat.Dense) {
	if r.Gains == nil && r.Offsets == nil {
		return
	}
	rows, _ := m.Dims()
	for i := 0; i < rows; i++ {
		row := m.RawRowView(i)
		for ch := range row {
			row[ch] = row[ch]*r.Gain(ch) + r.Offset(ch)
		}
	}
}

// Validate checks structural invariants.
func (r *Recording) Validate() error {
	if r.SamplingFrequency <= 0 {
		return fmt.Errorf("ephys: recording %q: sampling frequency must be positive", r.ID)
	}
	if len(r.ChannelIDs) == 0 {
		return fmt.Errorf("ephys: recording %q: no channels", r.ID)
	}
	seen := make(map[string]struct{}, len(r.ChannelIDs))
	for _, id := range r.ChannelIDs {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("ephys: recording %q: duplicate channel id %q", r.ID, id)
		}
		seen[id] = struct{}{}
	}
	if r.Gains != nil && len(r.Gains) != len(r.ChannelIDs) {
		return fmt.Errorf("ephys: recording %q: %d gains for %d channels", r.ID, len(r.Gains), len(r.ChannelIDs))
	}
	if r.Offsets != nil && len(r.Offsets) != len(r.ChannelIDs) {
		return fmt.Errorf("ephys: recording %q: %d offsets for %d channels", r.ID, len(r.Offsets), len(r.ChannelIDs))
	}
	if len(r.Segments) == 0 {
		return fmt.Errorf("ephys: recording %q: no segments", r.ID)
	}
	for i, s := range r.Segments {
		if s == nil || (s.traces == nil && s.src == nil) || s.numSamples <= 0 {
			return fmt.Errorf("ephys: recording %q: segment %d is empty", r.ID, i)
		}
		if _, c := s.Dims(); c != len(r.ChannelIDs) {
			return fmt.Errorf("ephys: recording %q: segment %d has %d channels, want %d", r.ID, i, c, len(r.ChannelIDs))
		}
	}
	return nil
}
