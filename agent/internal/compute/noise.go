package compute

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/obsidianstack/spikeqc/agent/internal/ephys"
)

// Default random-chunk sampling parameters for noise estimation.
const (
	DefaultNumChunksPerSegment = 20
	DefaultChunkSize           = 10000
)

// NoiseOptions controls how random chunks are drawn for noise estimation.
type NoiseOptions struct {
	NumChunksPerSegment int
	ChunkSize           int
	Seed                int64
	// Scaled selects microvolt (gain/offset applied) or raw units.
	Scaled bool
}

// DefaultNoiseOptions returns the defaults: 20 chunks of 10000 frames per
// segment, seed 0, scaled.
func DefaultNoiseOptions() NoiseOptions {
	return NoiseOptions{
		NumChunksPerSegment: DefaultNumChunksPerSegment,
		ChunkSize:           DefaultChunkSize,
		Scaled:              true,
	}
}

// RandomChunks draws NumChunksPerSegment chunks of ChunkSize frames from every
// segment and stacks them into one (chunks·size) × channels matrix. A segment
// shorter than ChunkSize contributes whole-segment chunks.
func RandomChunks(rec *ephys.Recording, opts NoiseOptions) (*mat.Dense, error) {
	if opts.NumChunksPerSegment <= 0 {
		return nil, fmt.Errorf("compute: num_chunks_per_segment must be positive, got %d", opts.NumChunksPerSegment)
	}
	if opts.ChunkSize <= 0 {
		return nil, fmt.Errorf("compute: chunk_size must be positive, got %d", opts.ChunkSize)
	}

	rng := rand.New(rand.NewSource(opts.Seed)) //nolint:gosec // reproducible sampling, not crypto
	var chunks []*mat.Dense
	var rows int
	for seg := 0; seg < rec.NumSegments(); seg++ {
		n := rec.NumSamples(seg)
		size := opts.ChunkSize
		if size > n {
			size = n
		}
		for i := 0; i < opts.NumChunksPerSegment; i++ {
			start := 0
			if n > size {
				start = rng.Intn(n - size)
			}
			tr, err := rec.Traces(seg, start, start+size, opts.Scaled)
			if err != nil {
				return nil, fmt.Errorf("compute: random chunk: %w", err)
			}
			chunks = append(chunks, tr)
			rows += size
		}
	}

	out := mat.NewDense(rows, rec.NumChannels(), nil)
	var at int
	for _, c := range chunks {
		r, cols := c.Dims()
		out.Slice(at, at+r, 0, cols).(*mat.Dense).Copy(c)
		at += r
	}
	return out, nil
}

// NoiseLevels estimates each channel's noise standard deviation as
// median(|x - median(x)|) / 0.6745 over random chunks of the recording.
func NoiseLevels(rec *ephys.Recording, opts NoiseOptions) ([]float64, error) {
	chunks, err := RandomChunks(rec, opts)
	if err != nil {
		return nil, err
	}
	return ChannelMAD(chunks), nil
}

// ChannelMAD returns the scaled median absolute deviation of every column of
// a samples × channels matrix.
func ChannelMAD(traces mat.Matrix) []float64 {
	_, cols := traces.Dims()
	levels := make([]float64, cols)
	for ch := 0; ch < cols; ch++ {
		levels[ch] = mad(mat.Col(nil, ch, traces))
	}
	return levels
}
