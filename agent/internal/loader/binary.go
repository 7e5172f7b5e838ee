package loader

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/obsidianstack/spikeqc/agent/internal/config"
	"github.com/obsidianstack/spikeqc/agent/internal/ephys"
)

// dtypeSize returns the byte width of a sample type.
func dtypeSize(dtype string) (int, error) {
	switch dtype {
	case "int16", "":
		return 2, nil
	case "int32", "float32":
		return 4, nil
	case "float64":
		return 8, nil
	}
	return 0, fmt.Errorf("unsupported dtype %q", dtype)
}

// decodeSample reads one little-endian sample of the given type from b.
func decodeSample(dtype string, b []byte) float64 {
	switch dtype {
	case "int32":
		return float64(int32(binary.LittleEndian.Uint32(b)))
	case "float32":
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case "float64":
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	default:
		return float64(int16(binary.LittleEndian.Uint16(b)))
	}
}

// binarySource reads interleaved frames straight from a raw file. The file is
// opened per read so a session keeps no descriptors between cycles.
type binarySource struct {
	path     string
	header   int64
	dtype    string
	size     int
	channels int
}

func (b *binarySource) ReadFrames(start, end int, dst []float64) error {
	f, err := os.Open(b.path)
	if err != nil {
		return err
	}
	defer f.Close()

	frame := b.size * b.channels
	raw := make([]byte, (end-start)*frame)
	if _, err := f.ReadAt(raw, b.header+int64(start)*int64(frame)); err != nil {
		return fmt.Errorf("read %s: %w", b.path, err)
	}
	for i := range dst {
		dst[i] = decodeSample(b.dtype, raw[i*b.size:(i+1)*b.size])
	}
	return nil
}

// readBinary describes raw interleaved traces, one file per segment. Only the
// file sizes are read here; samples are decoded when a window is requested.
func readBinary(ctx context.Context, id string, cfg config.RecordingConfig) (*ephys.Recording, error) {
	size, err := dtypeSize(cfg.DType)
	if err != nil {
		return nil, err
	}
	nch := cfg.NumChannels
	if nch <= 0 {
		return nil, fmt.Errorf("num_channels must be positive")
	}

	rec := &ephys.Recording{
		ID:                id,
		SamplingFrequency: cfg.SamplingFrequency,
		ChannelIDs:        cfg.ChannelIDs,
	}
	if len(rec.ChannelIDs) == 0 {
		rec.ChannelIDs = defaultChannelIDs(nch)
	}
	gain := cfg.GainToUV
	if gain == 0 {
		gain = 1
	}
	if gain != 1 || cfg.OffsetToUV != 0 {
		rec.Gains = make([]float64, nch)
		rec.Offsets = make([]float64, nch)
		for ch := 0; ch < nch; ch++ {
			rec.Gains[ch] = gain
			rec.Offsets[ch] = cfg.OffsetToUV
		}
	}

	frame := int64(size * nch)
	for _, p := range cfg.Paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fi, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		body := fi.Size() - cfg.HeaderBytes
		if body < 0 {
			return nil, fmt.Errorf("%s: shorter than header (%d bytes)", p, cfg.HeaderBytes)
		}
		if body%frame != 0 {
			return nil, fmt.Errorf("%s: %d bytes is not a whole number of %d-channel %s frames",
				p, body, nch, cfg.DType)
		}
		n := int(body / frame)
		if n == 0 {
			return nil, fmt.Errorf("%s: no samples", p)
		}
		src := &binarySource{path: p, header: cfg.HeaderBytes, dtype: cfg.DType, size: size, channels: nch}
		rec.Segments = append(rec.Segments, ephys.NewSourceSegment(n, nch, src))
	}

	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}
