package compute

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/obsidianstack/spikeqc/agent/internal/ephys"
)

var ctxBG = context.Background()

// 3 frames × 2 channels, nbefore = 1.
func smallTemplate() *mat.Dense {
	return mat.NewDense(3, 2, []float64{
		0, 0,
		-4, -8,
		0, 1,
	})
}

func TestSNR_PeakSignsAndModes(t *testing.T) {
	noise := []float64{1, 2}
	tests := []struct {
		name     string
		opts     SNROptions
		wantSNR  float64
		wantChan int
	}{
		{"neg extremum", SNROptions{ephys.PeakNeg, ephys.ModeExtremum}, 4, 1},
		{"pos extremum", SNROptions{ephys.PeakPos, ephys.ModeExtremum}, 0.5, 1},
		{"both extremum", SNROptions{ephys.PeakBoth, ephys.ModeExtremum}, 4, 1},
		{"neg at_index", SNROptions{ephys.PeakNeg, ephys.ModeAtIndex}, 4, 1},
		{"pos at_index", SNROptions{ephys.PeakPos, ephys.ModeAtIndex}, 4, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snr, ch, err := SNR(smallTemplate(), 1, noise, tt.opts)
			if err != nil {
				t.Fatalf("SNR: %v", err)
			}
			if ch != tt.wantChan {
				t.Errorf("channel = %d, want %d", ch, tt.wantChan)
			}
			if !almostEqual(snr, tt.wantSNR, 1e-12) {
				t.Errorf("snr = %v, want %v", snr, tt.wantSNR)
			}
		})
	}
}

func TestSNR_ZeroNoiseIsInf(t *testing.T) {
	snr, _, err := SNR(smallTemplate(), 1, []float64{1, 0}, DefaultSNROptions())
	if err != nil {
		t.Fatalf("SNR: %v", err)
	}
	if !math.IsInf(snr, 1) {
		t.Errorf("snr = %v, want +Inf", snr)
	}
}

func TestSNR_InvalidOptions(t *testing.T) {
	if _, _, err := SNR(smallTemplate(), 1, []float64{1, 1}, SNROptions{PeakSign: "up", PeakMode: ephys.ModeExtremum}); !errors.Is(err, ephys.ErrInvalidPeakSign) {
		t.Errorf("err = %v, want ErrInvalidPeakSign", err)
	}
	if _, _, err := SNR(smallTemplate(), 1, []float64{1, 1}, SNROptions{PeakSign: ephys.PeakNeg, PeakMode: "peak"}); !errors.Is(err, ephys.ErrInvalidPeakMode) {
		t.Errorf("err = %v, want ErrInvalidPeakMode", err)
	}
	if _, _, err := SNR(smallTemplate(), 1, []float64{1}, DefaultSNROptions()); err == nil {
		t.Error("expected error for noise/channel count mismatch")
	}
}

// Scaling both the template and the noise by the same positive factor must
// not change the SNR.
func TestSNR_ScaleInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		rows, cols := 5+rng.Intn(20), 1+rng.Intn(8)
		tmpl := mat.NewDense(rows, cols, nil)
		noise := make([]float64, cols)
		for c := 0; c < cols; c++ {
			noise[c] = 0.1 + rng.Float64()*5
			for r := 0; r < rows; r++ {
				tmpl.Set(r, c, rng.NormFloat64()*20)
			}
		}
		k := 0.01 + rng.Float64()*100

		scaledTmpl := mat.NewDense(rows, cols, nil)
		scaledTmpl.Scale(k, tmpl)
		scaledNoise := make([]float64, cols)
		for c := range noise {
			scaledNoise[c] = noise[c] * k
		}

		for _, sign := range []ephys.PeakSign{ephys.PeakNeg, ephys.PeakPos, ephys.PeakBoth} {
			opts := SNROptions{PeakSign: sign, PeakMode: ephys.ModeExtremum}
			a, cha, err := SNR(tmpl, rows/2, noise, opts)
			if err != nil {
				t.Fatal(err)
			}
			b, chb, err := SNR(scaledTmpl, rows/2, scaledNoise, opts)
			if err != nil {
				t.Fatal(err)
			}
			if cha != chb {
				t.Errorf("trial %d %s: channel %d vs %d", trial, sign, cha, chb)
			}
			if !almostEqual(a, b, 1e-9*math.Max(1, math.Abs(a))) {
				t.Errorf("trial %d %s: snr %v vs %v after scaling by %v", trial, sign, a, b, k)
			}
		}
	}
}

func TestSNRs_SyntheticUnits(t *testing.T) {
	a := synthAnalyzer(t, 1)
	snrs, err := SNRs(a, DefaultSNROptions())
	if err != nil {
		t.Fatalf("SNRs: %v", err)
	}
	if snrs["a"] < 10 {
		t.Errorf("snr(a) = %v, want > 10", snrs["a"])
	}
	if snrs["b"] < 1.5 || snrs["b"] > 3.5 {
		t.Errorf("snr(b) = %v, want in [1.5, 3.5]", snrs["b"])
	}

	chans, err := ExtremumChannels(a.Templates, ephys.PeakNeg, ephys.ModeExtremum)
	if err != nil {
		t.Fatal(err)
	}
	if chans["a"] != 2 || chans["b"] != 0 {
		t.Errorf("extremum channels = %v, want a:2 b:0", chans)
	}
}

// Converting the same recording to microvolts with any gain must give the
// same SNR, since templates and noise are measured in the same units.
func TestSNRs_GainInvariant(t *testing.T) {
	raw, err := SNRs(synthAnalyzer(t, 1), DefaultSNROptions())
	if err != nil {
		t.Fatal(err)
	}
	scaled, err := SNRs(synthAnalyzer(t, 3.7), DefaultSNROptions())
	if err != nil {
		t.Fatal(err)
	}
	for unit, v := range raw {
		if !almostEqual(v, scaled[unit], 1e-9*v) {
			t.Errorf("unit %s: snr %v (gain 1) vs %v (gain 3.7)", unit, v, scaled[unit])
		}
	}
}

func TestSNRs_RequiresTemplates(t *testing.T) {
	a := &Analyzer{Recording: synthSession(t, 1).Recording}
	if _, err := SNRs(a, DefaultSNROptions()); !errors.Is(err, ErrNoTemplates) {
		t.Errorf("err = %v, want ErrNoTemplates", err)
	}
}
