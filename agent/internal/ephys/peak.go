package ephys

import (
	"errors"
	"fmt"
)

// PeakSign selects which deflection of a waveform counts as its peak.
type PeakSign string

const (
	PeakNeg  PeakSign = "neg"
	PeakPos  PeakSign = "pos"
	PeakBoth PeakSign = "both"
)

// PeakMode selects where on a waveform the amplitude is read.
type PeakMode string

const (
	// ModeExtremum takes the minimum/maximum over the whole waveform.
	ModeExtremum PeakMode = "extremum"
	// ModeAtIndex takes the value at the alignment index (NBefore).
	ModeAtIndex PeakMode = "at_index"
)

var (
	ErrInvalidPeakSign = errors.New("ephys: invalid peak sign")
	ErrInvalidPeakMode = errors.New("ephys: invalid peak mode")
)

// Validate returns ErrInvalidPeakSign unless s is neg, pos or both.
func (s PeakSign) Validate() error {
	switch s {
	case PeakNeg, PeakPos, PeakBoth:
		return nil
	}
	return fmt.Errorf("%w %q: want neg|pos|both", ErrInvalidPeakSign, string(s))
}

// Validate returns ErrInvalidPeakMode unless m is extremum or at_index.
func (m PeakMode) Validate() error {
	switch m {
	case ModeExtremum, ModeAtIndex:
		return nil
	}
	return fmt.Errorf("%w %q: want extremum|at_index", ErrInvalidPeakMode, string(m))
}

// ParsePeakSign converts s, defaulting the empty string to PeakNeg.
func ParsePeakSign(s string) (PeakSign, error) {
	if s == "" {
		return PeakNeg, nil
	}
	ps := PeakSign(s)
	return ps, ps.Validate()
}

// ParsePeakMode converts s, defaulting the empty string to ModeExtremum.
func ParsePeakMode(s string) (PeakMode, error) {
	if s == "" {
		return ModeExtremum, nil
	}
	pm := PeakMode(s)
	return pm, pm.Validate()
}
