package ephys

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Templates holds one dense representative waveform per unit.
// Arrays[i] belongs to UnitIDs[i] and is (NBefore+NAfter) × len(ChannelIDs).
type Templates struct {
	UnitIDs    []string
	ChannelIDs []string
	NBefore    int
	Arrays     []*mat.Dense
	Scaled     bool
}

// NumSamples returns the template length in frames.
func (t *Templates) NumSamples() int {
	if len(t.Arrays) == 0 {
		return 0
	}
	r, _ := t.Arrays[0].Dims()
	return r
}

// Template returns the waveform of unit, or nil when unknown.
func (t *Templates) Template(unit string) *mat.Dense {
	for i, u := range t.UnitIDs {
		if u == unit {
			return t.Arrays[i]
		}
	}
	return nil
}

// Validate checks that every template has the same shape and that NBefore
// indexes a valid frame.
func (t *Templates) Validate() error {
	if len(t.Arrays) != len(t.UnitIDs) {
		return fmt.Errorf("ephys: templates: %d arrays for %d units", len(t.Arrays), len(t.UnitIDs))
	}
	if len(t.Arrays) == 0 {
		return nil
	}
	rows, cols := t.Arrays[0].Dims()
	for i, a := range t.Arrays {
		r, c := a.Dims()
		if r != rows || c != cols {
			return fmt.Errorf("ephys: templates: unit %q is %dx%d, want %dx%d", t.UnitIDs[i], r, c, rows, cols)
		}
	}
	if cols != len(t.ChannelIDs) {
		return fmt.Errorf("ephys: templates: %d columns for %d channels", cols, len(t.ChannelIDs))
	}
	if t.NBefore < 0 || t.NBefore >= rows {
		return fmt.Errorf("ephys: templates: nbefore %d outside [0, %d)", t.NBefore, rows)
	}
	return nil
}

// Location is the estimated position of one spike in probe coordinates (µm).
type Location struct {
	X, Y, Z float64
}

// Coord returns the component named by direction: "x", "y" or "z".
func (l Location) Coord(direction string) (float64, bool) {
	switch direction {
	case "x":
		return l.X, true
	case "y":
		return l.Y, true
	case "z":
		return l.Z, true
	}
	return 0, false
}

// SpikeLocations[seg][unitID][i] is the location of the i-th spike of that
// unit's train in segment seg.
type SpikeLocations []map[string][]Location
