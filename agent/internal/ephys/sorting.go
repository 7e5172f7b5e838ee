package ephys

import (
	"fmt"
	"sort"
)

// Sorting is the output of a spike sorter: unit ids and their spike trains.
type Sorting struct {
	SamplingFrequency float64
	UnitIDs           []string

	// Segments[seg][unitID] holds sorted frame indices relative to the
	// start of segment seg.
	Segments []map[string][]int64

	// Groups optionally maps a unit to its electrode group (shank).
	Groups map[string]string
}

// NumSegments returns the segment count.
func (s *Sorting) NumSegments() int { return len(s.Segments) }

// SpikeTrain returns the spike frames of unit in segment seg. The slice is
// shared with the Sorting and must not be modified.
func (s *Sorting) SpikeTrain(unit string, seg int) []int64 {
	if seg < 0 || seg >= len(s.Segments) {
		return nil
	}
	return s.Segments[seg][unit]
}

// UnitIndex returns the position of unit in UnitIDs, or -1.
func (s *Sorting) UnitIndex(unit string) int {
	for i, u := range s.UnitIDs {
		if u == unit {
			return i
		}
	}
	return -1
}

// SortTrains sorts every spike train in place.
func (s *Sorting) SortTrains() {
	for _, seg := range s.Segments {
		for _, train := range seg {
			sort.Slice(train, func(i, j int) bool { return train[i] < train[j] })
		}
	}
}

// Validate checks that unit ids are unique and every train is sorted.
func (s *Sorting) Validate() error {
	if s.SamplingFrequency <= 0 {
		return fmt.Errorf("ephys: sorting: sampling frequency must be positive")
	}
	seen := make(map[string]struct{}, len(s.UnitIDs))
	for _, u := range s.UnitIDs {
		if _, dup := seen[u]; dup {
			return fmt.Errorf("ephys: sorting: duplicate unit id %q", u)
		}
		seen[u] = struct{}{}
	}
	for seg, trains := range s.Segments {
		for u, train := range trains {
			if _, ok := seen[u]; !ok {
				return fmt.Errorf("ephys: sorting: segment %d has spikes for undeclared unit %q", seg, u)
			}
			for i := 1; i < len(train); i++ {
				if train[i] < train[i-1] {
					return fmt.Errorf("ephys: sorting: unit %q segment %d: spike train not sorted", u, seg)
				}
			}
		}
	}
	return nil
}

// ValidateAgainst checks that s can be paired with rec: same sampling
// frequency, same segment count and every spike inside its segment.
func (s *Sorting) ValidateAgainst(rec *Recording) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.SamplingFrequency != rec.SamplingFrequency {
		return fmt.Errorf("ephys: sorting at %g Hz does not match recording at %g Hz",
			s.SamplingFrequency, rec.SamplingFrequency)
	}
	if len(s.Segments) != rec.NumSegments() {
		return fmt.Errorf("ephys: sorting has %d segments, recording has %d",
			len(s.Segments), rec.NumSegments())
	}
	for seg, trains := range s.Segments {
		n := int64(rec.NumSamples(seg))
		for u, train := range trains {
			if len(train) == 0 {
				continue
			}
			if train[0] < 0 || train[len(train)-1] >= n {
				return fmt.Errorf("ephys: unit %q segment %d: spike outside [0, %d)", u, seg, n)
			}
		}
	}
	return nil
}
