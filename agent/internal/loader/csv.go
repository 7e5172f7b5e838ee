package loader

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/obsidianstack/spikeqc/agent/internal/config"
	"github.com/obsidianstack/spikeqc/agent/internal/ephys"
)

var (
	sortingColumns  = []string{"segment", "sample_index", "unit_id"}
	locationColumns = []string{"segment", "unit_id", "sample_index", "x", "y", "z"}
)

// csvTable iterates the rows of a CSV file by header name.
type csvTable struct {
	path string
	r    *csv.Reader
	f    *os.File
	cols map[string]int
	line int
}

// openCSV opens path and checks that the header names every required column.
// Column order is free and extra columns are ignored.
func openCSV(path string, required []string) (*csvTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	r.ReuseRecord = true
	header, err := r.Read()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: read header: %w", path, err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range required {
		if _, ok := cols[c]; !ok {
			f.Close()
			return nil, fmt.Errorf("%s: missing column %q", path, c)
		}
	}
	return &csvTable{path: path, r: r, f: f, cols: cols, line: 1}, nil
}

func (t *csvTable) Close() error { return t.f.Close() }

// next returns the following row, or io.EOF.
func (t *csvTable) next() ([]string, error) {
	rec, err := t.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%s: %w", t.path, err)
	}
	t.line++
	return rec, nil
}

func (t *csvTable) str(rec []string, col string) string {
	return strings.TrimSpace(rec[t.cols[col]])
}

func (t *csvTable) intField(rec []string, col string) (int64, error) {
	v, err := strconv.ParseInt(t.str(rec, col), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s:%d: %s: %w", t.path, t.line, col, err)
	}
	return v, nil
}

func (t *csvTable) floatField(rec []string, col string) (float64, error) {
	v, err := strconv.ParseFloat(t.str(rec, col), 64)
	if err != nil {
		return 0, fmt.Errorf("%s:%d: %s: %w", t.path, t.line, col, err)
	}
	return v, nil
}

// readSortingCSV loads a segment,sample_index,unit_id table. Units are listed
// in order of first appearance; the segment count is the highest segment
// index plus one.
func readSortingCSV(ctx context.Context, cfg config.SortingConfig, fs float64) (*ephys.Sorting, error) {
	t, err := openCSV(cfg.Paths[0], sortingColumns)
	if err != nil {
		return nil, err
	}
	defer t.Close()

	out := &ephys.Sorting{SamplingFrequency: fs}
	seen := make(map[string]struct{})
	for {
		if t.line%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec, err := t.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		seg, err := t.intField(rec, "segment")
		if err != nil {
			return nil, err
		}
		if seg < 0 {
			return nil, fmt.Errorf("%s:%d: negative segment %d", t.path, t.line, seg)
		}
		frame, err := t.intField(rec, "sample_index")
		if err != nil {
			return nil, err
		}
		unit := t.str(rec, "unit_id")
		if unit == "" {
			return nil, fmt.Errorf("%s:%d: empty unit_id", t.path, t.line)
		}
		if _, ok := seen[unit]; !ok {
			seen[unit] = struct{}{}
			out.UnitIDs = append(out.UnitIDs, unit)
		}
		for int64(len(out.Segments)) <= seg {
			out.Segments = append(out.Segments, map[string][]int64{})
		}
		out.Segments[seg][unit] = append(out.Segments[seg][unit], frame)
	}
	if len(out.Segments) == 0 {
		out.Segments = []map[string][]int64{{}}
	}
	return out, nil
}

type locatedSpike struct {
	frame int64
	loc   ephys.Location
}

// readLocationsCSV loads per-spike positions and aligns them with the spike
// trains of sorting. Every spike must have exactly one location row.
func readLocationsCSV(ctx context.Context, path string, sorting *ephys.Sorting) (ephys.SpikeLocations, error) {
	t, err := openCSV(path, locationColumns)
	if err != nil {
		return nil, err
	}
	defer t.Close()

	rows := make([]map[string][]locatedSpike, sorting.NumSegments())
	for i := range rows {
		rows[i] = make(map[string][]locatedSpike)
	}
	for {
		if t.line%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec, err := t.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		seg, err := t.intField(rec, "segment")
		if err != nil {
			return nil, err
		}
		if seg < 0 || seg >= int64(len(rows)) {
			return nil, fmt.Errorf("%s:%d: segment %d out of range", t.path, t.line, seg)
		}
		var s locatedSpike
		if s.frame, err = t.intField(rec, "sample_index"); err != nil {
			return nil, err
		}
		if s.loc.X, err = t.floatField(rec, "x"); err != nil {
			return nil, err
		}
		if s.loc.Y, err = t.floatField(rec, "y"); err != nil {
			return nil, err
		}
		if s.loc.Z, err = t.floatField(rec, "z"); err != nil {
			return nil, err
		}
		unit := t.str(rec, "unit_id")
		rows[seg][unit] = append(rows[seg][unit], s)
	}

	out := make(ephys.SpikeLocations, len(rows))
	for seg := range rows {
		out[seg] = make(map[string][]ephys.Location)
		for _, unit := range sorting.UnitIDs {
			train := sorting.SpikeTrain(unit, seg)
			got := rows[seg][unit]
			if len(got) != len(train) {
				return nil, fmt.Errorf("%s: unit %q segment %d: %d locations for %d spikes",
					path, unit, seg, len(got), len(train))
			}
			sort.SliceStable(got, func(i, j int) bool { return got[i].frame < got[j].frame })
			locs := make([]ephys.Location, len(got))
			for i, s := range got {
				if s.frame != train[i] {
					return nil, fmt.Errorf("%s: unit %q segment %d: no location for spike at frame %d",
						path, unit, seg, train[i])
				}
				locs[i] = s.loc
			}
			out[seg][unit] = locs
		}
	}
	return out, nil
}
