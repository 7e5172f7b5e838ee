package loader

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/obsidianstack/spikeqc/agent/internal/config"
	"github.com/obsidianstack/spikeqc/agent/internal/ephys"
)

// Neuroscope reserves cluster 0 for unsorted noise and cluster 1 for
// multi-unit activity.
const (
	clusterNoise = 0
	clusterMUA   = 1
)

// shank is one .res/.clu file pair; group is the N of .res.N.
type shank struct {
	res, clu string
	group    string
}

// pairShanks matches every .res.N path with its .clu.N counterpart, keeping
// the order in which the .res files are listed.
func pairShanks(paths []string) ([]shank, error) {
	res := make(map[string]string)
	clus := make(map[string]string)
	var order []string
	for _, p := range paths {
		p = filepath.Clean(p)
		if k, ok := shankKey(p, ".res."); ok {
			if _, dup := res[k]; dup {
				return nil, fmt.Errorf("duplicate res file %s", p)
			}
			res[k] = p
			order = append(order, k)
		} else if k, ok := shankKey(p, ".clu."); ok {
			clus[k] = p
		} else {
			return nil, fmt.Errorf("%s is neither a .res.N nor a .clu.N file", p)
		}
	}
	if len(order) != len(clus) {
		return nil, fmt.Errorf("unmatched .res/.clu files: %d res, %d clu", len(order), len(clus))
	}
	shanks := make([]shank, 0, len(order))
	for _, k := range order {
		c, ok := clus[k]
		if !ok {
			return nil, fmt.Errorf("no .clu file for %s", res[k])
		}
		p := res[k]
		shanks = append(shanks, shank{res: p, clu: c, group: p[strings.LastIndex(p, ".res.")+len(".res."):]})
	}
	return shanks, nil
}

// shankKey strips marker from the file name of p so that matching .res and
// .clu files share a key.
func shankKey(p, marker string) (string, bool) {
	i := strings.LastIndex(p, marker)
	if i < 0 || i < len(p)-len(filepath.Base(p)) {
		return "", false
	}
	return p[:i] + "." + p[i+len(marker):], true
}

// readIntLines parses a file holding one integer per line. Blank lines are
// skipped.
func readIntLines(path string) ([]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []int64
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		txt := strings.TrimSpace(sc.Text())
		if txt == "" {
			continue
		}
		v, err := strconv.ParseInt(txt, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		out = append(out, v)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return out, nil
}

// readNeuroscope loads .res/.clu pairs into a single-segment sorting. Within a
// shank the sorted cluster ids map to consecutive unit ids, continuing after
// the last unit of the previous shank. Excluded shanks are skipped entirely
// and every unit records its shank as group.
func readNeuroscope(ctx context.Context, cfg config.SortingConfig, fs float64) (*ephys.Sorting, error) {
	shanks, err := pairShanks(cfg.Paths)
	if err != nil {
		return nil, err
	}

	excluded := make(map[string]bool, len(cfg.ExcludeShanks))
	for _, n := range cfg.ExcludeShanks {
		excluded[strconv.Itoa(n)] = true
	}

	out := &ephys.Sorting{
		SamplingFrequency: fs,
		Segments:          []map[string][]int64{{}},
		Groups:            make(map[string]string),
	}
	trains := out.Segments[0]
	last := 0

	for _, sh := range shanks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if excluded[sh.group] {
			continue
		}
		res, err := readIntLines(sh.res)
		if err != nil {
			return nil, err
		}
		if len(res) == 0 {
			continue
		}
		clu, err := readIntLines(sh.clu)
		if err != nil {
			return nil, err
		}
		if len(clu) != len(res)+1 {
			return nil, fmt.Errorf("%s: %d labels for %d spikes in %s", sh.clu, len(clu)-1, len(res), sh.res)
		}

		byCluster := make(map[int64][]int64)
		for i, c := range clu[1:] {
			byCluster[c] = append(byCluster[c], res[i])
		}
		if int64(len(byCluster)) != clu[0] {
			return nil, fmt.Errorf("%s declares %d clusters but holds %d distinct ids", sh.clu, clu[0], len(byCluster))
		}

		ids := make([]int64, 0, len(byCluster))
		for c := range byCluster {
			ids = append(ids, c)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		// Dropped clusters still consume their position in the numbering.
		for i, c := range ids {
			if c == clusterNoise || (c == clusterMUA && !cfg.KeepMUA()) {
				continue
			}
			id := strconv.Itoa(last + i + 1)
			out.UnitIDs = append(out.UnitIDs, id)
			trains[id] = byCluster[c]
			out.Groups[id] = sh.group
		}
		if len(out.UnitIDs) > 0 {
			last, _ = strconv.Atoi(out.UnitIDs[len(out.UnitIDs)-1])
		}
	}
	return out, nil
}
