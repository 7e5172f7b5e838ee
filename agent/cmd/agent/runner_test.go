package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/obsidianstack/spikeqc/agent/internal/compute"
	"github.com/obsidianstack/spikeqc/agent/internal/config"
	"github.com/obsidianstack/spikeqc/pkg/types"
)

// writeSession writes a 2-channel int16 recording with one unit firing every
// 100 frames on channel 1, plus its csv sorting.
func writeSession(t *testing.T, dir, id string) config.Session {
	t.Helper()
	const frames, nch = 3000, 2
	rng := rand.New(rand.NewSource(1))
	data := make([]int16, frames*nch)
	for i := range data {
		data[i] = int16(rng.NormFloat64() * 5)
	}
	var csv strings.Builder
	csv.WriteString("segment,sample_index,unit_id\n")
	for f := 50; f < frames-50; f += 100 {
		data[f*nch+1] -= 200
		fmt.Fprintf(&csv, "0,%d,u1\n", f)
	}

	buf := make([]byte, 2*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(v))
	}
	recPath := filepath.Join(dir, id+".dat")
	if err := os.WriteFile(recPath, buf, 0o600); err != nil {
		t.Fatal(err)
	}
	sortPath := filepath.Join(dir, id+".csv")
	if err := os.WriteFile(sortPath, []byte(csv.String()), 0o600); err != nil {
		t.Fatal(err)
	}
	return config.Session{
		ID: id,
		Recording: config.RecordingConfig{
			Format: "binary", Paths: []string{recPath}, DType: "int16",
			NumChannels: nch, SamplingFrequency: 1000,
		},
		Sorting: config.SortingConfig{Format: "csv", Paths: []string{sortPath}},
	}
}

func TestRunner_Cycle(t *testing.T) {
	dir := t.TempDir()
	good := writeSession(t, dir, "good")
	broken := good
	broken.ID = "broken"
	broken.Recording.Paths = []string{filepath.Join(dir, "missing.dat")}

	var shipped []*compute.Result
	r := newRunner(compute.NewEngine(compute.DefaultOptions()), func(res *compute.Result) {
		shipped = append(shipped, res)
	})
	r.apply(config.AgentConfig{
		Workers:  2,
		Sessions: []config.Session{good, broken},
		Export: config.ExportConfig{
			ParquetDir:   filepath.Join(dir, "out"),
			TextfilePath: filepath.Join(dir, "out", "spikeqc.prom"),
		},
	})

	results := r.cycle(context.Background(), time.Unix(1_700_000_000, 0))
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	ok, failed := results[0], results[1]
	if ok.ErrorMessage != "" {
		t.Fatalf("good session failed: %s", ok.ErrorMessage)
	}
	if ok.Summary.NumUnits != 1 || ok.Units[0].UnitID != "u1" {
		t.Errorf("good session units = %+v", ok.Units)
	}
	if failed.State != types.StateUnknown || failed.ErrorMessage == "" {
		t.Errorf("broken session = state %q, error %q", failed.State, failed.ErrorMessage)
	}
	if len(shipped) != 2 {
		t.Errorf("shipped %d results, want 2", len(shipped))
	}

	if _, err := os.Stat(filepath.Join(dir, "out", "good.parquet")); err != nil {
		t.Errorf("parquet for good session: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "out", "broken.parquet")); !os.IsNotExist(err) {
		t.Errorf("failed session should not write parquet, stat err = %v", err)
	}
	prom, err := os.ReadFile(filepath.Join(dir, "out", "spikeqc.prom"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(prom), `spikeqc_session_score{session="good"}`) {
		t.Errorf("textfile missing good session score:\n%s", prom)
	}
}

func TestRunner_ApplyKeepsUnchangedLoaders(t *testing.T) {
	dir := t.TempDir()
	a := writeSession(t, dir, "a")
	b := writeSession(t, dir, "b")

	r := newRunner(compute.NewEngine(compute.DefaultOptions()), nil)
	r.apply(config.AgentConfig{Workers: 1, Sessions: []config.Session{a, b}})
	before := map[string]*session{}
	for _, s := range r.sessions {
		before[s.cfg.ID] = s
	}

	b.Sorting.KeepMUAUnits = new(bool)
	r.apply(config.AgentConfig{Workers: 1, Sessions: []config.Session{a, b}})

	if len(r.sessions) != 2 {
		t.Fatalf("sessions = %d, want 2", len(r.sessions))
	}
	if r.sessions[0] != before["a"] {
		t.Error("unchanged session a should keep its loader")
	}
	if r.sessions[1] == before["b"] {
		t.Error("changed session b should get a new loader")
	}

	r.apply(config.AgentConfig{Workers: 1, Sessions: []config.Session{b}})
	if len(r.sessions) != 1 || r.sessions[0].cfg.ID != "b" {
		t.Errorf("after removal sessions = %v", r.sessions)
	}
}
