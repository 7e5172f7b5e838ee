package history

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/obsidianstack/spikeqc/pkg/types"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func report(id string, generated int64, snr float64) *types.QualityReport {
	return &types.QualityReport{
		ReportID:        id,
		SessionID:       "mouse1",
		GeneratedAtUnix: generated,
		State:           types.StatePass,
		Score:           80,
		Units: []types.UnitQuality{
			{UnitID: "2", Label: types.LabelGood, Score: 90, Metrics: map[string]types.Value{
				"snr":            types.Value(snr),
				"presence_ratio": types.Value(math.NaN()),
			}},
		},
		Summary: types.ReportSummary{
			NumUnits:     1,
			GoodUnits:    1,
			GoodFraction: 1,
			MedianSNR:    types.Value(snr),
		},
	}
}

func TestSaveAndListReports(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	for i, id := range []string{"r1", "r2", "r3"} {
		if err := s.Save(ctx, report(id, int64(100+i), 5)); err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
	}

	rows, err := s.ListReports(ctx, "mouse1", 2)
	if err != nil {
		t.Fatalf("ListReports: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows: got %d, want 2", len(rows))
	}
	if rows[0].ReportID != "r3" || rows[1].ReportID != "r2" {
		t.Errorf("order: got %s, %s; want r3, r2", rows[0].ReportID, rows[1].ReportID)
	}
	if rows[0].GoodFraction != 1 || rows[0].NumUnits != 1 {
		t.Errorf("summary: got %+v", rows[0])
	}

	other, err := s.ListReports(ctx, "other", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 0 {
		t.Errorf("other session: got %d rows", len(other))
	}
}

func TestSave_ReplacesSameReportID(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	if err := s.Save(ctx, report("r1", 100, 5)); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, report("r1", 100, 7)); err != nil {
		t.Fatal(err)
	}

	rows, _ := s.ListReports(ctx, "mouse1", 0)
	if len(rows) != 1 {
		t.Fatalf("rows after resend: got %d, want 1", len(rows))
	}
	series, err := s.UnitSeries(ctx, "mouse1", "2", "snr", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(series) != 1 || series[0].Value != 7 {
		t.Errorf("series after resend: got %+v", series)
	}
}

func TestUnitSeries_OldestFirstAndNaN(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	for i, snr := range []float64{4, 5, 6} {
		if err := s.Save(ctx, report(string(rune('a'+i)), int64(10*(i+1)), snr)); err != nil {
			t.Fatal(err)
		}
	}

	series, err := s.UnitSeries(ctx, "mouse1", "2", "snr", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(series) != 2 {
		t.Fatalf("len: got %d, want 2", len(series))
	}
	if series[0].GeneratedAtUnix != 20 || series[0].Value != 5 || series[1].Value != 6 {
		t.Errorf("series: got %+v", series)
	}

	pr, err := s.UnitSeries(ctx, "mouse1", "2", "presence_ratio", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(pr) != 3 || !math.IsNaN(float64(pr[0].Value)) {
		t.Errorf("NaN values should round-trip as NaN, got %+v", pr)
	}
}

func TestReport_Payload(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	if err := s.Save(ctx, report("r1", 100, 5)); err != nil {
		t.Fatal(err)
	}
	r, err := s.Report(ctx, "r1")
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if len(r.Units) != 1 || r.Units[0].Metric("snr") != 5 {
		t.Errorf("payload: got %+v", r)
	}
	if _, err := s.Report(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing report: got %v, want ErrNotFound", err)
	}
}

func TestPrune(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	s.now = func() time.Time { return base.Add(-48 * time.Hour) }
	if err := s.Save(ctx, report("old", 1, 5)); err != nil {
		t.Fatal(err)
	}
	s.now = func() time.Time { return base }
	if err := s.Save(ctx, report("new", 2, 5)); err != nil {
		t.Fatal(err)
	}

	n, err := s.Prune(ctx, base.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned: got %d, want 1", n)
	}
	rows, _ := s.ListReports(ctx, "mouse1", 0)
	if len(rows) != 1 || rows[0].ReportID != "new" {
		t.Errorf("remaining: got %+v", rows)
	}
	series, _ := s.UnitSeries(ctx, "mouse1", "2", "snr", 0)
	if len(series) != 1 {
		t.Errorf("unit metrics not pruned: got %d points", len(series))
	}
}

func TestRun_ZeroRetentionKeepsEverything(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	if err := s.Save(ctx, report("r1", 1, 5)); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		s.Run(ctx, 0, time.Millisecond)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run with zero retention did not return")
	}

	rows, _ := s.ListReports(ctx, "mouse1", 0)
	if len(rows) != 1 {
		t.Errorf("rows: got %d, want 1", len(rows))
	}
}
