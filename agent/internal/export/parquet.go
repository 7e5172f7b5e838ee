package export

import (
	"fmt"
	"io"
	"math"

	parquet "github.com/parquet-go/parquet-go"

	"github.com/obsidianstack/spikeqc/agent/internal/compute"
)

// UnitRow is the parquet schema of one unit. Metric columns not computed
// for the session hold NaN.
type UnitRow struct {
	SessionID          string  `parquet:"session_id"`
	ReportID           string  `parquet:"report_id"`
	TimestampUnix      int64   `parquet:"timestamp_unix"`
	UnitID             string  `parquet:"unit_id"`
	Group              string  `parquet:"group"`
	Label              string  `parquet:"label"`
	Score              float64 `parquet:"score"`
	NumSpikes          float64 `parquet:"num_spikes"`
	FiringRate         float64 `parquet:"firing_rate"`
	PresenceRatio      float64 `parquet:"presence_ratio"`
	SNR                float64 `parquet:"snr"`
	ISIViolationsRatio float64 `parquet:"isi_violations_ratio"`
	ISIViolationsCount float64 `parquet:"isi_violations_count"`
	RPContamination    float64 `parquet:"rp_contamination"`
	RPViolations       float64 `parquet:"rp_violations"`
	AmplitudeCutoff    float64 `parquet:"amplitude_cutoff"`
	AmplitudeMedian    float64 `parquet:"amplitude_median"`
	MaximumDrift       float64 `parquet:"maximum_drift"`
	CumulativeDrift    float64 `parquet:"cumulative_drift"`
}

// Rows flattens r into parquet rows, one per unit.
func Rows(r *compute.Result) []UnitRow {
	rows := make([]UnitRow, 0, len(r.Units))
	for _, u := range r.Units {
		get := func(col string) float64 {
			if v, ok := u.Metrics[col]; ok {
				return v
			}
			return math.NaN()
		}
		rows = append(rows, UnitRow{
			SessionID:          r.SessionID,
			ReportID:           r.ReportID,
			TimestampUnix:      r.Timestamp.Unix(),
			UnitID:             u.UnitID,
			Group:              u.Group,
			Label:              u.Label,
			Score:              u.Score,
			NumSpikes:          get(compute.MetricNumSpikes),
			FiringRate:         get(compute.MetricFiringRate),
			PresenceRatio:      get(compute.MetricPresenceRatio),
			SNR:                get(compute.MetricSNR),
			ISIViolationsRatio: get(compute.ColISIViolationsRatio),
			ISIViolationsCount: get(compute.ColISIViolationsCount),
			RPContamination:    get(compute.ColRPContamination),
			RPViolations:       get(compute.ColRPViolations),
			AmplitudeCutoff:    get(compute.MetricAmplitudeCutoff),
			AmplitudeMedian:    get(compute.MetricAmplitudeMedian),
			MaximumDrift:       get(compute.ColMaximumDrift),
			CumulativeDrift:    get(compute.ColCumulativeDrift),
		})
	}
	return rows
}

// WriteParquet writes the unit table of r to path, Snappy compressed.
func WriteParquet(path string, r *compute.Result) error {
	rows := Rows(r)
	err := writeAtomic(path, func(w io.Writer) error {
		pw := parquet.NewGenericWriter[UnitRow](w, parquet.Compression(&parquet.Snappy))
		if _, err := pw.Write(rows); err != nil {
			return fmt.Errorf("write rows: %w", err)
		}
		return pw.Close()
	})
	if err != nil {
		return fmt.Errorf("export: parquet %s: %w", path, err)
	}
	return nil
}
