package export

import (
	"fmt"
	"io"
	"sort"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/obsidianstack/spikeqc/agent/internal/compute"
	"github.com/obsidianstack/spikeqc/pkg/types"
)

// Metric family names written to the textfile.
const (
	FamilyUnitMetric   = "spikeqc_unit_metric"
	FamilyUnitScore    = "spikeqc_unit_quality_score"
	FamilySessionUnits = "spikeqc_session_units"
	FamilySessionScore = "spikeqc_session_score"
)

// Families builds the metric families for a set of session results. Sessions
// are ordered by id so the output is stable across cycles.
func Families(results []*compute.Result) []*dto.MetricFamily {
	sorted := append([]*compute.Result(nil), results...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SessionID < sorted[j].SessionID })

	unitMetric := gaugeFamily(FamilyUnitMetric, "Quality metric value per sorted unit.")
	unitScore := gaugeFamily(FamilyUnitScore, "Weighted 0-100 quality score per sorted unit.")
	sessionUnits := gaugeFamily(FamilySessionUnits, "Number of units per quality label.")
	sessionScore := gaugeFamily(FamilySessionScore, "Mean quality score of the scored units of a session.")

	for _, r := range sorted {
		for _, u := range r.Units {
			for _, col := range r.Columns {
				v, ok := u.Metrics[col]
				if !ok {
					continue
				}
				unitMetric.Metric = append(unitMetric.Metric,
					gauge(v, "session", r.SessionID, "unit", u.UnitID, "metric", col))
			}
			unitScore.Metric = append(unitScore.Metric,
				gauge(u.Score, "session", r.SessionID, "unit", u.UnitID, "label", u.Label))
		}
		counts := []struct {
			label string
			n     int
		}{
			{types.LabelGood, r.Summary.Good},
			{types.LabelMUA, r.Summary.MUA},
			{types.LabelNoise, r.Summary.Noise},
			{types.LabelUnknown, r.Summary.Unknown},
		}
		for _, c := range counts {
			sessionUnits.Metric = append(sessionUnits.Metric,
				gauge(float64(c.n), "session", r.SessionID, "label", c.label))
		}
		sessionScore.Metric = append(sessionScore.Metric, gauge(r.Score, "session", r.SessionID))
	}

	var out []*dto.MetricFamily
	for _, mf := range []*dto.MetricFamily{unitMetric, unitScore, sessionUnits, sessionScore} {
		if len(mf.Metric) > 0 {
			out = append(out, mf)
		}
	}
	return out
}

// WriteTextfile renders results in the Prometheus text format to path.
func WriteTextfile(path string, results []*compute.Result) error {
	families := Families(results)
	err := writeAtomic(path, func(w io.Writer) error {
		for _, mf := range families {
			if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
				return fmt.Errorf("encode %s: %w", mf.GetName(), err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("export: textfile %s: %w", path, err)
	}
	return nil
}

func gaugeFamily(name, help string) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: &name,
		Help: &help,
		Type: dto.MetricType_GAUGE.Enum(),
	}
}

// gauge builds a gauge sample from alternating label name/value pairs.
func gauge(v float64, labels ...string) *dto.Metric {
	m := &dto.Metric{Gauge: &dto.Gauge{Value: &v}}
	for i := 0; i+1 < len(labels); i += 2 {
		name, value := labels[i], labels[i+1]
		m.Label = append(m.Label, &dto.LabelPair{Name: &name, Value: &value})
	}
	return m
}
