package alerts

import (
	"math"

	"github.com/obsidianstack/spikeqc/pkg/types"
	"github.com/obsidianstack/spikeqc/server/internal/config"
)

// Fields read from the report itself. Anything else is a per-unit field:
// unit_label, unit_score or a metric column name such as snr.
const (
	fieldState        = "state"
	fieldScore        = "score"
	fieldGoodFraction = "good_fraction"
	fieldNumUnits     = "num_units"
	fieldMedianSNR    = "median_snr"
	fieldUnitLabel    = "unit_label"
	fieldUnitScore    = "unit_score"
)

func sessionField(f string) bool {
	switch f {
	case fieldState, fieldScore, fieldGoodFraction, fieldNumUnits, fieldMedianSNR:
		return true
	}
	return false
}

// matches returns the targets of r for which the rule condition holds.
// Session rules yield at most one hit with an empty unit ID.
func matches(rl rule, r *types.QualityReport) []hit {
	c := rl.cond
	if !rl.unit {
		switch c.Field {
		case fieldState:
			if compareString(r.State, c) {
				return []hit{{value: math.NaN()}}
			}
			return nil
		case fieldScore:
			return numberHit("", float64(r.Score), c)
		case fieldGoodFraction:
			return numberHit("", float64(r.Summary.GoodFraction), c)
		case fieldNumUnits:
			return numberHit("", float64(r.Summary.NumUnits), c)
		case fieldMedianSNR:
			return numberHit("", float64(r.Summary.MedianSNR), c)
		}
		return nil
	}

	var out []hit
	for _, u := range r.Units {
		switch c.Field {
		case fieldUnitLabel:
			if compareString(u.Label, c) {
				out = append(out, hit{unitID: u.UnitID, value: math.NaN()})
			}
		case fieldUnitScore:
			out = append(out, numberHit(u.UnitID, float64(u.Score), c)...)
		default:
			out = append(out, numberHit(u.UnitID, u.Metric(c.Field), c)...)
		}
	}
	return out
}

func numberHit(unitID string, v float64, c config.Condition) []hit {
	if compareFloat(v, c) {
		return []hit{{unitID: unitID, value: v}}
	}
	return nil
}

// compareFloat applies c to v. NaN never matches, and neither does a
// non-numeric right-hand side.
func compareFloat(v float64, c config.Condition) bool {
	if math.IsNaN(v) || !c.IsNumber {
		return false
	}
	switch c.Op {
	case ">":
		return v > c.Number
	case ">=":
		return v >= c.Number
	case "<":
		return v < c.Number
	case "<=":
		return v <= c.Number
	case "==":
		return v == c.Number
	case "!=":
		return v != c.Number
	}
	return false
}

func compareString(v string, c config.Condition) bool {
	switch c.Op {
	case "==":
		return v == c.Value
	case "!=":
		return v != c.Value
	}
	return false
}
