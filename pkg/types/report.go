package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Unit labels assigned by the agent's scoring step.
const (
	LabelGood    = "good"
	LabelMUA     = "mua"
	LabelNoise   = "noise"
	LabelUnknown = "unknown"
)

// Session states derived from the fraction of good units.
const (
	StatePass    = "pass"
	StateWarn    = "warn"
	StateFail    = "fail"
	StateUnknown = "unknown"
)

// QualityReport is the per-session quality snapshot shipped by the agent.
type QualityReport struct {
	ReportID          string        `json:"report_id"`
	SessionID         string        `json:"session_id"`
	RecordingID       string        `json:"recording_id,omitempty"`
	GeneratedAtUnix   int64         `json:"generated_at_unix"`
	State             string        `json:"state"`
	Score             Value         `json:"score"`
	DurationS         float64       `json:"duration_s"`
	SamplingFrequency float64       `json:"sampling_frequency"`
	NumChannels       int           `json:"num_channels"`
	Units             []UnitQuality `json:"units"`
	Summary           ReportSummary `json:"summary"`
	ErrorMessage      string        `json:"error_message,omitempty"`
}

// UnitQuality is the metric row and verdict for one sorted unit.
type UnitQuality struct {
	UnitID  string           `json:"unit_id"`
	Group   string           `json:"group,omitempty"`
	Label   string           `json:"label"`
	Score   Value            `json:"score"`
	Metrics map[string]Value `json:"metrics"`
}

// Metric returns the named metric as a float64, NaN when absent.
func (u UnitQuality) Metric(name string) float64 {
	v, ok := u.Metrics[name]
	if !ok {
		return math.NaN()
	}
	return float64(v)
}

// ReportSummary aggregates unit verdicts for a session.
type ReportSummary struct {
	NumUnits     int   `json:"num_units"`
	GoodUnits    int   `json:"good_units"`
	MUAUnits     int   `json:"mua_units"`
	NoiseUnits   int   `json:"noise_units"`
	UnknownUnits int   `json:"unknown_units"`
	GoodFraction Value `json:"good_fraction"`
	MedianSNR    Value `json:"median_snr"`
}

// SendResponse acknowledges a SendReport call.
type SendResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// Value is a float64 that survives JSON: NaN encodes as null and the
// infinities as the strings "+Inf" and "-Inf".
type Value float64

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	f := float64(v)
	switch {
	case math.IsNaN(f):
		return []byte("null"), nil
	case math.IsInf(f, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(f, -1):
		return []byte(`"-Inf"`), nil
	}
	return strconv.AppendFloat(nil, f, 'g', -1, 64), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*v = Value(math.NaN())
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		switch s {
		case "+Inf", "Inf":
			*v = Value(math.Inf(1))
		case "-Inf":
			*v = Value(math.Inf(-1))
		case "NaN":
			*v = Value(math.NaN())
		default:
			return fmt.Errorf("types: invalid value %q", s)
		}
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("types: invalid value %s: %w", b, err)
	}
	*v = Value(f)
	return nil
}
