package api

import (
	"github.com/obsidianstack/spikeqc/pkg/types"
	"github.com/obsidianstack/spikeqc/server/internal/alerts"
	"github.com/obsidianstack/spikeqc/server/internal/history"
)

// SummaryResponse is the payload for GET /api/v1/summary.
type SummaryResponse struct {
	State        string      `json:"state"`
	SessionCount int         `json:"session_count"`
	PassCount    int         `json:"pass_count"`
	WarnCount    int         `json:"warn_count"`
	FailCount    int         `json:"fail_count"`
	UnknownCount int         `json:"unknown_count"`
	TotalUnits   int         `json:"total_units"`
	GoodUnits    int         `json:"good_units"`
	GoodFraction types.Value `json:"good_fraction"`
	FiringAlerts int         `json:"firing_alerts"`
}

// SessionResponse is the latest report for one session. Units is only
// filled for GET /api/v1/sessions/{id} and the snapshot.
type SessionResponse struct {
	SessionID         string              `json:"session_id"`
	ReportID          string              `json:"report_id"`
	RecordingID       string              `json:"recording_id,omitempty"`
	State             string              `json:"state"`
	Score             types.Value         `json:"score"`
	DurationS         float64             `json:"duration_s"`
	SamplingFrequency float64             `json:"sampling_frequency"`
	NumChannels       int                 `json:"num_channels"`
	Summary           types.ReportSummary `json:"summary"`
	ErrorMessage      string              `json:"error_message,omitempty"`
	GeneratedAt       string              `json:"generated_at"`
	LastSeen          string              `json:"last_seen"`
	Diagnostics       []DiagnosticHint    `json:"diagnostics"`
	Units             []types.UnitQuality `json:"units,omitempty"`
}

// SeriesResponse is the payload for
// GET /api/v1/sessions/{id}/units/{unit}/series.
type SeriesResponse struct {
	SessionID string          `json:"session_id"`
	UnitID    string          `json:"unit_id"`
	Metric    string          `json:"metric"`
	Points    []history.Point `json:"points"`
}

// SnapshotResponse is the payload for GET /api/v1/snapshot and the
// WebSocket stream.
type SnapshotResponse struct {
	Summary     SummaryResponse   `json:"summary"`
	Sessions    []SessionResponse `json:"sessions"`
	Alerts      []*alerts.Alert   `json:"alerts"`
	GeneratedAt string            `json:"generated_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}
