package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/obsidianstack/spikeqc/pkg/types"
	"github.com/obsidianstack/spikeqc/server/internal/alerts"
	"github.com/obsidianstack/spikeqc/server/internal/history"
	"github.com/obsidianstack/spikeqc/server/internal/store"
)

const (
	defaultHistoryLimit = 50
	defaultSeriesLimit  = 200
)

// History is the read side of the report archive. *history.Store satisfies it.
type History interface {
	ListReports(ctx context.Context, sessionID string, limit int) ([]history.ReportRow, error)
	UnitSeries(ctx context.Context, sessionID, unitID, metric string, limit int) ([]history.Point, error)
}

// Alerts lists firing and recently resolved alerts. *alerts.Engine satisfies it.
type Alerts interface {
	Active() []*alerts.Alert
}

// Handler serves every /api/v1/* endpoint.
type Handler struct {
	store   *store.Store
	history History
	alerts  Alerts
	mux     *http.ServeMux
}

// New registers all routes. hist and al may be nil; history endpoints then
// answer 404 and the alert list is empty.
func New(st *store.Store, hist History, al Alerts) http.Handler {
	h := &Handler{store: st, history: hist, alerts: al, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/summary", h.get(h.summary))
	h.mux.HandleFunc("/api/v1/sessions", h.get(h.listSessions))
	h.mux.HandleFunc("/api/v1/sessions/", h.get(h.session)) // subtree: {id}[/...]
	h.mux.HandleFunc("/api/v1/alerts", h.get(h.listAlerts))
	h.mux.HandleFunc("/api/v1/snapshot", h.get(h.snapshot))

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// get rejects everything but GET with 405.
func (h *Handler) get(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		fn(w, r)
	}
}

// --- route handlers ---------------------------------------------------------

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, buildSummary(h.store.List(), h.alerts))
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	entries := h.store.List()
	out := make([]SessionResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toSessionResponse(e, false))
	}
	jsonResp(w, http.StatusOK, out)
}

// session dispatches /api/v1/sessions/{id}, .../history and
// .../units/{unit}/series.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/sessions/"), "/")
	if rest == "" {
		h.listSessions(w, r)
		return
	}
	parts := strings.Split(rest, "/")
	id := parts[0]

	switch {
	case len(parts) == 1:
		e, ok := h.live(id)
		if !ok {
			jsonErr(w, http.StatusNotFound, "session not found")
			return
		}
		jsonResp(w, http.StatusOK, toSessionResponse(e, true))

	case len(parts) == 2 && parts[1] == "history":
		if h.history == nil {
			jsonErr(w, http.StatusNotFound, "history is not enabled")
			return
		}
		limit, err := limitParam(r, defaultHistoryLimit)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, err.Error())
			return
		}
		rows, err := h.history.ListReports(r.Context(), id, limit)
		if err != nil {
			jsonErr(w, http.StatusInternalServerError, "history query failed")
			return
		}
		jsonResp(w, http.StatusOK, rows)

	case len(parts) == 4 && parts[1] == "units" && parts[3] == "series":
		if h.history == nil {
			jsonErr(w, http.StatusNotFound, "history is not enabled")
			return
		}
		metric := r.URL.Query().Get("metric")
		if metric == "" {
			jsonErr(w, http.StatusBadRequest, "metric query parameter is required")
			return
		}
		limit, err := limitParam(r, defaultSeriesLimit)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, err.Error())
			return
		}
		points, err := h.history.UnitSeries(r.Context(), id, parts[2], metric, limit)
		if err != nil {
			jsonErr(w, http.StatusInternalServerError, "history query failed")
			return
		}
		jsonResp(w, http.StatusOK, SeriesResponse{SessionID: id, UnitID: parts[2], Metric: metric, Points: points})

	default:
		jsonErr(w, http.StatusNotFound, "not found")
	}
}

func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, activeAlerts(h.alerts))
}

func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, BuildSnapshot(h.store, h.alerts))
}

// BuildSnapshot assembles the summary, every live session with its units and
// the current alerts. al may be nil.
func BuildSnapshot(st *store.Store, al Alerts) SnapshotResponse {
	entries := st.List()
	sessions := make([]SessionResponse, 0, len(entries))
	for _, e := range entries {
		sessions = append(sessions, toSessionResponse(e, true))
	}
	return SnapshotResponse{
		Summary:     buildSummary(entries, al),
		Sessions:    sessions,
		Alerts:      activeAlerts(al),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// --- helpers ----------------------------------------------------------------

// live returns the entry for id unless it is missing or stale.
func (h *Handler) live(id string) (*store.Entry, bool) {
	e, ok := h.store.Get(id)
	if !ok || time.Since(e.ReceivedAt) > h.store.TTL() {
		return nil, false
	}
	return e, true
}

func limitParam(r *http.Request, def int) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.New("limit must be a non-negative integer")
	}
	return n, nil
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

func activeAlerts(al Alerts) []*alerts.Alert {
	if al == nil {
		return []*alerts.Alert{}
	}
	return al.Active()
}

// buildSummary counts session states and units. The overall state is the
// worst known session state, or unknown when no session has one.
func buildSummary(entries []*store.Entry, al Alerts) SummaryResponse {
	s := SummaryResponse{SessionCount: len(entries), State: types.StateUnknown}
	for _, e := range entries {
		rep := e.Report
		switch rep.State {
		case types.StatePass:
			s.PassCount++
		case types.StateWarn:
			s.WarnCount++
		case types.StateFail:
			s.FailCount++
		default:
			s.UnknownCount++
		}
		s.TotalUnits += rep.Summary.NumUnits
		s.GoodUnits += rep.Summary.GoodUnits
	}

	switch {
	case s.FailCount > 0:
		s.State = types.StateFail
	case s.WarnCount > 0:
		s.State = types.StateWarn
	case s.PassCount > 0:
		s.State = types.StatePass
	}

	s.GoodFraction = types.Value(math.NaN())
	if s.TotalUnits > 0 {
		s.GoodFraction = types.Value(float64(s.GoodUnits) / float64(s.TotalUnits))
	}
	for _, a := range activeAlerts(al) {
		if a.State == alerts.StateFiring {
			s.FiringAlerts++
		}
	}
	return s
}

func toSessionResponse(e *store.Entry, withUnits bool) SessionResponse {
	rep := e.Report
	out := SessionResponse{
		SessionID:         rep.SessionID,
		ReportID:          rep.ReportID,
		RecordingID:       rep.RecordingID,
		State:             rep.State,
		Score:             rep.Score,
		DurationS:         rep.DurationS,
		SamplingFrequency: rep.SamplingFrequency,
		NumChannels:       rep.NumChannels,
		Summary:           rep.Summary,
		ErrorMessage:      rep.ErrorMessage,
		GeneratedAt:       time.Unix(rep.GeneratedAtUnix, 0).UTC().Format(time.RFC3339),
		LastSeen:          e.ReceivedAt.UTC().Format(time.RFC3339),
		Diagnostics:       computeDiagnostics(rep),
	}
	if out.Diagnostics == nil {
		out.Diagnostics = []DiagnosticHint{}
	}
	if withUnits {
		out.Units = rep.Units
	}
	return out
}
