package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	_ "modernc.org/sqlite"

	"github.com/obsidianstack/spikeqc/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS reports (
	report_id     TEXT PRIMARY KEY,
	session_id    TEXT NOT NULL,
	generated_at  INTEGER NOT NULL,
	received_at   INTEGER NOT NULL,
	state         TEXT NOT NULL,
	score         REAL,
	num_units     INTEGER NOT NULL,
	good_units    INTEGER NOT NULL,
	good_fraction REAL,
	median_snr    REAL,
	error_message TEXT NOT NULL DEFAULT '',
	payload       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS reports_session ON reports(session_id, generated_at);

CREATE TABLE IF NOT EXISTS unit_metrics (
	report_id    TEXT NOT NULL,
	session_id   TEXT NOT NULL,
	unit_id      TEXT NOT NULL,
	metric       TEXT NOT NULL,
	value        REAL,
	generated_at INTEGER NOT NULL,
	PRIMARY KEY (report_id, unit_id, metric)
);
CREATE INDEX IF NOT EXISTS unit_metrics_series ON unit_metrics(session_id, unit_id, metric, generated_at);
`

// ErrNotFound is returned by Report when no row matches.
var ErrNotFound = errors.New("history: report not found")

// Store is a SQLite-backed report archive.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// ReportRow is the summary of one archived report.
type ReportRow struct {
	ReportID        string      `json:"report_id"`
	SessionID       string      `json:"session_id"`
	GeneratedAtUnix int64       `json:"generated_at_unix"`
	ReceivedAtUnix  int64       `json:"received_at_unix"`
	State           string      `json:"state"`
	Score           types.Value `json:"score"`
	NumUnits        int         `json:"num_units"`
	GoodUnits       int         `json:"good_units"`
	GoodFraction    types.Value `json:"good_fraction"`
	MedianSNR       types.Value `json:"median_snr"`
	ErrorMessage    string      `json:"error_message,omitempty"`
}

// Point is one sample of a unit metric time series.
type Point struct {
	ReportID        string      `json:"report_id"`
	GeneratedAtUnix int64       `json:"generated_at_unix"`
	Value           types.Value `json:"value"`
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open db: %w", err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("history: %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save archives r. An existing report with the same report_id is replaced.
func (s *Store) Save(ctx context.Context, r *types.QualityReport) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("history: marshal report: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO reports (report_id, session_id, generated_at, received_at,
			state, score, num_units, good_units, good_fraction, median_snr, error_message, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ReportID, r.SessionID, r.GeneratedAtUnix, s.now().Unix(),
		r.State, nullable(r.Score), r.Summary.NumUnits, r.Summary.GoodUnits,
		nullable(r.Summary.GoodFraction), nullable(r.Summary.MedianSNR),
		r.ErrorMessage, string(payload),
	)
	if err != nil {
		return fmt.Errorf("history: insert report: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM unit_metrics WHERE report_id = ?`, r.ReportID); err != nil {
		return fmt.Errorf("history: clear unit metrics: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO unit_metrics (report_id, session_id, unit_id, metric, value, generated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("history: prepare unit metrics: %w", err)
	}
	defer stmt.Close()

	for _, u := range r.Units {
		for name, v := range u.Metrics {
			if _, err := stmt.ExecContext(ctx, r.ReportID, r.SessionID, u.UnitID, name, nullable(v), r.GeneratedAtUnix); err != nil {
				return fmt.Errorf("history: insert unit %s metric %s: %w", u.UnitID, name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("history: commit: %w", err)
	}
	return nil
}

// ListReports returns up to limit reports for sessionID, newest first.
// A limit <= 0 returns every report.
func (s *Store) ListReports(ctx context.Context, sessionID string, limit int) ([]ReportRow, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT report_id, session_id, generated_at, received_at, state, score,
			num_units, good_units, good_fraction, median_snr, error_message
		 FROM reports WHERE session_id = ?
		 ORDER BY generated_at DESC, received_at DESC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query reports: %w", err)
	}
	defer rows.Close()

	out := []ReportRow{}
	for rows.Next() {
		var (
			row                     ReportRow
			score, goodFrac, median sql.NullFloat64
		)
		if err := rows.Scan(&row.ReportID, &row.SessionID, &row.GeneratedAtUnix, &row.ReceivedAtUnix,
			&row.State, &score, &row.NumUnits, &row.GoodUnits, &goodFrac, &median, &row.ErrorMessage); err != nil {
			return nil, fmt.Errorf("history: scan report: %w", err)
		}
		row.Score = value(score)
		row.GoodFraction = value(goodFrac)
		row.MedianSNR = value(median)
		out = append(out, row)
	}
	return out, rows.Err()
}

// Report returns the full archived report with the given ID.
func (s *Store) Report(ctx context.Context, reportID string) (*types.QualityReport, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM reports WHERE report_id = ?`, reportID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("history: query report: %w", err)
	}
	var r types.QualityReport
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return nil, fmt.Errorf("history: decode report %s: %w", reportID, err)
	}
	return &r, nil
}

// UnitSeries returns the latest limit values of metric for one unit, oldest
// first. A limit <= 0 returns the whole series.
func (s *Store) UnitSeries(ctx context.Context, sessionID, unitID, metric string, limit int) ([]Point, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT report_id, generated_at, value FROM unit_metrics
		 WHERE session_id = ? AND unit_id = ? AND metric = ?
		 ORDER BY generated_at DESC LIMIT ?`,
		sessionID, unitID, metric, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query series: %w", err)
	}
	defer rows.Close()

	out := []Point{}
	for rows.Next() {
		var (
			p Point
			v sql.NullFloat64
		)
		if err := rows.Scan(&p.ReportID, &p.GeneratedAtUnix, &v); err != nil {
			return nil, fmt.Errorf("history: scan series: %w", err)
		}
		p.Value = value(v)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Prune deletes reports received before cutoff and returns how many were
// removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("history: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM unit_metrics WHERE report_id IN
			(SELECT report_id FROM reports WHERE received_at < ?)`, cutoff.Unix()); err != nil {
		return 0, fmt.Errorf("history: prune unit metrics: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM reports WHERE received_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("history: prune reports: %w", err)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("history: commit: %w", err)
	}
	return n, nil
}

// Run prunes reports older than retention every interval until ctx is
// cancelled. A retention <= 0 keeps everything and returns at once.
func (s *Store) Run(ctx context.Context, retention, interval time.Duration) {
	if retention <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.Prune(ctx, s.now().Add(-retention))
			if err != nil {
				slog.Warn("history: prune failed", "err", err)
				continue
			}
			if n > 0 {
				slog.Info("history: pruned old reports", "count", n)
			}
		}
	}
}

func nullable(v types.Value) interface{} {
	if math.IsNaN(float64(v)) {
		return nil
	}
	return float64(v)
}

func value(n sql.NullFloat64) types.Value {
	if !n.Valid {
		return types.Value(math.NaN())
	}
	return types.Value(n.Float64)
}
