// Package history persists every received QualityReport in SQLite
// (modernc.org/sqlite, no cgo) so the API can show how a session's quality
// evolved across re-sorts and re-evaluations.
//
// Two tables are kept: reports holds one summary row plus the full JSON
// payload per report_id, and unit_metrics holds one row per
// (report, unit, metric) for time-series queries. NaN metric values are
// stored as NULL. Saving the same report_id twice replaces the earlier rows,
// so agent retries are idempotent.
//
// Prune deletes reports received before a cutoff; Run calls it periodically
// with the configured retention.
package history
