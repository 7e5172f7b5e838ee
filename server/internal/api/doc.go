// Package api implements the HTTP REST API for spikeqc-server.
//
// New(store, history, alerts) returns an http.Handler that serves:
//
//	GET /api/v1/summary                                 session state counts, unit totals, firing alerts
//	GET /api/v1/sessions                                live sessions with diagnostics
//	GET /api/v1/sessions/{id}                           one session with its units; 404 if unknown or stale
//	GET /api/v1/sessions/{id}/history?limit=            archived reports, newest first
//	GET /api/v1/sessions/{id}/units/{unit}/series?metric=&limit=
//	                                                    one unit metric over time, oldest first
//	GET /api/v1/alerts                                  firing and recently resolved alerts
//	GET /api/v1/snapshot                                summary, sessions and alerts in one document
//
// Every endpoint responds with application/json and returns 405 for
// methods other than GET. History endpoints answer 404 when the server runs
// without a history store. Metric values that were not computed are null.
package api
