// Package store holds the latest quality report per recording session in
// memory. Reports are keyed by session_id; a newer report for the same
// session replaces the previous one. Entries not refreshed within the TTL
// are excluded from List and evicted by the background Run loop.
//
// Long-term report history lives in the history package.
package store
