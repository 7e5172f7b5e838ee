// Package export writes session results to local files after every cycle.
//
//   - WriteParquet: one row per unit with a fixed metric schema; metrics not
//     computed for the session are NaN
//   - WriteTextfile: Prometheus text exposition for node-exporter's textfile
//     collector, covering every session of the cycle
//
// Both writers go through a temporary file in the target directory followed
// by a rename, so readers never observe a partial file.
package export
