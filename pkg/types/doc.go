// Package types defines shared Go types used by both the agent and server.
// These are the canonical representations of unit quality reports as they
// travel over the ReportService gRPC call and are stored by the server.
//
// Metric values that could not be computed are NaN in memory. JSON has no
// NaN, so UnitQuality marshals them as null and restores NaN on decode.
package types
