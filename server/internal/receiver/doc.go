// Package receiver implements reportrpc.ReportServiceServer, the gRPC
// endpoint that accepts QualityReport messages from spikeqc-agent instances.
//
// SendReport rejects reports without session_id, report_id or unit IDs
// (codes.InvalidArgument). Accepted reports are archived to history when
// enabled, stored as the session's latest report and then run through the
// alert engine. An archive failure returns codes.Unavailable so the agent
// keeps the report buffered and retries. Authentication is enforced upstream
// by the gRPC interceptor from package auth.
package receiver
