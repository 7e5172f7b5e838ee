// Package shipper sends QualityReport messages to spikeqc-server via gRPC
// (ReportService.SendReport unary RPC, JSON codec from pkg/reportrpc).
//
// Shipper.Ship() is non-blocking: results are converted to reports and placed
// in an in-memory channel sized by agent.buffer_size. When the buffer is full
// the oldest entry is evicted so the latest quality data is always preserved.
//
// Shipper.Run() drains the buffer in a loop, reconnecting with truncated
// exponential backoff (1s→60s, ±25% jitter) on connection or send errors.
// Permanent gRPC errors (Unauthenticated, PermissionDenied, InvalidArgument)
// discard the report immediately rather than retrying.
//
// Auth: mTLS via credentials.NewTLS(), API key via gRPC metadata header,
// or insecure (plaintext) for local development.
//
// Pending() reports how many reports are still buffered; one-shot runs poll
// it before exiting.
package shipper
