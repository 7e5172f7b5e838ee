// Package config loads the server-side configuration from the `server:` section
// of config.yaml (the `agent:` key is ignored by the server binary).
//
// Config fields:
//   - GRPCPort: port for the gRPC receiver (default 50051)
//   - HTTPPort: port for the REST API and WebSocket hub (default 8080)
//   - Auth.Mode: "apikey" or "none"
//   - Auth.KeyEnv: environment variable holding the expected API key
//   - Auth.Header: gRPC metadata/HTTP header name (default "x-api-key")
//   - Report.TTL: how long a session's latest report remains live (default 24h)
//   - Storage: sqlite report history path and retention (default 720h)
//   - StreamInterval: WebSocket broadcast period (default 5s)
//   - Alerts: rules ("field op value") and webhook targets
//
// Load(path) applies defaults before unmarshalling, then validates.
// ParseCondition is shared with the alert engine so that malformed rules are
// rejected at startup.
package config
