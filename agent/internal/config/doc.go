// Package config loads and watches the agent configuration file (config.yaml).
//
// Top-level types:
//   - Config{Agent}: config tree parsed from YAML; a server section in the
//     same file is ignored
//   - AgentConfig: server_endpoint, interval, buffer_size, workers,
//     server_auth, metrics, export, sessions []
//   - Session: id, recording (binary traces), sorting (neuroscope|csv),
//     locations (optional spike positions)
//   - MetricsConfig: metric names and per-metric parameters;
//     EngineOptions() converts it to compute.Options
//   - AuthConfig: mode (mtls|apikey|none), cert/key/ca files, header,
//     key_env; Key() resolves the key from the environment
//
// Load(path) reads the YAML file, applies defaults (5m interval, 100 buffer,
// 2 workers, default metric parameters), then validates required fields and
// enums.
//
// Watch(ctx, path, onChange) uses fsnotify on the parent directory and calls
// onChange with the newly parsed Config once a burst of save events settles.
package config
