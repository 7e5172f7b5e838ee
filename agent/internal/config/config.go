package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultInterval   = 5 * time.Minute
	DefaultBufferSize = 100
	DefaultWorkers    = 2
	DefaultAuthHeader = "x-api-key"
)

// Config is the top-level agent configuration.
// The server section of a shared config file is ignored here.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all agent-side settings.
type AgentConfig struct {
	// ServerEndpoint is the gRPC address of spikeqc-server (host:port).
	// Empty disables shipping; reports are only exported locally.
	ServerEndpoint string `yaml:"server_endpoint"`

	// Interval controls how often every session is re-evaluated.
	Interval time.Duration `yaml:"interval"`

	// BufferSize is the maximum number of reports held in memory when
	// the server is unreachable.
	BufferSize int `yaml:"buffer_size"`

	// Workers bounds how many sessions are processed concurrently.
	Workers int `yaml:"workers"`

	// ServerAuth configures how the agent authenticates to spikeqc-server.
	ServerAuth AuthConfig `yaml:"server_auth"`

	// Metrics selects the quality metrics and their parameters.
	Metrics MetricsConfig `yaml:"metrics"`

	// Export configures local report files.
	Export ExportConfig `yaml:"export"`

	// Sessions is the list of recording/sorting pairs to evaluate.
	Sessions []Session `yaml:"sessions"`
}

// Session describes one recording and its spike sorting.
type Session struct {
	// ID is a unique, human-readable identifier for this session.
	ID string `yaml:"id"`

	Recording RecordingConfig `yaml:"recording"`
	Sorting   SortingConfig   `yaml:"sorting"`
	Locations LocationsConfig `yaml:"locations"`
}

// RecordingConfig describes raw trace files.
type RecordingConfig struct {
	// Format is the container format: binary.
	Format string `yaml:"format"`

	// Paths lists one file per segment, in segment order.
	Paths []string `yaml:"paths"`

	// DType is the sample type: int16 | int32 | float32 | float64.
	DType string `yaml:"dtype"`

	NumChannels       int     `yaml:"num_channels"`
	SamplingFrequency float64 `yaml:"sampling_frequency"`

	// GainToUV and OffsetToUV convert raw samples to microvolts.
	GainToUV   float64 `yaml:"gain_to_uv"`
	OffsetToUV float64 `yaml:"offset_to_uv"`

	// HeaderBytes is skipped at the start of every file.
	HeaderBytes int64 `yaml:"header_bytes"`

	// ChannelIDs optionally names the channels; defaults to "0".."n-1".
	ChannelIDs []string `yaml:"channel_ids"`
}

// SortingConfig describes the spike sorting output.
type SortingConfig struct {
	// Format is neuroscope (.res.N/.clu.N pairs) or csv.
	Format string `yaml:"format"`

	// Paths lists the sorting files. For neuroscope, every .res.N needs a
	// matching .clu.N.
	Paths []string `yaml:"paths"`

	// KeepMUAUnits keeps neuroscope cluster 1 (multi-unit activity).
	// Defaults to true.
	KeepMUAUnits *bool `yaml:"keep_mua_units"`

	// ExcludeShanks skips the neuroscope .res.N/.clu.N pairs whose N is
	// listed.
	ExcludeShanks []int `yaml:"exclude_shanks"`
}

// KeepMUA reports whether multi-unit clusters are kept.
func (s SortingConfig) KeepMUA() bool {
	return s.KeepMUAUnits == nil || *s.KeepMUAUnits
}

// LocationsConfig points at an optional per-spike location file.
type LocationsConfig struct {
	Path string `yaml:"path"`
}

// ExportConfig configures local outputs written after every cycle.
type ExportConfig struct {
	// ParquetDir receives one <session>.parquet file per session.
	ParquetDir string `yaml:"parquet_dir"`

	// TextfilePath is a Prometheus textfile-collector output.
	TextfilePath string `yaml:"textfile_path"`
}

// AuthConfig specifies how the agent authenticates to the server.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | none.
	Mode string `yaml:"mode"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// API key fields, used when Mode == "apikey".
	// Header is the gRPC metadata key to send the key in.
	Header string `yaml:"header"`
	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env"`
}

// Key returns the API key value resolved from the environment.
// Returns empty string if KeyEnv is unset or the variable is not found.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns Header, defaulting to "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header == "" {
		return DefaultAuthHeader
	}
	return a.Header
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			Interval:   DefaultInterval,
			BufferSize: DefaultBufferSize,
			Workers:    DefaultWorkers,
			Metrics:    defaultMetrics(),
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	a := cfg.Agent
	if a.Interval <= 0 {
		return fmt.Errorf("agent.interval must be positive")
	}
	if a.BufferSize <= 0 {
		return fmt.Errorf("agent.buffer_size must be positive")
	}
	if a.Workers <= 0 {
		return fmt.Errorf("agent.workers must be positive")
	}
	switch a.ServerAuth.Mode {
	case "mtls", "apikey", "none", "":
	default:
		return fmt.Errorf("agent.server_auth: unknown mode %q", a.ServerAuth.Mode)
	}
	if _, err := a.Metrics.EngineOptions(); err != nil {
		return fmt.Errorf("agent.metrics: %w", err)
	}

	seen := make(map[string]bool, len(a.Sessions))
	for i, s := range a.Sessions {
		if s.ID == "" {
			return fmt.Errorf("sessions[%d]: id is required", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("sessions[%d]: duplicate id %q", i, s.ID)
		}
		seen[s.ID] = true
		if err := validateSession(s); err != nil {
			return fmt.Errorf("sessions[%d] %q: %w", i, s.ID, err)
		}
	}
	return nil
}

func validateSession(s Session) error {
	r := s.Recording
	switch r.Format {
	case "binary", "":
	default:
		return fmt.Errorf("recording: unknown format %q", r.Format)
	}
	if len(r.Paths) == 0 {
		return fmt.Errorf("recording: paths is required")
	}
	switch r.DType {
	case "int16", "int32", "float32", "float64", "":
	default:
		return fmt.Errorf("recording: unknown dtype %q", r.DType)
	}
	if r.NumChannels <= 0 {
		return fmt.Errorf("recording: num_channels must be positive")
	}
	if r.SamplingFrequency <= 0 {
		return fmt.Errorf("recording: sampling_frequency must be positive")
	}
	if r.HeaderBytes < 0 {
		return fmt.Errorf("recording: header_bytes must be >= 0")
	}
	if len(r.ChannelIDs) > 0 && len(r.ChannelIDs) != r.NumChannels {
		return fmt.Errorf("recording: %d channel_ids for %d channels", len(r.ChannelIDs), r.NumChannels)
	}

	switch s.Sorting.Format {
	case "neuroscope":
		if len(s.Sorting.Paths) == 0 || len(s.Sorting.Paths)%2 != 0 {
			return fmt.Errorf("sorting: neuroscope needs .res/.clu path pairs, got %d paths", len(s.Sorting.Paths))
		}
	case "csv":
		if len(s.Sorting.Paths) != 1 {
			return fmt.Errorf("sorting: csv needs exactly one path, got %d", len(s.Sorting.Paths))
		}
	default:
		return fmt.Errorf("sorting: unknown format %q", s.Sorting.Format)
	}
	return nil
}
