package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cgast/exemplar/internal/sandbox"
)

// Config represents the runtime configuration from exemplar.yaml.
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	LogFormat string          `yaml:"log_format"` // "text" or "json"
	Content   ContentConfig   `yaml:"content"`
	Session   SessionConfig   `yaml:"session"`
	Store     StoreConfig     `yaml:"store"`
	Sink      SinkConfig      `yaml:"sink"`
	Guess     GuessConfig     `yaml:"guess"`
	Match     MatchConfig     `yaml:"match"`
	Inspector InspectorConfig `yaml:"inspector"`
	Sandbox   sandbox.Config  `yaml:"sandbox"`
}

// ContentConfig selects the study to run.
type ContentConfig struct {
	Path   string            `yaml:"path"` // empty means the bundled study
	Params map[string]string `yaml:"params"`
}

// SessionConfig identifies the participant run. Empty IDs are generated
// or left blank.
type SessionConfig struct {
	ID            string `yaml:"id"`
	ParticipantID string `yaml:"participant_id"`
	StudyID       string `yaml:"study_id"`
}

// StoreConfig defines the local record store.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// SinkConfig defines the remote collection endpoint.
type SinkConfig struct {
	Endpoint       string            `yaml:"endpoint"` // empty disables uploads
	AllowedDomains []string          `yaml:"allowed_domains"`
	Headers        map[string]string `yaml:"headers"`
	TimeoutSeconds int               `yaml:"timeout"`
	Retries        int               `yaml:"retries"`
}

// GuessConfig bounds the guess comparison sample.
type GuessConfig struct {
	MaxSamples   int `yaml:"max_samples"`
	ManyRepeat   int `yaml:"many_repeat"`
	MaxSampleLen int `yaml:"max_sample_len"`
}

// MatchConfig bounds pattern matching.
type MatchConfig struct {
	TimeoutMs int `yaml:"timeout_ms"`
}

// InspectorConfig defines the experimenter's HTTP monitor.
type InspectorConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Timeout returns the sink request timeout.
func (c SinkConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Timeout returns the per-match timeout.
func (c MatchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		LogLevel:  "info",
		LogFormat: "text",
		Store: StoreConfig{
			Enabled: true,
			Path:    "exemplar.db",
		},
		Sink: SinkConfig{
			TimeoutSeconds: 10,
			Retries:        3,
		},
		Guess: GuessConfig{
			MaxSamples:   2000,
			ManyRepeat:   7,
			MaxSampleLen: 1024,
		},
		Match: MatchConfig{
			TimeoutMs: 250,
		},
		Inspector: InspectorConfig{
			Addr: "127.0.0.1:4200",
		},
		Sandbox: sandbox.Config{
			MaxFileSize: sandbox.DefaultMaxFileSize,
		},
	}
}

// Environment variables that override the session section.
const (
	EnvSessionID     = "EXEMPLAR_SESSION_ID"
	EnvParticipantID = "EXEMPLAR_PARTICIPANT_ID"
	EnvStudyID       = "EXEMPLAR_STUDY_ID"
)

// LoadConfig reads and parses a runtime config YAML file. ${VAR}
// references are replaced from the environment before parsing, and the
// EXEMPLAR_* variables override the session section.
// Returns default config if the file doesn't exist.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err == nil {
		if err := yaml.Unmarshal([]byte(interpolateEnvVars(string(data))), &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) {
	for env, dst := range map[string]*string{
		EnvSessionID:     &cfg.Session.ID,
		EnvParticipantID: &cfg.Session.ParticipantID,
		EnvStudyID:       &cfg.Session.StudyID,
	} {
		if v, ok := os.LookupEnv(env); ok && v != "" {
			*dst = v
		}
	}
}

// Validate checks values that would otherwise fail later.
func (c Config) Validate() error {
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	if c.Store.Enabled && c.Store.Path == "" {
		return fmt.Errorf("store.path is required when the store is enabled")
	}
	if c.Guess.MaxSamples < 1 {
		return fmt.Errorf("guess.max_samples must be positive, got %d", c.Guess.MaxSamples)
	}
	if c.Guess.ManyRepeat < 1 {
		return fmt.Errorf("guess.many_repeat must be positive, got %d", c.Guess.ManyRepeat)
	}
	if c.Guess.MaxSampleLen < 1 {
		return fmt.Errorf("guess.max_sample_len must be positive, got %d", c.Guess.MaxSampleLen)
	}
	if c.Match.TimeoutMs < 1 {
		return fmt.Errorf("match.timeout_ms must be positive, got %d", c.Match.TimeoutMs)
	}
	if c.Inspector.Enabled && c.Inspector.Addr == "" {
		return fmt.Errorf("inspector.addr is required when the inspector is enabled")
	}
	if c.Sink.Retries < 0 {
		return fmt.Errorf("sink.retries must not be negative, got %d", c.Sink.Retries)
	}
	return nil
}

// envVarPattern matches ${VAR_NAME} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// interpolateEnvVars replaces ${VAR_NAME} patterns with environment variable values.
func interpolateEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match // Leave unresolved if not set.
	})
}
