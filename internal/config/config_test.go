package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "exemplar.yaml")
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.LogFormat != "text" {
		t.Errorf("LogFormat = %q, want %q", cfg.LogFormat, "text")
	}
	if !cfg.Store.Enabled {
		t.Error("Store.Enabled should be true by default")
	}
	if cfg.Guess.MaxSamples != 2000 {
		t.Errorf("Guess.MaxSamples = %d, want 2000", cfg.Guess.MaxSamples)
	}
	if cfg.Match.Timeout() != 250*time.Millisecond {
		t.Errorf("Match.Timeout() = %v", cfg.Match.Timeout())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
log_format: json
content:
  path: ./study.yaml
  params:
    version: "2"
store:
  enabled: false
sink:
  endpoint: https://collect.example.org/have_some_data
  allowed_domains: [collect.example.org]
  timeout: 5
guess:
  max_samples: 500
inspector:
  enabled: true
sandbox:
  allowed_paths: [./studies]
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q", cfg.LogFormat)
	}
	if cfg.Content.Path != "./study.yaml" || cfg.Content.Params["version"] != "2" {
		t.Errorf("Content = %+v", cfg.Content)
	}
	if cfg.Store.Enabled {
		t.Error("Store.Enabled should be false")
	}
	if cfg.Sink.Timeout() != 5*time.Second {
		t.Errorf("Sink.Timeout() = %v", cfg.Sink.Timeout())
	}
	if cfg.Sink.Retries != 3 {
		t.Errorf("Sink.Retries = %d, want default 3", cfg.Sink.Retries)
	}
	if cfg.Guess.MaxSamples != 500 {
		t.Errorf("Guess.MaxSamples = %d", cfg.Guess.MaxSamples)
	}
	if cfg.Guess.ManyRepeat != 7 {
		t.Errorf("Guess.ManyRepeat = %d, want default 7", cfg.Guess.ManyRepeat)
	}
	if cfg.Guess.MaxSampleLen != 1024 {
		t.Errorf("Guess.MaxSampleLen = %d, want default 1024", cfg.Guess.MaxSampleLen)
	}
	if !cfg.Inspector.Enabled || cfg.Inspector.Addr != "127.0.0.1:4200" {
		t.Errorf("Inspector = %+v", cfg.Inspector)
	}
	if len(cfg.Sandbox.AllowedPaths) != 1 || cfg.Sandbox.MaxFileSize != "1MB" {
		t.Errorf("Sandbox = %+v", cfg.Sandbox)
	}
}

func TestLoadConfigMissing(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/path/exemplar.yaml")
	if err != nil {
		t.Fatalf("expected no error for missing file, got: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want default %q", cfg.LogLevel, "info")
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"bad yaml", "log_level: [unterminated"},
		{"bad log format", "log_format: xml"},
		{"store without path", "store: {enabled: true, path: ''}"},
		{"zero samples", "guess: {max_samples: 0}"},
		{"zero sample length", "guess: {max_sample_len: 0}"},
		{"zero match timeout", "match: {timeout_ms: 0}"},
		{"negative retries", "sink: {retries: -1}"},
		{"inspector without addr", "inspector: {enabled: true, addr: ''}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, tt.data)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadConfigEnvInterpolation(t *testing.T) {
	t.Setenv("TEST_SINK_TOKEN", "tok123")

	path := writeConfig(t, `
sink:
  endpoint: https://collect.example.org/data
  headers:
    Authorization: "Bearer ${TEST_SINK_TOKEN}"
    X-Unset: "${UNSET_VAR_XYZ_123}"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got := cfg.Sink.Headers["Authorization"]; got != "Bearer tok123" {
		t.Errorf("Authorization = %q", got)
	}
	if got := cfg.Sink.Headers["X-Unset"]; got != "${UNSET_VAR_XYZ_123}" {
		t.Errorf("X-Unset = %q, want unresolved", got)
	}
}

func TestLoadConfigSessionEnv(t *testing.T) {
	t.Setenv(EnvParticipantID, "prolific-42")
	t.Setenv(EnvSessionID, "")

	path := writeConfig(t, `
session:
  id: from-file
  study_id: pilot
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Session.ParticipantID != "prolific-42" {
		t.Errorf("ParticipantID = %q", cfg.Session.ParticipantID)
	}
	if cfg.Session.ID != "from-file" {
		t.Errorf("ID = %q, empty env should not override", cfg.Session.ID)
	}
	if cfg.Session.StudyID != "pilot" {
		t.Errorf("StudyID = %q", cfg.Session.StudyID)
	}
}

func TestInterpolateEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR_A", "hello")
	t.Setenv("TEST_VAR_B", "world")

	tests := []struct {
		input string
		want  string
	}{
		{"${TEST_VAR_A}", "hello"},
		{"${TEST_VAR_A} ${TEST_VAR_B}", "hello world"},
		{"prefix-${TEST_VAR_A}-suffix", "prefix-hello-suffix"},
		{"${NONEXISTENT_VAR_XYZ}", "${NONEXISTENT_VAR_XYZ}"},
		{"no vars here", "no vars here"},
	}

	for _, tt := range tests {
		got := interpolateEnvVars(tt.input)
		if got != tt.want {
			t.Errorf("interpolateEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
