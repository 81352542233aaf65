// Package sandbox limits which study files a session may read. Agent
// clients name study files by path, so every read goes through a Sandbox.
package sandbox

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/go-units"
)

// DefaultMaxFileSize bounds a study file when no limit is configured.
const DefaultMaxFileSize = "1MB"

// Sandbox enforces allowed/denied directories and a file size limit.
type Sandbox struct {
	allowed []string
	denied  []string
	maxSize int64
}

// Config holds the sandbox configuration.
type Config struct {
	AllowedPaths []string `yaml:"allowed_paths"`
	DeniedPaths  []string `yaml:"denied_paths"`
	MaxFileSize  string   `yaml:"max_file_size"` // e.g. "512KB", "1MB"
}

// New creates a Sandbox. Paths are made absolute; an empty MaxFileSize
// uses DefaultMaxFileSize.
func New(cfg Config) (*Sandbox, error) {
	s := &Sandbox{}

	var err error
	if s.allowed, err = absAll(cfg.AllowedPaths); err != nil {
		return nil, err
	}
	if s.denied, err = absAll(cfg.DeniedPaths); err != nil {
		return nil, err
	}

	size := cfg.MaxFileSize
	if size == "" {
		size = DefaultMaxFileSize
	}
	if s.maxSize, err = units.RAMInBytes(size); err != nil {
		return nil, fmt.Errorf("sandbox: parse max_file_size %q: %w", size, err)
	}
	if s.maxSize <= 0 {
		return nil, fmt.Errorf("sandbox: max_file_size must be positive, got %q", size)
	}
	return s, nil
}

func absAll(paths []string) ([]string, error) {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("sandbox: resolve %q: %w", p, err)
		}
		out = append(out, resolve(abs))
	}
	return out, nil
}

// CheckPath reports whether path may be read. Symlinks are resolved, so a
// link cannot lead out of an allowed directory.
// Denied directories win over allowed ones; with no allowed directories
// every path that is not denied is allowed.
func (s *Sandbox) CheckPath(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("sandbox: resolve %q: %w", path, err)
	}
	abs = resolve(abs)

	for _, d := range s.denied {
		if within(abs, d) {
			return fmt.Errorf("sandbox: %q is under denied path %q", abs, d)
		}
	}
	if len(s.allowed) == 0 {
		return nil
	}
	for _, a := range s.allowed {
		if within(abs, a) {
			return nil
		}
	}
	return fmt.Errorf("sandbox: %q is not under any allowed path %v", abs, s.allowed)
}

// resolve follows symlinks in the longest existing prefix of abs.
func resolve(abs string) string {
	rest := ""
	for dir := abs; ; {
		if real, err := filepath.EvalSymlinks(dir); err == nil {
			return filepath.Join(real, rest)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs
		}
		rest = filepath.Join(filepath.Base(dir), rest)
		dir = parent
	}
}

func within(path, dir string) bool {
	return path == dir || strings.HasPrefix(path, dir+string(filepath.Separator))
}

// ReadFile reads path after checking it and its size.
func (s *Sandbox) ReadFile(path string) ([]byte, error) {
	if err := s.CheckPath(path); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// One byte past the limit tells an oversized file from one that fits.
	data, err := io.ReadAll(io.LimitReader(f, s.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("sandbox: read %q: %w", path, err)
	}
	if int64(len(data)) > s.maxSize {
		return nil, fmt.Errorf("sandbox: %q exceeds maximum size %s", path, units.BytesSize(float64(s.maxSize)))
	}
	return data, nil
}

// MaxFileSize returns the size limit in bytes.
func (s *Sandbox) MaxFileSize() int64 {
	return s.maxSize
}
