package app

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultOut is the build directory, relative to the source root, used when
// none is given.
const DefaultOut = "build"

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	Top string // source root
	Out string // build root, relative to Top unless absolute

	Jobs      int
	KeepGoing bool
	Targets   []string
	DestDir   string
	CacheDir  string

	LogFormat   string
	LogLevel    string
	MetricsFile string
	Progress    bool
}

// NewConfig fills defaults and validates cfg.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.Top == "" {
		cfg.Top = "."
	}
	if cfg.Out == "" {
		cfg.Out = DefaultOut
	}
	if cfg.Jobs < 1 {
		return nil, fmt.Errorf("jobs must be at least 1, got %d", cfg.Jobs)
	}

	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, errors.New("invalid log-format: must be 'text' or 'json'")
	}

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	switch cfg.LogLevel {
	case "":
		cfg.LogLevel = "info"
	case "debug", "info", "warn", "error":
	default:
		return nil, errors.New("invalid log-level: must be 'debug', 'info', 'warn', or 'error'")
	}

	if cfg.DestDir != "" {
		abs, err := filepath.Abs(cfg.DestDir)
		if err != nil {
			return nil, fmt.Errorf("invalid destdir: %w", err)
		}
		cfg.DestDir = abs
	}
	if cfg.CacheDir != "" {
		abs, err := filepath.Abs(cfg.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("invalid cache-dir: %w", err)
		}
		cfg.CacheDir = abs
	}
	return &cfg, nil
}

// Dirs returns the absolute source and build roots.
func (c *Config) Dirs() (src, bld string, err error) {
	src, err = filepath.Abs(c.Top)
	if err != nil {
		return "", "", fmt.Errorf("invalid top directory: %w", err)
	}
	src, err = filepath.EvalSymlinks(src)
	if err != nil {
		return "", "", fmt.Errorf("invalid top directory: %w", err)
	}
	bld = c.Out
	if !filepath.IsAbs(bld) {
		bld = filepath.Join(src, bld)
	}
	return src, filepath.Clean(bld), nil
}
