package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables read by the loader.
const (
	EnvConfig       = "TOKEN_ROLLUP_CONFIG"
	EnvDB           = "TOKEN_ROLLUP_DB"
	EnvLogLevel     = "TOKEN_ROLLUP_LOG_LEVEL"
	EnvScanInterval = "TOKEN_ROLLUP_SCAN_INTERVAL"
)

// Loader provides methods for loading configuration from various sources.
type Loader interface {
	// Load loads configuration with the following precedence:
	// 1. Environment variables
	// 2. Configuration file
	// 3. Default values
	//
	// Returns the merged configuration or an error if validation fails.
	Load() (*Config, error)

	// LoadFromFile decodes a file over the defaults without validating.
	LoadFromFile(path string) (*Config, error)

	// Path returns the file Load reads, or "" when no file is found.
	Path() string
}

// loader implements the Loader interface.
type loader struct {
	configPath string
	getenv     func(string) string
}

// NewLoader creates a new configuration loader.
//
// If configPath is empty, TOKEN_ROLLUP_CONFIG is used, then the first
// existing file of:
// 1. ./config.yaml (current directory)
// 2. ~/.config/token-rollup/config.yaml.
func NewLoader(configPath string) Loader {
	return &loader{
		configPath: configPath,
		getenv:     os.Getenv,
	}
}

// Load implements Loader.Load.
func (l *loader) Load() (*Config, error) {
	cfg := Default()

	explicit := l.explicitPath()
	if path := l.Path(); path != "" {
		fileCfg, err := l.LoadFromFile(path)
		switch {
		case err == nil:
			cfg = fileCfg
		case explicit != "" || !errors.Is(err, ErrConfigNotFound):
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}

	if err := l.applyEnvVars(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFromFile implements Loader.LoadFromFile.
//
// Keys missing from the file keep their default values.
func (l *loader) LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path) // nolint:gosec
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return cfg, nil
}

// Path implements Loader.Path.
func (l *loader) Path() string {
	if explicit := l.explicitPath(); explicit != "" {
		return explicit
	}
	return l.findConfigFile()
}

func (l *loader) explicitPath() string {
	if l.configPath != "" {
		return l.configPath
	}
	return l.getenv(EnvConfig)
}

// findConfigFile searches for a config file in standard locations.
//
// Returns empty string if no config file is found.
func (l *loader) findConfigFile() string {
	candidates := []string{
		"./config.yaml",
		DefaultPath(),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// applyEnvVars applies environment variable overrides to the configuration.
//
// Supported environment variables:
//   - TOKEN_ROLLUP_DB: Path to database file
//   - TOKEN_ROLLUP_LOG_LEVEL: Log level
//   - TOKEN_ROLLUP_SCAN_INTERVAL: Scan interval (Go duration, e.g. 1m30s)
func (l *loader) applyEnvVars(cfg *Config) error {
	if dbPath := l.getenv(EnvDB); dbPath != "" {
		cfg.Storage.DBPath = dbPath
	}

	if logLevel := l.getenv(EnvLogLevel); logLevel != "" {
		cfg.Logging.Level = strings.ToLower(logLevel)
	}

	if interval := l.getenv(EnvScanInterval); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalidEnv, EnvScanInterval, interval, err)
		}
		cfg.Scan.Interval = d
	}

	return nil
}

// Load is a convenience function that creates a loader and loads configuration.
//
// Equivalent to:
//
//	loader := NewLoader("")
//	return loader.Load()
func Load() (*Config, error) {
	return NewLoader("").Load()
}

// LoadFromFile is a convenience function that loads and validates the
// configuration in path, with environment overrides applied.
func LoadFromFile(path string) (*Config, error) {
	return NewLoader(path).Load()
}

// Save writes the configuration to a YAML file.
//
// Creates parent directories if they don't exist.
// File is created with 0600 permissions (read/write for owner only).
func Save(cfg *Config, path string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := Marshal(cfg)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Marshal renders the configuration as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return buf.Bytes(), nil
}
