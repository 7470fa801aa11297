// Package config provides configuration management for token-rollup.
//
// Configuration is loaded from multiple sources with the following precedence:
// 1. Command-line flags (highest priority, applied by the caller)
// 2. Environment variables
// 3. Configuration file
// 4. Default values (lowest priority)
//
// Example usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, p := range cfg.Providers {
//	    fmt.Printf("%s: %v\n", p.Provider, p.Roots)
//	}
package config

import (
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/0xmhha/token-rollup/pkg/parser"
)

// Identity source kinds.
const (
	IdentitySourceBolt   = "bolt"
	IdentitySourceSQLite = "sqlite"
)

// Config represents the complete application configuration.
//
// Invariants:
// - Providers has at least one entry, each with a known provider tag and
// at least one root
// - Scan.Interval, Scan.CycleBudget, Scan.FileBudget must be > 0
// - Scan.Workers and Scan.MaxReadBytes must be > 0
// - Storage.DBPath must be set.
type Config struct {
	// Log roots per provider
	Providers []ProviderConfig `yaml:"providers"`

	// Scan scheduling and limits
	Scan ScanConfig `yaml:"scan"`

	// Storage settings
	Storage StorageConfig `yaml:"storage"`

	// Session identity settings
	Identity IdentityConfig `yaml:"identity"`

	// Prometheus endpoint settings
	Metrics MetricsConfig `yaml:"metrics"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging"`
}

// ProviderConfig names the directories holding one provider's logs.
type ProviderConfig struct {
	// Display name, defaults to the provider tag
	Name string `yaml:"name,omitempty"`

	// Provider tag (claude-code, codex, jsonl)
	Provider parser.Provider `yaml:"provider"`

	// Directories walked for *.jsonl files; ~ is expanded
	Roots []string `yaml:"roots"`
}

// ScanConfig contains scan scheduling settings.
type ScanConfig struct {
	// Time between periodic scan cycles
	Interval time.Duration `yaml:"interval"`

	// Files scanned concurrently within a cycle
	Workers int `yaml:"workers"`

	// Wall-clock budget of a whole cycle
	CycleBudget time.Duration `yaml:"cycle_budget"`

	// Wall-clock budget of a single file
	FileBudget time.Duration `yaml:"file_budget"`

	// Maximum bytes read from one file per scan
	MaxReadBytes int64 `yaml:"max_read_bytes"`

	// Run a cycle as soon as the scheduler starts
	RunOnStart bool `yaml:"run_on_start"`

	// Trigger scans on file system changes
	Watch bool `yaml:"watch"`

	// Quiet period before a change triggers a scan
	WatchDebounce time.Duration `yaml:"watch_debounce"`
}

// StorageConfig contains storage-related settings.
type StorageConfig struct {
	// Path to BoltDB database file
	DBPath string `yaml:"db_path"`

	// How long to wait for the database file lock
	Timeout time.Duration `yaml:"timeout"`
}

// IdentityConfig selects where session identities come from.
type IdentityConfig struct {
	// bolt (identities stored next to the buckets) or sqlite
	Source string `yaml:"source"`

	// sqlite database holding the identity table
	SQLiteDSN string `yaml:"sqlite_dsn,omitempty"`

	// Query returning session_id, agent_name, project_path, last_seen_at
	SQLiteQuery string `yaml:"sqlite_query,omitempty"`

	// Maximum age of the cached identity snapshot
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// MetricsConfig contains Prometheus endpoint settings.
type MetricsConfig struct {
	// Listen address for /metrics; empty disables the endpoint
	Listen string `yaml:"listen"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `yaml:"level"`

	// Log output destination (stdout, stderr, file path)
	Output string `yaml:"output"`

	// Log format (text, json)
	Format string `yaml:"format"`
}

// Validate checks if the configuration satisfies all invariants.
//
// Returns the first violated invariant wrapped around one of the
// sentinel errors in errors.go.
//
// Thread-safety: This method is read-only and thread-safe.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return ErrNoProviders
	}

	known := parser.DefaultRegistry()
	names := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if _, err := known.Lookup(p.Provider); err != nil {
			return fmt.Errorf("%w: %q", ErrUnknownProvider, p.Provider)
		}
		name := p.DisplayName()
		if names[name] {
			return fmt.Errorf("%w: %q", ErrDuplicateProvider, name)
		}
		names[name] = true
		if len(lo.Compact(p.Roots)) == 0 {
			return fmt.Errorf("%w: %q", ErrNoRoots, name)
		}
	}

	if c.Scan.Interval <= 0 {
		return ErrInvalidScanInterval
	}
	if c.Scan.Workers <= 0 {
		return ErrInvalidWorkers
	}
	if c.Scan.CycleBudget <= 0 || c.Scan.FileBudget <= 0 {
		return ErrInvalidBudget
	}
	if c.Scan.MaxReadBytes <= 0 {
		return ErrInvalidMaxReadBytes
	}
	if c.Scan.Watch && c.Scan.WatchDebounce <= 0 {
		return ErrInvalidWatchDebounce
	}

	if c.Storage.DBPath == "" {
		return ErrNoDBPath
	}
	if c.Storage.Timeout < 0 {
		return ErrInvalidStorageTimeout
	}

	switch c.Identity.Source {
	case IdentitySourceBolt:
	case IdentitySourceSQLite:
		if c.Identity.SQLiteDSN == "" {
			return ErrNoSQLiteDSN
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidIdentitySource, c.Identity.Source)
	}
	if c.Identity.RefreshInterval < 0 {
		return ErrInvalidRefreshInterval
	}

	if !lo.Contains([]string{"debug", "info", "warn", "error"}, c.Logging.Level) {
		return ErrInvalidLogLevel
	}
	if !lo.Contains([]string{"text", "json"}, c.Logging.Format) {
		return ErrInvalidLogFormat
	}

	return nil
}

// DisplayName returns Name, or the provider tag when Name is empty.
func (p ProviderConfig) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return string(p.Provider)
}

// Default returns a configuration with sensible default values.
//
// The default providers point at the standard Claude Code and Codex CLI
// log directories. Roots that do not exist are skipped at scan time.
func Default() *Config {
	return &Config{
		Providers: []ProviderConfig{
			{
				Name:     "claude-code",
				Provider: parser.ProviderClaudeCode,
				Roots:    []string{"~/.claude/projects", "~/.config/claude/projects"},
			},
			{
				Name:     "codex",
				Provider: parser.ProviderCodex,
				Roots:    []string{"~/.codex/sessions"},
			},
		},
		Scan: ScanConfig{
			Interval:      5 * time.Minute,
			Workers:       4,
			CycleBudget:   4 * time.Minute,
			FileBudget:    30 * time.Second,
			MaxReadBytes:  64 << 20,
			RunOnStart:    true,
			Watch:         false,
			WatchDebounce: 2 * time.Second,
		},
		Storage: StorageConfig{
			DBPath:  defaultDBPath(),
			Timeout: time.Second,
		},
		Identity: IdentityConfig{
			Source:          IdentitySourceBolt,
			RefreshInterval: 30 * time.Second,
		},
		Metrics: MetricsConfig{},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stderr",
			Format: "text",
		},
	}
}
