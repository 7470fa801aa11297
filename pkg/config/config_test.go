package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xmhha/token-rollup/pkg/parser"
)

// isolate points HOME at an empty directory so no user config is found.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(EnvConfig, "")
	t.Setenv(EnvDB, "")
	t.Setenv(EnvLogLevel, "")
	t.Setenv(EnvScanInterval, "")
	return home
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NotNil(t, cfg)

	require.NoError(t, cfg.Validate())
	assert.Len(t, cfg.Providers, 2)
	assert.Equal(t, 5*time.Minute, cfg.Scan.Interval)
	assert.Equal(t, int64(64<<20), cfg.Scan.MaxReadBytes)
	assert.True(t, cfg.Scan.RunOnStart)
	assert.Equal(t, IdentitySourceBolt, cfg.Identity.Source)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{
			name:   "valid default config",
			mutate: func(*Config) {},
		},
		{
			name:    "no providers",
			mutate:  func(c *Config) { c.Providers = nil },
			wantErr: ErrNoProviders,
		},
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.Providers[0].Provider = "gemini" },
			wantErr: ErrUnknownProvider,
		},
		{
			name: "duplicate provider name",
			mutate: func(c *Config) {
				c.Providers[1].Name = c.Providers[0].Name
			},
			wantErr: ErrDuplicateProvider,
		},
		{
			name:    "provider without roots",
			mutate:  func(c *Config) { c.Providers[0].Roots = []string{""} },
			wantErr: ErrNoRoots,
		},
		{
			name:    "zero interval",
			mutate:  func(c *Config) { c.Scan.Interval = 0 },
			wantErr: ErrInvalidScanInterval,
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Scan.Workers = 0 },
			wantErr: ErrInvalidWorkers,
		},
		{
			name:    "zero file budget",
			mutate:  func(c *Config) { c.Scan.FileBudget = 0 },
			wantErr: ErrInvalidBudget,
		},
		{
			name:    "zero max read bytes",
			mutate:  func(c *Config) { c.Scan.MaxReadBytes = 0 },
			wantErr: ErrInvalidMaxReadBytes,
		},
		{
			name: "watch without debounce",
			mutate: func(c *Config) {
				c.Scan.Watch = true
				c.Scan.WatchDebounce = 0
			},
			wantErr: ErrInvalidWatchDebounce,
		},
		{
			name:    "empty db path",
			mutate:  func(c *Config) { c.Storage.DBPath = "" },
			wantErr: ErrNoDBPath,
		},
		{
			name:    "bad identity source",
			mutate:  func(c *Config) { c.Identity.Source = "ldap" },
			wantErr: ErrInvalidIdentitySource,
		},
		{
			name:    "sqlite without dsn",
			mutate:  func(c *Config) { c.Identity.Source = IdentitySourceSQLite },
			wantErr: ErrNoSQLiteDSN,
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: ErrInvalidLogLevel,
		},
		{
			name:    "invalid log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: ErrInvalidLogFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	isolate(t)

	path := writeFile(t, `
providers:
  - name: ci
    provider: jsonl
    roots: [/var/log/agents]
scan:
  interval: 1m
  workers: 8
storage:
  db_path: /tmp/rollup.db
identity:
  source: sqlite
  sqlite_dsn: /tmp/identities.db
logging:
  level: debug
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	require.Len(t, cfg.Providers, 1, "file providers replace the defaults")
	assert.Equal(t, parser.ProviderJSONL, cfg.Providers[0].Provider)
	assert.Equal(t, []string{"/var/log/agents"}, cfg.Providers[0].Roots)
	assert.Equal(t, time.Minute, cfg.Scan.Interval)
	assert.Equal(t, 8, cfg.Scan.Workers)
	assert.Equal(t, 30*time.Second, cfg.Scan.FileBudget, "unset keys keep defaults")
	assert.True(t, cfg.Scan.RunOnStart, "unset bools keep defaults")
	assert.Equal(t, "/tmp/rollup.db", cfg.Storage.DBPath)
	assert.Equal(t, IdentitySourceSQLite, cfg.Identity.Source)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromFile_Errors(t *testing.T) {
	isolate(t)

	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ErrConfigNotFound)

	_, err = LoadFromFile(writeFile(t, "scan: [unclosed"))
	assert.ErrorIs(t, err, ErrInvalidYAML)

	_, err = LoadFromFile(writeFile(t, "scan:\n  intervall: 1m\n"))
	assert.ErrorIs(t, err, ErrInvalidYAML, "unknown keys are rejected")

	_, err = LoadFromFile(writeFile(t, "scan:\n  workers: 0\n"))
	assert.ErrorIs(t, err, ErrInvalidWorkers)
}

func TestLoadFromFile_Empty(t *testing.T) {
	isolate(t)

	cfg, err := LoadFromFile(writeFile(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default().Scan, cfg.Scan)
}

func TestLoad_Defaults(t *testing.T) {
	home := isolate(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config", "token-rollup", "rollup.db"), cfg.Storage.DBPath)
	assert.Empty(t, NewLoader("").Path())
}

func TestLoad_ConfigFromEnv(t *testing.T) {
	isolate(t)

	path := writeFile(t, "logging:\n  level: warn\n")
	t.Setenv(EnvConfig, path)

	l := NewLoader("")
	assert.Equal(t, path, l.Path())

	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_DefaultPath(t *testing.T) {
	home := isolate(t)

	path := filepath.Join(home, ".config", "token-rollup", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte("scan:\n  workers: 2\n"), 0o600))

	assert.Equal(t, path, DefaultPath())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Scan.Workers)
}

func TestEnvVarOverrides(t *testing.T) {
	isolate(t)

	t.Setenv(EnvDB, "/env/rollup.db")
	t.Setenv(EnvLogLevel, "DEBUG")
	t.Setenv(EnvScanInterval, "90s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/env/rollup.db", cfg.Storage.DBPath)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 90*time.Second, cfg.Scan.Interval)
}

func TestEnvVarOverrides_InvalidInterval(t *testing.T) {
	isolate(t)
	t.Setenv(EnvScanInterval, "soon")

	_, err := Load()
	assert.ErrorIs(t, err, ErrInvalidEnv)
}

func TestSave(t *testing.T) {
	isolate(t)

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Default()
	cfg.Logging.Level = "debug"
	cfg.Scan.Interval = 90 * time.Second

	require.NoError(t, Save(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "interval: 1m30s")

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestSave_Invalid(t *testing.T) {
	cfg := Default()
	cfg.Providers = nil

	err := Save(cfg, filepath.Join(t.TempDir(), "config.yaml"))
	assert.ErrorIs(t, err, ErrNoProviders)
}

func BenchmarkLoad(b *testing.B) {
	path := filepath.Join(b.TempDir(), "config.yaml")
	if err := Save(Default(), path); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := NewLoader(path).LoadFromFile(path); err != nil {
			b.Fatal(err)
		}
	}
}
