package config

import "errors"

// Common errors returned by the config package.
var (
	// ErrNoProviders is returned when no provider is configured.
	ErrNoProviders = errors.New("no providers configured")

	// ErrUnknownProvider is returned for a provider tag without a parser.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrDuplicateProvider is returned when two providers share a name.
	ErrDuplicateProvider = errors.New("duplicate provider name")

	// ErrNoRoots is returned when a provider has no log roots.
	ErrNoRoots = errors.New("provider has no roots")

	// ErrInvalidScanInterval is returned when scan interval is <= 0.
	ErrInvalidScanInterval = errors.New("invalid scan interval: must be > 0")

	// ErrInvalidWorkers is returned when the worker count is <= 0.
	ErrInvalidWorkers = errors.New("invalid worker count: must be > 0")

	// ErrInvalidBudget is returned when a cycle or file budget is <= 0.
	ErrInvalidBudget = errors.New("invalid scan budget: must be > 0")

	// ErrInvalidMaxReadBytes is returned when max read bytes is <= 0.
	ErrInvalidMaxReadBytes = errors.New("invalid max read bytes: must be > 0")

	// ErrInvalidWatchDebounce is returned when watching with a debounce <= 0.
	ErrInvalidWatchDebounce = errors.New("invalid watch debounce: must be > 0")

	// ErrNoDBPath is returned when the database path is empty.
	ErrNoDBPath = errors.New("database path not set")

	// ErrInvalidStorageTimeout is returned when the storage timeout is < 0.
	ErrInvalidStorageTimeout = errors.New("invalid storage timeout: must be >= 0")

	// ErrInvalidIdentitySource is returned for an unknown identity source.
	ErrInvalidIdentitySource = errors.New("invalid identity source: must be bolt or sqlite")

	// ErrNoSQLiteDSN is returned when the sqlite identity source has no DSN.
	ErrNoSQLiteDSN = errors.New("sqlite identity source requires sqlite_dsn")

	// ErrInvalidRefreshInterval is returned when the refresh interval is < 0.
	ErrInvalidRefreshInterval = errors.New("invalid identity refresh interval: must be >= 0")

	// ErrInvalidLogLevel is returned when log level is not recognized.
	ErrInvalidLogLevel = errors.New("invalid log level: must be debug, info, warn, or error")

	// ErrInvalidLogFormat is returned when log format is not recognized.
	ErrInvalidLogFormat = errors.New("invalid log format: must be text or json")

	// ErrConfigNotFound is returned when config file is not found.
	ErrConfigNotFound = errors.New("config file not found")

	// ErrInvalidYAML is returned when config file has invalid YAML syntax.
	ErrInvalidYAML = errors.New("invalid YAML syntax in config file")

	// ErrInvalidEnv is returned when an environment override cannot be parsed.
	ErrInvalidEnv = errors.New("invalid environment variable")
)
