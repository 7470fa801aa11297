package config

import (
	"os"
	"path/filepath"
)

const appDir = "token-rollup"

// defaultDBPath returns the default database file path.
//
// Returns: ~/.config/token-rollup/rollup.db.
func defaultDBPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./rollup.db"
	}

	return filepath.Join(homeDir, ".config", appDir, "rollup.db")
}

// DefaultPath returns the default configuration file path.
//
// Returns: ~/.config/token-rollup/config.yaml.
func DefaultPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}

	return filepath.Join(homeDir, ".config", appDir, "config.yaml")
}
