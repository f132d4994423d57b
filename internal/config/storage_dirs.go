package config

import (
	"os"
	"path/filepath"
)

const (
	APP_DIR_NAME = "mesh-node-stats"
)

// DataDir holds the node database.
func DataDir() string {
	return appDir("XDG_DATA_HOME", ".local", "share")
}

// ConfigDir holds settings.yaml.
func ConfigDir() string {
	return appDir("XDG_CONFIG_HOME", ".config")
}

// appDir resolves $xdgEnv/<app>, then ~/<fallback...>/<app> when that base
// exists, then ~/.<app>. Without a home directory it uses the working directory.
func appDir(xdgEnv string, fallback ...string) string {
	if base := os.Getenv(xdgEnv); base != "" {
		return filepath.Join(base, APP_DIR_NAME)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		if currentDir, err := os.Getwd(); err == nil {
			return currentDir
		}
		return "."
	}

	base := filepath.Join(append([]string{homeDir}, fallback...)...)
	if _, err := os.Stat(base); err == nil {
		return filepath.Join(base, APP_DIR_NAME)
	}

	return filepath.Join(homeDir, "."+APP_DIR_NAME)
}
