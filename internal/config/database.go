package config

import (
	"os"
	"path/filepath"
)

const (
	DB_NAME     = "database.sqlite"
	DB_PATH_ENV = "MESH_NODE_STATS_DB_PATH"
)

// DBPath is where the node database lives unless overridden with --db.
func DBPath() string {
	if dbPath := os.Getenv(DB_PATH_ENV); dbPath != "" {
		return dbPath
	}

	return filepath.Join(DataDir(), DB_NAME)
}
