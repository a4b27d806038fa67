package config

import (
	"os"
	"path/filepath"
)

const (
	// LocalDataDir is the per-project data directory.
	LocalDataDir = ".advisor"
	dbFileName   = "advisor.db"
)

// GetGlobalConfigDir returns ~/.advisor. It is a variable so tests can override it.
var GetGlobalConfigDir = func() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, LocalDataDir), nil
}

// DefaultDBPath picks the database location when db.path is unset.
// Resolution order (first match wins):
//  1. ./.advisor (if it exists)
//  2. $XDG_DATA_HOME/advisor
//  3. ~/.advisor
func DefaultDBPath() string {
	if info, err := os.Stat(LocalDataDir); err == nil && info.IsDir() {
		return filepath.Join(LocalDataDir, dbFileName)
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "advisor", dbFileName)
	}
	dir, err := GetGlobalConfigDir()
	if err != nil {
		return filepath.Join(LocalDataDir, dbFileName)
	}
	return filepath.Join(dir, dbFileName)
}

// EnsureDBDir creates the directory holding path. In-memory databases are left alone.
func EnsureDBDir(path string) error {
	if path == "" || path == ":memory:" {
		return nil
	}
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
