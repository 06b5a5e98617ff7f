package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.zapboard.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".zapboard")
}

// Dir returns the session-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "sessions", name)
}

// LocalDBPath returns the sqlite path used by the local development backend.
func LocalDBPath(name string) string {
	return filepath.Join(Dir(name), "local.db")
}

// LogDir returns the log directory for a session.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the log file path for a session.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "zapboard.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the session directory tree with proper permissions.
func EnsureDir(name string) error {
	dirs := []string{
		Dir(name),
		LogDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
