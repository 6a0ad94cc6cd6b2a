package conventions

import "path/filepath"

const (
	// DefaultDataDir is the default ocrtrack data directory name (relative to home).
	DefaultDataDir = ".ocrtrack"
	// ConfigFile is the client configuration filename.
	ConfigFile = "config.yaml"
	// DBFile is the task history database filename.
	DBFile = "ocrtrack.db"
)

// ConfigPath returns the path of the client configuration file.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, ConfigFile)
}

// DBPath returns the path of the task history database.
func DBPath(dataDir string) string {
	return filepath.Join(dataDir, DBFile)
}
