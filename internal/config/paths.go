package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// envHome overrides the config directory; tests and portable installs use it.
const envHome = "RIPTIDE_HOME"

func GetRiptideDir() string {
	if dir := os.Getenv(envHome); dir != "" {
		return dir
	}
	switch runtime.GOOS {
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			appData = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		return filepath.Join(appData, "riptide")
	case "darwin": // MacOS
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "riptide")
	default: // Linux
		configHome := os.Getenv("XDG_CONFIG_HOME")
		if configHome == "" {
			home, _ := os.UserHomeDir()
			configHome = filepath.Join(home, ".config")
		}
		return filepath.Join(configHome, "riptide")
	}
}

// Returns directory for state files
func GetStateDir() string {
	return filepath.Join(GetRiptideDir(), "state")
}

// Returns directory for logs
func GetLogsDir() string {
	return filepath.Join(GetRiptideDir(), "logs")
}

// GetDBPath returns the SQLite database holding queue state.
func GetDBPath() string {
	return filepath.Join(GetStateDir(), "riptide.db")
}

// GetLockPath returns the single-instance lock file.
func GetLockPath() string {
	return filepath.Join(GetRiptideDir(), "riptide.lock")
}

// EnsureDirs creates all required directories
func EnsureDirs() error {
	dirs := []string{GetRiptideDir(), GetStateDir(), GetLogsDir()}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
