package utils

import (
	"os"
	"path/filepath"
	"strings"
)

// EnsureAbsPath expands a leading ~ and makes path absolute.
// On failure the cleaned input is returned unchanged.
func EnsureAbsPath(path string) string {
	if path == "" {
		return path
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}

// ShortID trims an identifier for display.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
