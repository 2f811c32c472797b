package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureAbsPath(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want func() string
	}{
		{"empty stays empty", "", func() string { return "" }},
		{"relative becomes absolute", "downloads", func() string {
			wd, _ := os.Getwd()
			return filepath.Join(wd, "downloads")
		}},
		{"home expansion", "~/dl", func() string {
			home, _ := os.UserHomeDir()
			return filepath.Join(home, "dl")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want(), EnsureAbsPath(tt.in))
		})
	}
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "abc", ShortID("abc"))
	assert.Equal(t, "01234567", ShortID("0123456789abcdef"))
}

func TestCleanupLogs_KeepsNewest(t *testing.T) {
	dir := t.TempDir()
	names := []string{
		"debug-20240101-000000.log",
		"debug-20240102-000000.log",
		"debug-20240103-000000.log",
		"notes.txt",
	}
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644))
	}

	mu.Lock()
	prev := logsDir
	logsDir = dir
	mu.Unlock()
	defer func() {
		mu.Lock()
		logsDir = prev
		mu.Unlock()
	}()

	CleanupLogs(1)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var left []string
	for _, e := range entries {
		left = append(left, e.Name())
	}
	assert.ElementsMatch(t, []string{"debug-20240103-000000.log", "notes.txt"}, left)
}

func TestLogger_NopWithoutConfiguration(t *testing.T) {
	l := Logger("test")
	// Must not panic or write anywhere.
	l.Warn().Str("k", "v").Msg("dropped")
	Debug("dropped %d", 1)
}
