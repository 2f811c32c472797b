package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	debugFile *os.File
	debugOnce sync.Once
	logsDir   string
	mu        sync.RWMutex

	base    = zerolog.Nop()
	console io.Writer
)

// ConfigureDebug sets the directory for debug logs
func ConfigureDebug(dir string) {
	mu.Lock()
	defer mu.Unlock()
	logsDir = dir
}

// ConfigureConsole mirrors log output to w in zerolog's human-readable console format.
// Passing nil turns the mirror off.
func ConfigureConsole(w io.Writer, verbose bool) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		console = nil
	} else {
		console = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	rebuildLocked()
}

func rebuildLocked() {
	var writers []io.Writer
	if debugFile != nil {
		writers = append(writers, debugFile)
	}
	if console != nil {
		writers = append(writers, console)
	}
	if len(writers) == 0 {
		base = zerolog.Nop()
		return
	}
	base = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
}

func openDebugFile() {
	mu.RLock()
	dir := logsDir
	mu.RUnlock()

	// If no logs directory is configured, do nothing
	if dir == "" {
		return
	}

	debugOnce.Do(func() {
		_ = os.MkdirAll(dir, 0o755)
		f, err := os.Create(filepath.Join(dir, fmt.Sprintf("debug-%s.log", time.Now().Format("20060102-150405"))))
		if err != nil {
			return
		}
		mu.Lock()
		debugFile = f
		rebuildLocked()
		mu.Unlock()
	})
}

// Logger returns a structured logger tagged with the given component.
func Logger(component string) zerolog.Logger {
	openDebugFile()
	mu.RLock()
	defer mu.RUnlock()
	return base.With().Str("component", component).Logger()
}

// Debug writes a message to debug.log file in the configured directory
func Debug(format string, args ...any) {
	openDebugFile()
	mu.RLock()
	l := base
	mu.RUnlock()
	l.Debug().Msgf(format, args...)
}

// CleanupLogs keeps the newest keep debug logs in the configured directory.
func CleanupLogs(keep int) {
	mu.RLock()
	dir := logsDir
	mu.RUnlock()
	if dir == "" || keep <= 0 {
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	var logs []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "debug-") && strings.HasSuffix(e.Name(), ".log") {
			logs = append(logs, e.Name())
		}
	}
	if len(logs) <= keep {
		return
	}
	// Names embed the timestamp, so lexical order is chronological.
	sort.Strings(logs)
	for _, name := range logs[:len(logs)-keep] {
		_ = os.Remove(filepath.Join(dir, name))
	}
}
