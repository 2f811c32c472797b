package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/riptide-dl/riptide/internal/config"
	"github.com/riptide-dl/riptide/internal/core"
	"github.com/riptide-dl/riptide/internal/engine/state"
	"github.com/riptide-dl/riptide/internal/utils"
)

// initializeGlobalState sets up directories, the state database and logging,
// and returns the loaded settings.
func initializeGlobalState() *config.Settings {
	if err := config.EnsureDirs(); err != nil {
		utils.Debug("Error creating directories: %v", err)
	}

	state.Configure(config.GetDBPath())
	utils.ConfigureDebug(config.GetLogsDir())

	settings, err := config.LoadSettings()
	if err != nil {
		utils.Debug("Error loading settings, using defaults: %v", err)
		settings = config.DefaultSettings()
	}
	utils.CleanupLogs(settings.General.LogRetentionCount)
	return settings
}

// readURLsFromFile reads sources from a file, one per line
func readURLsFromFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var urls []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			urls = append(urls, line)
		}
	}
	return urls, scanner.Err()
}

// collectSources merges positional sources with those from a batch file.
func collectSources(args []string, batchFile string) ([]string, error) {
	sources := append([]string(nil), args...)
	if batchFile != "" {
		fromFile, err := readURLsFromFile(batchFile)
		if err != nil {
			return nil, err
		}
		sources = append(sources, fromFile...)
	}
	return sources, nil
}

// addSources hands every source to svc and returns how many were accepted.
func addSources(svc core.QueueService, sources []string, w io.Writer) int {
	count := 0
	for _, src := range sources {
		src = strings.TrimSpace(src)
		if src == "" {
			continue
		}
		if err := svc.Add(src); err != nil {
			printError(w, "Error adding %s: %v", src, err)
			continue
		}
		count++
	}
	return count
}

// resolveDownloadKey expands a key or key prefix to a full "adapter/id" key.
// A bare id prefix matches too. Unknown input is returned unchanged so the
// queue can report it.
func resolveDownloadKey(partial string) (string, error) {
	rows, err := state.ListDownloads()
	if err != nil {
		return partial, nil
	}

	var matches []string
	for _, r := range rows {
		if r.Key == partial {
			return r.Key, nil
		}
		_, id, _ := strings.Cut(r.Key, "/")
		if strings.HasPrefix(r.Key, partial) || strings.HasPrefix(id, partial) {
			matches = append(matches, r.Key)
		}
	}

	switch len(matches) {
	case 0:
		return partial, nil
	case 1:
		return matches[0], nil
	}
	return "", fmt.Errorf("ambiguous key prefix '%s' matches %d downloads", partial, len(matches))
}

// shortKey trims the id part of a key for display.
func shortKey(key string) string {
	name, id, ok := strings.Cut(key, "/")
	if !ok {
		return utils.ShortID(key)
	}
	return name + "/" + utils.ShortID(id)
}

// notifyIfStopped tells the user when queued requests will wait for the queue.
func notifyIfStopped(w io.Writer) {
	if !queueRunning() {
		printWarning(w, "Riptide is not running; the request applies when it next starts.")
	}
}

// targets resolves the downloads a command acts on: the one named in args, or
// every visible download with all.
func targets(args []string, all bool) ([]string, error) {
	if all {
		rows, err := state.ListDownloads()
		if err != nil {
			return nil, err
		}
		var keys []string
		for _, r := range rows {
			if !r.Hidden {
				keys = append(keys, r.Key)
			}
		}
		return keys, nil
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("provide a download key or use --all")
	}
	key, err := resolveDownloadKey(args[0])
	if err != nil {
		return nil, err
	}
	return []string{key}, nil
}
