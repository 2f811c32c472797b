package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Settings holds all user-configurable application settings organized by category.
type Settings struct {
	General GeneralSettings `json:"general"`
	Torrent TorrentSettings `json:"torrent"`
	Network NetworkSettings `json:"network"`
	Queue   QueueSettings   `json:"queue"`
}

// GeneralSettings contains application behavior settings.
type GeneralSettings struct {
	DefaultDownloadDir string        `json:"default_download_dir"`
	AppIdentity        string        `json:"app_identity"`
	AutoResume         bool          `json:"auto_resume"`
	HideFinished       bool          `json:"hide_finished"`
	ReapHiddenAfter    time.Duration `json:"reap_hidden_after"`
	LogRetentionCount  int           `json:"log_retention_count"`
}

// TorrentSettings contains torrent engine parameters.
type TorrentSettings struct {
	ListenPort         int   `json:"listen_port"`
	MaxActiveDownloads int   `json:"max_active_downloads"`
	UploadRateLimit    int64 `json:"upload_rate_limit"`
	DownloadRateLimit  int64 `json:"download_rate_limit"`
	EnableDHT          bool  `json:"enable_dht"`
	Seed               bool  `json:"seed"`
}

// NetworkSettings contains direct-link (HTTP) parameters.
type NetworkSettings struct {
	UserAgent              string        `json:"user_agent"`
	MaxConcurrentDownloads int           `json:"max_concurrent_downloads"`
	RequestTimeout         time.Duration `json:"request_timeout"`
}

// QueueSettings tunes the refresh tick and persistence cadence.
type QueueSettings struct {
	RefreshInterval   time.Duration `json:"refresh_interval"`
	SaveInterval      time.Duration `json:"save_interval"`
	PendingAddTTL     time.Duration `json:"pending_add_ttl"`
	StopTimeout       time.Duration `json:"stop_timeout"`
	MaxEngineFailures int           `json:"max_engine_failures"`
}

// SettingMeta provides metadata for a single setting.
type SettingMeta struct {
	Key         string // flattened "category.key" name
	Label       string // Human-readable label
	Description string // Help text
	Type        string // "string", "int", "int64", "bool", "duration"
}

// GetSettingsMetadata returns metadata for all settings organized by category.
func GetSettingsMetadata() map[string][]SettingMeta {
	return map[string][]SettingMeta{
		"general": {
			{Key: "general.default_download_dir", Label: "Download Dir", Description: "Directory new downloads are saved to. Shared by every engine.", Type: "string"},
			{Key: "general.app_identity", Label: "App Identity", Description: "Client identity announced to peers and servers. Shared by every engine.", Type: "string"},
			{Key: "general.auto_resume", Label: "Auto Resume", Description: "Resume paused downloads on startup.", Type: "bool"},
			{Key: "general.hide_finished", Label: "Hide Finished", Description: "Hide finished downloads from the queue.", Type: "bool"},
			{Key: "general.reap_hidden_after", Label: "Reap Hidden After", Description: "Drop hidden finished downloads after this long (0 keeps them).", Type: "duration"},
			{Key: "general.log_retention_count", Label: "Log Retention Count", Description: "Number of recent log files to keep.", Type: "int"},
		},
		"torrent": {
			{Key: "torrent.listen_port", Label: "Listen Port", Description: "Inbound TCP port for torrent peers (0 picks one).", Type: "int"},
			{Key: "torrent.max_active_downloads", Label: "Max Active Downloads", Description: "Auto-managed torrents allowed to download at once; the rest are queued.", Type: "int"},
			{Key: "torrent.upload_rate_limit", Label: "Upload Limit", Description: "Bytes per second, 0 for unlimited.", Type: "int64"},
			{Key: "torrent.download_rate_limit", Label: "Download Limit", Description: "Bytes per second, 0 for unlimited.", Type: "int64"},
			{Key: "torrent.enable_dht", Label: "DHT", Description: "Use the DHT for peer discovery. Requires restart.", Type: "bool"},
			{Key: "torrent.seed", Label: "Seed", Description: "Keep uploading after a torrent finishes.", Type: "bool"},
		},
		"network": {
			{Key: "network.user_agent", Label: "User Agent", Description: "User-Agent for direct downloads. Empty uses the app identity.", Type: "string"},
			{Key: "network.max_concurrent_downloads", Label: "Max Concurrent Downloads", Description: "Direct downloads running at once.", Type: "int"},
			{Key: "network.request_timeout", Label: "Request Timeout", Description: "Timeout for establishing a direct download.", Type: "duration"},
		},
		"queue": {
			{Key: "queue.refresh_interval", Label: "Refresh Interval", Description: "Time between refresh ticks.", Type: "duration"},
			{Key: "queue.save_interval", Label: "Save Interval", Description: "Time between resume-data snapshots.", Type: "duration"},
			{Key: "queue.pending_add_ttl", Label: "Pending Add TTL", Description: "How long an unconfirmed add keeps its metadata.", Type: "duration"},
			{Key: "queue.stop_timeout", Label: "Stop Timeout", Description: "How long shutdown waits for an engine before forcing it.", Type: "duration"},
			{Key: "queue.max_engine_failures", Label: "Max Engine Failures", Description: "Consecutive engine failures before a restart is attempted.", Type: "int"},
		},
	}
}

// CategoryOrder returns the order of categories for display.
func CategoryOrder() []string {
	return []string{"general", "torrent", "network", "queue"}
}

const (
	KB = 1024
	MB = 1024 * KB
)

// DefaultIdentity is announced when no app identity is configured.
const DefaultIdentity = "riptide/1.0"

// DefaultSettings returns a new Settings instance with sensible defaults.
func DefaultSettings() *Settings {
	homeDir, _ := os.UserHomeDir()

	defaultDir := ""

	// Check XDG_DOWNLOAD_DIR
	if xdgDir := os.Getenv("XDG_DOWNLOAD_DIR"); xdgDir != "" {
		if info, err := os.Stat(xdgDir); err == nil && info.IsDir() {
			defaultDir = xdgDir
		}
	}

	// Check ~/Downloads if not set
	if defaultDir == "" && homeDir != "" {
		downloadsDir := filepath.Join(homeDir, "Downloads")
		if info, err := os.Stat(downloadsDir); err == nil && info.IsDir() {
			defaultDir = downloadsDir
		}
	}

	return &Settings{
		General: GeneralSettings{
			DefaultDownloadDir: defaultDir,
			AppIdentity:        DefaultIdentity,
			AutoResume:         true,
			HideFinished:       false,
			ReapHiddenAfter:    0,
			LogRetentionCount:  5,
		},
		Torrent: TorrentSettings{
			ListenPort:         6881,
			MaxActiveDownloads: 3,
			EnableDHT:          true,
			Seed:               true,
		},
		Network: NetworkSettings{
			MaxConcurrentDownloads: 3,
			RequestTimeout:         30 * time.Second,
		},
		Queue: QueueSettings{
			RefreshInterval:   500 * time.Millisecond,
			SaveInterval:      2 * time.Minute,
			PendingAddTTL:     10 * time.Minute,
			StopTimeout:       10 * time.Second,
			MaxEngineFailures: 5,
		},
	}
}

// GetSettingsPath returns the path to the settings JSON file.
func GetSettingsPath() string {
	return filepath.Join(GetRiptideDir(), "settings.json")
}

// LoadSettings loads settings from disk. Returns defaults if file doesn't exist.
func LoadSettings() (*Settings, error) {
	path := GetSettingsPath()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, return defaults
			return DefaultSettings(), nil
		}
		return nil, err
	}

	settings := DefaultSettings() // Start with defaults to fill any missing fields
	if err := json.Unmarshal(data, settings); err != nil {
		return nil, err
	}

	return settings, nil
}

// SaveSettings saves settings to disk atomically.
func SaveSettings(s *Settings) error {
	path := GetSettingsPath()

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	// Atomic write: write to temp file, then rename
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return err
	}

	return os.Rename(tempPath, path)
}
