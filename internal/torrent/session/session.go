// Package session defines the torrent engine the torrent adapter drives, and an
// implementation on top of anacrolix/torrent.
//
// The engine runs its own network goroutines. It reports every change through
// an alert queue that the owner drains with PopAlert; commands either complete
// synchronously or post an alert when they finish.
package session

import (
	"errors"
	"time"
)

var (
	ErrDuplicate      = errors.New("session: torrent already in session")
	ErrUnknownTorrent = errors.New("session: unknown torrent")
	ErrClosed         = errors.New("session: closed")
	ErrNoMetadata     = errors.New("session: metadata not received yet")
)

// EngineState is the raw state code the engine reports for a torrent.
type EngineState int

const (
	EngineCheckingResume EngineState = iota
	EngineCheckingFiles
	EngineDownloadingMetadata
	EngineDownloading
	EngineFinished
	EngineSeeding
)

func (s EngineState) String() string {
	switch s {
	case EngineCheckingResume:
		return "checking-resume"
	case EngineCheckingFiles:
		return "checking-files"
	case EngineDownloadingMetadata:
		return "downloading-metadata"
	case EngineDownloading:
		return "downloading"
	case EngineFinished:
		return "finished"
	case EngineSeeding:
		return "seeding"
	}
	return "unknown"
}

// AddParams describes a torrent to add. Exactly one of Magnet, MetaInfo or
// ResumeData must carry the torrent's identity.
type AddParams struct {
	Magnet     string
	MetaInfo   []byte // bencoded .torrent
	ResumeData []byte // blob from a SaveResumeDataAlert
	// URL is echoed back in the AddTorrentAlert for torrents fetched from a link.
	URL         string
	Name        string
	SavePath    string
	Paused      bool
	AutoManaged bool
}

// Status is a point-in-time view of one torrent.
type Status struct {
	InfoHash      string
	Name          string
	State         EngineState
	Paused        bool
	AutoManaged   bool
	HasMetadata   bool
	TotalWanted   int64
	TotalDone     int64
	Progress      float64
	DownloadRate  int64
	UploadRate    int64
	NumPeers      int
	QueuePosition int // -1 once finished
	SavePath      string
	Error         string
	Files         []string
}

// Settings are the engine-wide knobs.
type Settings struct {
	DataDir            string
	ListenPort         int
	MaxActiveDownloads int
	UploadRateLimit    int64
	DownloadRateLimit  int64
	EnableDHT          bool
	Seed               bool
	Identity           string
	// TickInterval paces state polling inside the engine.
	TickInterval time.Duration
}

// Session is the engine contract.
type Session interface {
	// PopAlert returns the oldest pending alert, or nil when none is pending.
	PopAlert() Alert
	// AsyncAdd queues an add; an AddTorrentAlert reports the outcome.
	AsyncAdd(p AddParams)

	Status(hash string) (Status, bool)
	Statuses() []Status

	QueueUp(hash string) error
	QueueDown(hash string) error
	Pause(hash string) error
	Resume(hash string) error
	SetAutoManaged(hash string, auto bool) error
	// Recheck re-verifies on-disk data; a TorrentCheckedAlert follows.
	Recheck(hash string) error
	// Remove drops the torrent; a TorrentRemovedAlert follows.
	Remove(hash string, deleteFiles bool) error
	// SaveResumeData posts a SaveResumeDataAlert or SaveResumeDataFailedAlert.
	SaveResumeData(hash string) error

	PauseAll()
	ResumeAll()
	IsPaused() bool

	// State is the engine's own global blob, restored with LoadState.
	State() ([]byte, error)
	LoadState(blob []byte) error
	Settings() Settings
	ApplySettings(s Settings) error

	// Close starts a graceful shutdown and returns at once; Closed reports
	// when it finished. Abort tears everything down immediately.
	Close()
	Closed() bool
	Abort()
}
