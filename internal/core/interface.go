package core

import (
	"github.com/riptide-dl/riptide/internal/engine/state"
)

// QueueService is how the CLI drives the queue. The local service owns the
// engines in-process; the remote one talks to a running queue through the
// state database.
type QueueService interface {
	// List returns every download, visible ones in queue order first.
	List() ([]state.DownloadEntry, error)

	// Add queues a locator: magnet, .torrent URL or file, or direct link.
	Add(locator string) error

	Pause(key string) error
	Resume(key string) error

	// Remove drops a download, optionally deleting its files.
	Remove(key string, deleteFiles bool) error

	// Move places a download at pos in the queue.
	Move(key string, pos int) error

	Hide(key string, hidden bool) error

	// Shutdown handles graceful shutdown of the service
	Shutdown() error
}

// Event is a queue change delivered by StreamEvents.
type Event struct {
	Type  string
	Key   string
	State string
}
