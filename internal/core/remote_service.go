package core

import (
	"fmt"
	"strings"

	"github.com/riptide-dl/riptide/internal/engine/state"
	"github.com/riptide-dl/riptide/internal/source"
	"github.com/riptide-dl/riptide/internal/utils"
)

// RemoteService talks to the running queue through the state database.
// Requests are queued commands applied on the queue's next tick; List reads
// the summary the queue last wrote.
type RemoteService struct{}

func NewRemoteService() *RemoteService {
	return &RemoteService{}
}

func (s *RemoteService) enqueue(c state.Command) error {
	if _, err := state.EnqueueCommand(c); err != nil {
		return fmt.Errorf("queue %s: %w", c.Op, err)
	}
	return nil
}

func (s *RemoteService) List() ([]state.DownloadEntry, error) {
	return state.ListDownloads()
}

// Add rejects locators no engine understands before queueing them. Local
// .torrent paths are made absolute since the queue runs elsewhere.
func (s *RemoteService) Add(locator string) error {
	locator = strings.TrimSpace(locator)
	switch source.KindOf(locator) {
	case source.KindUnknown:
		return fmt.Errorf("%w: %s", ErrUnsupported, locator)
	case source.KindTorrentFile:
		if !strings.HasPrefix(locator, "file:") {
			locator = utils.EnsureAbsPath(locator)
		}
	}
	return s.enqueue(state.Command{Op: state.OpAdd, Target: locator})
}

func (s *RemoteService) Pause(key string) error {
	return s.enqueue(state.Command{Op: state.OpPause, Target: key})
}

func (s *RemoteService) Resume(key string) error {
	return s.enqueue(state.Command{Op: state.OpResume, Target: key})
}

func (s *RemoteService) Remove(key string, deleteFiles bool) error {
	return s.enqueue(state.Command{Op: state.OpRemove, Target: key, DeleteFiles: deleteFiles})
}

func (s *RemoteService) Move(key string, pos int) error {
	return s.enqueue(state.Command{Op: state.OpMove, Target: key, Position: pos})
}

func (s *RemoteService) Hide(key string, hidden bool) error {
	op := state.OpUnhide
	if hidden {
		op = state.OpHide
	}
	return s.enqueue(state.Command{Op: op, Target: key})
}

// Shutdown is a no-op; the queue belongs to another process.
func (s *RemoteService) Shutdown() error { return nil }

var _ QueueService = (*RemoteService)(nil)
