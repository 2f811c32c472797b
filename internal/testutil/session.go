package testutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"slices"
	"sync"

	"github.com/anacrolix/torrent/metainfo"

	"github.com/riptide-dl/riptide/internal/torrent/session"
)

// FakeSession is an in-memory session.Session. Adds are confirmed when
// ConfirmAdds is called, or immediately with AutoConfirm.
type FakeSession struct {
	mu       sync.Mutex
	settings session.Settings
	torrents map[string]*session.Status
	queue    []string
	paused   bool
	alerts   []session.Alert
	pending  []session.AddParams
	held     []string
	loaded   []byte

	AutoConfirm bool
	// HoldResume keeps SaveResumeData requests until ReleaseResume.
	HoldResume bool
	// NeverClose makes Close leave Closed false so callers must Abort.
	NeverClose bool
	// CommandErr, when set, fails every per-torrent command.
	CommandErr error

	QueueMoves     int
	ResumeRequests int
	closeRequested bool
	closed         bool
	aborted        bool
}

func NewFakeSession(s session.Settings) *FakeSession {
	return &FakeSession{settings: s, torrents: make(map[string]*session.Status), AutoConfirm: true}
}

var _ session.Session = (*FakeSession)(nil)

func (f *FakeSession) PopAlert() session.Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.alerts) == 0 {
		return nil
	}
	al := f.alerts[0]
	f.alerts = f.alerts[1:]
	return al
}

// Push injects an alert as if the engine had posted it.
func (f *FakeSession) Push(al session.Alert) {
	f.mu.Lock()
	f.alerts = append(f.alerts, al)
	f.mu.Unlock()
}

func (f *FakeSession) AsyncAdd(p session.AddParams) {
	f.mu.Lock()
	f.pending = append(f.pending, p)
	auto := f.AutoConfirm
	f.mu.Unlock()
	if auto {
		f.ConfirmAdds()
	}
}

// PendingAdds is the number of adds not confirmed yet.
func (f *FakeSession) PendingAdds() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// ConfirmAdds answers every outstanding add with an AddTorrentAlert.
func (f *FakeSession) ConfirmAdds() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.pending {
		f.confirmLocked(p)
	}
	f.pending = nil
}

func (f *FakeSession) confirmLocked(p session.AddParams) {
	hash, name, size, err := identify(p)
	if err != nil {
		f.alerts = append(f.alerts, session.NewAddTorrentAlert("", p.Name, p, err))
		return
	}
	if p.Name != "" {
		name = p.Name
	}
	if _, dup := f.torrents[hash]; dup {
		f.alerts = append(f.alerts, session.NewAddTorrentAlert(hash, name, p, session.ErrDuplicate))
		return
	}
	st := &session.Status{
		InfoHash:    hash,
		Name:        name,
		State:       session.EngineDownloadingMetadata,
		Paused:      p.Paused,
		AutoManaged: p.AutoManaged,
		SavePath:    p.SavePath,
		TotalWanted: size,
	}
	if size > 0 {
		st.HasMetadata = true
		st.State = session.EngineDownloading
		st.Files = []string{name}
	}
	f.torrents[hash] = st
	f.queue = append(f.queue, hash)
	f.alerts = append(f.alerts, session.NewAddTorrentAlert(hash, name, p, nil))
}

func identify(p session.AddParams) (hash, name string, size int64, err error) {
	switch {
	case len(p.MetaInfo) > 0:
		mi, err := metainfo.Load(bytes.NewReader(p.MetaInfo))
		if err != nil {
			return "", "", 0, err
		}
		info, err := mi.UnmarshalInfo()
		if err != nil {
			return "", "", 0, err
		}
		return mi.HashInfoBytes().HexString(), info.BestName(), info.TotalLength(), nil
	case p.Magnet != "":
		m, err := metainfo.ParseMagnetUri(p.Magnet)
		if err != nil {
			return "", "", 0, err
		}
		return m.InfoHash.HexString(), m.DisplayName, 0, nil
	case len(p.ResumeData) > 0:
		rd, err := session.DecodeResume(p.ResumeData)
		if err != nil {
			return "", "", 0, err
		}
		return rd.InfoHash, rd.Name, rd.Completed, nil
	}
	return "", "", 0, errors.New("add params carry no torrent")
}

func (f *FakeSession) Status(hash string) (session.Status, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.torrents[hash]
	if !ok {
		return session.Status{}, false
	}
	return f.snapshotLocked(st), true
}

func (f *FakeSession) Statuses() []session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]session.Status, 0, len(f.torrents))
	for _, hash := range f.queue {
		out = append(out, f.snapshotLocked(f.torrents[hash]))
	}
	for hash, st := range f.torrents {
		if !slices.Contains(f.queue, hash) {
			out = append(out, f.snapshotLocked(st))
		}
	}
	return out
}

func (f *FakeSession) snapshotLocked(st *session.Status) session.Status {
	out := *st
	out.Files = slices.Clone(st.Files)
	out.QueuePosition = slices.Index(f.queue, st.InfoHash)
	return out
}

// Update edits a torrent's status in place.
func (f *FakeSession) Update(hash string, fn func(*session.Status)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.torrents[hash]; ok {
		fn(st)
	}
}

// Queue returns the engine queue order.
func (f *FakeSession) Queue() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.queue)
}

// SetQueue replaces the engine queue order.
func (f *FakeSession) SetQueue(order []string) {
	f.mu.Lock()
	f.queue = slices.Clone(order)
	f.mu.Unlock()
}

func (f *FakeSession) Has(hash string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.torrents[hash]
	return ok
}

func (f *FakeSession) QueueUp(hash string) error   { return f.move(hash, -1) }
func (f *FakeSession) QueueDown(hash string) error { return f.move(hash, 1) }

func (f *FakeSession) move(hash string, delta int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := slices.Index(f.queue, hash)
	if i < 0 {
		return session.ErrUnknownTorrent
	}
	j := i + delta
	if j < 0 || j >= len(f.queue) {
		return nil
	}
	f.queue[i], f.queue[j] = f.queue[j], f.queue[i]
	f.QueueMoves++
	return nil
}

func (f *FakeSession) Pause(hash string) error {
	return f.edit(hash, func(st *session.Status) session.Alert {
		st.Paused = true
		return session.NewTorrentPausedAlert(hash)
	})
}

func (f *FakeSession) Resume(hash string) error {
	return f.edit(hash, func(st *session.Status) session.Alert {
		st.Paused = false
		return session.NewTorrentResumedAlert(hash)
	})
}

func (f *FakeSession) SetAutoManaged(hash string, auto bool) error {
	return f.edit(hash, func(st *session.Status) session.Alert {
		st.AutoManaged = auto
		return nil
	})
}

func (f *FakeSession) Recheck(hash string) error {
	return f.edit(hash, func(*session.Status) session.Alert {
		return session.NewTorrentCheckedAlert(hash)
	})
}

func (f *FakeSession) edit(hash string, fn func(*session.Status) session.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CommandErr != nil {
		return f.CommandErr
	}
	st, ok := f.torrents[hash]
	if !ok {
		return session.ErrUnknownTorrent
	}
	if al := fn(st); al != nil {
		f.alerts = append(f.alerts, al)
	}
	return nil
}

func (f *FakeSession) Remove(hash string, deleteFiles bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.torrents[hash]; !ok {
		return session.ErrUnknownTorrent
	}
	delete(f.torrents, hash)
	if i := slices.Index(f.queue, hash); i >= 0 {
		f.queue = slices.Delete(f.queue, i, i+1)
	}
	f.alerts = append(f.alerts, session.NewTorrentRemovedAlert(hash))
	return nil
}

func (f *FakeSession) SaveResumeData(hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.torrents[hash]; !ok {
		return session.ErrUnknownTorrent
	}
	f.ResumeRequests++
	if f.HoldResume {
		f.held = append(f.held, hash)
		return nil
	}
	f.resumeLocked(hash)
	return nil
}

// ReleaseResume answers every held SaveResumeData request.
func (f *FakeSession) ReleaseResume() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, hash := range f.held {
		f.resumeLocked(hash)
	}
	f.held = nil
}

func (f *FakeSession) resumeLocked(hash string) {
	st, ok := f.torrents[hash]
	if !ok {
		f.alerts = append(f.alerts, session.NewSaveResumeDataFailedAlert(hash, session.ErrUnknownTorrent))
		return
	}
	rd := session.ResumeData{
		InfoHash:  hash,
		Name:      st.Name,
		SavePath:  st.SavePath,
		Completed: st.TotalWanted,
	}
	if st.Paused {
		rd.Paused = 1
	}
	if st.AutoManaged {
		rd.AutoManaged = 1
	}
	data, err := session.EncodeResume(rd)
	if err != nil {
		f.alerts = append(f.alerts, session.NewSaveResumeDataFailedAlert(hash, err))
		return
	}
	f.alerts = append(f.alerts, session.NewSaveResumeDataAlert(hash, data))
}

func (f *FakeSession) PauseAll() {
	f.mu.Lock()
	f.paused = true
	f.mu.Unlock()
}

func (f *FakeSession) ResumeAll() {
	f.mu.Lock()
	f.paused = false
	f.mu.Unlock()
}

func (f *FakeSession) IsPaused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused
}

type fakeState struct {
	Paused bool     `json:"paused"`
	Queue  []string `json:"queue"`
}

func (f *FakeSession) State() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return json.Marshal(fakeState{Paused: f.paused, Queue: f.queue})
}

func (f *FakeSession) LoadState(blob []byte) error {
	var st fakeState
	if err := json.Unmarshal(blob, &st); err != nil {
		return err
	}
	f.mu.Lock()
	f.paused = st.Paused
	f.loaded = slices.Clone(blob)
	f.mu.Unlock()
	return nil
}

// LoadedState is the last blob passed to LoadState.
func (f *FakeSession) LoadedState() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loaded
}

func (f *FakeSession) Settings() session.Settings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings
}

func (f *FakeSession) ApplySettings(s session.Settings) error {
	f.mu.Lock()
	f.settings = s
	f.mu.Unlock()
	return nil
}

func (f *FakeSession) Close() {
	f.mu.Lock()
	f.closeRequested = true
	if !f.NeverClose {
		f.closed = true
	}
	f.mu.Unlock()
}

func (f *FakeSession) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *FakeSession) Abort() {
	f.mu.Lock()
	f.aborted = true
	f.closed = true
	f.mu.Unlock()
}

// QueueMoveCount is the number of single-step queue moves applied so far.
func (f *FakeSession) QueueMoveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.QueueMoves
}

// ResumeRequestCount is the number of SaveResumeData calls so far.
func (f *FakeSession) ResumeRequestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ResumeRequests
}

func (f *FakeSession) CloseRequested() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeRequested
}

func (f *FakeSession) Aborted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aborted
}
