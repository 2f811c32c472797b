// Package download defines the engine-independent model of a download, the
// contract engine adapters implement, and the Aggregator that merges several
// adapters into one ordered queue.
package download

import (
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotReady        = errors.New("download: adapter not ready")
	ErrUnknownDownload = errors.New("download: unknown download")
)

// Download is one item in an adapter's queue.
//
// Concrete downloads embed *Record, which supplies the fields and the
// position/hidden plumbing. They implement the engine operations themselves.
type Download interface {
	ID() string
	UID() string
	Key() string
	Name() string
	TotalSize() int64
	Downloaded() int64
	Progress() float64
	DownloadSpeed() int64
	UploadSpeed() int64
	State() State
	Error() string
	SaveDir() string
	Files() []string
	UserData() map[string]any
	LastUpdate() time.Time

	// Position is the download's slot in the queue, or -1 while hidden.
	Position() int
	SetPosition(pos int) error
	Hidden() bool
	SetHidden(hidden bool)

	Refresh() error
	Pause() error
	Resume() error
	Remove(deleteFiles bool) error
	Recheck() error
	PersistableState() Entry
	RestoreState(e Entry) error

	record() *Record
}

// Stats is the engine-reported part of a record.
type Stats struct {
	Name          string
	TotalSize     int64
	Downloaded    int64
	Progress      float64
	DownloadSpeed int64
	UploadSpeed   int64
	State         State
	Error         string
	SaveDir       string
	Files         []string
}

// owner is implemented by BaseAdapter.
type owner interface {
	Name() string
	MoveDownload(id string, pos int) error
	PositionOf(id string) int
	HideDownload(id string, hidden bool)
}

// Record carries the state every download shares.
type Record struct {
	mu         sync.RWMutex
	id         string
	uid        string
	stats      Stats
	hidden     bool
	hiddenAt   time.Time
	userData   map[string]any
	lastUpdate time.Time
	owner      owner
}

func NewRecord(id string) *Record {
	return &Record{
		id:         id,
		uid:        uuid.NewString(),
		stats:      Stats{State: StateInitializing},
		lastUpdate: time.Now(),
	}
}

func (r *Record) record() *Record { return r }

func (r *Record) ID() string { return r.id }

// UID is unique per process and survives nothing; snapshot caches key on it.
func (r *Record) UID() string { return r.uid }

// Key qualifies the id with the owning adapter's name.
func (r *Record) Key() string {
	r.mu.RLock()
	o := r.owner
	r.mu.RUnlock()
	if o == nil {
		return r.id
	}
	return o.Name() + "/" + r.id
}

func (r *Record) Name() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stats.Name == "" {
		return r.id
	}
	return r.stats.Name
}

func (r *Record) TotalSize() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats.TotalSize
}

func (r *Record) Downloaded() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats.Downloaded
}

func (r *Record) Progress() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats.Progress
}

func (r *Record) DownloadSpeed() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats.DownloadSpeed
}

func (r *Record) UploadSpeed() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats.UploadSpeed
}

func (r *Record) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats.State
}

func (r *Record) Error() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats.Error
}

func (r *Record) SaveDir() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats.SaveDir
}

func (r *Record) Files() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.stats.Files)
}

func (r *Record) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.stats
	s.Files = slices.Clone(s.Files)
	return s
}

func (r *Record) UserData() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.userData)
}

func (r *Record) SetUserData(data map[string]any) {
	r.mu.Lock()
	r.userData = maps.Clone(data)
	r.lastUpdate = time.Now()
	r.mu.Unlock()
}

func (r *Record) LastUpdate() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastUpdate
}

// Touch advances LastUpdate without changing anything else.
func (r *Record) Touch() {
	r.mu.Lock()
	r.lastUpdate = time.Now()
	r.mu.Unlock()
}

// Apply replaces the engine-reported fields. Empty names and nil file lists keep
// the previous values. It reports whether anything changed, and only then
// advances LastUpdate.
func (r *Record) Apply(s Stats) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.Name == "" {
		s.Name = r.stats.Name
	}
	if s.Files == nil {
		s.Files = r.stats.Files
	}
	if s.SaveDir == "" {
		s.SaveDir = r.stats.SaveDir
	}
	if statsEqual(r.stats, s) {
		return false
	}
	r.stats = s
	r.stats.Files = slices.Clone(s.Files)
	r.lastUpdate = time.Now()
	return true
}

// SetState changes only the state tag.
func (r *Record) SetState(st State) bool {
	s := r.Stats()
	s.State = st
	return r.Apply(s)
}

func (r *Record) Position() int {
	r.mu.RLock()
	o := r.owner
	r.mu.RUnlock()
	if o == nil {
		return -1
	}
	return o.PositionOf(r.id)
}

// SetPosition asks the owning adapter to move the download.
func (r *Record) SetPosition(pos int) error {
	r.mu.RLock()
	o := r.owner
	r.mu.RUnlock()
	if o == nil {
		return ErrUnknownDownload
	}
	return o.MoveDownload(r.id, pos)
}

func (r *Record) Hidden() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hidden
}

// HiddenSince is when the download was last hidden.
func (r *Record) HiddenSince() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hiddenAt
}

func (r *Record) SetHidden(hidden bool) {
	r.mu.RLock()
	o := r.owner
	r.mu.RUnlock()
	if o == nil {
		r.setHidden(hidden)
		return
	}
	o.HideDownload(r.id, hidden)
}

func (r *Record) setHidden(hidden bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hidden == hidden {
		return false
	}
	r.hidden = hidden
	if hidden {
		r.hiddenAt = time.Now()
	}
	r.lastUpdate = time.Now()
	return true
}

func (r *Record) bind(o owner) {
	r.mu.Lock()
	r.owner = o
	r.mu.Unlock()
}

// BaseEntry fills the persisted fields every record shares. Position is -1 while hidden.
func (r *Record) BaseEntry() Entry {
	pos := r.Position()
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Entry{
		Position:    pos,
		DownloadDir: r.stats.SaveDir,
		Paused:      r.stats.State == StatePaused,
		Checking:    r.stats.State == StateChecking,
		UserData:    maps.Clone(r.userData),
		Hidden:      r.hidden,
		Finished:    r.stats.State.Done(),
		Filenames:   slices.Clone(r.stats.Files),
		Name:        r.stats.Name,
		TotalSize:   r.stats.TotalSize,
	}
}

// RestoreBase applies the shared fields of e. It must run before the record is
// added to an adapter; the position is applied by the adapter.
func (r *Record) RestoreBase(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Name = e.Name
	r.stats.SaveDir = e.DownloadDir
	r.stats.Files = slices.Clone(e.Filenames)
	r.stats.TotalSize = e.TotalSize
	switch {
	case e.Paused:
		r.stats.State = StatePaused
	case e.Finished:
		r.stats.State = StateFinished
		r.stats.Downloaded = e.TotalSize
		r.stats.Progress = 1
	}
	r.userData = maps.Clone(e.UserData)
	r.hidden = e.Hidden
	if e.Hidden {
		r.hiddenAt = time.Now()
	}
}

func statsEqual(a, b Stats) bool {
	return a.Name == b.Name &&
		a.TotalSize == b.TotalSize &&
		a.Downloaded == b.Downloaded &&
		a.Progress == b.Progress &&
		a.DownloadSpeed == b.DownloadSpeed &&
		a.UploadSpeed == b.UploadSpeed &&
		a.State == b.State &&
		a.Error == b.Error &&
		a.SaveDir == b.SaveDir &&
		slices.Equal(a.Files, b.Files)
}
