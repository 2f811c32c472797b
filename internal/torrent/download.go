package torrent

import (
	"slices"
	"sync"

	"github.com/riptide-dl/riptide/internal/download"
	"github.com/riptide-dl/riptide/internal/source"
	"github.com/riptide-dl/riptide/internal/torrent/session"
)

// Download is one torrent. Its id is the lowercase hex infohash.
type Download struct {
	*download.Record
	a *Adapter

	mu       sync.Mutex
	source   string
	metaInfo []byte
	resume   []byte
	attached bool
	errText  string
	// userPaused is the torrent's own pause flag. A globally paused engine
	// shows every torrent paused without setting it.
	userPaused bool
}

func newDownload(a *Adapter, hash string) *Download {
	return &Download{Record: download.NewRecord(hash), a: a}
}

func (d *Download) Hash() string { return d.ID() }

// Source is the locator the torrent was submitted with.
func (d *Download) Source() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.source
}

func (d *Download) isAttached() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attached
}

func (d *Download) setAttached(on bool) {
	d.mu.Lock()
	d.attached = on
	d.mu.Unlock()
}

func (d *Download) setUserPaused(on bool) {
	d.mu.Lock()
	d.userPaused = on
	d.mu.Unlock()
}

func (d *Download) setResume(data []byte) {
	d.mu.Lock()
	d.resume = slices.Clone(data)
	d.mu.Unlock()
}

func (d *Download) setError(text string) {
	d.mu.Lock()
	d.errText = text
	d.mu.Unlock()
}

func (d *Download) lastError() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.errText
}

func (d *Download) Refresh() error {
	return d.a.refreshOne(d)
}

// Pause takes the torrent out of auto-management so the engine does not
// resume it when a slot frees up.
func (d *Download) Pause() error {
	err := d.a.command(d, func(s session.Session) error {
		if err := s.SetAutoManaged(d.ID(), false); err != nil {
			return err
		}
		return s.Pause(d.ID())
	})
	if err == nil {
		d.setUserPaused(true)
	}
	return err
}

func (d *Download) Resume() error {
	err := d.a.command(d, func(s session.Session) error {
		if err := s.SetAutoManaged(d.ID(), true); err != nil {
			return err
		}
		return s.Resume(d.ID())
	})
	if err == nil {
		d.setUserPaused(false)
	}
	return err
}

// Remove schedules removal; it happens at the start of the next refresh.
func (d *Download) Remove(deleteFiles bool) error {
	d.a.scheduleRemoval(d, deleteFiles)
	return nil
}

func (d *Download) Recheck() error {
	return d.a.command(d, func(s session.Session) error {
		return s.Recheck(d.ID())
	})
}

// PersistableState returns the entry with the last captured resume data.
func (d *Download) PersistableState() download.Entry {
	e := d.BaseEntry()
	d.mu.Lock()
	defer d.mu.Unlock()
	e.ID = d.ID()
	e.InfoHash = d.ID()
	e.Paused = d.userPaused
	e.Source = d.source
	e.ResumeSnapshot = slices.Clone(d.resume)
	e.MetadataSnapshot = slices.Clone(d.metaInfo)
	return e
}

// RestoreState validates e and loads it. It must run before the download is
// added to an adapter.
func (d *Download) RestoreState(e download.Entry) error {
	if len(e.ResumeSnapshot) > 0 {
		rd, err := session.DecodeResume(e.ResumeSnapshot)
		if err != nil {
			return err
		}
		if rd.InfoHash != d.ID() {
			return errMismatchedResume
		}
	}
	if len(e.MetadataSnapshot) > 0 {
		meta, err := source.ParseTorrent(e.MetadataSnapshot)
		if err != nil {
			return err
		}
		if meta.InfoHash != d.ID() {
			return errMismatchedMeta
		}
	}
	d.RestoreBase(e)
	d.mu.Lock()
	d.source = e.Source
	d.userPaused = e.Paused
	d.resume = slices.Clone(e.ResumeSnapshot)
	d.metaInfo = slices.Clone(e.MetadataSnapshot)
	d.mu.Unlock()
	return nil
}

// addParams describes the torrent for a fresh engine, preferring resume data,
// then metadata, then a magnet.
func (d *Download) addParams(defaultDir string) session.AddParams {
	d.mu.Lock()
	defer d.mu.Unlock()
	paused := d.userPaused
	p := session.AddParams{
		ResumeData:  slices.Clone(d.resume),
		MetaInfo:    slices.Clone(d.metaInfo),
		Name:        d.Name(),
		SavePath:    d.SaveDir(),
		Paused:      paused,
		AutoManaged: !paused,
	}
	if p.SavePath == "" {
		p.SavePath = defaultDir
	}
	if source.IsMagnet(d.source) {
		p.Magnet = d.source
	} else if len(p.ResumeData) == 0 && len(p.MetaInfo) == 0 {
		p.Magnet = (session.ResumeData{InfoHash: d.ID(), Name: d.Name()}).Magnet()
	}
	return p
}
