package direct

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/riptide-dl/riptide/internal/download"
	"github.com/riptide-dl/riptide/internal/source"
)

// Download is one direct link. Its id is a random UUID.
type Download struct {
	*download.Record
	a *Adapter
	p *progress

	mu   sync.Mutex
	url  string
	path string // destination, empty until the first response names it
}

func newDownload(a *Adapter, id, url string) *Download {
	return &Download{Record: download.NewRecord(id), a: a, p: newProgress(-1), url: url}
}

// Source is the URL the download was submitted with.
func (d *Download) Source() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url
}

// Path is the destination file, empty until the server has been asked.
func (d *Download) Path() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.path
}

func (d *Download) setPath(p string) {
	d.mu.Lock()
	d.path = p
	d.mu.Unlock()
}

// startable reports whether the scheduler may run the download.
func (d *Download) startable() bool {
	return !d.p.Done.Load() && !d.p.Paused.Load() && d.p.GetError() == nil && !d.p.Active()
}

func (d *Download) state() download.State {
	switch {
	case d.p.GetError() != nil:
		return download.StateError
	case d.p.Done.Load():
		return download.StateFinished
	case d.p.Paused.Load():
		return download.StatePaused
	case d.p.Active():
		return download.StateDownloading
	}
	return download.StateQueued
}

func (d *Download) stats(now time.Time) download.Stats {
	s := d.Stats()
	s.State = d.state()
	s.Downloaded = d.p.Downloaded.Load()
	s.TotalSize = max(d.p.TotalSize(), 0)
	s.Progress = 0
	if s.TotalSize > 0 {
		s.Progress = float64(s.Downloaded) / float64(s.TotalSize)
	}
	s.DownloadSpeed = d.p.Speed(now)
	s.UploadSpeed = 0
	s.Error = ""
	if err := d.p.GetError(); err != nil {
		s.Error = err.Error()
	}
	if p := d.Path(); p != "" {
		s.Name = filepath.Base(p)
		s.Files = []string{p}
	}
	return s
}

func (d *Download) Refresh() error {
	if d.a.sync(d) {
		d.a.MarkOutdated(d.ID())
	}
	return nil
}

// Pause stops the transfer; the partial file is kept for a later Range request.
func (d *Download) Pause() error {
	if !d.a.Ready() {
		return download.ErrNotReady
	}
	d.p.Paused.Store(true)
	d.p.halt()
	d.a.MarkOutdated(d.ID())
	return nil
}

// Resume queues the download again. It also clears a previous error.
func (d *Download) Resume() error {
	if !d.a.Ready() {
		return download.ErrNotReady
	}
	d.p.Paused.Store(false)
	d.p.SetError(nil)
	d.a.MarkOutdated(d.ID())
	return nil
}

// Remove stops the transfer and drops the download. With deleteFiles the
// destination and partial files go too.
func (d *Download) Remove(deleteFiles bool) error {
	d.p.halt()
	d.a.Drop(d.ID())
	if !deleteFiles {
		return nil
	}
	p := d.Path()
	if p == "" {
		return nil
	}
	var errs []error
	for _, f := range []string{p, p + IncompleteSuffix} {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recheck re-reads progress from disk. A running transfer is stopped first
// and rescheduled on the next refresh.
func (d *Download) Recheck() error {
	d.p.halt()
	d.restat()
	d.a.MarkOutdated(d.ID())
	return nil
}

// restat derives progress from the files on disk. A destination file of the
// expected size means done, otherwise the partial file's size is how far the
// transfer got.
func (d *Download) restat() {
	d.p.SetError(nil)
	d.p.Done.Store(false)
	d.p.Downloaded.Store(0)
	p := d.Path()
	if p == "" {
		return
	}
	total := d.p.TotalSize()
	if st, err := os.Stat(p); err == nil && (total < 0 || st.Size() == total) {
		d.p.SetTotalSize(st.Size())
		d.p.Downloaded.Store(st.Size())
		d.p.Done.Store(true)
		return
	}
	if st, err := os.Stat(p + IncompleteSuffix); err == nil {
		d.p.Downloaded.Store(st.Size())
	}
}

func (d *Download) PersistableState() download.Entry {
	e := d.BaseEntry()
	e.ID = d.ID()
	e.Source = d.Source()
	e.Paused = d.p.Paused.Load()
	if total := d.p.TotalSize(); total > 0 {
		e.TotalSize = total
	}
	if p := d.Path(); p != "" {
		e.Filenames = []string{p}
	}
	return e
}

// RestoreState loads e. Progress comes from the files on disk, not from e.
func (d *Download) RestoreState(e download.Entry) error {
	if !source.IsHTTPURL(e.Source) {
		return fmt.Errorf("direct download %s: invalid source %q", e.ID, e.Source)
	}
	d.RestoreBase(e)
	d.mu.Lock()
	d.url = e.Source
	if len(e.Filenames) > 0 {
		d.path = e.Filenames[0]
	}
	d.mu.Unlock()
	if e.TotalSize > 0 {
		d.p.SetTotalSize(e.TotalSize)
	}
	d.p.Paused.Store(e.Paused)
	d.restat()
	return nil
}
