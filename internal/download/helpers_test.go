package download

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/riptide-dl/riptide/internal/config"
	"github.com/riptide-dl/riptide/internal/engine/events"
)

type memDownload struct {
	*Record
	adapter *memAdapter
}

func (d *memDownload) Refresh() error { return nil }

func (d *memDownload) Pause() error {
	if d.SetState(StatePaused) {
		d.adapter.MarkOutdated(d.ID())
	}
	return nil
}

func (d *memDownload) Resume() error {
	if d.SetState(StateDownloading) {
		d.adapter.MarkOutdated(d.ID())
	}
	return nil
}

func (d *memDownload) Remove(bool) error {
	d.adapter.Drop(d.ID())
	return nil
}

func (d *memDownload) Recheck() error { return nil }

func (d *memDownload) PersistableState() Entry {
	e := d.BaseEntry()
	e.ID = d.ID()
	return e
}

func (d *memDownload) RestoreState(e Entry) error {
	if e.ID == "" {
		return errors.New("entry has no id")
	}
	d.RestoreBase(e)
	return nil
}

// memAdapter is an engine-less adapter: submitted locators become downloads
// immediately.
type memAdapter struct {
	*BaseAdapter
	prefix  string
	runErr  error
	restErr error

	mu      sync.Mutex
	running bool
	stopped int
}

func newMemAdapter(name string, priority int, cfg *config.Store) *memAdapter {
	return &memAdapter{BaseAdapter: NewBaseAdapter(name, priority, cfg), prefix: name + ":"}
}

func (a *memAdapter) Run(context.Context) error {
	if a.runErr != nil {
		return a.runErr
	}
	a.mu.Lock()
	a.running = true
	a.mu.Unlock()
	return nil
}

func (a *memAdapter) Stop(context.Context) error {
	a.mu.Lock()
	a.running = false
	a.stopped++
	a.mu.Unlock()
	return nil
}

func (a *memAdapter) CanHandle(locator string) bool {
	return strings.HasPrefix(locator, a.prefix)
}

func (a *memAdapter) Submit(_ context.Context, locator string, userData map[string]any) bool {
	d := a.newDownload(strings.TrimPrefix(locator, a.prefix))
	d.SetUserData(userData)
	return a.Add(d, Append)
}

func (a *memAdapter) newDownload(id string) *memDownload {
	return &memDownload{Record: NewRecord(id), adapter: a}
}

func (a *memAdapter) PersistableState(context.Context, bool) (json.RawMessage, error) {
	var entries []Entry
	for _, d := range a.Downloads() {
		entries = append(entries, d.PersistableState())
	}
	return EncodeState([]byte(a.Name()), entries)
}

func (a *memAdapter) RestoreState(blob json.RawMessage) error {
	if a.restErr != nil {
		return a.restErr
	}
	_, entries, err := DecodeState(blob)
	if err != nil {
		return err
	}
	a.RestoreEntries(entries, func(e Entry) (Download, error) {
		d := a.newDownload(e.ID)
		if err := d.RestoreState(e); err != nil {
			return nil, err
		}
		return d, nil
	})
	return nil
}

func memFactory(name string, priority int, tweak func(*memAdapter)) Factory {
	return Factory{
		Name:     name,
		Priority: priority,
		New: func(cfg *config.Store) (Adapter, error) {
			a := newMemAdapter(name, priority, cfg)
			if tweak != nil {
				tweak(a)
			}
			return a, nil
		},
	}
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) watch(on func(string, events.Handler), names ...string) {
	for _, name := range names {
		name := name
		on(name, func(args ...any) {
			r.mu.Lock()
			defer r.mu.Unlock()
			id := ""
			if d, ok := args[0].(Download); ok {
				id = d.ID()
			} else if ad, ok := args[0].(Adapter); ok {
				id = ad.Name()
			}
			r.events = append(r.events, name+":"+id)
		})
	}
}

func (r *recorder) take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

func ids(ds []Download) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.ID()
	}
	return out
}

func positions(ds []Download) []int {
	out := make([]int, len(ds))
	for i, d := range ds {
		out[i] = d.Position()
	}
	return out
}
