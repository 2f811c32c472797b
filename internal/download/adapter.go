package download

import (
	"context"
	"encoding/json"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/riptide-dl/riptide/internal/config"
	"github.com/riptide-dl/riptide/internal/engine/events"
	"github.com/riptide-dl/riptide/internal/utils"
)

// Adapter drives one download engine. The Aggregator implements it too, so
// callers can treat a single adapter and the merged queue alike.
type Adapter interface {
	Name() string
	Priority() int
	On(event string, h events.Handler)

	// Downloads returns visible downloads in position order, then hidden ones.
	Downloads() []Download
	// Visible returns only non-hidden downloads, in position order.
	Visible() []Download
	Lookup(id string) (Download, bool)

	Run(ctx context.Context) error
	Stop(ctx context.Context) error
	CanHandle(locator string) bool
	// Submit starts adding locator and reports whether it was accepted. It does
	// not wait for the engine to confirm.
	Submit(ctx context.Context, locator string, userData map[string]any) bool
	// Refresh pulls engine changes and emits one download-update per changed download.
	Refresh() error

	PersistableState(ctx context.Context, flush bool) (json.RawMessage, error)
	RestoreState(blob json.RawMessage) error

	MoveDownload(id string, pos int) error
	// Renumber assigns exact positions without shifting. Ids not owned are ignored.
	Renumber(positions map[string]int)
	SetCoordinator(c Coordinator)

	DownloadDir() string
	SetDownloadDir(dir string)
	Identity() string
	SetIdentity(identity string)
}

// Coordinator arranges positions shared by several adapters. An adapter with a
// coordinator leaves holes when downloads leave its queue; the coordinator
// compacts them.
type Coordinator interface {
	// Reserve returns a free tail position no lower than min.
	Reserve(min int) int
	// Observe records that positions below n are in use.
	Observe(n int)
	// Move repositions d within the shared queue.
	Move(d Download, pos int) error
}

// BaseAdapter implements the bookkeeping shared by every engine adapter: the
// download table, the ordering, the outdated set and the event bus. Engine
// adapters embed it and add the engine-facing operations.
type BaseAdapter struct {
	name     string
	priority int
	cfg      *config.Store
	bus      *events.Bus
	log      zerolog.Logger

	mu          sync.Mutex
	downloads   map[string]Download
	ordering    *Ordering
	outdated    map[string]struct{}
	moved       bool
	coord       Coordinator
	downloadDir string
	identity    string
}

func NewBaseAdapter(name string, priority int, cfg *config.Store) *BaseAdapter {
	if cfg == nil {
		cfg = config.NewStore(nil)
	}
	return &BaseAdapter{
		name:        name,
		priority:    priority,
		cfg:         cfg,
		bus:         events.NewBus(),
		log:         utils.Logger(name),
		downloads:   make(map[string]Download),
		ordering:    NewOrdering(),
		outdated:    make(map[string]struct{}),
		downloadDir: cfg.String(config.KeyDownloadDir),
		identity:    cfg.String(config.KeyAppIdentity),
	}
}

func (b *BaseAdapter) Name() string          { return b.name }
func (b *BaseAdapter) Priority() int         { return b.priority }
func (b *BaseAdapter) Config() *config.Store { return b.cfg }
func (b *BaseAdapter) Log() *zerolog.Logger  { return &b.log }
func (b *BaseAdapter) Bus() *events.Bus      { return b.bus }

func (b *BaseAdapter) On(event string, h events.Handler) {
	b.bus.On(event, h)
}

func (b *BaseAdapter) SetCoordinator(c Coordinator) {
	b.mu.Lock()
	b.coord = c
	b.mu.Unlock()
}

// Add registers d and places it at pos (Append for the tail). Hidden downloads
// are registered without a position. It returns false if the id is taken.
func (b *BaseAdapter) Add(d Download, pos int) bool {
	b.mu.Lock()
	if _, exists := b.downloads[d.ID()]; exists {
		b.mu.Unlock()
		return false
	}
	d.record().bind(b)
	b.downloads[d.ID()] = d
	if !d.Hidden() {
		b.placeLocked(d.ID(), pos)
	}
	b.mu.Unlock()

	b.bus.Emit(events.DownloadNew, d)
	return true
}

// Drop unregisters id and emits download-remove.
func (b *BaseAdapter) Drop(id string) (Download, bool) {
	b.mu.Lock()
	d, ok := b.downloads[id]
	if !ok {
		b.mu.Unlock()
		return nil, false
	}
	delete(b.downloads, id)
	delete(b.outdated, id)
	b.releaseLocked(id)
	b.mu.Unlock()

	b.bus.Emit(events.DownloadRemove, d)
	return d, true
}

func (b *BaseAdapter) Lookup(id string) (Download, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.downloads[id]
	return d, ok
}

func (b *BaseAdapter) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.downloads)
}

func (b *BaseAdapter) Downloads() []Download {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.visibleLocked()
	var hidden []Download
	for _, d := range b.downloads {
		if _, placed := b.ordering.Position(d.ID()); !placed {
			hidden = append(hidden, d)
		}
	}
	sort.Slice(hidden, func(i, j int) bool {
		ti, tj := hidden[i].record().HiddenSince(), hidden[j].record().HiddenSince()
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return hidden[i].ID() < hidden[j].ID()
	})
	return append(out, hidden...)
}

func (b *BaseAdapter) Visible() []Download {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.visibleLocked()
}

func (b *BaseAdapter) visibleLocked() []Download {
	ids := b.ordering.IDs()
	out := make([]Download, 0, len(ids))
	for _, id := range ids {
		out = append(out, b.downloads[id])
	}
	return out
}

// MarkOutdated queues a download-update for id on the next Refresh.
func (b *BaseAdapter) MarkOutdated(id string) {
	b.mu.Lock()
	if _, ok := b.downloads[id]; ok {
		b.outdated[id] = struct{}{}
	}
	b.mu.Unlock()
}

// Refresh drains the outdated set, emitting one download-update per entry.
func (b *BaseAdapter) Refresh() error {
	b.FlushUpdates()
	return nil
}

// FlushUpdates drains the outdated set and returns how many updates were emitted.
func (b *BaseAdapter) FlushUpdates() int {
	b.mu.Lock()
	if len(b.outdated) == 0 {
		b.mu.Unlock()
		return 0
	}
	ids := make([]string, 0, len(b.outdated))
	for id := range b.outdated {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	updated := make([]Download, len(ids))
	for i, id := range ids {
		updated[i] = b.downloads[id]
	}
	b.outdated = make(map[string]struct{})
	b.mu.Unlock()

	for _, d := range updated {
		b.bus.Emit(events.DownloadUpdate, d)
	}
	return len(updated)
}

func (b *BaseAdapter) MoveDownload(id string, pos int) error {
	b.mu.Lock()
	d, ok := b.downloads[id]
	if !ok {
		b.mu.Unlock()
		return ErrUnknownDownload
	}
	if d.Hidden() {
		b.mu.Unlock()
		return nil
	}
	if coord := b.coord; coord != nil {
		b.mu.Unlock()
		return coord.Move(d, pos)
	}
	b.placeLocked(id, pos)
	b.mu.Unlock()
	return nil
}

// PositionOf returns id's slot, or -1 if it has none.
func (b *BaseAdapter) PositionOf(id string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pos, ok := b.ordering.Position(id); ok {
		return pos
	}
	return -1
}

// HideDownload sets the hidden flag. Events fire only on a transition; a hidden
// download gives up its slot and an unhidden one goes to the tail.
func (b *BaseAdapter) HideDownload(id string, hidden bool) {
	b.mu.Lock()
	d, ok := b.downloads[id]
	if !ok || !d.record().setHidden(hidden) {
		b.mu.Unlock()
		return
	}
	event := events.DownloadUnhidden
	if hidden {
		event = events.DownloadHidden
		b.releaseLocked(id)
	} else {
		b.placeLocked(id, Append)
	}
	b.mu.Unlock()

	b.bus.Emit(event, d)
}

func (b *BaseAdapter) Renumber(positions map[string]int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reorderLocked(func() {
		ids := b.ordering.IDs()
		next := NewOrdering()
		for _, id := range ids {
			if pos, ok := positions[id]; ok {
				next.Set(id, pos)
			}
		}
		// Ids missing from positions keep their slot unless it was taken.
		for _, id := range ids {
			if _, ok := positions[id]; ok {
				continue
			}
			pos, _ := b.ordering.Position(id)
			next.Place(id, pos)
		}
		b.ordering = next
	})
}

// Compact renumbers this adapter's own slots to 0..n-1. Adapters running under
// an Aggregator are compacted by it instead.
func (b *BaseAdapter) Compact() bool {
	var changed bool
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reorderLocked(func() { changed = b.ordering.Compact() })
	return changed
}

// TakeMoved reports whether any position changed since the last call.
func (b *BaseAdapter) TakeMoved() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	moved := b.moved
	b.moved = false
	return moved
}

func (b *BaseAdapter) DownloadDir() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.downloadDir
}

func (b *BaseAdapter) SetDownloadDir(dir string) {
	b.mu.Lock()
	b.downloadDir = dir
	b.mu.Unlock()
}

func (b *BaseAdapter) Identity() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.identity
}

func (b *BaseAdapter) SetIdentity(identity string) {
	b.mu.Lock()
	b.identity = identity
	b.mu.Unlock()
}

// RestoreEntries rebuilds downloads from persisted entries, lowest position
// first, keeping the persisted positions. An entry build rejects is logged and
// skipped; the rest are still restored.
func (b *BaseAdapter) RestoreEntries(entries []Entry, build func(Entry) (Download, error)) int {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return entryLess(sorted[i], sorted[j]) })

	restored := 0
	for _, e := range sorted {
		d, err := build(e)
		if err != nil {
			b.log.Warn().Err(err).Str("name", e.Name).Int("position", e.Position).Msg("skipping download that failed to restore")
			continue
		}
		pos := e.Position
		if pos < 0 {
			pos = Append
		}
		if !b.Add(d, pos) {
			b.log.Warn().Str("id", d.ID()).Msg("skipping duplicate download in saved state")
			continue
		}
		restored++
	}
	return restored
}

// HiddenBefore returns hidden downloads hidden before cutoff.
func (b *BaseAdapter) HiddenBefore(cutoff time.Time) []Download {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Download
	for _, d := range b.downloads {
		if d.Hidden() && d.record().HiddenSince().Before(cutoff) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// placeLocked puts id at pos, resolving Append against the shared slots.
func (b *BaseAdapter) placeLocked(id string, pos int) {
	b.reorderLocked(func() {
		if pos < 0 {
			pos = b.ordering.Len()
			if b.coord != nil {
				pos = b.coord.Reserve(pos)
			}
		}
		b.ordering.Place(id, pos)
	})
}

// releaseLocked takes id out of the ordering. Standalone adapters close the gap;
// under a coordinator the slot stays empty until the next compaction.
func (b *BaseAdapter) releaseLocked(id string) {
	b.reorderLocked(func() {
		if b.coord != nil {
			b.ordering.Vacate(id)
		} else {
			b.ordering.Remove(id)
		}
	})
}

// reorderLocked runs fn and marks outdated every download whose slot moved.
func (b *BaseAdapter) reorderLocked(fn func()) {
	before := maps.Clone(b.ordering.byID)
	fn()
	if b.coord != nil {
		b.coord.Observe(b.ordering.Len())
	}

	for id, pos := range b.ordering.byID {
		old, had := before[id]
		if had && old == pos {
			continue
		}
		b.moved = true
		if had {
			b.outdated[id] = struct{}{}
		}
	}
	for id := range before {
		if _, still := b.ordering.byID[id]; !still {
			b.moved = true
		}
	}
}
