package download

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/riptide-dl/riptide/internal/config"
	"github.com/riptide-dl/riptide/internal/engine/events"
	"github.com/riptide-dl/riptide/internal/utils"
)

// Factory describes an adapter implementation the Aggregator may start.
type Factory struct {
	Name     string
	Priority int
	// Available probes whether the engine can run here. Nil means always.
	Available func() bool
	New       func(cfg *config.Store) (Adapter, error)
}

// Aggregator merges several adapters into one queue. Positions are global:
// every adapter keeps its own downloads at their global positions and leaves
// holes where other adapters' downloads sit.
type Aggregator struct {
	cfg       *config.Store
	bus       *events.Bus
	factories []Factory
	coord     *coordinator
	log       zerolog.Logger

	mu        sync.RWMutex
	adapters  []Adapter
	merged    []Download
	oldState  map[string]json.RawMessage
	lastSaved map[string]json.RawMessage
	dirty     atomic.Bool
}

func NewAggregator(cfg *config.Store, factories ...Factory) *Aggregator {
	if cfg == nil {
		cfg = config.NewStore(nil)
	}
	fs := make([]Factory, len(factories))
	copy(fs, factories)
	sort.SliceStable(fs, func(i, j int) bool { return fs[i].Priority > fs[j].Priority })

	bus := events.NewBus()
	// Late subscribers (a UI attaching after startup) see every live download and adapter.
	_ = bus.SetReplay(events.DownloadNew, events.ReplayAll)
	_ = bus.SetReplay(events.AdapterAdded, events.ReplayAll)

	a := &Aggregator{
		cfg:       cfg,
		bus:       bus,
		factories: fs,
		log:       utils.Logger("aggregator"),
		oldState:  make(map[string]json.RawMessage),
		lastSaved: make(map[string]json.RawMessage),
	}
	a.coord = &coordinator{agg: a}
	// A removed download must not be replayed to later subscribers as new.
	bus.On(events.DownloadRemove, func(args ...any) {
		if len(args) > 0 {
			bus.CancelReplay(events.DownloadNew, args[0])
		}
	})
	bus.On(events.AdapterRemoved, func(args ...any) {
		if len(args) > 0 {
			bus.CancelReplay(events.AdapterAdded, args[0])
		}
	})
	return a
}

func (a *Aggregator) Name() string  { return "aggregator" }
func (a *Aggregator) Priority() int { return 0 }

func (a *Aggregator) On(event string, h events.Handler) {
	a.bus.On(event, h)
}

// Adapters returns the active adapters in priority order.
func (a *Aggregator) Adapters() []Adapter {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Adapter, len(a.adapters))
	copy(out, a.adapters)
	return out
}

// Adapter returns the active adapter called name.
func (a *Aggregator) Adapter(name string) (Adapter, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, ad := range a.adapters {
		if ad.Name() == name {
			return ad, true
		}
	}
	return nil, false
}

// Run starts every registered adapter that is not active yet. An adapter that
// fails to restore or start is logged and discarded; the rest carry on.
func (a *Aggregator) Run(ctx context.Context) error {
	for _, f := range a.factories {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, active := a.Adapter(f.Name); active {
			continue
		}
		if f.Available != nil && !safeProbe(f.Available) {
			a.log.Debug().Str("adapter", f.Name).Msg("adapter unavailable")
			continue
		}
		if err := a.start(ctx, f); err != nil {
			a.log.Error().Err(err).Str("adapter", f.Name).Msg("adapter failed to start, discarding")
		}
	}
	a.rebuild()
	return nil
}

func (a *Aggregator) start(ctx context.Context, f Factory) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()

	ad, err := f.New(a.cfg)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	ad.SetCoordinator(a.coord)

	fw := &forwarder{agg: a}
	for _, ev := range events.DownloadEvents {
		ev := ev
		ad.On(ev, func(args ...any) { fw.handle(ev, args) })
	}

	a.mu.RLock()
	blob, saved := a.oldState[f.Name]
	a.mu.RUnlock()
	if saved {
		if err := ad.RestoreState(blob); err != nil {
			fw.discard()
			return fmt.Errorf("restore: %w", err)
		}
	}
	if err := ad.Run(ctx); err != nil {
		fw.discard()
		stopQuietly(ctx, ad)
		return fmt.Errorf("run: %w", err)
	}

	a.mu.Lock()
	a.adapters = append(a.adapters, ad)
	sort.SliceStable(a.adapters, func(i, j int) bool {
		return a.adapters[i].Priority() > a.adapters[j].Priority()
	})
	if saved {
		a.lastSaved[f.Name] = blob
		delete(a.oldState, f.Name)
	}
	a.mu.Unlock()

	a.log.Info().Str("adapter", f.Name).Msg("adapter started")
	a.bus.Emit(events.AdapterAdded, ad)
	fw.open()
	return nil
}

type updateFlusher interface {
	FlushUpdates() int
}

// Refresh refreshes every adapter, compacts positions if downloads left the
// queue, and rebuilds the merged view. Updates caused by the compaction are
// emitted in the same tick.
func (a *Aggregator) Refresh() error {
	for _, ad := range a.Adapters() {
		if err := safeCall(ad.Refresh); err != nil {
			a.log.Error().Err(err).Str("adapter", ad.Name()).Msg("refresh failed")
		}
	}
	if a.dirty.Swap(false) {
		a.Compact()
		for _, ad := range a.Adapters() {
			if f, ok := ad.(updateFlusher); ok {
				f.FlushUpdates()
			}
		}
	}
	a.rebuild()
	return nil
}

// Compact renumbers visible downloads across all adapters to 0..n-1.
// Ties on position are broken by adapter priority.
func (a *Aggregator) Compact() {
	a.assign(a.collectVisible())
}

// assign gives every download in order its index as position.
func (a *Aggregator) assign(order []Download) {
	byAdapter := make(map[string]map[string]int)
	for i, d := range order {
		name := adapterOf(d)
		if byAdapter[name] == nil {
			byAdapter[name] = make(map[string]int)
		}
		byAdapter[name][d.ID()] = i
	}
	a.coord.reset(len(order))
	for _, ad := range a.Adapters() {
		ad.Renumber(byAdapter[ad.Name()])
	}
	a.rebuild()
}

// move takes d out of the merged queue and reinserts it before the download
// now at pos, or at the tail when pos is negative or past the end. The whole
// queue is renumbered.
func (a *Aggregator) move(d Download, pos int) error {
	visible := a.collectVisible()
	order := make([]Download, 0, len(visible))
	for _, v := range visible {
		if v != d {
			order = append(order, v)
		}
	}
	if pos < 0 || pos > len(order) {
		pos = len(order)
	}
	order = append(order[:pos], append([]Download{d}, order[pos:]...)...)
	a.assign(order)
	return nil
}

func (a *Aggregator) rebuild() {
	visible := a.collectVisible()
	a.mu.Lock()
	a.merged = visible
	a.mu.Unlock()
}

func (a *Aggregator) collectVisible() []Download {
	type ranked struct {
		d        Download
		pos      int
		priority int
		index    int
	}
	var all []ranked
	for _, ad := range a.Adapters() {
		for i, d := range ad.Visible() {
			all = append(all, ranked{d: d, pos: d.Position(), priority: ad.Priority(), index: i})
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].pos != all[j].pos {
			return all[i].pos < all[j].pos
		}
		if all[i].priority != all[j].priority {
			return all[i].priority > all[j].priority
		}
		return all[i].index < all[j].index
	})
	out := make([]Download, len(all))
	for i, r := range all {
		out[i] = r.d
	}
	return out
}

// Visible returns the merged queue as of the last Run, Refresh or Compact.
func (a *Aggregator) Visible() []Download {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Download, len(a.merged))
	copy(out, a.merged)
	return out
}

// Downloads returns the merged queue followed by every hidden download.
func (a *Aggregator) Downloads() []Download {
	out := a.Visible()
	for _, ad := range a.Adapters() {
		for _, d := range ad.Downloads() {
			if d.Hidden() {
				out = append(out, d)
			}
		}
	}
	return out
}

// Lookup accepts a qualified "adapter/id" key or a bare id.
func (a *Aggregator) Lookup(key string) (Download, bool) {
	name, id, qualified := strings.Cut(key, "/")
	for _, ad := range a.Adapters() {
		if qualified {
			if ad.Name() != name {
				continue
			}
			return ad.Lookup(id)
		}
		if d, ok := ad.Lookup(key); ok {
			return d, true
		}
	}
	return nil, false
}

func (a *Aggregator) MoveDownload(key string, pos int) error {
	d, ok := a.Lookup(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDownload, key)
	}
	if err := d.SetPosition(pos); err != nil {
		return err
	}
	a.rebuild()
	return nil
}

// Renumber takes qualified keys.
func (a *Aggregator) Renumber(positions map[string]int) {
	byAdapter := make(map[string]map[string]int)
	for key, pos := range positions {
		name, id, ok := strings.Cut(key, "/")
		if !ok {
			continue
		}
		if byAdapter[name] == nil {
			byAdapter[name] = make(map[string]int)
		}
		byAdapter[name][id] = pos
	}
	for _, ad := range a.Adapters() {
		if m, ok := byAdapter[ad.Name()]; ok {
			ad.Renumber(m)
		}
	}
	a.rebuild()
}

// SetCoordinator is a no-op; the Aggregator coordinates its own adapters.
func (a *Aggregator) SetCoordinator(Coordinator) {}

func (a *Aggregator) CanHandle(locator string) bool {
	_, ok := a.route(locator)
	return ok
}

// Submit hands locator to the highest-priority adapter that can handle it.
func (a *Aggregator) Submit(ctx context.Context, locator string, userData map[string]any) bool {
	ad, ok := a.route(locator)
	if !ok {
		a.log.Warn().Str("locator", locator).Msg("no adapter can handle source")
		return false
	}
	return ad.Submit(ctx, locator, userData)
}

func (a *Aggregator) route(locator string) (Adapter, bool) {
	for _, ad := range a.Adapters() {
		if ad.CanHandle(locator) {
			return ad, true
		}
	}
	return nil, false
}

// Stop stops every adapter concurrently and emits adapter-removed for each.
func (a *Aggregator) Stop(ctx context.Context) error {
	a.mu.Lock()
	adapters := a.adapters
	a.adapters = nil
	a.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, ad := range adapters {
		ad := ad
		g.Go(func() error {
			if err := safeCall(func() error { return ad.Stop(gctx) }); err != nil {
				return fmt.Errorf("stop %s: %w", ad.Name(), err)
			}
			return nil
		})
	}
	err := g.Wait()
	for _, ad := range adapters {
		a.bus.Emit(events.AdapterRemoved, ad)
	}
	a.rebuild()
	return err
}

// PersistableState collects one sub-blob per adapter, keyed by name. Positions
// are compacted first. An adapter that fails keeps its last saved blob; blobs of
// adapters that are not active are carried over unchanged.
func (a *Aggregator) PersistableState(ctx context.Context, flush bool) (json.RawMessage, error) {
	a.Compact()

	a.mu.RLock()
	out := make(map[string]json.RawMessage, len(a.oldState)+len(a.adapters))
	for name, blob := range a.oldState {
		out[name] = blob
	}
	adapters := make([]Adapter, len(a.adapters))
	copy(adapters, a.adapters)
	a.mu.RUnlock()

	for _, ad := range adapters {
		var blob json.RawMessage
		err := safeCall(func() error {
			var err error
			blob, err = ad.PersistableState(ctx, flush)
			return err
		})
		if err != nil {
			a.log.Error().Err(err).Str("adapter", ad.Name()).Msg("failed to capture adapter state, keeping previous")
			a.mu.RLock()
			prev, ok := a.lastSaved[ad.Name()]
			a.mu.RUnlock()
			if ok {
				out[ad.Name()] = prev
			}
			continue
		}
		out[ad.Name()] = blob
		a.mu.Lock()
		a.lastSaved[ad.Name()] = blob
		a.mu.Unlock()
	}
	return json.Marshal(out)
}

// RestoreState hands each active adapter its sub-blob and retains the rest
// verbatim until an adapter of that name starts.
func (a *Aggregator) RestoreState(blob json.RawMessage) error {
	if len(blob) == 0 {
		return nil
	}
	var subs map[string]json.RawMessage
	if err := json.Unmarshal(blob, &subs); err != nil {
		return fmt.Errorf("decode aggregator state: %w", err)
	}
	for name, sub := range subs {
		ad, active := a.Adapter(name)
		if !active {
			a.mu.Lock()
			a.oldState[name] = sub
			a.mu.Unlock()
			continue
		}
		if err := safeCall(func() error { return ad.RestoreState(sub) }); err != nil {
			a.log.Error().Err(err).Str("adapter", name).Msg("failed to restore adapter state")
			continue
		}
		a.mu.Lock()
		a.lastSaved[name] = sub
		a.mu.Unlock()
	}
	a.rebuild()
	return nil
}

// RetainedState returns the blob kept for an adapter that is not active.
func (a *Aggregator) RetainedState(name string) (json.RawMessage, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	blob, ok := a.oldState[name]
	return blob, ok
}

// DownloadDir returns the directory every adapter agrees on. It panics if they
// disagree; see CheckSettings.
func (a *Aggregator) DownloadDir() string {
	return a.agreed("download dir", func(ad Adapter) string { return ad.DownloadDir() }, config.KeyDownloadDir)
}

func (a *Aggregator) SetDownloadDir(dir string) {
	for _, ad := range a.Adapters() {
		ad.SetDownloadDir(dir)
	}
}

// Identity returns the application identity every adapter agrees on. It panics
// if they disagree.
func (a *Aggregator) Identity() string {
	return a.agreed("identity", func(ad Adapter) string { return ad.Identity() }, config.KeyAppIdentity)
}

func (a *Aggregator) SetIdentity(identity string) {
	for _, ad := range a.Adapters() {
		ad.SetIdentity(identity)
	}
}

// CheckSettings reports shared-setting drift without panicking.
func (a *Aggregator) CheckSettings() error {
	for _, s := range []struct {
		what string
		get  func(Adapter) string
	}{
		{"download dir", func(ad Adapter) string { return ad.DownloadDir() }},
		{"identity", func(ad Adapter) string { return ad.Identity() }},
	} {
		if vals := a.distinct(s.get); len(vals) > 1 {
			return fmt.Errorf("adapters disagree on %s: %s", s.what, describe(vals))
		}
	}
	return nil
}

func (a *Aggregator) agreed(what string, get func(Adapter) string, key string) string {
	vals := a.distinct(get)
	switch len(vals) {
	case 0:
		return a.cfg.String(key)
	case 1:
		for v := range vals {
			return v
		}
	}
	panic(fmt.Sprintf("download: adapters disagree on %s: %s", what, describe(vals)))
}

func (a *Aggregator) distinct(get func(Adapter) string) map[string][]string {
	vals := make(map[string][]string)
	for _, ad := range a.Adapters() {
		v := get(ad)
		vals[v] = append(vals[v], ad.Name())
	}
	return vals
}

func describe(vals map[string][]string) string {
	parts := make([]string, 0, len(vals))
	for v, names := range vals {
		parts = append(parts, fmt.Sprintf("%s=%q", strings.Join(names, ","), v))
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

// forwarder relays an adapter's download events onto the aggregator bus. Until
// the adapter has started, events are buffered so a discarded adapter leaves no
// trace.
type forwarder struct {
	agg *Aggregator

	mu      sync.Mutex
	live    bool
	dead    bool
	pending [][]any
	names   []string
}

func (f *forwarder) handle(event string, args []any) {
	f.mu.Lock()
	if f.dead {
		f.mu.Unlock()
		return
	}
	if !f.live {
		f.pending = append(f.pending, args)
		f.names = append(f.names, event)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	f.agg.relay(event, args)
}

func (f *forwarder) open() {
	f.mu.Lock()
	pending, names := f.pending, f.names
	f.pending, f.names = nil, nil
	f.live = true
	f.mu.Unlock()
	for i, args := range pending {
		f.agg.relay(names[i], args)
	}
}

func (f *forwarder) discard() {
	f.mu.Lock()
	f.dead = true
	f.pending, f.names = nil, nil
	f.mu.Unlock()
}

func (a *Aggregator) relay(event string, args []any) {
	switch event {
	case events.DownloadRemove, events.DownloadHidden:
		a.dirty.Store(true)
	}
	a.bus.Emit(event, args...)
}

// coordinator reserves tail positions across adapters and routes moves back
// to the Aggregator.
type coordinator struct {
	agg  *Aggregator
	next atomic.Int64
}

func (s *coordinator) Move(d Download, pos int) error {
	return s.agg.move(d, pos)
}

func (s *coordinator) Reserve(min int) int {
	for {
		cur := s.next.Load()
		pos := cur
		if int64(min) > pos {
			pos = int64(min)
		}
		if s.next.CompareAndSwap(cur, pos+1) {
			return int(pos)
		}
	}
}

func (s *coordinator) Observe(n int) {
	for {
		cur := s.next.Load()
		if int64(n) <= cur || s.next.CompareAndSwap(cur, int64(n)) {
			return
		}
	}
}

func (s *coordinator) reset(n int) { s.next.Store(int64(n)) }

func adapterOf(d Download) string {
	name, _, _ := strings.Cut(d.Key(), "/")
	return name
}

func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn()
}

func safeProbe(fn func() bool) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return fn()
}

func stopQuietly(ctx context.Context, ad Adapter) {
	_ = safeCall(func() error { return ad.Stop(ctx) })
}
