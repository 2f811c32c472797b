// Package torrent adapts a BitTorrent engine session to the download queue.
//
// The engine works on its own goroutines and reports through an alert queue.
// The adapter never waits on it outside two places: collecting resume data for
// a snapshot, and Stop. Everything else happens on the caller's refresh tick:
// pending removals are issued, alerts drained, statuses copied into records
// and the engine queue brought in line with the logical order.
package torrent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/riptide-dl/riptide/internal/config"
	"github.com/riptide-dl/riptide/internal/download"
	"github.com/riptide-dl/riptide/internal/source"
	"github.com/riptide-dl/riptide/internal/torrent/session"
)

const (
	Name     = "torrent"
	Priority = 10

	pollInterval = 20 * time.Millisecond
)

var (
	errMismatchedResume = errors.New("resume data belongs to another torrent")
	errMismatchedMeta   = errors.New("metadata belongs to another torrent")
)

// SessionFactory starts an engine session.
type SessionFactory func(s session.Settings) (session.Session, error)

// DefaultSession starts the anacrolix-backed engine.
func DefaultSession(s session.Settings) (session.Session, error) {
	return session.NewAnacrolix(s)
}

// Factory registers the torrent adapter with an Aggregator.
func Factory(newSession SessionFactory) download.Factory {
	return download.Factory{
		Name:     Name,
		Priority: Priority,
		New: func(cfg *config.Store) (download.Adapter, error) {
			return New(cfg, newSession), nil
		},
	}
}

type removal struct {
	d           *Download
	deleteFiles bool
}

type Adapter struct {
	*download.BaseAdapter

	newSession SessionFactory
	client     *http.Client

	sessMu sync.RWMutex
	sess   session.Session

	// processMu guards alert draining, removal draining and byHash.
	processMu sync.Mutex
	byHash    map[string]*Download
	handlers  map[session.AlertKind]func(session.Alert)
	resync    bool
	restarted bool
	// failures is counted without processMu: event handlers run under it and
	// may issue commands that fail.
	failures atomic.Int64

	// snapshotMu serializes snapshots; memo is only touched under it.
	snapshotMu   sync.Mutex
	snapshotting atomic.Bool
	memo         map[string]memoEntry

	resultsMu sync.Mutex
	results   map[string]resumeResult

	removeMu sync.Mutex
	removals []removal

	pending *pendingTable

	restoreMu      sync.Mutex
	restoreSession []byte
	restoreAdds    []session.AddParams

	ready    atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
	stopErr  error
}

func New(cfg *config.Store, newSession SessionFactory) *Adapter {
	if newSession == nil {
		newSession = DefaultSession
	}
	a := &Adapter{
		BaseAdapter: download.NewBaseAdapter(Name, Priority, cfg),
		newSession:  newSession,
		byHash:      make(map[string]*Download),
		handlers:    make(map[session.AlertKind]func(session.Alert)),
		memo:        make(map[string]memoEntry),
		results:     make(map[string]resumeResult),
	}
	cfg = a.Config()
	a.client = &http.Client{Timeout: cfg.Duration(config.KeyRequestTimeout)}
	a.pending = newPendingTable(cfg.Duration(config.KeyPendingAddTTL))

	for _, key := range []string{
		config.KeyUploadLimit, config.KeyDownloadLimit, config.KeyMaxActive, config.KeySeed,
	} {
		cfg.On(key, func(...any) { a.applySettings() })
	}
	return a
}

func (a *Adapter) session() session.Session {
	a.sessMu.RLock()
	defer a.sessMu.RUnlock()
	return a.sess
}

func (a *Adapter) settings() session.Settings {
	cfg := a.Config()
	return session.Settings{
		DataDir:            a.DownloadDir(),
		ListenPort:         cfg.Int(config.KeyListenPort),
		MaxActiveDownloads: cfg.Int(config.KeyMaxActive),
		UploadRateLimit:    cfg.Int64(config.KeyUploadLimit),
		DownloadRateLimit:  cfg.Int64(config.KeyDownloadLimit),
		EnableDHT:          cfg.Bool(config.KeyEnableDHT),
		Seed:               cfg.Bool(config.KeySeed),
		Identity:           a.Identity(),
	}
}

func (a *Adapter) applySettings() {
	sess := a.session()
	if sess == nil {
		return
	}
	if err := sess.ApplySettings(a.settings()); err != nil {
		a.Log().Warn().Err(err).Msg("engine rejected settings")
	}
}

// Ready reports whether the engine is usable.
func (a *Adapter) Ready() bool { return a.ready.Load() && !a.stopped.Load() }

// Run starts the engine and re-adds every restored torrent.
func (a *Adapter) Run(ctx context.Context) error {
	if a.stopped.Load() {
		return session.ErrClosed
	}
	if a.session() != nil {
		return nil
	}
	sess, err := a.newSession(a.settings())
	if err != nil {
		return fmt.Errorf("start torrent engine: %w", err)
	}
	a.sessMu.Lock()
	a.sess = sess
	a.sessMu.Unlock()

	a.restoreMu.Lock()
	blob, adds := a.restoreSession, a.restoreAdds
	a.restoreSession, a.restoreAdds = nil, nil
	a.restoreMu.Unlock()

	if len(blob) > 0 {
		if err := sess.LoadState(blob); err != nil {
			a.Log().Warn().Err(err).Msg("ignoring unreadable engine state")
		}
	}
	for _, p := range adds {
		sess.AsyncAdd(p)
	}
	a.ready.Store(true)
	a.Log().Info().Int("restored", len(adds)).Msg("torrent engine started")
	return nil
}

// Stop pauses the engine, lets a snapshot in flight finish, then closes the
// session, aborting it if it has not shut down within queue.stop_timeout.
// Calls after the first return the first call's result.
func (a *Adapter) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() {
		a.stopped.Store(true)
		sess := a.session()
		if sess == nil {
			return
		}
		sess.PauseAll()

		deadline := time.Now().Add(a.Config().Duration(config.KeyStopTimeout))
		if a.waitFor(ctx, deadline, a.snapshotMu.TryLock) {
			a.snapshotMu.Unlock()
		} else {
			a.Log().Warn().Msg("snapshot still running at shutdown")
		}

		sess.Close()
		if !a.waitFor(ctx, deadline, sess.Closed) {
			a.Log().Warn().Msg("engine did not shut down in time, aborting")
			sess.Abort()
			a.stopErr = fmt.Errorf("torrent engine aborted: %w", context.DeadlineExceeded)
		}
		a.ready.Store(false)
	})
	return a.stopErr
}

// waitFor polls cond until it holds, deadline passes or ctx ends.
func (a *Adapter) waitFor(ctx context.Context, deadline time.Time, cond func() bool) bool {
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()
	for !cond() {
		if !time.Now().Before(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-tick.C:
		}
	}
	return true
}

func (a *Adapter) CanHandle(locator string) bool {
	return source.KindOf(locator).IsTorrent()
}

// Submit resolves locator and asks the engine to add it. It returns once the
// request is queued; the download appears when the engine confirms. userData
// is attached to the download at that point.
func (a *Adapter) Submit(ctx context.Context, locator string, userData map[string]any) bool {
	sess := a.session()
	if sess == nil || !a.Ready() {
		a.Log().Warn().Str("locator", locator).Msg("torrent engine not ready, rejecting add")
		return false
	}
	res, err := source.Resolve(ctx, locator, source.ResolveOptions{
		Client:    a.client,
		UserAgent: a.userAgent(),
	})
	if err != nil {
		a.Log().Warn().Err(err).Str("locator", locator).Msg("cannot resolve torrent")
		return false
	}
	if !res.Kind.IsTorrent() {
		return false
	}

	a.processMu.Lock()
	_, known := a.byHash[res.InfoHash]
	a.processMu.Unlock()
	if known || a.pending.has(res.Keys...) {
		a.Log().Warn().Str("hash", res.InfoHash).Msg("torrent already queued")
		return false
	}

	a.pending.put(res.Keys, userData, res.MetaInfo)
	sess.AsyncAdd(session.AddParams{
		Magnet:      res.Magnet,
		MetaInfo:    res.MetaInfo,
		URL:         res.Locator,
		Name:        res.Name,
		SavePath:    a.DownloadDir(),
		AutoManaged: true,
	})
	return true
}

// CancelPending forgets a submission the engine has not confirmed. A later
// confirmation still creates the download, without its user data.
func (a *Adapter) CancelPending(locator string) bool {
	_, ok := a.pending.take(source.Normalize(locator))
	return ok
}

func (a *Adapter) userAgent() string {
	if ua := a.Config().String(config.KeyUserAgent); ua != "" {
		return ua
	}
	return a.Identity()
}

// Refresh runs one tick: pending removals, alerts, statuses, finished-item
// retention and queue reconciliation, then emits the resulting updates.
func (a *Adapter) Refresh() error {
	if a.stopped.Load() {
		return nil
	}
	sess := a.session()
	if sess == nil {
		return download.ErrNotReady
	}

	a.processMu.Lock()
	failuresBefore := a.failures.Load()
	a.drainLocked(sess)
	if a.ready.Load() {
		a.syncLocked(sess)
	}
	a.processMu.Unlock()

	a.retainFinished()
	moved, resync := a.TakeMoved(), a.takeResync()
	if a.ready.Load() && (moved || resync) {
		a.reconcile(sess)
	}

	a.processMu.Lock()
	if a.failures.Load() > int64(a.maxFailures()) {
		a.ready.Store(false)
		if !a.restarted {
			a.restartLocked()
		}
	} else {
		a.failures.CompareAndSwap(failuresBefore, 0)
	}
	ready := a.ready.Load()
	a.processMu.Unlock()

	a.FlushUpdates()
	if !ready {
		return download.ErrNotReady
	}
	return nil
}

func (a *Adapter) maxFailures() int {
	if n := a.Config().Int(config.KeyMaxEngineFailures); n > 0 {
		return n
	}
	return 5
}

func (a *Adapter) takeResync() bool {
	a.processMu.Lock()
	defer a.processMu.Unlock()
	r := a.resync
	a.resync = false
	return r
}

// failure counts an engine failure. Refresh acts on the count.
func (a *Adapter) failure(err error, what string) {
	n := a.failures.Add(1)
	a.Log().Warn().Err(err).Int64("failures", n).Msg(what)
}

// restartLocked replaces the engine session once. The old session must have
// shut down first, since the new one binds the same listen port. Downloads are
// re-added from whatever resume data and metadata they last had.
func (a *Adapter) restartLocked() {
	a.restarted = true
	a.Log().Error().Int64("failures", a.failures.Load()).Msg("torrent engine failing, restarting session")

	ctx := context.Background()
	deadline := time.Now().Add(a.Config().Duration(config.KeyStopTimeout))
	old := a.session()
	old.Close()
	if !a.waitFor(ctx, deadline, old.Closed) {
		a.Log().Warn().Msg("old engine did not shut down in time, aborting")
		old.Abort()
	}

	var sess session.Session
	var err error
	a.waitFor(ctx, deadline, func() bool {
		sess, err = a.newSession(a.settings())
		return err == nil
	})
	if err != nil {
		a.Log().Error().Err(err).Msg("engine restart failed, adapter not ready")
		return
	}
	a.sessMu.Lock()
	a.sess = sess
	a.sessMu.Unlock()

	dir := a.DownloadDir()
	for _, d := range a.byHash {
		d.setAttached(false)
		sess.AsyncAdd(d.addParams(dir))
	}
	a.failures.Store(0)
	a.resync = true
	a.ready.Store(true)
}

// drainLocked issues pending removals unless a snapshot is running, then
// dispatches every queued alert.
func (a *Adapter) drainLocked(sess session.Session) {
	if !a.snapshotting.Load() {
		a.drainRemovalsLocked(sess)
	}
	for {
		al := sess.PopAlert()
		if al == nil {
			return
		}
		a.dispatchLocked(al)
	}
}

func (a *Adapter) drain(sess session.Session) {
	a.processMu.Lock()
	a.drainLocked(sess)
	a.processMu.Unlock()
}

func (a *Adapter) dispatchLocked(al session.Alert) {
	h, cached := a.handlers[al.Kind()]
	if !cached {
		h = a.lookupHandler(al.Kind())
		a.handlers[al.Kind()] = h
	}
	if h == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			a.Log().Error().
				Str("alert", string(al.Kind())).
				Str("hash", al.Hash()).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("alert handler panicked")
		}
	}()
	h(al)
}

func (a *Adapter) scheduleRemoval(d *Download, deleteFiles bool) {
	a.removeMu.Lock()
	defer a.removeMu.Unlock()
	for _, r := range a.removals {
		if r.d == d {
			return
		}
	}
	a.removals = append(a.removals, removal{d: d, deleteFiles: deleteFiles})
}

func (a *Adapter) drainRemovalsLocked(sess session.Session) {
	a.removeMu.Lock()
	pending := a.removals
	a.removals = nil
	a.removeMu.Unlock()

	for _, r := range pending {
		hash := r.d.ID()
		if r.d.isAttached() {
			if err := sess.Remove(hash, r.deleteFiles); err != nil && !errors.Is(err, session.ErrUnknownTorrent) {
				a.failure(err, "engine refused removal")
			}
		}
		delete(a.byHash, hash)
		a.Drop(hash)
	}
}

// syncLocked copies engine statuses into records.
func (a *Adapter) syncLocked(sess session.Session) {
	paused := sess.IsPaused()
	for _, st := range sess.Statuses() {
		d, ok := a.byHash[st.InfoHash]
		if !ok || !d.isAttached() {
			continue
		}
		a.applyStatus(d, st, paused)
	}
}

func (a *Adapter) applyStatus(d *Download, st session.Status, globalPaused bool) {
	if st.Error == "" {
		st.Error = d.lastError()
	}
	d.setUserPaused(st.Paused && !st.AutoManaged)
	if d.Apply(statsFrom(st, globalPaused)) {
		a.MarkOutdated(d.ID())
	}
}

func (a *Adapter) refreshOne(d *Download) error {
	sess := a.session()
	if sess == nil || !d.isAttached() {
		return download.ErrNotReady
	}
	st, ok := sess.Status(d.ID())
	if !ok {
		return download.ErrUnknownDownload
	}
	a.applyStatus(d, st, sess.IsPaused())
	return nil
}

func (a *Adapter) command(d *Download, fn func(session.Session) error) error {
	sess := a.session()
	if sess == nil || !a.Ready() || !d.isAttached() {
		return download.ErrNotReady
	}
	if err := fn(sess); err != nil {
		if !errors.Is(err, session.ErrUnknownTorrent) {
			a.failure(err, "engine command failed")
		}
		return fmt.Errorf("torrent %s: %w", d.ID(), err)
	}
	return nil
}

// retainFinished hides finished torrents when general.hide_finished is on and
// reaps those hidden for longer than general.reap_hidden_after. Reaping drops
// the engine entry and keeps the files.
func (a *Adapter) retainFinished() {
	cfg := a.Config()
	if cfg.Bool(config.KeyHideFinished) {
		for _, d := range a.Visible() {
			if d.State().Done() {
				d.SetHidden(true)
			}
		}
	}
	if after := cfg.Duration(config.KeyReapHiddenAfter); after > 0 {
		for _, d := range a.HiddenBefore(time.Now().Add(-after)) {
			if d.State().Done() {
				a.scheduleRemoval(d.(*Download), false)
			}
		}
	}
}

// reconcile moves engine queue entries one slot at a time until the engine
// order matches the logical order of attached downloads.
func (a *Adapter) reconcile(sess session.Session) {
	var target []string
	for _, d := range a.Visible() {
		if td, ok := d.(*Download); ok && td.isAttached() {
			target = append(target, td.ID())
		}
	}
	statuses := slices.DeleteFunc(sess.Statuses(), func(st session.Status) bool {
		return st.QueuePosition < 0
	})
	slices.SortFunc(statuses, func(x, y session.Status) int {
		return x.QueuePosition - y.QueuePosition
	})
	current := make([]string, len(statuses))
	for i, st := range statuses {
		current[i] = st.InfoHash
	}

	moves := reconcileQueue(current, target)
	for _, hash := range moves {
		if err := sess.QueueUp(hash); err != nil {
			a.processMu.Lock()
			a.failure(err, "engine queue move failed")
			a.resync = true
			a.processMu.Unlock()
			return
		}
	}
	if len(moves) > 0 {
		a.Log().Debug().Int("moves", len(moves)).Msg("engine queue reconciled")
	}
}
