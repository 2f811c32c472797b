package torrent

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/riptide-dl/riptide/internal/download"
	"github.com/riptide-dl/riptide/internal/torrent/session"
)

type memoEntry struct {
	lastUpdate time.Time
	data       []byte
}

type resumeResult struct {
	data []byte
	err  error
}

// PersistableState captures resume data for every download plus the engine's
// session blob.
//
// Downloads whose LastUpdate has not moved since their previous capture reuse
// it. The rest get a fresh SaveResumeData request; their answers arrive as
// alerts, which are drained here or by a concurrent Refresh, whichever runs
// first. Pending removals are held back until the snapshot returns, so a
// download is either fully in it or fully out of it.
//
// With flush set, the engine is paused first so nothing changes on disk while
// the snapshot is taken.
func (a *Adapter) PersistableState(ctx context.Context, flush bool) (json.RawMessage, error) {
	sess := a.session()
	if sess == nil {
		return a.restoredState()
	}

	a.snapshotMu.Lock()
	defer a.snapshotMu.Unlock()
	a.snapshotting.Store(true)
	defer a.snapshotting.Store(false)

	sessionBlob, err := sess.State()
	if err != nil {
		return nil, fmt.Errorf("engine state: %w", err)
	}
	if flush && !sess.IsPaused() {
		sess.PauseAll()
		defer func() {
			if !a.stopped.Load() {
				sess.ResumeAll()
			}
		}()
	}

	a.drain(sess)

	all := a.Downloads()
	wanted := make(map[string]*Download)
	stamps := make(map[string]time.Time, len(all))
	for _, d := range all {
		td := d.(*Download)
		stamps[td.UID()] = td.LastUpdate()
		if !td.isAttached() {
			continue
		}
		if m, ok := a.memo[td.UID()]; ok && m.lastUpdate.Equal(stamps[td.UID()]) {
			td.setResume(m.data)
			continue
		}
		a.takeResult(td.ID())
		if err := sess.SaveResumeData(td.ID()); err != nil {
			if !errors.Is(err, session.ErrUnknownTorrent) {
				a.failure(err, "resume data request failed")
			}
			continue
		}
		wanted[td.ID()] = td
	}

	if err := a.collect(ctx, sess, wanted); err != nil {
		return nil, err
	}

	memo := make(map[string]memoEntry, len(all))
	entries := make([]download.Entry, 0, len(all))
	for _, d := range all {
		td := d.(*Download)
		e := td.PersistableState()
		if len(e.ResumeSnapshot) > 0 {
			memo[td.UID()] = memoEntry{lastUpdate: stamps[td.UID()], data: e.ResumeSnapshot}
		}
		entries = append(entries, e)
	}
	a.memo = memo
	return download.EncodeState(sessionBlob, entries)
}

// collect waits until every wanted download has answered.
func (a *Adapter) collect(ctx context.Context, sess session.Session, wanted map[string]*Download) error {
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()
	for len(wanted) > 0 {
		a.drain(sess)
		for hash, d := range wanted {
			res, ok := a.takeResult(hash)
			if !ok {
				continue
			}
			delete(wanted, hash)
			if res.err != nil {
				a.Log().Warn().Err(res.err).Str("hash", hash).Msg("engine could not save resume data, keeping previous")
				continue
			}
			d.setResume(res.data)
		}
		if len(wanted) == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for resume data: %w", ctx.Err())
		case <-tick.C:
		}
	}
	return nil
}

func (a *Adapter) takeResult(hash string) (resumeResult, bool) {
	a.resultsMu.Lock()
	defer a.resultsMu.Unlock()
	res, ok := a.results[hash]
	delete(a.results, hash)
	return res, ok
}

// restoredState re-encodes restored downloads when the engine never started.
func (a *Adapter) restoredState() (json.RawMessage, error) {
	a.restoreMu.Lock()
	blob := a.restoreSession
	a.restoreMu.Unlock()
	var entries []download.Entry
	for _, d := range a.Downloads() {
		entries = append(entries, d.PersistableState())
	}
	return download.EncodeState(blob, entries)
}

// RestoreState loads downloads saved by PersistableState. They show up at
// their saved positions immediately and are handed to the engine when it
// runs. Entries without a valid infohash or with unreadable snapshots are
// skipped.
func (a *Adapter) RestoreState(blob json.RawMessage) error {
	sessionBlob, entries, err := download.DecodeState(blob)
	if err != nil {
		return err
	}

	a.processMu.Lock()
	restored := make([]*Download, 0, len(entries))
	a.RestoreEntries(entries, func(e download.Entry) (download.Download, error) {
		hash := strings.ToLower(e.InfoHash)
		if hash == "" {
			hash = strings.ToLower(e.ID)
		}
		if raw, err := hex.DecodeString(hash); err != nil || len(raw) != 20 {
			return nil, fmt.Errorf("invalid infohash %q", hash)
		}
		if _, dup := a.byHash[hash]; dup {
			return nil, fmt.Errorf("torrent %s already loaded", hash)
		}
		d := newDownload(a, hash)
		if err := d.RestoreState(e); err != nil {
			return nil, err
		}
		a.byHash[hash] = d
		restored = append(restored, d)
		return d, nil
	})
	a.processMu.Unlock()

	dir := a.DownloadDir()
	adds := make([]session.AddParams, 0, len(restored))
	for _, d := range restored {
		adds = append(adds, d.addParams(dir))
	}

	if sess := a.session(); sess != nil {
		if len(sessionBlob) > 0 {
			if err := sess.LoadState(sessionBlob); err != nil {
				a.Log().Warn().Err(err).Msg("ignoring unreadable engine state")
			}
		}
		for _, p := range adds {
			sess.AsyncAdd(p)
		}
		return nil
	}
	a.restoreMu.Lock()
	a.restoreSession = sessionBlob
	a.restoreAdds = append(a.restoreAdds, adds...)
	a.restoreMu.Unlock()
	return nil
}
