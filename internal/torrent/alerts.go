package torrent

import (
	"errors"

	"github.com/riptide-dl/riptide/internal/config"
	"github.com/riptide-dl/riptide/internal/download"
	"github.com/riptide-dl/riptide/internal/source"
	"github.com/riptide-dl/riptide/internal/torrent/session"
)

// lookupHandler resolves the handler for kind. Unknown kinds map to nil and
// are skipped.
func (a *Adapter) lookupHandler(kind session.AlertKind) func(session.Alert) {
	switch kind {
	case session.KindAddTorrent:
		return a.onAdded
	case session.KindMetadataReceived:
		return a.onMetadata
	case session.KindStateChanged, session.KindTorrentPaused, session.KindTorrentResumed:
		return a.onChanged
	case session.KindTorrentFinished:
		return a.onFinished
	case session.KindTorrentChecked:
		return a.onChecked
	case session.KindTorrentRemoved:
		return a.onRemoved
	case session.KindTorrentError:
		return a.onError
	case session.KindSaveResumeData, session.KindSaveResumeDataFailed:
		return a.onResumeData
	case session.KindSessionError:
		return a.onSessionError
	}
	return nil
}

// correlationKeys lists every key a confirmation can be matched by.
func correlationKeys(al *session.AddTorrentAlert) []string {
	var keys []string
	if al.Params.URL != "" {
		keys = append(keys, al.Params.URL)
	}
	if al.Params.Magnet != "" {
		keys = append(keys, al.Params.Magnet)
	}
	if al.InfoHash != "" {
		keys = append(keys, source.HashKey(al.InfoHash))
	}
	return keys
}

func (a *Adapter) onAdded(al session.Alert) {
	added := al.(*session.AddTorrentAlert)
	keys := correlationKeys(added)
	if added.Err != nil {
		if errors.Is(added.Err, session.ErrDuplicate) {
			a.Log().Warn().Str("hash", added.InfoHash).Msg("engine already has this torrent, add ignored")
		} else {
			a.Log().Warn().Err(added.Err).Strs("keys", keys).Msg("engine failed to add torrent")
		}
		a.pending.take(keys...)
		return
	}

	pend, _ := a.pending.take(keys...)
	hash := added.InfoHash
	d, restored := a.byHash[hash]
	if !restored {
		d = newDownload(a, hash)
		d.Apply(download.Stats{
			Name:    added.Name,
			State:   download.StateInitializing,
			SaveDir: added.Params.SavePath,
		})
		d.source = added.Params.URL
		d.metaInfo = added.Params.MetaInfo
	}
	if pend != nil {
		d.mu.Lock()
		if d.source == "" {
			d.source = pend.locator
		}
		if len(d.metaInfo) == 0 {
			d.metaInfo = pend.metaInfo
		}
		d.mu.Unlock()
		if pend.userData != nil {
			d.SetUserData(pend.userData)
		}
	}
	d.setAttached(true)
	a.resync = true

	if restored {
		a.MarkOutdated(hash)
		return
	}
	a.byHash[hash] = d
	if !a.Add(d, download.Append) {
		delete(a.byHash, hash)
	}
}

func (a *Adapter) onMetadata(al session.Alert) {
	if d, ok := a.byHash[al.Hash()]; ok {
		if name := al.(*session.MetadataReceivedAlert).Name; name != "" {
			s := d.Stats()
			s.Name = name
			d.Apply(s)
		}
		d.Touch()
		a.MarkOutdated(d.ID())
	}
}

func (a *Adapter) onChanged(al session.Alert) {
	if d, ok := a.byHash[al.Hash()]; ok {
		a.MarkOutdated(d.ID())
	}
}

func (a *Adapter) onFinished(al session.Alert) {
	d, ok := a.byHash[al.Hash()]
	if !ok {
		return
	}
	a.MarkOutdated(d.ID())
	if a.Config().Bool(config.KeyHideFinished) {
		d.SetHidden(true)
	}
}

func (a *Adapter) onChecked(al session.Alert) {
	if d, ok := a.byHash[al.Hash()]; ok {
		d.setError("")
		a.MarkOutdated(d.ID())
	}
}

// onRemoved handles torrents the engine dropped on its own.
func (a *Adapter) onRemoved(al session.Alert) {
	if _, ok := a.byHash[al.Hash()]; ok {
		delete(a.byHash, al.Hash())
		a.Drop(al.Hash())
	}
}

func (a *Adapter) onError(al session.Alert) {
	d, ok := a.byHash[al.Hash()]
	if !ok {
		return
	}
	if err := al.(*session.TorrentErrorAlert).Err; err != nil {
		d.setError(err.Error())
	}
	a.MarkOutdated(d.ID())
}

func (a *Adapter) onResumeData(al session.Alert) {
	res := resumeResult{}
	switch v := al.(type) {
	case *session.SaveResumeDataAlert:
		res.data = v.Data
	case *session.SaveResumeDataFailedAlert:
		res.err = v.Err
	}
	a.resultsMu.Lock()
	a.results[al.Hash()] = res
	a.resultsMu.Unlock()
}

func (a *Adapter) onSessionError(al session.Alert) {
	a.failure(al.(*session.SessionErrorAlert).Err, "engine reported an error")
}
