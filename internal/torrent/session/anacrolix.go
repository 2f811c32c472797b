package session

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/anacrolix/torrent/storage"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/riptide-dl/riptide/internal/utils"
)

const (
	defaultTick = 500 * time.Millisecond
	// Rate limiter bursts must cover at least one request chunk.
	minBurst = 256 * 1024
)

type handle struct {
	t           *torrent.Torrent
	hash        string
	name        string
	savePath    string
	paused      bool
	autoManaged bool
	checking    bool
	allowed     bool
	wantAll     bool
	gotInfo     bool
	finished    bool
	state       EngineState
	err         error

	lastRead, lastWritten int64
	lastAt                time.Time
	downRate, upRate      int64
}

// Anacrolix is a Session backed by an anacrolix/torrent client. anacrolix has
// no queue of its own, so queue order and the active-download limit are kept
// here and enforced by allowing or disallowing data transfer per torrent.
type Anacrolix struct {
	cl   *torrent.Client
	up   *rate.Limiter
	down *rate.Limiter
	log  zerolog.Logger

	mu       sync.Mutex
	settings Settings
	torrents map[string]*handle
	queue    []string
	paused   bool
	alerts   []Alert
	closing  bool

	stopTick chan struct{}
	done     chan struct{}
	doneOnce sync.Once
}

func NewAnacrolix(s Settings) (*Anacrolix, error) {
	if s.TickInterval <= 0 {
		s.TickInterval = defaultTick
	}
	if s.DataDir != "" {
		if err := os.MkdirAll(s.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	up := rate.NewLimiter(limitOf(s.UploadRateLimit), burstOf(s.UploadRateLimit))
	down := rate.NewLimiter(limitOf(s.DownloadRateLimit), burstOf(s.DownloadRateLimit))

	cfg := torrent.NewDefaultClientConfig()
	cfg.DataDir = s.DataDir
	cfg.ListenPort = s.ListenPort
	cfg.NoDHT = !s.EnableDHT
	cfg.Seed = s.Seed
	cfg.UploadRateLimiter = up
	cfg.DownloadRateLimiter = down
	if s.Identity != "" {
		cfg.HTTPUserAgent = s.Identity
		cfg.ExtendedHandshakeClientVersion = s.Identity
	}

	cl, err := torrent.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("start torrent client: %w", err)
	}

	a := &Anacrolix{
		cl:       cl,
		up:       up,
		down:     down,
		log:      utils.Logger("engine"),
		settings: s,
		torrents: make(map[string]*handle),
		stopTick: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go a.loop(s.TickInterval)
	return a, nil
}

func limitOf(bps int64) rate.Limit {
	if bps <= 0 {
		return rate.Inf
	}
	return rate.Limit(bps)
}

func burstOf(bps int64) int {
	if bps <= 0 || bps < minBurst {
		return minBurst
	}
	return int(bps)
}

func (a *Anacrolix) PopAlert() Alert {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.alerts) == 0 {
		return nil
	}
	al := a.alerts[0]
	a.alerts[0] = nil
	a.alerts = a.alerts[1:]
	return al
}

func (a *Anacrolix) pushLocked(al Alert) {
	a.alerts = append(a.alerts, al)
}

func (a *Anacrolix) push(al Alert) {
	a.mu.Lock()
	a.pushLocked(al)
	a.mu.Unlock()
}

func (a *Anacrolix) AsyncAdd(p AddParams) {
	go a.add(p)
}

func (a *Anacrolix) add(p AddParams) {
	spec, rd, err := specFor(p)
	if err != nil {
		a.push(NewAddTorrentAlert("", p.Name, p, err))
		return
	}
	if p.Name != "" {
		spec.DisplayName = p.Name
	}

	a.mu.Lock()
	if a.closing {
		a.mu.Unlock()
		a.push(NewAddTorrentAlert("", p.Name, p, ErrClosed))
		return
	}
	savePath := firstNonEmpty(p.SavePath, rd.SavePath, a.settings.DataDir)
	a.mu.Unlock()

	spec.Storage = storage.NewFile(savePath)
	t, isNew, err := a.cl.AddTorrentSpec(spec)
	if err != nil {
		a.push(NewAddTorrentAlert("", p.Name, p, fmt.Errorf("add torrent: %w", err)))
		return
	}
	hash := t.InfoHash().HexString()
	if !isNew {
		a.push(NewAddTorrentAlert(hash, t.Name(), p, ErrDuplicate))
		return
	}
	if len(rd.InfoBytes) > 0 && t.Info() == nil {
		if err := t.SetInfoBytes(rd.InfoBytes); err != nil {
			a.log.Warn().Err(err).Str("hash", hash).Msg("stored metadata rejected, waiting for peers")
		}
	}
	t.DisallowDataDownload()

	h := &handle{
		t:           t,
		hash:        hash,
		name:        firstNonEmpty(p.Name, rd.Name, t.Name()),
		savePath:    savePath,
		paused:      p.Paused || rd.Paused == 1,
		autoManaged: p.AutoManaged,
		state:       EngineCheckingResume,
		lastAt:      time.Now(),
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closing {
		t.Drop()
		a.pushLocked(NewAddTorrentAlert(hash, h.name, p, ErrClosed))
		return
	}
	a.torrents[hash] = h
	a.queue = append(a.queue, hash)
	a.scheduleLocked()
	a.pushLocked(NewAddTorrentAlert(hash, h.name, p, nil))
}

func specFor(p AddParams) (*torrent.TorrentSpec, ResumeData, error) {
	var rd ResumeData
	if len(p.ResumeData) > 0 {
		var err error
		if rd, err = DecodeResume(p.ResumeData); err != nil {
			return nil, rd, err
		}
	}
	switch {
	case len(p.MetaInfo) > 0:
		mi, err := metainfo.Load(bytes.NewReader(p.MetaInfo))
		if err != nil {
			return nil, rd, fmt.Errorf("parse torrent: %w", err)
		}
		spec, err := torrent.TorrentSpecFromMetaInfoErr(mi)
		return spec, rd, err
	case p.Magnet != "":
		spec, err := torrent.TorrentSpecFromMagnetUri(p.Magnet)
		return spec, rd, err
	case rd.InfoHash != "":
		spec, err := torrent.TorrentSpecFromMagnetUri(rd.Magnet())
		return spec, rd, err
	}
	return nil, rd, errors.New("add params carry no torrent")
}

func (a *Anacrolix) Status(hash string) (Status, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, ok := a.torrents[hash]
	if !ok {
		return Status{}, false
	}
	return a.statusLocked(h), true
}

func (a *Anacrolix) Statuses() []Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Status, 0, len(a.torrents))
	for _, h := range a.torrents {
		out = append(out, a.statusLocked(h))
	}
	slices.SortFunc(out, func(x, y Status) int {
		switch {
		case x.InfoHash < y.InfoHash:
			return -1
		case x.InfoHash > y.InfoHash:
			return 1
		}
		return 0
	})
	return out
}

func (a *Anacrolix) statusLocked(h *handle) Status {
	st := Status{
		InfoHash:      h.hash,
		Name:          h.name,
		State:         h.state,
		AutoManaged:   h.autoManaged,
		Paused:        h.paused || a.paused || (h.autoManaged && !h.allowed && !h.finished),
		DownloadRate:  h.downRate,
		UploadRate:    h.upRate,
		NumPeers:      h.t.Stats().ActivePeers,
		QueuePosition: slices.Index(a.queue, h.hash),
		SavePath:      h.savePath,
	}
	if h.err != nil {
		st.Error = h.err.Error()
	}
	if info := h.t.Info(); info != nil {
		st.HasMetadata = true
		st.Name = firstNonEmpty(h.name, info.BestName())
		st.TotalWanted = info.TotalLength()
		st.TotalDone = h.t.BytesCompleted()
		if st.TotalWanted > 0 {
			st.Progress = float64(st.TotalDone) / float64(st.TotalWanted)
		}
		for _, f := range h.t.Files() {
			st.Files = append(st.Files, f.DisplayPath())
		}
	}
	return st
}

func (a *Anacrolix) QueueUp(hash string) error   { return a.queueMove(hash, -1) }
func (a *Anacrolix) QueueDown(hash string) error { return a.queueMove(hash, 1) }

func (a *Anacrolix) queueMove(hash string, delta int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.torrents[hash]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTorrent, hash)
	}
	i := slices.Index(a.queue, hash)
	j := i + delta
	if i < 0 || j < 0 || j >= len(a.queue) {
		return nil
	}
	a.queue[i], a.queue[j] = a.queue[j], a.queue[i]
	a.scheduleLocked()
	return nil
}

func (a *Anacrolix) Pause(hash string) error {
	return a.update(hash, func(h *handle) Alert {
		if h.paused {
			return nil
		}
		h.paused = true
		return NewTorrentPausedAlert(hash)
	})
}

func (a *Anacrolix) Resume(hash string) error {
	return a.update(hash, func(h *handle) Alert {
		if !h.paused {
			return nil
		}
		h.paused = false
		return NewTorrentResumedAlert(hash)
	})
}

func (a *Anacrolix) SetAutoManaged(hash string, auto bool) error {
	return a.update(hash, func(h *handle) Alert {
		h.autoManaged = auto
		return nil
	})
}

func (a *Anacrolix) update(hash string, fn func(*handle) Alert) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, ok := a.torrents[hash]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTorrent, hash)
	}
	if al := fn(h); al != nil {
		a.pushLocked(al)
	}
	a.scheduleLocked()
	return nil
}

func (a *Anacrolix) Recheck(hash string) error {
	a.mu.Lock()
	h, ok := a.torrents[hash]
	if !ok {
		a.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTorrent, hash)
	}
	if h.checking {
		a.mu.Unlock()
		return nil
	}
	h.checking = true
	a.scheduleLocked()
	a.mu.Unlock()

	go func() {
		select {
		case <-h.t.GotInfo():
		case <-h.t.Closed():
			a.mu.Lock()
			h.checking = false
			a.mu.Unlock()
			return
		case <-a.done:
			return
		}
		h.t.VerifyData()
		a.mu.Lock()
		h.checking = false
		a.scheduleLocked()
		a.pushLocked(NewTorrentCheckedAlert(hash))
		a.mu.Unlock()
	}()
	return nil
}

func (a *Anacrolix) Remove(hash string, deleteFiles bool) error {
	a.mu.Lock()
	h, ok := a.torrents[hash]
	if !ok {
		a.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTorrent, hash)
	}
	delete(a.torrents, hash)
	if i := slices.Index(a.queue, hash); i >= 0 {
		a.queue = slices.Delete(a.queue, i, i+1)
	}
	a.scheduleLocked()
	a.mu.Unlock()

	var target string
	if info := h.t.Info(); info != nil {
		target = filepath.Join(h.savePath, info.BestName())
	}
	h.t.Drop()
	if deleteFiles && target != "" {
		if err := os.RemoveAll(target); err != nil {
			a.log.Warn().Err(err).Str("path", target).Msg("failed to delete torrent data")
		}
	}
	a.push(NewTorrentRemovedAlert(hash))
	return nil
}

func (a *Anacrolix) SaveResumeData(hash string) error {
	a.mu.Lock()
	h, ok := a.torrents[hash]
	if !ok {
		a.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTorrent, hash)
	}
	rd := ResumeData{
		InfoHash:    hash,
		Name:        h.name,
		SavePath:    h.savePath,
		Paused:      boolInt(h.paused),
		AutoManaged: boolInt(h.autoManaged),
	}
	a.mu.Unlock()

	go func() {
		mi := h.t.Metainfo()
		if h.t.Info() != nil {
			rd.InfoBytes = mi.InfoBytes
			rd.Completed = h.t.BytesCompleted()
		}
		rd.Trackers = mi.UpvertedAnnounceList()
		data, err := EncodeResume(rd)
		if err != nil {
			a.push(NewSaveResumeDataFailedAlert(hash, err))
			return
		}
		a.push(NewSaveResumeDataAlert(hash, data))
	}()
	return nil
}

func (a *Anacrolix) PauseAll() {
	a.mu.Lock()
	a.paused = true
	a.scheduleLocked()
	a.mu.Unlock()
}

func (a *Anacrolix) ResumeAll() {
	a.mu.Lock()
	a.paused = false
	a.scheduleLocked()
	a.mu.Unlock()
}

func (a *Anacrolix) IsPaused() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.paused
}

func (a *Anacrolix) State() ([]byte, error) {
	a.mu.Lock()
	blob := sessionBlob{Paused: boolInt(a.paused), Queue: slices.Clone(a.queue)}
	a.mu.Unlock()
	return bencode.Marshal(blob)
}

// LoadState restores the global pause flag and, for torrents already added,
// their relative queue order.
func (a *Anacrolix) LoadState(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	var blob sessionBlob
	if err := bencode.Unmarshal(data, &blob); err != nil {
		return fmt.Errorf("decode session state: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.paused = blob.Paused == 1
	rank := make(map[string]int, len(blob.Queue))
	for i, hash := range blob.Queue {
		rank[hash] = i
	}
	slices.SortStableFunc(a.queue, func(x, y string) int {
		rx, okx := rank[x]
		ry, oky := rank[y]
		switch {
		case okx && oky:
			return rx - ry
		case okx:
			return -1
		case oky:
			return 1
		}
		return 0
	})
	a.scheduleLocked()
	return nil
}

func (a *Anacrolix) Settings() Settings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settings
}

// ApplySettings updates limits live. Listen port, DHT and identity changes only
// take effect on the next start.
func (a *Anacrolix) ApplySettings(s Settings) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	old := a.settings
	if s.ListenPort != old.ListenPort || s.EnableDHT != old.EnableDHT || s.Identity != old.Identity {
		a.log.Info().Msg("listen port, DHT and identity changes apply after restart")
	}
	if s.TickInterval <= 0 {
		s.TickInterval = old.TickInterval
	}
	a.up.SetLimit(limitOf(s.UploadRateLimit))
	a.up.SetBurst(burstOf(s.UploadRateLimit))
	a.down.SetLimit(limitOf(s.DownloadRateLimit))
	a.down.SetBurst(burstOf(s.DownloadRateLimit))
	a.settings = s
	a.scheduleLocked()
	return nil
}

func (a *Anacrolix) Close() {
	a.mu.Lock()
	if a.closing {
		a.mu.Unlock()
		return
	}
	a.closing = true
	close(a.stopTick)
	a.mu.Unlock()

	go func() {
		a.cl.Close()
		a.finish()
	}()
}

func (a *Anacrolix) Closed() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

// Abort marks the session closed without waiting for the client to wind down.
func (a *Anacrolix) Abort() {
	a.Close()
	a.finish()
}

func (a *Anacrolix) finish() {
	a.doneOnce.Do(func() { close(a.done) })
}

func (a *Anacrolix) loop(every time.Duration) {
	tick := time.NewTicker(every)
	defer tick.Stop()
	for {
		select {
		case <-a.stopTick:
			return
		case <-tick.C:
			a.poll()
		}
	}
}

// poll turns observed changes into alerts and re-applies scheduling.
func (a *Anacrolix) poll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := time.Now()
	for _, h := range a.torrents {
		stats := h.t.Stats()
		read, written := stats.BytesReadData.Int64(), stats.BytesWrittenData.Int64()
		if secs := now.Sub(h.lastAt).Seconds(); secs > 0 {
			h.downRate = int64(float64(read-h.lastRead) / secs)
			h.upRate = int64(float64(written-h.lastWritten) / secs)
		}
		h.lastRead, h.lastWritten, h.lastAt = read, written, now

		info := h.t.Info()
		if info != nil && !h.gotInfo {
			h.gotInfo = true
			h.name = firstNonEmpty(h.name, info.BestName())
			a.pushLocked(NewMetadataReceivedAlert(h.hash, h.name))
		}

		next := a.stateLocked(h)
		if next != h.state {
			a.pushLocked(NewStateChangedAlert(h.hash, h.state, next))
			h.state = next
		}
		if info != nil && h.t.BytesMissing() == 0 && !h.finished && !h.checking {
			h.finished = true
			if i := slices.Index(a.queue, h.hash); i >= 0 {
				a.queue = slices.Delete(a.queue, i, i+1)
			}
			a.pushLocked(NewTorrentFinishedAlert(h.hash))
		}
	}
	a.scheduleLocked()
}

func (a *Anacrolix) stateLocked(h *handle) EngineState {
	switch {
	case h.checking:
		return EngineCheckingFiles
	case h.t.Info() == nil:
		return EngineDownloadingMetadata
	case h.t.BytesMissing() == 0:
		if a.settings.Seed && !h.paused && !a.paused {
			return EngineSeeding
		}
		return EngineFinished
	}
	return EngineDownloading
}

// scheduleLocked lets the first MaxActiveDownloads auto-managed torrents in
// queue order transfer data. Torrents that are not auto-managed run unless paused.
func (a *Anacrolix) scheduleLocked() {
	active := 0
	limit := a.settings.MaxActiveDownloads
	for _, hash := range a.queue {
		h := a.torrents[hash]
		want := !a.paused && !h.paused && !h.checking
		if want && h.autoManaged {
			want = limit <= 0 || active < limit
			if want {
				active++
			}
		}
		a.allow(h, want)
	}
	for _, h := range a.torrents {
		if h.finished {
			a.allow(h, !a.paused && !h.paused && !h.checking && a.settings.Seed)
		}
	}
}

func (a *Anacrolix) allow(h *handle, on bool) {
	if on && !h.wantAll && h.t.Info() != nil {
		h.t.DownloadAll()
		h.wantAll = true
	}
	if on == h.allowed {
		return
	}
	h.allowed = on
	if on {
		h.t.AllowDataDownload()
		h.t.AllowDataUpload()
		h.t.SetMaxEstablishedConns(80)
		return
	}
	h.t.DisallowDataDownload()
	h.t.DisallowDataUpload()
	h.t.SetMaxEstablishedConns(0)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
