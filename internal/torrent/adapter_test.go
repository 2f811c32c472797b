package torrent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riptide-dl/riptide/internal/config"
	"github.com/riptide-dl/riptide/internal/download"
	"github.com/riptide-dl/riptide/internal/engine/events"
	"github.com/riptide-dl/riptide/internal/testutil"
	"github.com/riptide-dl/riptide/internal/torrent/session"
)

func TestAdapter_SubmitAndMoveReordersEngine(t *testing.T) {
	a, fake := startAdapter(t, nil)

	hashA := submitMagnet(t, a, "A", nil)
	hashB := submitMagnet(t, a, "B", nil)
	require.NoError(t, a.Refresh())

	require.Equal(t, []string{hashA, hashB}, ids(a.Visible()))
	assert.Equal(t, []int{0, 1}, positions(a.Visible()))
	assert.Equal(t, 0, fake.QueueMoveCount())

	b, ok := a.Lookup(hashB)
	require.True(t, ok)
	require.NoError(t, b.SetPosition(0))
	require.NoError(t, a.Refresh())

	assert.Equal(t, []string{hashB, hashA}, ids(a.Visible()))
	assert.Equal(t, []int{0, 1}, positions(a.Visible()))
	assert.Equal(t, []string{hashB, hashA}, fake.Queue())
	assert.Equal(t, 1, fake.QueueMoveCount(), "one step up brings B ahead of A")
}

func TestAdapter_CorrelatesByLocator(t *testing.T) {
	data, _ := testutil.TorrentFile(t, "payload.bin", 40000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	a, fake := startAdapter(t, nil)
	fake.AutoConfirm = false
	url := srv.URL + "/files/payload.torrent"

	require.True(t, a.Submit(context.Background(), url, map[string]any{"name": "X"}))
	require.NoError(t, a.Refresh())
	assert.Empty(t, a.Visible(), "nothing appears before the engine confirms")

	// The engine reports an identity that shares nothing with the submission
	// except the locator it was given.
	other := "ffffffffffffffffffffffffffffffffffffffff"
	fake.Push(session.NewAddTorrentAlert(other, "renamed", session.AddParams{URL: url}, nil))
	require.NoError(t, a.Refresh())

	d, ok := a.Lookup(other)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"name": "X"}, d.UserData())
	assert.Equal(t, url, d.(*Download).Source())
	assert.False(t, a.CancelPending(url), "the pending entry is consumed")
}

func TestAdapter_CorrelatesByContentHash(t *testing.T) {
	a, fake := startAdapter(t, nil)
	fake.AutoConfirm = false

	link, hash := testutil.MagnetLink("hashed")
	require.True(t, a.Submit(context.Background(), link, map[string]any{"tag": "h"}))
	fake.Push(session.NewAddTorrentAlert(hash, "hashed", session.AddParams{}, nil))
	require.NoError(t, a.Refresh())

	d, ok := a.Lookup(hash)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"tag": "h"}, d.UserData())
}

func TestAdapter_DuplicateAddsAreRejected(t *testing.T) {
	a, fake := startAdapter(t, nil)
	fake.AutoConfirm = false
	link, hash := testutil.MagnetLink("dup")

	require.True(t, a.Submit(context.Background(), link, nil))
	assert.False(t, a.Submit(context.Background(), link, nil), "still pending")

	fake.ConfirmAdds()
	require.NoError(t, a.Refresh())
	assert.False(t, a.Submit(context.Background(), link, nil), "already in the queue")

	// An engine-side duplicate rejection is a warning, not a failure.
	other, otherHash := testutil.MagnetLink("merged")
	require.True(t, a.Submit(context.Background(), other, map[string]any{"x": 1}))
	fake.Push(session.NewAddTorrentAlert(otherHash, "merged", session.AddParams{Magnet: other, URL: other}, session.ErrDuplicate))
	require.NoError(t, a.Refresh())

	_, ok := a.Lookup(otherHash)
	assert.False(t, ok)
	assert.False(t, a.CancelPending(other))
	assert.Equal(t, []string{hash}, ids(a.Visible()))
	assert.True(t, a.Ready())
}

func TestAdapter_RejectsUnresolvable(t *testing.T) {
	a, _ := startAdapter(t, nil)
	assert.False(t, a.Submit(context.Background(), "magnet:?dn=nohash", nil))
	assert.False(t, a.Submit(context.Background(), "https://example.com/file.zip", nil))
	assert.True(t, a.CanHandle("magnet:?xt=urn:btih:0123456789abcdef0123456789abcdef01234567"))
	assert.False(t, a.CanHandle("https://example.com/file.zip"))
}

func TestAdapter_RefreshIsIdempotent(t *testing.T) {
	a, fake := startAdapter(t, nil)
	rec := watch(a, allEvents...)

	hash := submitMagnet(t, a, "idem", nil)
	require.NoError(t, a.Refresh())
	assert.Contains(t, rec.take(), events.DownloadNew+":"+hash)

	require.NoError(t, a.Refresh())
	assert.Empty(t, rec.take())

	fake.Update(hash, func(st *session.Status) {
		st.State = session.EngineDownloading
		st.NumPeers = 3
		st.TotalDone = 100
	})
	require.NoError(t, a.Refresh())
	assert.Equal(t, []string{events.DownloadUpdate + ":" + hash}, rec.take())
	require.NoError(t, a.Refresh())
	assert.Empty(t, rec.take())
}

func TestAdapter_StatusesMapToStates(t *testing.T) {
	a, fake := startAdapter(t, nil)
	hash := submitMagnet(t, a, "states", nil)
	require.NoError(t, a.Refresh())

	d, _ := a.Lookup(hash)
	assert.Equal(t, download.StateLookingForPeers, d.State())

	fake.Update(hash, func(st *session.Status) { st.NumPeers = 2 })
	require.NoError(t, a.Refresh())
	assert.Equal(t, download.StateFetchingMetadata, d.State())

	require.NoError(t, d.Pause())
	require.NoError(t, a.Refresh())
	assert.Equal(t, download.StatePaused, d.State())

	require.NoError(t, d.Resume())
	fake.Update(hash, func(st *session.Status) { st.Paused = true })
	require.NoError(t, a.Refresh())
	assert.Equal(t, download.StateQueued, d.State(), "auto-managed and paused means waiting for a slot")

	fake.Update(hash, func(st *session.Status) { st.Paused = false })
	fake.PauseAll()
	require.NoError(t, a.Refresh())
	assert.Equal(t, download.StatePaused, d.State())
}

func TestAdapter_TorrentErrorsSurface(t *testing.T) {
	a, fake := startAdapter(t, nil)
	hash := submitMagnet(t, a, "broken", nil)
	require.NoError(t, a.Refresh())

	fake.Push(session.NewTorrentErrorAlert(hash, errors.New("disk full")))
	require.NoError(t, a.Refresh())
	d, _ := a.Lookup(hash)
	assert.Equal(t, download.StateError, d.State())
	assert.Equal(t, "disk full", d.Error())

	require.NoError(t, d.Recheck())
	require.NoError(t, a.Refresh())
	assert.Empty(t, d.Error())
}

func TestAdapter_UnknownAlertsAreIgnored(t *testing.T) {
	a, fake := startAdapter(t, nil)
	fake.Push(unknownAlert{})
	fake.Push(unknownAlert{})
	require.NoError(t, a.Refresh())
	assert.True(t, a.Ready())
}

type unknownAlert struct{}

func (unknownAlert) Kind() session.AlertKind { return "from-the-future" }
func (unknownAlert) Hash() string            { return "" }

func TestAdapter_RemovalIsDeferred(t *testing.T) {
	a, fake := startAdapter(t, nil)
	hash := submitMagnet(t, a, "gone", nil)
	require.NoError(t, a.Refresh())
	rec := watch(a, events.DownloadRemove)

	d, _ := a.Lookup(hash)
	require.NoError(t, d.Remove(false))
	_, still := a.Lookup(hash)
	assert.True(t, still)
	assert.True(t, fake.Has(hash))

	require.NoError(t, a.Refresh())
	_, still = a.Lookup(hash)
	assert.False(t, still)
	assert.False(t, fake.Has(hash))
	assert.Equal(t, []string{events.DownloadRemove + ":" + hash}, rec.take())
}

func TestAdapter_RemovalWaitsForSnapshot(t *testing.T) {
	a, fake := startAdapter(t, nil)
	hashX := submitMagnet(t, a, "X", nil)
	hashY := submitMagnet(t, a, "Y", nil)
	require.NoError(t, a.Refresh())
	rec := watch(a, events.DownloadRemove)

	fake.HoldResume = true
	type result struct {
		blob json.RawMessage
		err  error
	}
	done := make(chan result, 1)
	go func() {
		blob, err := a.PersistableState(context.Background(), true)
		done <- result{blob, err}
	}()
	require.Eventually(t, func() bool { return fake.ResumeRequestCount() == 2 }, time.Second, 5*time.Millisecond)

	x, _ := a.Lookup(hashX)
	require.NoError(t, x.Remove(false))
	require.NoError(t, a.Refresh())
	_, still := a.Lookup(hashX)
	assert.True(t, still, "removal is held while the snapshot runs")
	assert.Empty(t, rec.take())

	fake.ReleaseResume()
	res := <-done
	require.NoError(t, res.err)

	_, entries, err := download.DecodeState(res.blob)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, hashX, entries[0].InfoHash)
	assert.NotEmpty(t, entries[0].ResumeSnapshot)
	assert.Equal(t, hashY, entries[1].InfoHash)
	assert.False(t, entries[0].Paused, "the flush pause is not saved as a user pause")
	assert.False(t, entries[1].Paused)

	require.NoError(t, a.Refresh())
	_, still = a.Lookup(hashX)
	assert.False(t, still)
	assert.Equal(t, []string{events.DownloadRemove + ":" + hashX}, rec.take())
	assert.False(t, fake.IsPaused(), "flush pause is lifted afterwards")
}

func TestAdapter_FlushSnapshotKeepsOwnPauseFlags(t *testing.T) {
	a, fake := startAdapter(t, nil)
	hashRun := submitMagnet(t, a, "running", nil)
	hashHeld := submitMagnet(t, a, "held", nil)
	require.NoError(t, a.Refresh())
	fake.Update(hashRun, func(st *session.Status) { st.State = session.EngineDownloading })
	held, _ := a.Lookup(hashHeld)
	require.NoError(t, held.Pause())
	require.NoError(t, a.Refresh())

	fake.HoldResume = true
	type result struct {
		blob json.RawMessage
		err  error
	}
	done := make(chan result, 1)
	go func() {
		blob, err := a.PersistableState(context.Background(), true)
		done <- result{blob, err}
	}()
	require.Eventually(t, func() bool { return fake.ResumeRequestCount() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, a.Refresh())
	run, _ := a.Lookup(hashRun)
	assert.Equal(t, download.StatePaused, run.State(), "everything shows paused while the engine is")

	fake.ReleaseResume()
	res := <-done
	require.NoError(t, res.err)
	_, entries, err := download.DecodeState(res.blob)
	require.NoError(t, err)
	paused := make(map[string]bool)
	for _, e := range entries {
		paused[e.InfoHash] = e.Paused
	}
	assert.Equal(t, map[string]bool{hashRun: false, hashHeld: true}, paused)

	dst, ss := newTestAdapter(t, nil)
	require.NoError(t, dst.RestoreState(res.blob))
	require.NoError(t, dst.Run(context.Background()))
	require.NoError(t, dst.Refresh())
	engine := ss.last()

	st, ok := engine.Status(hashRun)
	require.True(t, ok)
	assert.False(t, st.Paused)
	assert.True(t, st.AutoManaged)
	st, ok = engine.Status(hashHeld)
	require.True(t, ok)
	assert.True(t, st.Paused)
	assert.False(t, st.AutoManaged)

	restored, _ := dst.Lookup(hashRun)
	assert.NotEqual(t, download.StatePaused, restored.State())
	restored, _ = dst.Lookup(hashHeld)
	assert.Equal(t, download.StatePaused, restored.State())
}

func TestAdapter_SnapshotMemoization(t *testing.T) {
	a, fake := startAdapter(t, nil)
	hashA := submitMagnet(t, a, "A", nil)
	submitMagnet(t, a, "B", nil)
	require.NoError(t, a.Refresh())
	ctx := context.Background()

	first, err := a.PersistableState(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, fake.ResumeRequestCount())

	second, err := a.PersistableState(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, fake.ResumeRequestCount(), "unchanged downloads reuse their snapshot")
	assert.JSONEq(t, string(first), string(second))

	fake.Update(hashA, func(st *session.Status) { st.TotalDone = 42 })
	require.NoError(t, a.Refresh())
	_, err = a.PersistableState(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 3, fake.ResumeRequestCount(), "only the updated download is captured again")
}

func TestAdapter_SnapshotHonoursContext(t *testing.T) {
	a, fake := startAdapter(t, nil)
	submitMagnet(t, a, "slow", nil)
	require.NoError(t, a.Refresh())

	fake.HoldResume = true
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := a.PersistableState(ctx, false)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAdapter_RoundTrip(t *testing.T) {
	src, _ := startAdapter(t, nil)
	hashA := submitMagnet(t, src, "A", map[string]any{"k": "a"})
	hashB := submitMagnet(t, src, "B", nil)
	hashC := submitMagnet(t, src, "C", nil)
	require.NoError(t, src.Refresh())

	c, _ := src.Lookup(hashC)
	require.NoError(t, c.SetPosition(0))
	b, _ := src.Lookup(hashB)
	b.SetHidden(true)
	require.NoError(t, src.Refresh())

	blob, err := src.PersistableState(context.Background(), true)
	require.NoError(t, err)

	dst, ss := newTestAdapter(t, nil)
	require.NoError(t, dst.RestoreState(blob))
	assert.Equal(t, []string{hashC, hashA}, ids(dst.Visible()), "placeholders appear before the engine runs")

	require.NoError(t, dst.Run(context.Background()))
	require.NoError(t, dst.Refresh())
	fake := ss.last()

	assert.Equal(t, ids(src.Visible()), ids(dst.Visible()))
	assert.Equal(t, positions(src.Visible()), positions(dst.Visible()))
	restoredB, ok := dst.Lookup(hashB)
	require.True(t, ok)
	assert.True(t, restoredB.Hidden())
	restoredA, _ := dst.Lookup(hashA)
	assert.Equal(t, map[string]any{"k": "a"}, restoredA.UserData())
	assert.Equal(t, []string{hashC, hashA}, fake.Queue()[:2])
	assert.NotEmpty(t, fake.LoadedState())
}

func TestAdapter_RestoreSkipsBadEntries(t *testing.T) {
	_, good := testutil.MagnetLink("good")
	_, other := testutil.MagnetLink("other")
	blob, err := download.EncodeState(nil, []download.Entry{
		{Position: 0, InfoHash: good, Name: "good"},
		{Position: 1, InfoHash: "not-a-hash", Name: "bad hash"},
		{Position: 2, InfoHash: other, Name: "bad resume", ResumeSnapshot: []byte("garbage")},
		{Position: 3, InfoHash: good, Name: "duplicate"},
	})
	require.NoError(t, err)

	a, _ := newTestAdapter(t, nil)
	require.NoError(t, a.RestoreState(blob))
	assert.Equal(t, []string{good}, ids(a.Visible()))
}

func TestAdapter_RestoreKeepsSparsePositions(t *testing.T) {
	var entries []download.Entry
	var hashes []string
	for i, pos := range []int{5, 0, 2} {
		_, h := testutil.MagnetLink(string(rune('a' + i)))
		hashes = append(hashes, h)
		entries = append(entries, download.Entry{Position: pos, InfoHash: h})
	}
	blob, err := download.EncodeState(nil, entries)
	require.NoError(t, err)

	a, _ := newTestAdapter(t, nil)
	require.NoError(t, a.RestoreState(blob))
	assert.Equal(t, []string{hashes[1], hashes[2], hashes[0]}, ids(a.Visible()))
	assert.Equal(t, []int{0, 2, 5}, positions(a.Visible()))
}

func TestAdapter_PendingAddsExpireOrCancel(t *testing.T) {
	a, fake := startAdapter(t, map[string]any{config.KeyPendingAddTTL: 30 * time.Millisecond})
	fake.AutoConfirm = false

	link, hash := testutil.MagnetLink("late")
	require.True(t, a.Submit(context.Background(), link, map[string]any{"lost": true}))
	time.Sleep(60 * time.Millisecond)
	fake.ConfirmAdds()
	require.NoError(t, a.Refresh())
	d, ok := a.Lookup(hash)
	require.True(t, ok, "a late confirmation still creates the download")
	assert.Nil(t, d.UserData())

	link2, hash2 := testutil.MagnetLink("cancelled")
	require.True(t, a.Submit(context.Background(), link2, map[string]any{"lost": true}))
	assert.True(t, a.CancelPending(link2))
	assert.False(t, a.CancelPending(link2))
	fake.ConfirmAdds()
	require.NoError(t, a.Refresh())
	d2, ok := a.Lookup(hash2)
	require.True(t, ok)
	assert.Nil(t, d2.UserData())
}

func TestAdapter_RestartsEngineOnce(t *testing.T) {
	a, ss := newTestAdapter(t, map[string]any{
		config.KeyMaxEngineFailures: 2,
		config.KeyStopTimeout:       100 * time.Millisecond,
	})
	require.NoError(t, a.Run(context.Background()))
	first := ss.last()
	hash := submitMagnet(t, a, "survivor", nil)
	require.NoError(t, a.Refresh())

	for range 3 {
		first.Push(&session.SessionErrorAlert{Err: errors.New("socket closed")})
	}
	require.NoError(t, a.Refresh())
	require.Equal(t, 2, ss.count())
	assert.True(t, first.CloseRequested())
	assert.True(t, first.Closed())
	assert.False(t, first.Aborted(), "a session that closes in time is not aborted")
	assert.False(t, ss.overlapped(), "the new engine starts after the old one closed")

	second := ss.last()
	require.NoError(t, a.Refresh())
	assert.True(t, second.Has(hash), "downloads are re-added to the new engine")
	d, ok := a.Lookup(hash)
	require.True(t, ok)
	assert.NoError(t, d.Pause())

	ss.mu.Lock()
	ss.err = errors.New("no more engines")
	ss.mu.Unlock()
	for range 3 {
		second.Push(&session.SessionErrorAlert{Err: errors.New("socket closed")})
	}
	assert.ErrorIs(t, a.Refresh(), download.ErrNotReady)
	assert.False(t, a.Ready())
	assert.False(t, a.Submit(context.Background(), "magnet:?xt=urn:btih:0123456789abcdef0123456789abcdef01234567", nil))
	assert.Equal(t, 2, ss.count(), "a restart is attempted only once")
}

func TestAdapter_RestartAbortsEngineThatWillNotClose(t *testing.T) {
	a, ss := newTestAdapter(t, map[string]any{
		config.KeyMaxEngineFailures: 1,
		config.KeyStopTimeout:       50 * time.Millisecond,
	})
	ss.tweak = func(f *testutil.FakeSession) { f.NeverClose = len(ss.fakes) == 0 }
	require.NoError(t, a.Run(context.Background()))
	first := ss.last()
	hash := submitMagnet(t, a, "stuck", nil)
	require.NoError(t, a.Refresh())

	first.Push(&session.SessionErrorAlert{Err: errors.New("a")})
	first.Push(&session.SessionErrorAlert{Err: errors.New("b")})
	start := time.Now()
	require.NoError(t, a.Refresh())
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond, "the old engine gets the stop timeout to close")

	require.Equal(t, 2, ss.count())
	assert.True(t, first.CloseRequested())
	assert.True(t, first.Aborted())
	assert.False(t, ss.overlapped())
	assert.True(t, a.Ready())
	require.NoError(t, a.Refresh())
	assert.True(t, ss.last().Has(hash))
}

func TestAdapter_FailedRestartLeavesAdapterNotReady(t *testing.T) {
	a, ss := newTestAdapter(t, map[string]any{
		config.KeyMaxEngineFailures: 1,
		config.KeyStopTimeout:       50 * time.Millisecond,
	})
	ss.err = errors.New("engine unavailable")
	require.NoError(t, a.Run(context.Background()))

	first := ss.last()
	first.Push(&session.SessionErrorAlert{Err: errors.New("a")})
	first.Push(&session.SessionErrorAlert{Err: errors.New("b")})
	assert.ErrorIs(t, a.Refresh(), download.ErrNotReady)
	assert.ErrorIs(t, a.Refresh(), download.ErrNotReady)
	assert.Equal(t, 1, ss.count())
}

func TestAdapter_CommandFailureInsideEventHandler(t *testing.T) {
	a, fake := startAdapter(t, nil)
	var pauseErr error
	a.On(events.DownloadNew, func(args ...any) {
		pauseErr = args[0].(download.Download).Pause()
	})
	fake.CommandErr = errors.New("engine busy")
	submitMagnet(t, a, "reentrant", nil)

	done := make(chan error, 1)
	go func() { done <- a.Refresh() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("refresh did not return")
	}
	assert.ErrorContains(t, pauseErr, "engine busy")
}

func TestAdapter_HidesAndReapsFinished(t *testing.T) {
	a, fake := startAdapter(t, map[string]any{
		config.KeyHideFinished:    true,
		config.KeyReapHiddenAfter: time.Millisecond,
	})
	hash := submitMagnet(t, a, "done", nil)
	keep := submitMagnet(t, a, "running", nil)
	require.NoError(t, a.Refresh())
	rec := watch(a, events.DownloadHidden, events.DownloadRemove)

	fake.Update(hash, func(st *session.Status) {
		st.State = session.EngineFinished
		st.TotalWanted, st.TotalDone, st.Progress = 10, 10, 1
	})
	require.NoError(t, a.Refresh())
	d, _ := a.Lookup(hash)
	assert.True(t, d.Hidden())
	assert.Equal(t, -1, d.Position())
	assert.Equal(t, []string{keep}, ids(a.Visible()))
	assert.Equal(t, 0, a.Visible()[0].Position())

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, a.Refresh())
	require.NoError(t, a.Refresh())
	_, ok := a.Lookup(hash)
	assert.False(t, ok)
	assert.False(t, fake.Has(hash))
	assert.Equal(t, []string{events.DownloadHidden + ":" + hash, events.DownloadRemove + ":" + hash}, rec.take())
}

func TestAdapter_LiveSettingsReachEngine(t *testing.T) {
	a, fake := startAdapter(t, nil)
	require.NoError(t, a.Config().Set(config.KeyUploadLimit, int64(4096)))
	require.NoError(t, a.Config().Set(config.KeyMaxActive, 7))
	assert.Equal(t, int64(4096), fake.Settings().UploadRateLimit)
	assert.Equal(t, 7, fake.Settings().MaxActiveDownloads)
}

func TestAdapter_StopIsIdempotentAndAborts(t *testing.T) {
	a, fake := startAdapter(t, map[string]any{config.KeyStopTimeout: 30 * time.Millisecond})
	fake.NeverClose = true

	err := a.Stop(context.Background())
	require.Error(t, err)
	assert.True(t, fake.CloseRequested())
	assert.True(t, fake.Aborted())
	assert.True(t, fake.IsPaused())
	assert.Equal(t, err, a.Stop(context.Background()))

	assert.False(t, a.Submit(context.Background(), "magnet:?xt=urn:btih:0123456789abcdef0123456789abcdef01234567", nil))
	assert.NoError(t, a.Refresh())
}

func TestAdapter_CommandsNeedConfirmation(t *testing.T) {
	_, h := testutil.MagnetLink("placeholder")
	blob, err := download.EncodeState(nil, []download.Entry{{Position: 0, InfoHash: h}})
	require.NoError(t, err)

	a, _ := newTestAdapter(t, nil)
	require.NoError(t, a.RestoreState(blob))
	d, ok := a.Lookup(h)
	require.True(t, ok)
	assert.ErrorIs(t, d.Pause(), download.ErrNotReady)
	assert.ErrorIs(t, a.Refresh(), download.ErrNotReady)
}
