package download

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riptide-dl/riptide/internal/engine/events"
)

func TestBaseAdapter_SubmitAndReorder(t *testing.T) {
	ctx := context.Background()
	a := newMemAdapter("mem", 0, nil)
	rec := &recorder{}
	rec.watch(a.On, events.DownloadNew, events.DownloadUpdate)

	require.True(t, a.Submit(ctx, "mem:A", nil))
	require.True(t, a.Submit(ctx, "mem:B", nil))
	assert.Equal(t, []string{"A", "B"}, ids(a.Visible()))
	assert.Equal(t, []int{0, 1}, positions(a.Visible()))
	assert.Equal(t, []string{"download-new:A", "download-new:B"}, rec.take())

	b, ok := a.Lookup("B")
	require.True(t, ok)
	require.NoError(t, b.SetPosition(0))

	assert.Equal(t, []string{"B", "A"}, ids(a.Visible()))
	assert.Equal(t, []int{0, 1}, positions(a.Visible()))
	assert.True(t, a.TakeMoved())
	assert.False(t, a.TakeMoved())

	// Both moved downloads get exactly one update on the next refresh.
	require.NoError(t, a.Refresh())
	assert.ElementsMatch(t, []string{"download-update:A", "download-update:B"}, rec.take())
}

func TestBaseAdapter_RefreshIsIdempotent(t *testing.T) {
	ctx := context.Background()
	a := newMemAdapter("mem", 0, nil)
	a.Submit(ctx, "mem:A", nil)
	d, _ := a.Lookup("A")
	require.NoError(t, d.Pause())

	rec := &recorder{}
	rec.watch(a.On, events.DownloadEvents...)

	require.NoError(t, a.Refresh())
	assert.Equal(t, []string{"download-update:A"}, rec.take())

	require.NoError(t, a.Refresh())
	assert.Empty(t, rec.take())
}

func TestBaseAdapter_HiddenEmitsOnlyOnTransition(t *testing.T) {
	ctx := context.Background()
	a := newMemAdapter("mem", 0, nil)
	a.Submit(ctx, "mem:A", nil)
	a.Submit(ctx, "mem:B", nil)
	rec := &recorder{}
	rec.watch(a.On, events.DownloadHidden, events.DownloadUnhidden)

	d, _ := a.Lookup("A")
	d.SetHidden(false)
	assert.Empty(t, rec.take())

	d.SetHidden(true)
	d.SetHidden(true)
	assert.Equal(t, []string{"download-hidden:A"}, rec.take())
	assert.True(t, d.Hidden())
	assert.Equal(t, -1, d.Position())
	assert.Equal(t, []string{"B"}, ids(a.Visible()))
	assert.Equal(t, []string{"B", "A"}, ids(a.Downloads()))

	// Moving a hidden download is a no-op.
	require.NoError(t, d.SetPosition(0))
	assert.Equal(t, -1, d.Position())

	d.SetHidden(false)
	assert.Equal(t, []string{"download-unhidden:A"}, rec.take())
	assert.Equal(t, []string{"B", "A"}, ids(a.Visible()))
}

func TestBaseAdapter_DropEmitsRemoveAndShifts(t *testing.T) {
	ctx := context.Background()
	a := newMemAdapter("mem", 0, nil)
	for _, id := range []string{"A", "B", "C"} {
		a.Submit(ctx, "mem:"+id, nil)
	}
	rec := &recorder{}
	rec.watch(a.On, events.DownloadRemove, events.DownloadUpdate)

	d, _ := a.Lookup("A")
	require.NoError(t, d.Remove(false))
	assert.Equal(t, []string{"download-remove:A"}, rec.take())
	assert.Equal(t, []int{0, 1}, positions(a.Visible()))

	_, ok := a.Lookup("A")
	assert.False(t, ok)
	assert.ErrorIs(t, a.MoveDownload("A", 0), ErrUnknownDownload)
}

func TestBaseAdapter_DuplicateAddRejected(t *testing.T) {
	ctx := context.Background()
	a := newMemAdapter("mem", 0, nil)
	assert.True(t, a.Submit(ctx, "mem:A", nil))
	assert.False(t, a.Submit(ctx, "mem:A", nil))
	assert.Equal(t, 1, a.Len())
}

func TestBaseAdapter_RestoreSparsePositions(t *testing.T) {
	a := newMemAdapter("mem", 0, nil)
	blob, err := EncodeState(nil, []Entry{
		{ID: "z", Position: 5},
		{ID: "x", Position: 0},
		{ID: "y", Position: 2},
	})
	require.NoError(t, err)

	require.NoError(t, a.RestoreState(blob))
	assert.Equal(t, []string{"x", "y", "z"}, ids(a.Visible()))
	assert.Equal(t, []int{0, 2, 5}, positions(a.Visible()))
}

func TestBaseAdapter_RestoreSkipsBadEntries(t *testing.T) {
	a := newMemAdapter("mem", 0, nil)
	good1, _ := json.Marshal(Entry{ID: "a", Position: 0, UserData: map[string]any{"k": "v"}})
	good2, _ := json.Marshal(Entry{ID: "c", Position: 2, Hidden: true})
	noID, _ := json.Marshal(Entry{Position: 1})
	blob, err := json.Marshal(AdapterState{Downloads: []json.RawMessage{
		good1,
		json.RawMessage(`{"position":"not a number"}`),
		noID,
		good2,
	}})
	require.NoError(t, err)

	require.NoError(t, a.RestoreState(blob))
	assert.Equal(t, 2, a.Len())
	assert.Equal(t, []string{"a"}, ids(a.Visible()))

	d, _ := a.Lookup("a")
	assert.Equal(t, "v", d.UserData()["k"])
	c, _ := a.Lookup("c")
	assert.True(t, c.Hidden())
}

func TestBaseAdapter_RestoreRejectsBrokenEnvelope(t *testing.T) {
	a := newMemAdapter("mem", 0, nil)
	assert.Error(t, a.RestoreState(json.RawMessage(`[1,2,3]`)))
}

func TestRecord_ApplyTracksChanges(t *testing.T) {
	r := NewRecord("id")
	first := r.LastUpdate()

	assert.True(t, r.Apply(Stats{Name: "file", TotalSize: 10, State: StateDownloading}))
	assert.False(t, r.Apply(Stats{TotalSize: 10, State: StateDownloading}), "empty name keeps the old one")
	assert.Equal(t, "file", r.Name())
	assert.False(t, r.LastUpdate().Before(first))

	stamp := r.LastUpdate()
	assert.False(t, r.Apply(r.Stats()))
	assert.Equal(t, stamp, r.LastUpdate())
}

func TestRecord_NameFallsBackToID(t *testing.T) {
	r := NewRecord("abc")
	assert.Equal(t, "abc", r.Name())
	assert.NotEmpty(t, r.UID())
	assert.NotEqual(t, NewRecord("abc").UID(), r.UID())
}

func TestState_Helpers(t *testing.T) {
	assert.True(t, StateSeeding.Done())
	assert.True(t, StateFinished.Done())
	assert.False(t, StatePaused.Done())
	assert.True(t, StateLookingForPeers.Active())
	assert.False(t, StateQueued.Active())
}
