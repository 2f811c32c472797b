package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlob_SaveOverwrites(t *testing.T) {
	setupTestDB(t)

	blob, err := LoadBlob("queue")
	require.NoError(t, err)
	assert.Nil(t, blob)

	require.NoError(t, SaveBlob("queue", []byte(`{"torrent":{}}`)))
	require.NoError(t, SaveBlob("queue", []byte(`{"direct":{}}`)))

	blob, err = LoadBlob("queue")
	require.NoError(t, err)
	assert.JSONEq(t, `{"direct":{}}`, string(blob))
}

func TestDownloads_ReplaceAndList(t *testing.T) {
	setupTestDB(t)

	require.NoError(t, ReplaceDownloads([]DownloadEntry{
		{Key: "torrent/aa", Adapter: "torrent", Name: "b", State: "downloading", Progress: 0.5, TotalSize: 100, Downloaded: 50, Position: 1},
		{Key: "direct/x", Adapter: "direct", Name: "hidden", State: "finished", Position: -1, Hidden: true},
		{Key: "direct/y", Adapter: "direct", Name: "a", State: "queued", Position: 0, Source: "http://h/a", Error: ""},
	}))

	got, err := ListDownloads()
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "direct/y", got[0].Key)
	assert.Equal(t, "http://h/a", got[0].Source)
	assert.Equal(t, "torrent/aa", got[1].Key)
	assert.InDelta(t, 0.5, got[1].Progress, 1e-9)
	assert.Equal(t, int64(50), got[1].Downloaded)
	assert.Equal(t, "direct/x", got[2].Key)
	assert.True(t, got[2].Hidden)
	assert.NotZero(t, got[2].UpdatedAt)

	require.NoError(t, ReplaceDownloads([]DownloadEntry{{Key: "direct/z", Adapter: "direct"}}))
	got, err = ListDownloads()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "direct/z", got[0].Key)

	require.NoError(t, ReplaceDownloads(nil))
	got, err = ListDownloads()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCommands_FIFO(t *testing.T) {
	setupTestDB(t)

	_, err := EnqueueCommand(Command{Op: OpAdd, Target: "magnet:?xt=urn:btih:0123456789abcdef0123456789abcdef01234567"})
	require.NoError(t, err)
	_, err = EnqueueCommand(Command{Op: OpMove, Target: "torrent/aa", Position: 3})
	require.NoError(t, err)
	_, err = EnqueueCommand(Command{Op: OpRemove, Target: "direct/x", DeleteFiles: true})
	require.NoError(t, err)

	n, err := PendingCommands()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	cmds, err := TakeCommands()
	require.NoError(t, err)
	require.Len(t, cmds, 3)
	assert.Equal(t, OpAdd, cmds[0].Op)
	assert.Equal(t, OpMove, cmds[1].Op)
	assert.Equal(t, 3, cmds[1].Position)
	assert.Equal(t, OpRemove, cmds[2].Op)
	assert.True(t, cmds[2].DeleteFiles)
	assert.Less(t, cmds[0].ID, cmds[1].ID)

	cmds, err = TakeCommands()
	require.NoError(t, err)
	assert.Empty(t, cmds)
}

func TestEnqueueCommand_Validates(t *testing.T) {
	setupTestDB(t)

	_, err := EnqueueCommand(Command{Op: "explode", Target: "x"})
	assert.Error(t, err)
	_, err = EnqueueCommand(Command{Op: OpPause})
	assert.Error(t, err)

	n, err := PendingCommands()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestParseOp(t *testing.T) {
	op, err := ParseOp(" Unhide ")
	require.NoError(t, err)
	assert.Equal(t, OpUnhide, op)

	_, err = ParseOp("stop")
	assert.Error(t, err)
}
