package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riptide-dl/riptide/internal/engine/state"
	"github.com/riptide-dl/riptide/internal/testutil"
)

func TestRemoteService_QueuesCommands(t *testing.T) {
	setupStateDB(t)
	r := NewRemoteService()

	magnet, _ := testutil.MagnetLink("remote")
	require.NoError(t, r.Add(magnet))
	require.NoError(t, r.Pause("torrent/aa"))
	require.NoError(t, r.Resume("torrent/aa"))
	require.NoError(t, r.Move("direct/x", 2))
	require.NoError(t, r.Hide("direct/x", true))
	require.NoError(t, r.Hide("direct/x", false))
	require.NoError(t, r.Remove("direct/x", true))

	cmds, err := state.TakeCommands()
	require.NoError(t, err)
	ops := make([]state.Op, 0, len(cmds))
	for _, c := range cmds {
		ops = append(ops, c.Op)
	}
	assert.Equal(t, []state.Op{
		state.OpAdd, state.OpPause, state.OpResume, state.OpMove, state.OpHide, state.OpUnhide, state.OpRemove,
	}, ops)
	assert.Equal(t, magnet, cmds[0].Target)
	assert.Equal(t, 2, cmds[3].Position)
	assert.True(t, cmds[6].DeleteFiles)

	assert.NoError(t, r.Shutdown())
}

func TestRemoteService_AddValidates(t *testing.T) {
	setupStateDB(t)
	r := NewRemoteService()

	assert.ErrorIs(t, r.Add("ftp://example.com/file"), ErrUnsupported)

	n, err := state.PendingCommands()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRemoteService_AbsolutizesTorrentFiles(t *testing.T) {
	setupStateDB(t)
	r := NewRemoteService()

	dir := t.TempDir()
	data, _ := testutil.TorrentFile(t, "local", 1024)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "local.torrent"), data, 0o644))
	t.Chdir(dir)

	require.NoError(t, r.Add("local.torrent"))

	cmds, err := state.TakeCommands()
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.True(t, filepath.IsAbs(cmds[0].Target))
	assert.Equal(t, "local.torrent", filepath.Base(cmds[0].Target))
}

func TestRemoteService_ListReadsSummary(t *testing.T) {
	setupStateDB(t)
	require.NoError(t, state.ReplaceDownloads([]state.DownloadEntry{
		{Key: "direct/a", Adapter: "direct", Position: 0},
	}))

	rows, err := NewRemoteService().List()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "direct/a", rows[0].Key)
}
