package torrent

import (
	"github.com/riptide-dl/riptide/internal/download"
	"github.com/riptide-dl/riptide/internal/torrent/session"
)

// mapState turns an engine status into a record state. Ties resolve in this
// order: a globally paused engine shows everything paused, errors beat flags,
// and a paused auto-managed torrent is waiting for a slot, so it is queued.
func mapState(st session.Status, globalPaused bool) download.State {
	switch {
	case globalPaused:
		return download.StatePaused
	case st.Error != "":
		return download.StateError
	case st.Paused && st.AutoManaged:
		return download.StateQueued
	case st.Paused:
		return download.StatePaused
	}

	switch st.State {
	case session.EngineCheckingResume, session.EngineCheckingFiles:
		return download.StateChecking
	case session.EngineDownloadingMetadata:
		if st.NumPeers == 0 {
			return download.StateLookingForPeers
		}
		return download.StateFetchingMetadata
	case session.EngineDownloading:
		return download.StateDownloading
	case session.EngineFinished:
		return download.StateFinished
	case session.EngineSeeding:
		return download.StateSeeding
	}
	return download.StateInitializing
}

func statsFrom(st session.Status, globalPaused bool) download.Stats {
	return download.Stats{
		Name:          st.Name,
		TotalSize:     st.TotalWanted,
		Downloaded:    st.TotalDone,
		Progress:      st.Progress,
		DownloadSpeed: st.DownloadRate,
		UploadSpeed:   st.UploadRate,
		State:         mapState(st, globalPaused),
		Error:         st.Error,
		SaveDir:       st.SavePath,
		Files:         st.Files,
	}
}
