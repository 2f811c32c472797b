package download

// State is the externally observed status of a download.
type State string

const (
	StateInitializing     State = "initializing"
	StateChecking         State = "checking"
	StateFetchingMetadata State = "fetching-metadata"
	StateLookingForPeers  State = "looking-for-peers"
	StateDownloading      State = "downloading"
	StateSeeding          State = "seeding"
	StateFinished         State = "finished"
	StatePaused           State = "paused"
	StateQueued           State = "queued"
	StateError            State = "error"
)

// Done reports whether all wanted content is present.
func (s State) Done() bool {
	return s == StateSeeding || s == StateFinished
}

// Active reports whether the engine is moving bytes or about to.
func (s State) Active() bool {
	switch s {
	case StateChecking, StateFetchingMetadata, StateLookingForPeers, StateDownloading, StateSeeding:
		return true
	}
	return false
}

func (s State) String() string { return string(s) }
