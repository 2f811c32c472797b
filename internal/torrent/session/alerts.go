package session

// AlertKind names an alert type. Consumers should ignore kinds they do not know.
type AlertKind string

const (
	KindAddTorrent           AlertKind = "add-torrent"
	KindMetadataReceived     AlertKind = "metadata-received"
	KindStateChanged         AlertKind = "state-changed"
	KindTorrentFinished      AlertKind = "torrent-finished"
	KindTorrentPaused        AlertKind = "torrent-paused"
	KindTorrentResumed       AlertKind = "torrent-resumed"
	KindTorrentChecked       AlertKind = "torrent-checked"
	KindTorrentRemoved       AlertKind = "torrent-removed"
	KindTorrentError         AlertKind = "torrent-error"
	KindSaveResumeData       AlertKind = "save-resume-data"
	KindSaveResumeDataFailed AlertKind = "save-resume-data-failed"
	KindSessionError         AlertKind = "session-error"
)

type Alert interface {
	Kind() AlertKind
	// Hash is the hex infohash the alert is about, empty for session alerts.
	Hash() string
}

type torrentAlert struct {
	InfoHash string
}

func (a torrentAlert) Hash() string { return a.InfoHash }

// AddTorrentAlert reports the outcome of AsyncAdd. Params is the request as given.
type AddTorrentAlert struct {
	torrentAlert
	Name   string
	Params AddParams
	Err    error
}

func NewAddTorrentAlert(hash, name string, p AddParams, err error) *AddTorrentAlert {
	return &AddTorrentAlert{torrentAlert{hash}, name, p, err}
}

func (*AddTorrentAlert) Kind() AlertKind { return KindAddTorrent }

type MetadataReceivedAlert struct {
	torrentAlert
	Name string
}

func NewMetadataReceivedAlert(hash, name string) *MetadataReceivedAlert {
	return &MetadataReceivedAlert{torrentAlert{hash}, name}
}

func (*MetadataReceivedAlert) Kind() AlertKind { return KindMetadataReceived }

type StateChangedAlert struct {
	torrentAlert
	Prev, State EngineState
}

func NewStateChangedAlert(hash string, prev, state EngineState) *StateChangedAlert {
	return &StateChangedAlert{torrentAlert{hash}, prev, state}
}

func (*StateChangedAlert) Kind() AlertKind { return KindStateChanged }

type TorrentFinishedAlert struct{ torrentAlert }

func NewTorrentFinishedAlert(hash string) *TorrentFinishedAlert {
	return &TorrentFinishedAlert{torrentAlert{hash}}
}

func (*TorrentFinishedAlert) Kind() AlertKind { return KindTorrentFinished }

type TorrentPausedAlert struct{ torrentAlert }

func NewTorrentPausedAlert(hash string) *TorrentPausedAlert {
	return &TorrentPausedAlert{torrentAlert{hash}}
}

func (*TorrentPausedAlert) Kind() AlertKind { return KindTorrentPaused }

type TorrentResumedAlert struct{ torrentAlert }

func NewTorrentResumedAlert(hash string) *TorrentResumedAlert {
	return &TorrentResumedAlert{torrentAlert{hash}}
}

func (*TorrentResumedAlert) Kind() AlertKind { return KindTorrentResumed }

type TorrentCheckedAlert struct{ torrentAlert }

func NewTorrentCheckedAlert(hash string) *TorrentCheckedAlert {
	return &TorrentCheckedAlert{torrentAlert{hash}}
}

func (*TorrentCheckedAlert) Kind() AlertKind { return KindTorrentChecked }

type TorrentRemovedAlert struct{ torrentAlert }

func NewTorrentRemovedAlert(hash string) *TorrentRemovedAlert {
	return &TorrentRemovedAlert{torrentAlert{hash}}
}

func (*TorrentRemovedAlert) Kind() AlertKind { return KindTorrentRemoved }

type TorrentErrorAlert struct {
	torrentAlert
	Err error
}

func NewTorrentErrorAlert(hash string, err error) *TorrentErrorAlert {
	return &TorrentErrorAlert{torrentAlert{hash}, err}
}

func (*TorrentErrorAlert) Kind() AlertKind { return KindTorrentError }

// SaveResumeDataAlert carries the blob requested with SaveResumeData.
type SaveResumeDataAlert struct {
	torrentAlert
	Data []byte
}

func NewSaveResumeDataAlert(hash string, data []byte) *SaveResumeDataAlert {
	return &SaveResumeDataAlert{torrentAlert{hash}, data}
}

func (*SaveResumeDataAlert) Kind() AlertKind { return KindSaveResumeData }

type SaveResumeDataFailedAlert struct {
	torrentAlert
	Err error
}

func NewSaveResumeDataFailedAlert(hash string, err error) *SaveResumeDataFailedAlert {
	return &SaveResumeDataFailedAlert{torrentAlert{hash}, err}
}

func (*SaveResumeDataFailedAlert) Kind() AlertKind { return KindSaveResumeDataFailed }

// SessionErrorAlert reports an engine-wide failure such as a lost listen socket.
type SessionErrorAlert struct {
	Err error
}

func (*SessionErrorAlert) Kind() AlertKind { return KindSessionError }
func (*SessionErrorAlert) Hash() string    { return "" }
