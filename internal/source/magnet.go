package source

import (
	"fmt"

	"github.com/anacrolix/torrent/metainfo"
)

type Magnet struct {
	InfoHash    string // lowercase hex
	Trackers    []string
	DisplayName string
}

func ParseMagnet(raw string) (*Magnet, error) {
	m, err := metainfo.ParseMagnetUri(raw)
	if err != nil {
		return nil, err
	}
	if m.InfoHash == (metainfo.Hash{}) {
		return nil, fmt.Errorf("missing or invalid infohash")
	}
	return &Magnet{
		InfoHash:    m.InfoHash.HexString(),
		Trackers:    append([]string(nil), m.Trackers...),
		DisplayName: m.DisplayName,
	}, nil
}
