package source

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/anacrolix/torrent/metainfo"
)

type FileEntry struct {
	Path   string
	Length int64
}

// Meta is the part of a .torrent the queue cares about before the engine has it.
type Meta struct {
	Name        string
	InfoHash    string // lowercase hex
	Trackers    [][]string
	Files       []FileEntry
	TotalLength int64
	// Raw is the complete bencoded .torrent.
	Raw []byte
}

func ParseTorrent(data []byte) (*Meta, error) {
	mi, err := metainfo.Load(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	info, err := mi.UnmarshalInfo()
	if err != nil {
		return nil, err
	}
	if info.PieceLength == 0 || len(info.Pieces) == 0 || info.BestName() == "" {
		return nil, fmt.Errorf("invalid info dict")
	}
	if info.Length == 0 && len(info.Files) == 0 {
		return nil, fmt.Errorf("missing length/files")
	}

	meta := &Meta{
		Name:        info.BestName(),
		InfoHash:    mi.HashInfoBytes().HexString(),
		TotalLength: info.TotalLength(),
		Raw:         append([]byte(nil), data...),
	}
	for _, f := range info.UpvertedFiles() {
		meta.Files = append(meta.Files, FileEntry{Path: strings.Join(f.BestPath(), "/"), Length: f.Length})
	}
	for _, tier := range mi.UpvertedAnnounceList() {
		if len(tier) == 0 {
			continue
		}
		meta.Trackers = append(meta.Trackers, append([]string(nil), tier...))
	}
	return meta, nil
}
