package session

import (
	"fmt"
	"net/url"

	"github.com/anacrolix/torrent/bencode"
)

// ResumeData is the bencoded per-torrent blob carried by SaveResumeDataAlert.
// Piece completion lives with the data on disk; this blob only has to bring the
// torrent back with its metadata and flags.
type ResumeData struct {
	InfoHash    string     `bencode:"info-hash"`
	Name        string     `bencode:"name,omitempty"`
	SavePath    string     `bencode:"save_path,omitempty"`
	InfoBytes   []byte     `bencode:"info,omitempty"`
	Trackers    [][]string `bencode:"trackers,omitempty"`
	Paused      int        `bencode:"paused"`
	AutoManaged int        `bencode:"auto_managed"`
	Completed   int64      `bencode:"completed"`
}

func EncodeResume(rd ResumeData) ([]byte, error) {
	return bencode.Marshal(rd)
}

func DecodeResume(data []byte) (ResumeData, error) {
	var rd ResumeData
	if err := bencode.Unmarshal(data, &rd); err != nil {
		return rd, fmt.Errorf("decode resume data: %w", err)
	}
	if len(rd.InfoHash) != 40 {
		return rd, fmt.Errorf("decode resume data: bad infohash %q", rd.InfoHash)
	}
	return rd, nil
}

// Magnet rebuilds a magnet link for torrents restored without metadata.
func (rd ResumeData) Magnet() string {
	q := url.Values{}
	if rd.Name != "" {
		q.Set("dn", rd.Name)
	}
	for _, tier := range rd.Trackers {
		for _, tr := range tier {
			q.Add("tr", tr)
		}
	}
	m := "magnet:?xt=urn:btih:" + rd.InfoHash
	if enc := q.Encode(); enc != "" {
		m += "&" + enc
	}
	return m
}

type sessionBlob struct {
	Paused int      `bencode:"paused"`
	Queue  []string `bencode:"queue,omitempty"`
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
