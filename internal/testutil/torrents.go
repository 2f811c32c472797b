package testutil

import (
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"testing"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
)

const fixturePieceLength = 16 * 1024

// TorrentFile builds a bencoded single-file .torrent for name and returns it
// with its hex infohash. Distinct names give distinct infohashes.
func TorrentFile(t testing.TB, name string, size int64) ([]byte, string) {
	t.Helper()
	pieces := (size + fixturePieceLength - 1) / fixturePieceLength
	if pieces == 0 {
		pieces = 1
	}
	sum := sha1.Sum([]byte(name))
	hashes := make([]byte, 0, pieces*20)
	for i := int64(0); i < pieces; i++ {
		hashes = append(hashes, sum[:]...)
	}
	info := metainfo.Info{
		Name:        name,
		PieceLength: fixturePieceLength,
		Length:      size,
		Pieces:      hashes,
	}
	infoBytes, err := bencode.Marshal(info)
	if err != nil {
		t.Fatalf("encode info: %v", err)
	}
	mi := metainfo.MetaInfo{
		InfoBytes: infoBytes,
		Announce:  "http://tracker.invalid/announce",
	}
	data, err := bencode.Marshal(mi)
	if err != nil {
		t.Fatalf("encode metainfo: %v", err)
	}
	return data, mi.HashInfoBytes().HexString()
}

// MagnetLink returns a magnet for name with an infohash derived from it.
func MagnetLink(name string) (string, string) {
	sum := sha1.Sum([]byte("magnet:" + name))
	hash := hex.EncodeToString(sum[:])
	return "magnet:?xt=urn:btih:" + hash + "&dn=" + url.QueryEscape(name), hash
}
