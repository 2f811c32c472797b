package source

import (
	"encoding/base32"
	"encoding/hex"
	"net/url"
	"os"
	"strings"
)

type Kind string

const (
	KindUnknown     Kind = "unknown"
	KindHTTP        Kind = "http"
	KindTorrentURL  Kind = "torrent"
	KindMagnet      Kind = "magnet"
	KindTorrentFile Kind = "torrent-file"
	KindTorrentData Kind = "torrent-data"
)

// IsTorrent reports whether k resolves to something the torrent engine adds.
func (k Kind) IsTorrent() bool {
	switch k {
	case KindTorrentURL, KindMagnet, KindTorrentFile, KindTorrentData:
		return true
	}
	return false
}

func Normalize(raw string) string {
	return strings.TrimSpace(raw)
}

func IsHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

func IsTorrentURL(raw string) bool {
	if !IsHTTPURL(raw) {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".torrent")
}

func IsMagnet(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if strings.ToLower(u.Scheme) != "magnet" {
		return false
	}
	return u.Opaque != "" || u.RawQuery != ""
}

// IsTorrentFile accepts a file:// URL or a path to an existing .torrent file.
func IsTorrentFile(raw string) bool {
	path, ok := localPath(raw)
	if !ok || !strings.HasSuffix(strings.ToLower(path), ".torrent") {
		return false
	}
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular()
}

// IsTorrentData recognizes bencoded torrent content passed inline.
func IsTorrentData(raw string) bool {
	return strings.HasPrefix(raw, "d") && strings.Contains(raw, "4:info") && strings.HasSuffix(raw, "e")
}

func localPath(raw string) (string, bool) {
	if strings.HasPrefix(raw, "file://") {
		u, err := url.Parse(raw)
		if err != nil || u.Path == "" {
			return "", false
		}
		return u.Path, true
	}
	if strings.Contains(raw, "://") {
		return "", false
	}
	return raw, raw != ""
}

func KindOf(raw string) Kind {
	if IsTorrentData(raw) {
		return KindTorrentData
	}
	s := Normalize(raw)
	switch {
	case s == "":
		return KindUnknown
	case IsMagnet(s):
		return KindMagnet
	case IsTorrentURL(s):
		return KindTorrentURL
	case IsHTTPURL(s):
		return KindHTTP
	case IsTorrentFile(s):
		return KindTorrentFile
	}
	return KindUnknown
}

func IsSupported(raw string) bool {
	return KindOf(raw) != KindUnknown
}

// CanonicalKey returns a key under which equivalent locators collide: magnets by
// content hash, URLs without fragment and with a lowercased scheme and host.
func CanonicalKey(raw string) (Kind, string) {
	s := Normalize(raw)
	if s == "" {
		return KindUnknown, ""
	}
	if IsMagnet(s) {
		if key := magnetInfoHash(s); key != "" {
			return KindMagnet, key
		}
		return KindMagnet, strings.ToLower(s)
	}
	if IsHTTPURL(s) {
		if u, err := url.Parse(s); err == nil {
			u.Fragment = ""
			u.Scheme = strings.ToLower(u.Scheme)
			u.Host = strings.ToLower(u.Host)
			return KindOf(s), u.String()
		}
	}
	return KindOf(raw), s
}

// HashKey is the correlation key for a hex infohash.
func HashKey(hash string) string {
	return "btih:" + strings.ToLower(hash)
}

func magnetInfoHash(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	for _, xt := range u.Query()["xt"] {
		xt = strings.ToLower(strings.TrimSpace(xt))
		if !strings.HasPrefix(xt, "urn:btih:") {
			continue
		}
		hash := strings.TrimPrefix(xt, "urn:btih:")
		if len(hash) == 40 && isHex(hash) {
			return HashKey(hash)
		}
		if len(hash) == 32 && isBase32(hash) {
			decoded, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(hash))
			if err == nil && len(decoded) == 20 {
				return HashKey(hex.EncodeToString(decoded))
			}
		}
	}
	return ""
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

func isBase32(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		case c >= '2' && c <= '7':
		default:
			return false
		}
	}
	return true
}
