package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
)

var ErrUnsupported = errors.New("unsupported source")

// Resolved is a locator turned into something an engine can add directly.
type Resolved struct {
	Kind    Kind
	Locator string
	// Magnet is set for magnet links, MetaInfo for every other torrent kind.
	Magnet   string
	MetaInfo []byte
	InfoHash string
	Name     string
	// Keys are the correlation keys the engine's confirmation can be matched by.
	Keys []string
}

type ResolveOptions struct {
	Client    *http.Client
	UserAgent string
}

// Resolve classifies locator and loads whatever it points at. Direct HTTP links
// are returned unresolved with Kind set so callers can route them elsewhere.
func Resolve(ctx context.Context, locator string, opts ResolveOptions) (*Resolved, error) {
	kind := KindOf(locator)
	r := &Resolved{Kind: kind, Locator: Normalize(locator)}
	if kind != KindTorrentData {
		r.Keys = append(r.Keys, r.Locator)
	}

	var meta *Meta
	var err error
	switch kind {
	case KindMagnet:
		m, err := ParseMagnet(r.Locator)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
		}
		r.Magnet = r.Locator
		r.InfoHash = m.InfoHash
		r.Name = m.DisplayName
		r.Keys = append(r.Keys, HashKey(m.InfoHash))
		return r, nil
	case KindTorrentURL:
		headers := map[string]string{}
		if opts.UserAgent != "" {
			headers["User-Agent"] = opts.UserAgent
		}
		meta, err = FetchTorrent(ctx, opts.Client, r.Locator, headers)
	case KindTorrentFile:
		path, _ := localPath(r.Locator)
		var data []byte
		if data, err = os.ReadFile(path); err == nil {
			meta, err = ParseTorrent(data)
		}
	case KindTorrentData:
		meta, err = ParseTorrent([]byte(locator))
	case KindHTTP:
		return r, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, r.Locator)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", kind, err)
	}

	r.MetaInfo = meta.Raw
	r.InfoHash = meta.InfoHash
	r.Name = meta.Name
	r.Keys = append(r.Keys, HashKey(meta.InfoHash))
	if kind == KindTorrentData {
		r.Locator = HashKey(meta.InfoHash)
	}
	return r, nil
}
