package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/h2non/filetype"
)

// maxTorrentSize caps .torrent downloads; real metainfo files are far smaller.
const maxTorrentSize = 16 << 20

// FetchTorrent downloads a .torrent and parses it. Payloads that sniff as some
// other file type (an HTML error page, an archive) are rejected before parsing.
func FetchTorrent(ctx context.Context, client *http.Client, url string, headers map[string]string) (*Meta, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("torrent fetch error: %s - %s", resp.Status, string(bytes.TrimSpace(body)))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTorrentSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxTorrentSize {
		return nil, fmt.Errorf("torrent fetch error: payload exceeds %d bytes", maxTorrentSize)
	}
	if err := sniff(data); err != nil {
		return nil, err
	}
	return ParseTorrent(data)
}

func sniff(data []byte) error {
	kind, _ := filetype.Match(data)
	if kind != filetype.Unknown {
		return fmt.Errorf("%w: payload is %s, not a torrent", ErrUnsupported, kind.MIME.Value)
	}
	if len(data) == 0 || data[0] != 'd' {
		return fmt.Errorf("%w: payload is not bencoded", ErrUnsupported)
	}
	return nil
}
