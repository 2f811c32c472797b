package direct

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
)

const bufferSize = 32 * 1024

// fetch runs one transfer to completion. It resumes from the partial file
// with a Range request; a server that answers 200 instead restarts it.
func (a *Adapter) fetch(ctx context.Context, d *Download) error {
	dest := d.Path()
	var offset int64
	if dest != "" {
		if st, err := os.Stat(dest + IncompleteSuffix); err == nil {
			offset = st.Size()
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.Source(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", a.userAgent())
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := a.client.Load().Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusPartialContent:
	case http.StatusOK:
		offset = 0
	case http.StatusRequestedRangeNotSatisfiable:
		if total := d.p.TotalSize(); total > 0 && offset == total {
			return finalize(dest)
		}
		return fmt.Errorf("server rejected resume at byte %d", offset)
	default:
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if dest == "" {
		if dest, err = a.claim(d, filenameFor(d.Source(), resp.Header)); err != nil {
			return err
		}
	}

	total := int64(-1)
	if resp.ContentLength >= 0 {
		total = offset + resp.ContentLength
	} else if cr := resp.Header.Get("Content-Range"); cr != "" {
		total = contentRangeTotal(cr)
	}
	d.p.SetTotalSize(total)
	d.p.Downloaded.Store(offset)

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if offset == 0 {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	f, err := os.OpenFile(dest+IncompleteSuffix, flags, 0o644)
	if err != nil {
		return err
	}
	written, err := copyBody(ctx, f, resp.Body, &d.p.Downloaded)
	if syncErr := f.Sync(); err == nil {
		err = syncErr
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	if total >= 0 && offset+written != total {
		return fmt.Errorf("short transfer: got %d of %d bytes: %w", offset+written, total, io.ErrUnexpectedEOF)
	}
	if total < 0 {
		d.p.SetTotalSize(offset + written)
	}
	return finalize(dest)
}

func finalize(dest string) error {
	if err := os.Rename(dest+IncompleteSuffix, dest); err != nil {
		return fmt.Errorf("rename failed: %w", err)
	}
	return nil
}

// claim picks a free destination in the download's directory and creates its
// partial file so no other download can take the same name.
func (a *Adapter) claim(d *Download, name string) (string, error) {
	dir := d.SaveDir()
	if dir == "" {
		dir = a.DownloadDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	a.pathMu.Lock()
	defer a.pathMu.Unlock()
	dest := uniqueFilePath(filepath.Join(dir, name))
	f, err := os.OpenFile(dest+IncompleteSuffix, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}
	_ = f.Close()
	d.setPath(dest)
	return dest, nil
}

// copyBody copies src to dst, adding to counter as it goes, until EOF or ctx ends.
func copyBody(ctx context.Context, dst io.Writer, src io.Reader, counter interface{ Add(int64) int64 }) (int64, error) {
	buf := make([]byte, bufferSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			wn, err := dst.Write(buf[:n])
			if err != nil {
				return written, err
			}
			if wn != n {
				return written, io.ErrShortWrite
			}
			written += int64(n)
			counter.Add(int64(n))
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}

// contentRangeTotal parses the size from "bytes a-b/size", or -1.
func contentRangeTotal(v string) int64 {
	for i := len(v) - 1; i >= 0; i-- {
		if v[i] == '/' {
			if n, err := strconv.ParseInt(v[i+1:], 10, 64); err == nil {
				return n
			}
			break
		}
	}
	return -1
}
