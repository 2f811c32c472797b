package testutil

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

type ServerOption func(*FileServer)

// WithDisposition sets a Content-Disposition header on every response.
func WithDisposition(value string) ServerOption {
	return func(s *FileServer) { s.disposition = value }
}

// WithoutRanges makes the server ignore Range headers.
func WithoutRanges() ServerOption {
	return func(s *FileServer) { s.noRanges = true }
}

// WithStatus makes every request fail with code.
func WithStatus(code int) ServerOption {
	return func(s *FileServer) { s.status = code }
}

// FileServer serves one in-memory file over HTTP and records the Range
// headers it was asked for.
type FileServer struct {
	*httptest.Server
	data        []byte
	disposition string
	noRanges    bool
	status      int

	Requests  atomic.Int32
	LastRange atomic.Value
	BytesSent atomic.Int64
}

func NewFileServerT(t testing.TB, data []byte, opts ...ServerOption) *FileServer {
	t.Helper()
	s := &FileServer{data: data}
	for _, opt := range opts {
		opt(s)
	}
	s.LastRange.Store("")
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *FileServer) serve(w http.ResponseWriter, r *http.Request) {
	s.Requests.Add(1)
	s.LastRange.Store(r.Header.Get("Range"))
	if s.status != 0 {
		http.Error(w, http.StatusText(s.status), s.status)
		return
	}
	if s.disposition != "" {
		w.Header().Set("Content-Disposition", s.disposition)
	}
	if s.noRanges {
		r.Header.Del("Range")
		w.Header().Set("Content-Length", strconv.Itoa(len(s.data)))
		n, _ := w.Write(s.data)
		s.BytesSent.Add(int64(n))
		return
	}
	cw := &countingWriter{ResponseWriter: w, n: &s.BytesSent}
	http.ServeContent(cw, r, "", time.Time{}, bytes.NewReader(s.data))
}

type countingWriter struct {
	http.ResponseWriter
	n *atomic.Int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.ResponseWriter.Write(p)
	c.n.Add(int64(n))
	return n, err
}
