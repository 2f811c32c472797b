// Command bench measures direct download throughput against a local server
// that streams zeros.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/riptide-dl/riptide/internal/benchmark"
	"github.com/riptide-dl/riptide/internal/config"
	"github.com/riptide-dl/riptide/internal/direct"
	"github.com/riptide-dl/riptide/internal/download"
)

var (
	flagServer   = flag.Bool("server", false, "Run as benchmark server only")
	flagPort     = flag.Int("port", 0, "Port to listen on (0 for random)")
	flagSize     = flag.String("size", "2GB", "File size to serve (e.g. 500MB, 2GiB)")
	flagURL      = flag.String("url", "", "Download this URL instead of the built-in server")
	flagInterval = flag.Duration("interval", 100*time.Millisecond, "Refresh interval")
)

func main() {
	flag.Parse()

	size, err := humanize.ParseBytes(*flagSize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid size: %v\n", err)
		os.Exit(1)
	}
	fileSize := int64(size)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		http.ServeContent(w, r, "bench.bin", time.Now(), &ZeroReader{Size: fileSize})
	})

	if *flagServer {
		listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", *flagPort))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to listen: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Server listening on http://%s/bench.bin\n", listener.Addr().String())

		// Block forever
		if err := http.Serve(listener, handler); err != nil {
			fmt.Fprintf(os.Stderr, "Server failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	url := *flagURL
	if url == "" {
		ts := httptest.NewServer(handler)
		defer ts.Close()
		url = ts.URL + "/bench.bin"
		fmt.Printf("Benchmark Server running at %s\n", ts.URL)
	}

	// Output to /dev/shm to avoid disk IO bottleneck
	destDir := "/dev/shm"
	if _, err := os.Stat(destDir); err != nil {
		destDir = os.TempDir()
	}
	destDir, err = os.MkdirTemp(destDir, "riptide-bench-")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create output dir: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = os.RemoveAll(destDir) }()

	if err := run(url, destDir); err != nil {
		fmt.Fprintf(os.Stderr, "Download failed: %v\n", err)
		os.Exit(1)
	}
}

// run downloads url into dir through the direct adapter, refreshing it the
// way the queue loop does.
func run(url, dir string) error {
	cfg := config.NewStore(nil)
	if err := cfg.Set(config.KeyDownloadDir, dir); err != nil {
		return err
	}

	a := direct.New(cfg)
	ctx := context.Background()
	if err := a.Run(ctx); err != nil {
		return err
	}
	defer func() { _ = a.Stop(ctx) }()

	if !a.Submit(ctx, url, nil) {
		return fmt.Errorf("rejected %s", url)
	}
	d := a.Visible()[0]

	fmt.Printf("Downloading to %s...\n", dir)
	metrics := benchmark.NewMetrics()
	ticker := time.NewTicker(*flagInterval)
	defer ticker.Stop()
	for range ticker.C {
		if err := a.Refresh(); err != nil {
			return err
		}
		metrics.Sample(d.Downloaded(), d.DownloadSpeed())
		switch st := d.State(); {
		case st == download.StateError:
			return fmt.Errorf("%s", d.Error())
		case st.Done():
			metrics.Finish(d.Downloaded())
			fmt.Print(metrics.Results())
			return nil
		}
	}
	return nil
}

// ZeroReader implements io.ReadSeeker for zeros
type ZeroReader struct {
	Size int64
	pos  int64
}

func (z *ZeroReader) Read(p []byte) (n int, err error) {
	if z.pos >= z.Size {
		return 0, io.EOF
	}
	remaining := z.Size - z.pos
	if int64(len(p)) > remaining {
		n = int(remaining)
	} else {
		n = len(p)
	}
	z.pos += int64(n)
	return n, nil
}

func (z *ZeroReader) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = z.pos + offset
	case io.SeekEnd:
		newPos = z.Size + offset
	}
	if newPos < 0 {
		return 0, fmt.Errorf("invalid seek")
	}
	z.pos = newPos
	return newPos, nil
}
