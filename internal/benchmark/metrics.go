package benchmark

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Metrics samples a download's progress between refreshes.
type Metrics struct {
	mu sync.Mutex

	StartTime     time.Time
	FirstByteTime time.Time
	EndTime       time.Time

	TotalBytes int64
	lastBytes  int64
	peakSpeed  int64
	samples    int

	startMemAlloc uint64
	peakMemAlloc  uint64
}

// NewMetrics starts the clock and records the baseline heap size.
func NewMetrics() *Metrics {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return &Metrics{
		StartTime:     time.Now(),
		startMemAlloc: m.Alloc,
		peakMemAlloc:  m.Alloc,
	}
}

// Sample records the byte count and reported speed seen on one refresh.
func (bm *Metrics) Sample(downloaded, speed int64) {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	if downloaded > 0 && bm.FirstByteTime.IsZero() {
		bm.FirstByteTime = time.Now()
	}
	if downloaded > bm.lastBytes {
		bm.lastBytes = downloaded
	}
	if speed > bm.peakSpeed {
		bm.peakSpeed = speed
	}
	bm.samples++

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	if m.Alloc > bm.peakMemAlloc {
		bm.peakMemAlloc = m.Alloc
	}
}

// Finish stops the clock.
func (bm *Metrics) Finish(totalBytes int64) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.EndTime = time.Now()
	bm.TotalBytes = totalBytes
	if bm.FirstByteTime.IsZero() {
		bm.FirstByteTime = bm.EndTime
	}
}

// Results returns the computed metrics.
func (bm *Metrics) Results() Results {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	elapsed := bm.EndTime.Sub(bm.StartTime)
	var throughput int64
	if elapsed > 0 {
		throughput = int64(float64(bm.TotalBytes) / elapsed.Seconds())
	}
	var mem uint64
	if bm.peakMemAlloc > bm.startMemAlloc {
		mem = bm.peakMemAlloc - bm.startMemAlloc
	}
	return Results{
		TotalTime:  elapsed,
		TTFB:       bm.FirstByteTime.Sub(bm.StartTime),
		Throughput: throughput,
		PeakSpeed:  bm.peakSpeed,
		TotalBytes: bm.TotalBytes,
		Samples:    bm.samples,
		MemoryUsed: mem,
	}
}

// Results holds the final computed metrics. Rates are bytes per second.
type Results struct {
	TotalTime  time.Duration
	TTFB       time.Duration
	Throughput int64
	PeakSpeed  int64
	TotalBytes int64
	Samples    int
	MemoryUsed uint64
}

func (br Results) String() string {
	var b strings.Builder
	b.WriteString("=== Benchmark Results ===\n")
	fmt.Fprintf(&b, "Throughput:  %s/s\n", humanize.Bytes(uint64(br.Throughput)))
	fmt.Fprintf(&b, "Peak Speed:  %s/s\n", humanize.Bytes(uint64(br.PeakSpeed)))
	fmt.Fprintf(&b, "Total Time:  %s\n", br.TotalTime.Round(time.Millisecond))
	fmt.Fprintf(&b, "TTFB:        %s\n", br.TTFB.Round(time.Millisecond))
	fmt.Fprintf(&b, "Total Bytes: %s\n", humanize.Bytes(uint64(br.TotalBytes)))
	fmt.Fprintf(&b, "Refreshes:   %s\n", humanize.Comma(int64(br.Samples)))
	fmt.Fprintf(&b, "Memory Used: %s\n", humanize.Bytes(br.MemoryUsed))
	return b.String()
}
