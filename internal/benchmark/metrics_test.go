package benchmark

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Results(t *testing.T) {
	m := NewMetrics()
	m.Sample(0, 0)
	time.Sleep(5 * time.Millisecond)
	m.Sample(1000, 500)
	m.Sample(3000, 2000)
	m.Sample(2000, 100)
	time.Sleep(5 * time.Millisecond)
	m.Finish(4000)

	r := m.Results()
	assert.Equal(t, int64(4000), r.TotalBytes)
	assert.Equal(t, int64(2000), r.PeakSpeed)
	assert.Equal(t, 4, r.Samples)
	assert.Greater(t, r.TTFB, time.Duration(0))
	assert.GreaterOrEqual(t, r.TotalTime, r.TTFB)
	assert.Greater(t, r.Throughput, int64(0))

	out := r.String()
	require.Contains(t, out, "Benchmark Results")
	assert.Contains(t, out, "Total Bytes: 4.0 kB")
	assert.Contains(t, out, "Peak Speed:  2.0 kB/s")
}

func TestMetrics_NoBytes(t *testing.T) {
	m := NewMetrics()
	m.Finish(0)
	r := m.Results()
	assert.Equal(t, r.TotalTime, r.TTFB)
	assert.Equal(t, int64(0), r.PeakSpeed)
}
