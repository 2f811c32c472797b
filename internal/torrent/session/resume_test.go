package session

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

const testHash = "0123456789abcdef0123456789abcdef01234567"

func TestResumeData_EncodeDecode(t *testing.T) {
	in := ResumeData{
		InfoHash:    testHash,
		Name:        "debian.iso",
		SavePath:    "/data",
		Trackers:    [][]string{{"udp://a.example:80"}, {"http://b.example/announce"}},
		Paused:      boolInt(true),
		AutoManaged: boolInt(false),
		Completed:   4096,
	}
	data, err := EncodeResume(in)
	require.NoError(t, err)

	out, err := DecodeResume(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeResume_Rejects(t *testing.T) {
	_, err := DecodeResume([]byte("garbage"))
	assert.Error(t, err)

	data, err := EncodeResume(ResumeData{InfoHash: "short"})
	require.NoError(t, err)
	_, err = DecodeResume(data)
	assert.ErrorContains(t, err, "bad infohash")
}

func TestResumeData_Magnet(t *testing.T) {
	m := ResumeData{InfoHash: testHash}.Magnet()
	assert.Equal(t, "magnet:?xt=urn:btih:"+testHash, m)

	m = ResumeData{
		InfoHash: testHash,
		Name:     "a b",
		Trackers: [][]string{{"udp://t.example:80"}},
	}.Magnet()
	require.True(t, strings.HasPrefix(m, "magnet:?xt=urn:btih:"+testHash+"&"))
	q, err := url.ParseQuery(strings.SplitN(m, "?", 2)[1])
	require.NoError(t, err)
	assert.Equal(t, "a b", q.Get("dn"))
	assert.Equal(t, []string{"udp://t.example:80"}, q["tr"])
}

func TestRateLimits(t *testing.T) {
	assert.Equal(t, rate.Inf, limitOf(0))
	assert.Equal(t, rate.Limit(1000), limitOf(1000))
	assert.Equal(t, minBurst, burstOf(0))
	assert.Equal(t, minBurst, burstOf(1000))
	assert.Equal(t, 4*minBurst, burstOf(4*minBurst))
}

func TestEngineStateString(t *testing.T) {
	assert.Equal(t, "downloading-metadata", EngineDownloadingMetadata.String())
	assert.Equal(t, "unknown", EngineState(42).String())
}
