package version

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withServer(t *testing.T, h http.HandlerFunc) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	orig := ReleasesURL
	ReleasesURL = srv.URL
	t.Cleanup(func() { ReleasesURL = orig })
}

func TestCheckForUpdate(t *testing.T) {
	var gotUA string
	withServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(`{"tag_name":"v1.3.0","html_url":"https://example.com/r/1.3.0"}`))
	})

	info, err := CheckForUpdate(context.Background(), "1.2.9", "riptide/1.2.9")
	require.NoError(t, err)
	assert.True(t, info.UpdateAvailable)
	assert.Equal(t, "v1.3.0", info.LatestVersion)
	assert.Equal(t, "https://example.com/r/1.3.0", info.ReleaseURL)
	assert.Equal(t, "riptide/1.2.9", gotUA)

	info, err = CheckForUpdate(context.Background(), "v1.3.0", "riptide")
	require.NoError(t, err)
	assert.False(t, info.UpdateAvailable)
}

func TestCheckForUpdate_Errors(t *testing.T) {
	_, err := CheckForUpdate(context.Background(), "dev", "riptide")
	assert.ErrorIs(t, err, ErrDevBuild)

	withServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusForbidden)
	})
	_, err = CheckForUpdate(context.Background(), "1.0.0", "riptide")
	assert.ErrorContains(t, err, "403")
}

func TestIsNewerVersion(t *testing.T) {
	tests := []struct {
		latest, current string
		want            bool
	}{
		{"1.2.3", "1.2.2", true},
		{"2.0.0", "1.9.9", true},
		{"1.2.3", "1.2.3", false},
		{"1.2.3", "1.10.0", false},
		{"1.3.0-beta", "1.2.0", true},
		{"1.2", "1.2.1", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isNewerVersion(tt.latest, tt.current), "%s vs %s", tt.latest, tt.current)
	}
}
