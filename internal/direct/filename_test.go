package direct

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUniqueFilePath_Preservation(t *testing.T) {
	dir := t.TempDir()

	// A free name is returned as is, even with a counter in it.
	input := filepath.Join(dir, "file (1).txt")
	assert.Equal(t, input, uniqueFilePath(input))

	// Taken: the counter is incremented.
	require.NoError(t, os.WriteFile(input, []byte("content"), 0o644))
	second := filepath.Join(dir, "file (2).txt")
	assert.Equal(t, second, uniqueFilePath(input))

	// Also taken: skip to the next free one.
	require.NoError(t, os.WriteFile(second, []byte("content"), 0o644))
	assert.Equal(t, filepath.Join(dir, "file (3).txt"), uniqueFilePath(input))
}

func TestUniqueFilePath_WhitespaceParsing(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file (1).txt"), []byte("content"), 0o644))
	spaced := filepath.Join(dir, "file (1) .txt")
	require.NoError(t, os.WriteFile(spaced, []byte("content"), 0o644))

	assert.Equal(t, filepath.Join(dir, "file (2).txt"), uniqueFilePath(spaced))
}

func TestUniqueFilePath_PartialFileCounts(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "movie.mkv")
	require.NoError(t, os.WriteFile(target+IncompleteSuffix, nil, 0o644))

	assert.Equal(t, filepath.Join(dir, "movie(1).mkv"), uniqueFilePath(target))
}

func TestFilenameFor(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		header string
		want   string
	}{
		{"from url", "https://example.com/pub/archive.tar.gz?sig=1", "", "archive.tar.gz"},
		{"escaped url", "https://example.com/My%20File.pdf", "", "My File.pdf"},
		{"disposition", "https://example.com/get?id=3", `attachment; filename="report.pdf"`, "report.pdf"},
		{"disposition path stripped", "https://example.com/get", `attachment; filename="../../etc/passwd"`, "passwd"},
		{"no name at all", "https://example.com/", "", fallbackName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.header != "" {
				h.Set("Content-Disposition", tt.header)
			}
			assert.Equal(t, tt.want, filenameFor(tt.url, h))
		})
	}
}
