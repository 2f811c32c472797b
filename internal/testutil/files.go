package testutil

import (
	"os"
	"path/filepath"
)

// Content returns size bytes of a repeating, offset-dependent pattern so
// that misplaced ranges show up in comparisons.
func Content(size int64) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

// CreatePartFile writes the first downloaded bytes of Content(total) to
// dir/name.part, the way an interrupted direct download leaves it.
func CreatePartFile(dir, name string, total, downloaded int64) (string, error) {
	path := filepath.Join(dir, name+".part")
	if err := os.WriteFile(path, Content(total)[:downloaded], 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// VerifyFileSize checks if a file has the expected size.
func VerifyFileSize(path string, expectedSize int64) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() != expectedSize {
		return &FileSizeMismatchError{
			Path:     path,
			Expected: expectedSize,
			Actual:   info.Size(),
		}
	}
	return nil
}

// FileSizeMismatchError indicates a file size doesn't match expected.
type FileSizeMismatchError struct {
	Path     string
	Expected int64
	Actual   int64
}

func (e *FileSizeMismatchError) Error() string {
	return "file size mismatch: " + e.Path
}

func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
