package direct

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vfaronov/httpheader"
)

// IncompleteSuffix is appended to files while they download.
const IncompleteSuffix = ".part"

const fallbackName = "download"

// filenameFor picks a file name from Content-Disposition, then the URL path.
func filenameFor(rawurl string, h http.Header) string {
	if _, name, _ := httpheader.ContentDisposition(h); name != "" {
		if clean := sanitize(name); clean != "" {
			return clean
		}
	}
	if u, err := url.Parse(rawurl); err == nil {
		if clean := sanitize(path.Base(u.Path)); clean != "" {
			return clean
		}
	}
	return fallbackName
}

func sanitize(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimSpace(path.Base(name))
	switch name {
	case "", ".", "..", "/":
		return ""
	}
	return name
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return !os.IsNotExist(err)
}

// uniqueFilePath returns p, or p with a (1), (2), ... counter before the
// extension if p or its partial file already exists. A name that already ends
// in a counter continues from it.
func uniqueFilePath(p string) string {
	if !exists(p) && !exists(p+IncompleteSuffix) {
		return p
	}

	dir := filepath.Dir(p)
	ext := filepath.Ext(p)
	name := strings.TrimSuffix(filepath.Base(p), ext)

	base := name
	counter := 1
	clean := strings.TrimSpace(name)
	if len(clean) > 3 && clean[len(clean)-1] == ')' {
		if open := strings.LastIndexByte(clean, '('); open != -1 {
			if num, err := strconv.Atoi(clean[open+1 : len(clean)-1]); err == nil && num > 0 {
				base = clean[:open]
				counter = num + 1
			}
		}
	}

	for i := 0; i < 100; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s(%d)%s", base, counter+i, ext))
		if !exists(candidate) && !exists(candidate+IncompleteSuffix) {
			return candidate
		}
	}
	return p
}
