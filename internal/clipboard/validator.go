// Package clipboard picks a download locator off the system clipboard.
package clipboard

import (
	"strings"

	"github.com/atotto/clipboard"

	"github.com/riptide-dl/riptide/internal/source"
)

var clipboardReadAll = clipboard.ReadAll

// maxLocatorLen bounds what is considered; magnets with many trackers get long.
const maxLocatorLen = 8192

// Validator accepts remote locators only. Local paths on the clipboard are
// too easy to pick up by accident.
type Validator struct {
	allowed map[source.Kind]bool
}

func NewValidator() *Validator {
	return &Validator{
		allowed: map[source.Kind]bool{
			source.KindMagnet:     true,
			source.KindTorrentURL: true,
			source.KindHTTP:       true,
		},
	}
}

// ExtractLocator returns text trimmed if it is a single supported locator,
// or "".
func (v *Validator) ExtractLocator(text string) string {
	text = strings.TrimSpace(text)

	// Quick reject: too long or spans lines
	if text == "" || len(text) > maxLocatorLen || strings.ContainsAny(text, "\n\r") {
		return ""
	}
	if !v.allowed[source.KindOf(text)] {
		return ""
	}
	return text
}

// ReadLocator returns the locator on the clipboard, or "" when there is none
// or the clipboard cannot be read.
func ReadLocator() string {
	text, err := clipboardReadAll()
	if err != nil {
		return ""
	}
	return NewValidator().ExtractLocator(text)
}
