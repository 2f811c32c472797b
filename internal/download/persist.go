package download

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/riptide-dl/riptide/internal/utils"
)

// Entry is the persisted form of one download.
type Entry struct {
	Position         int            `json:"position"`
	DownloadDir      string         `json:"downloadDir"`
	Paused           bool           `json:"paused"`
	Checking         bool           `json:"checking"`
	ResumeSnapshot   []byte         `json:"resumeSnapshot,omitempty"`
	MetadataSnapshot []byte         `json:"metadataSnapshot,omitempty"`
	UserData         map[string]any `json:"userData,omitempty"`
	Hidden           bool           `json:"hidden"`
	Finished         bool           `json:"finished"`
	Filenames        []string       `json:"filenames,omitempty"`

	ID        string `json:"id,omitempty"`
	InfoHash  string `json:"infoHash,omitempty"`
	Name      string `json:"name,omitempty"`
	Source    string `json:"source,omitempty"`
	TotalSize int64  `json:"totalSize,omitempty"`
}

// AdapterState is the persisted form of one adapter.
type AdapterState struct {
	Session   []byte            `json:"session,omitempty"`
	Downloads []json.RawMessage `json:"downloads"`
}

// EncodeState marshals an adapter blob. Entries are written in position order
// with hidden entries last.
func EncodeState(session []byte, entries []Entry) (json.RawMessage, error) {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return entryLess(sorted[i], sorted[j])
	})

	st := AdapterState{Session: session, Downloads: make([]json.RawMessage, 0, len(sorted))}
	for _, e := range sorted {
		raw, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("encode entry %q: %w", e.Name, err)
		}
		st.Downloads = append(st.Downloads, raw)
	}
	return json.Marshal(st)
}

// DecodeState unmarshals an adapter blob. Entries that fail to decode are
// logged and skipped; only a malformed envelope is an error.
func DecodeState(blob json.RawMessage) ([]byte, []Entry, error) {
	if len(blob) == 0 {
		return nil, nil, nil
	}
	var st AdapterState
	if err := json.Unmarshal(blob, &st); err != nil {
		return nil, nil, fmt.Errorf("decode adapter state: %w", err)
	}
	log := utils.Logger("download")
	entries := make([]Entry, 0, len(st.Downloads))
	for i, raw := range st.Downloads {
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			log.Warn().Err(err).Int("index", i).Msg("skipping malformed download entry")
			continue
		}
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entryLess(entries[i], entries[j])
	})
	return st.Session, entries, nil
}

func entryLess(a, b Entry) bool {
	if a.Hidden != b.Hidden {
		return !a.Hidden
	}
	return a.Position < b.Position
}
