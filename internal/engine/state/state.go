// Package state keeps the queue's durable state in SQLite: the aggregator
// blob written by the running queue, a per-download summary the CLI lists,
// and a command queue the CLI fills and the running queue drains.
package state

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/riptide-dl/riptide/internal/utils"
)

// ================== Queue blobs ==================

// SaveBlob stores blob under name, replacing any previous one.
func SaveBlob(name string, blob []byte) error {
	return withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO queue_state (name, blob, saved_at) VALUES (?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				blob=excluded.blob,
				saved_at=excluded.saved_at
		`, name, blob, time.Now().Unix())
		if err != nil {
			return fmt.Errorf("failed to save %s state: %w", name, err)
		}
		return nil
	})
}

// LoadBlob returns the blob saved under name, or nil if there is none.
func LoadBlob(name string) ([]byte, error) {
	db := getDBHelper()
	if db == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	var blob []byte
	err := db.QueryRow("SELECT blob FROM queue_state WHERE name = ?", name).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s state: %w", name, err)
	}
	return blob, nil
}

// ================== Download summaries ==================

// DownloadEntry is one row of the summary table.
type DownloadEntry struct {
	Key           string
	Adapter       string
	Name          string
	State         string
	Error         string
	Progress      float64
	TotalSize     int64
	Downloaded    int64
	DownloadSpeed int64
	UploadSpeed   int64
	Position      int
	Hidden        bool
	Source        string
	SaveDir       string
	UpdatedAt     int64
}

// ReplaceDownloads swaps the summary table for entries.
func ReplaceDownloads(entries []DownloadEntry) error {
	now := time.Now().Unix()
	return withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM downloads"); err != nil {
			return fmt.Errorf("failed to clear downloads: %w", err)
		}
		if len(entries) == 0 {
			return nil
		}
		stmt, err := tx.Prepare(`
			INSERT INTO downloads (
				key, adapter, name, state, error, progress, total_size, downloaded,
				download_speed, upload_speed, position, hidden, source, save_dir, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, e := range entries {
			if _, err := stmt.Exec(
				e.Key, e.Adapter, e.Name, e.State, e.Error, e.Progress, e.TotalSize, e.Downloaded,
				e.DownloadSpeed, e.UploadSpeed, e.Position, e.Hidden, e.Source, e.SaveDir, now,
			); err != nil {
				return fmt.Errorf("failed to insert %s: %w", e.Key, err)
			}
		}
		return nil
	})
}

// ListDownloads returns the summary table, visible downloads in queue order
// first, hidden ones after.
func ListDownloads() ([]DownloadEntry, error) {
	db := getDBHelper()
	if db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	rows, err := db.Query(`
		SELECT key, adapter, name, state, error, progress, total_size, downloaded,
			download_speed, upload_speed, position, hidden, source, save_dir, updated_at
		FROM downloads
		ORDER BY hidden, position, key
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query downloads: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			utils.Debug("Error closing rows: %v", err)
		}
	}()

	var out []DownloadEntry
	for rows.Next() {
		var e DownloadEntry
		var name, st, errText, src, dir sql.NullString
		if err := rows.Scan(
			&e.Key, &e.Adapter, &name, &st, &errText, &e.Progress, &e.TotalSize, &e.Downloaded,
			&e.DownloadSpeed, &e.UploadSpeed, &e.Position, &e.Hidden, &src, &dir, &e.UpdatedAt,
		); err != nil {
			return nil, err
		}
		e.Name = name.String
		e.State = st.String
		e.Error = errText.String
		e.Source = src.String
		e.SaveDir = dir.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// ================== Command queue ==================

type Op string

const (
	OpAdd    Op = "add"
	OpPause  Op = "pause"
	OpResume Op = "resume"
	OpRemove Op = "remove"
	OpMove   Op = "move"
	OpHide   Op = "hide"
	OpUnhide Op = "unhide"
)

// ParseOp accepts an op name in any case.
func ParseOp(s string) (Op, error) {
	op := Op(strings.ToLower(strings.TrimSpace(s)))
	switch op {
	case OpAdd, OpPause, OpResume, OpRemove, OpMove, OpHide, OpUnhide:
		return op, nil
	}
	return "", fmt.Errorf("unknown command %q", s)
}

// Command is a request queued for the running queue. Target is a locator for
// OpAdd and a download key otherwise.
type Command struct {
	ID          int64
	Op          Op
	Target      string
	Position    int
	DeleteFiles bool
	CreatedAt   int64
}

// EnqueueCommand appends c and returns its id.
func EnqueueCommand(c Command) (int64, error) {
	if _, err := ParseOp(string(c.Op)); err != nil {
		return 0, err
	}
	if c.Target == "" {
		return 0, fmt.Errorf("%s: missing target", c.Op)
	}
	var id int64
	err := withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			INSERT INTO commands (op, target, position, delete_files, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, string(c.Op), c.Target, c.Position, c.DeleteFiles, time.Now().Unix())
		if err != nil {
			return fmt.Errorf("failed to enqueue %s: %w", c.Op, err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// TakeCommands removes and returns every queued command, oldest first.
func TakeCommands() ([]Command, error) {
	var out []Command
	err := withTx(func(tx *sql.Tx) error {
		rows, err := tx.Query(`
			SELECT id, op, target, position, delete_files, created_at
			FROM commands
			ORDER BY id
		`)
		if err != nil {
			return fmt.Errorf("failed to query commands: %w", err)
		}
		for rows.Next() {
			var c Command
			var op string
			if err := rows.Scan(&c.ID, &op, &c.Target, &c.Position, &c.DeleteFiles, &c.CreatedAt); err != nil {
				_ = rows.Close()
				return err
			}
			c.Op = Op(op)
			out = append(out, c)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if len(out) == 0 {
			return nil
		}
		_, err = tx.Exec("DELETE FROM commands WHERE id <= ?", out[len(out)-1].ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PendingCommands counts queued commands without taking them.
func PendingCommands() (int, error) {
	db := getDBHelper()
	if db == nil {
		return 0, fmt.Errorf("database not initialized")
	}
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM commands").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
