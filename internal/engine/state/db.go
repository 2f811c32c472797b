package state

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/riptide-dl/riptide/internal/utils"
)

var (
	db         *sql.DB
	dbMu       sync.Mutex
	dbPath     string
	configured bool
)

// busyTimeout lets the CLI and the running queue share the file without
// SQLITE_BUSY on every overlapping write.
const busyTimeout = "?_pragma=busy_timeout(5000)"

// Configure sets the path for the SQLite database
func Configure(path string) {
	dbMu.Lock()
	defer dbMu.Unlock()
	dbPath = path
	configured = true
}

// initDB opens the database at the configured path and creates the tables.
func initDB() error {
	dbMu.Lock()
	defer dbMu.Unlock()

	if db != nil {
		return nil
	}

	if !configured || dbPath == "" {
		return fmt.Errorf("state database not configured: call state.Configure() first")
	}

	var err error
	db, err = sql.Open("sqlite", dbPath+busyTimeout)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	query := `
	CREATE TABLE IF NOT EXISTS queue_state (
		name TEXT PRIMARY KEY,
		blob BLOB NOT NULL,
		saved_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS downloads (
		key TEXT PRIMARY KEY,
		adapter TEXT NOT NULL,
		name TEXT,
		state TEXT,
		error TEXT,
		progress REAL,
		total_size INTEGER,
		downloaded INTEGER,
		download_speed INTEGER,
		upload_speed INTEGER,
		position INTEGER,
		hidden INTEGER,
		source TEXT,
		save_dir TEXT,
		updated_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		op TEXT NOT NULL,
		target TEXT,
		position INTEGER,
		delete_files INTEGER,
		created_at INTEGER
	);
	`

	if _, err := db.Exec(query); err != nil {
		_ = db.Close()
		db = nil
		return fmt.Errorf("failed to create tables: %w", err)
	}

	return nil
}

// CloseDB closes the database connection
func CloseDB() {
	dbMu.Lock()
	defer dbMu.Unlock()
	if db != nil {
		if err := db.Close(); err != nil {
			utils.Debug("Error closing state DB: %v", err)
		}
		db = nil
	}
}

// GetDB returns the database instance, initializing it if necessary
func GetDB() (*sql.DB, error) {
	dbMu.Lock()
	d := db
	dbMu.Unlock()
	if d != nil {
		return d, nil
	}
	if err := initDB(); err != nil {
		return nil, err
	}
	dbMu.Lock()
	defer dbMu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("database closed")
	}
	return db, nil
}

func getDBHelper() *sql.DB {
	d, err := GetDB()
	if err != nil {
		utils.Debug("State DB Error: %v", err)
		return nil
	}
	return d
}

func withTx(fn func(*sql.Tx) error) error {
	d := getDBHelper()
	if d == nil {
		return fmt.Errorf("database not initialized")
	}

	tx, err := d.Begin()
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}
