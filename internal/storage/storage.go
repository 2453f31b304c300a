// Package storage provides persistent storage for the coordination core
// using SQLite. The core itself runs entirely in memory; this package only
// serves an optional sessions/pools recovery snapshot plus locally known
// P2P peers.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Storage provides persistent storage for the node.
type Storage struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Config holds storage configuration.
type Config struct {
	DataDir string
}

// New creates a new Storage instance.
func New(cfg *Config) (*Storage, error) {
	dataDir := expandPath(cfg.DataDir)

	// Ensure directory exists
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "lotuscore.db")

	// Open database
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Storage{
		db:     db,
		dbPath: dbPath,
	}

	// Initialize schema
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Storage) DB() *sql.DB {
	return s.db
}

// initSchema creates all database tables.
func (s *Storage) initSchema() error {
	schema := `
	-- Known peers table
	CREATE TABLE IF NOT EXISTS peers (
		peer_id TEXT PRIMARY KEY,
		addresses TEXT,
		first_seen INTEGER,
		last_seen INTEGER,
		last_connected INTEGER,
		connection_count INTEGER DEFAULT 0,
		is_bootstrap INTEGER DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_peers_last_seen ON peers(last_seen);

	-- Settings/config table
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT,
		updated_at INTEGER
	);

	-- =========================================================================
	-- Coordination core recovery snapshot
	--
	-- The core is in-memory; this table holds at most one row, the most
	-- recently saved {version, sessions:[...], pools:[...]} document. Secret
	-- nonces are never part of that document — internal/musig2.Snapshot
	-- doesn't expose them, so there is nothing to accidentally persist.
	-- =========================================================================
	CREATE TABLE IF NOT EXISTS core_snapshot (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		version INTEGER NOT NULL,
		document TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveSnapshot upserts the single recovery document. document is expected
// to be the caller's own {version, sessions, pools} JSON encoding; this
// package treats it as opaque.
func (s *Storage) SaveSnapshot(version int, document []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO core_snapshot (id, version, document, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			version = excluded.version,
			document = excluded.document,
			updated_at = excluded.updated_at
	`, version, string(document), time.Now().Unix())
	return err
}

// LoadSnapshot returns the last saved recovery document, or ok=false if
// none has been saved yet.
func (s *Storage) LoadSnapshot() (version int, document []byte, ok bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var doc string
	row := s.db.QueryRow(`SELECT version, document FROM core_snapshot WHERE id = 1`)
	if scanErr := row.Scan(&version, &doc); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return 0, nil, false, nil
		}
		return 0, nil, false, scanErr
	}
	return version, []byte(doc), true, nil
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
