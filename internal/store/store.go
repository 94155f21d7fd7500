// Package store is the persistent shared state of the pipeline: chapter
// alignments, memoized explanations (structured and legacy keys), canonical
// guides with their chunk sub-records, and the per-request progress counter
// that also carries the cancellation flag.
//
// The backend is a single SQLite database. Every cross-process coordination
// point (alignment lock, canonical guide lock) is a conditional transaction,
// so the single-flight protocols hold across processes sharing the file.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"shiurgen/internal/logging"
)

// SchemaVersion invalidates records written by older builds; records carrying
// a lower version are treated as absent on read.
const SchemaVersion = 3

// Store wraps the SQLite document store. Safe for concurrent use; writes are
// serialized on a single connection.
type Store struct {
	db *sql.DB
	mu sync.Mutex

	// now is injectable for tests that need to age locks and timestamps.
	now func() time.Time
}

// Open opens (or creates) the store at path. ":memory:" is supported for
// tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logging.Get(logging.CategoryStore).Debug("pragma failed: " + pragma)
		}
	}
	s := &Store{db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// SetClock replaces the store's time source. Tests only.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS alignments (
	key               TEXT PRIMARY KEY,
	section           TEXT NOT NULL,
	chapter           INTEGER NOT NULL,
	status            TEXT NOT NULL,
	version           INTEGER NOT NULL,
	lock_expires_at   INTEGER NOT NULL DEFAULT 0,
	source_hash       TEXT NOT NULL DEFAULT '{}',
	paragraph_map     TEXT NOT NULL DEFAULT '{}',
	error             TEXT NOT NULL DEFAULT '',
	source_checked_at INTEGER NOT NULL DEFAULT 0,
	created_at        INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS explanations (
	section        TEXT NOT NULL,
	chapter        INTEGER NOT NULL,
	paragraph      INTEGER NOT NULL,
	corpus         TEXT NOT NULL,
	ordinal        INTEGER NOT NULL,
	raw_text       TEXT NOT NULL,
	explanation    TEXT NOT NULL,
	content_hash   TEXT NOT NULL,
	model_name     TEXT NOT NULL,
	prompt_version TEXT NOT NULL,
	validated      INTEGER NOT NULL,
	created_at     INTEGER NOT NULL,
	updated_at     INTEGER NOT NULL,
	PRIMARY KEY (section, chapter, paragraph, corpus, ordinal)
);

CREATE TABLE IF NOT EXISTS legacy_explanations (
	cache_key   TEXT PRIMARY KEY,
	explanation TEXT NOT NULL,
	model_name  TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS guides (
	fingerprint   TEXT PRIMARY KEY,
	status        TEXT NOT NULL,
	section       TEXT NOT NULL,
	chapter       INTEGER NOT NULL,
	paragraph     INTEGER NOT NULL,
	corpora       TEXT NOT NULL,
	summary_text  TEXT NOT NULL DEFAULT '',
	summary_model TEXT NOT NULL DEFAULT '',
	validated     INTEGER NOT NULL DEFAULT 0,
	version       INTEGER NOT NULL,
	chunk_count   INTEGER NOT NULL DEFAULT 0,
	error         TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS guide_chunks (
	fingerprint TEXT NOT NULL,
	corpus      TEXT NOT NULL,
	ordinal     INTEGER NOT NULL,
	chunk_id    TEXT NOT NULL,
	raw_text    TEXT NOT NULL,
	explanation TEXT NOT NULL,
	model_name  TEXT NOT NULL,
	validated   INTEGER NOT NULL,
	created_at  INTEGER NOT NULL,
	PRIMARY KEY (fingerprint, corpus, ordinal)
);

CREATE TABLE IF NOT EXISTS guide_progress (
	fingerprint TEXT PRIMARY KEY,
	total       INTEGER NOT NULL,
	done        INTEGER NOT NULL,
	status      TEXT NOT NULL,
	updated_at  INTEGER NOT NULL
);
`)
	return err
}

// millis converts a time to the integer column representation. Zero times
// store as 0.
func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
