package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"shiurgen/internal/corpus"
)

// GetAlignment loads the alignment record for a key. Returns (nil, nil) when
// the record is absent or carries an older schema version.
func (s *Store) GetAlignment(key string) (*AlignmentRecord, error) {
	row := s.db.QueryRow(`SELECT key, section, chapter, status, version,
		lock_expires_at, source_hash, paragraph_map, error,
		source_checked_at, created_at, updated_at
		FROM alignments WHERE key = ?`, key)
	rec, err := scanAlignment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load alignment %s: %w", key, err)
	}
	if rec.Version < SchemaVersion {
		return nil, nil
	}
	return rec, nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanAlignment(row rowScanner) (*AlignmentRecord, error) {
	var rec AlignmentRecord
	var sourceHash, paragraphMap string
	var lockExp, checkedAt, createdAt, updatedAt int64
	var section string
	err := row.Scan(&rec.Key, &section, &rec.Chapter, &rec.Status, &rec.Version,
		&lockExp, &sourceHash, &paragraphMap, &rec.Error,
		&checkedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	rec.Section = corpus.Section(section)
	rec.LockExpiresAt = fromMillis(lockExp)
	rec.SourceCheckedAt = fromMillis(checkedAt)
	rec.CreatedAt = fromMillis(createdAt)
	rec.UpdatedAt = fromMillis(updatedAt)
	if err := json.Unmarshal([]byte(sourceHash), &rec.SourceHash); err != nil {
		return nil, fmt.Errorf("decode source_hash: %w", err)
	}
	if err := json.Unmarshal([]byte(paragraphMap), &rec.ParagraphMap); err != nil {
		return nil, fmt.Errorf("decode paragraph_map: %w", err)
	}
	return &rec, nil
}

// TryLockAlignment attempts the conditional lock transaction: it succeeds —
// writing status=building with a fresh lock expiry — when the record is
// absent, not building, or holds an expired lock. On failure the current
// record is returned so the caller can decide whether to use or await it.
func (s *Store) TryLockAlignment(section corpus.Section, chapter int, ttl time.Duration) (bool, *AlignmentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := AlignmentKey(section, chapter)
	now := s.now()

	tx, err := s.db.Begin()
	if err != nil {
		return false, nil, fmt.Errorf("begin lock transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(`SELECT key, section, chapter, status, version,
		lock_expires_at, source_hash, paragraph_map, error,
		source_checked_at, created_at, updated_at
		FROM alignments WHERE key = ?`, key)
	cur, err := scanAlignment(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		cur = nil
	case err != nil:
		return false, nil, fmt.Errorf("read alignment %s: %w", key, err)
	}

	if cur != nil && cur.Status == StatusBuilding && cur.LockExpiresAt.After(now) {
		// Active lock held elsewhere.
		if cur.Version < SchemaVersion {
			cur = nil
		}
		return false, cur, nil
	}

	expires := millis(now.Add(ttl))
	if cur == nil {
		_, err = tx.Exec(`INSERT OR REPLACE INTO alignments
			(key, section, chapter, status, version, lock_expires_at,
			 source_hash, paragraph_map, error, source_checked_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, '{}', '{}', '', 0, ?, ?)`,
			key, string(section), chapter, StatusBuilding, SchemaVersion,
			expires, millis(now), millis(now))
	} else {
		_, err = tx.Exec(`UPDATE alignments SET status = ?, version = ?,
			lock_expires_at = ?, error = '', updated_at = ? WHERE key = ?`,
			StatusBuilding, SchemaVersion, expires, millis(now), key)
	}
	if err != nil {
		return false, nil, fmt.Errorf("acquire alignment lock %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return false, nil, fmt.Errorf("commit alignment lock %s: %w", key, err)
	}
	return true, cur, nil
}

// FinalizeAlignment atomically promotes a record to ready: paragraph map and
// source hashes land in one document update, the lock clears, and the
// timestamps advance.
func (s *Store) FinalizeAlignment(rec *AlignmentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sourceHash, err := json.Marshal(rec.SourceHash)
	if err != nil {
		return fmt.Errorf("encode source_hash: %w", err)
	}
	paragraphMap, err := json.Marshal(rec.ParagraphMap)
	if err != nil {
		return fmt.Errorf("encode paragraph_map: %w", err)
	}
	res, err := s.db.Exec(`UPDATE alignments SET status = ?, version = ?,
		lock_expires_at = 0, source_hash = ?, paragraph_map = ?, error = '',
		source_checked_at = ?, updated_at = ? WHERE key = ?`,
		StatusReady, SchemaVersion, string(sourceHash), string(paragraphMap),
		millis(now), millis(now), rec.Key)
	if err != nil {
		return fmt.Errorf("finalize alignment %s: %w", rec.Key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finalize alignment %s: record vanished", rec.Key)
	}
	rec.Status = StatusReady
	rec.SourceCheckedAt = now
	rec.UpdatedAt = now
	return nil
}

// FailAlignment marks a build failed and clears the lock.
func (s *Store) FailAlignment(key, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE alignments SET status = ?, lock_expires_at = 0,
		error = ?, updated_at = ? WHERE key = ?`,
		StatusFailed, msg, millis(s.now()), key)
	if err != nil {
		return fmt.Errorf("fail alignment %s: %w", key, err)
	}
	return nil
}

// TouchAlignmentSourceCheck refreshes source_checked_at after a revalidation
// confirmed the upstream payload is unchanged.
func (s *Store) TouchAlignmentSourceCheck(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	_, err := s.db.Exec(`UPDATE alignments SET source_checked_at = ?, updated_at = ?
		WHERE key = ?`, millis(now), millis(now), key)
	if err != nil {
		return fmt.Errorf("touch alignment %s: %w", key, err)
	}
	return nil
}
