package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// InitProgress resets the progress counter for a request and clears any
// previous cancellation flag.
func (s *Store) InitProgress(fingerprint string, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT OR REPLACE INTO guide_progress
		(fingerprint, total, done, status, updated_at) VALUES (?, ?, 0, ?, ?)`,
		fingerprint, total, ProgressRunning, millis(s.now()))
	if err != nil {
		return fmt.Errorf("init progress %s: %w", fingerprint, err)
	}
	return nil
}

// StepProgress increments the done counter by one. The surface is
// append-only from the client's point of view: done only ever grows within
// one run.
func (s *Store) StepProgress(fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE guide_progress SET done = done + 1, updated_at = ?
		WHERE fingerprint = ?`, millis(s.now()), fingerprint)
	if err != nil {
		return fmt.Errorf("step progress %s: %w", fingerprint, err)
	}
	return nil
}

// FinishProgress marks the counter complete.
func (s *Store) FinishProgress(fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE guide_progress SET status = ?, updated_at = ?
		WHERE fingerprint = ?`, ProgressDone, millis(s.now()), fingerprint)
	if err != nil {
		return fmt.Errorf("finish progress %s: %w", fingerprint, err)
	}
	return nil
}

// GetProgress returns the progress record, or (nil, nil) when none exists.
func (s *Store) GetProgress(fingerprint string) (*Progress, error) {
	row := s.db.QueryRow(`SELECT fingerprint, total, done, status, updated_at
		FROM guide_progress WHERE fingerprint = ?`, fingerprint)
	var p Progress
	var updatedAt int64
	err := row.Scan(&p.Fingerprint, &p.Total, &p.Done, &p.Status, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load progress %s: %w", fingerprint, err)
	}
	p.UpdatedAt = fromMillis(updatedAt)
	return &p, nil
}

// Cancel sets the external cancellation flag for a request. The orchestrator
// polls it between chunks; in-flight LLM calls finish but their results are
// discarded.
func (s *Store) Cancel(fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO guide_progress
		(fingerprint, total, done, status, updated_at) VALUES (?, 0, 0, ?, ?)
		ON CONFLICT (fingerprint) DO UPDATE SET
		 status = excluded.status, updated_at = excluded.updated_at`,
		fingerprint, ProgressCancelled, millis(s.now()))
	if err != nil {
		return fmt.Errorf("cancel %s: %w", fingerprint, err)
	}
	return nil
}

// IsCancelled reports whether the cancellation flag is set.
func (s *Store) IsCancelled(fingerprint string) (bool, error) {
	p, err := s.GetProgress(fingerprint)
	if err != nil {
		return false, err
	}
	return p != nil && p.Status == ProgressCancelled, nil
}
