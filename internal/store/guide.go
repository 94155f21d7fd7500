package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"shiurgen/internal/corpus"
)

// GuideLockOutcome is the result of the canonical single-flight check.
type GuideLockOutcome int

const (
	// GuideAcquired: this caller holds the processing lock and must build.
	GuideAcquired GuideLockOutcome = iota
	// GuideReady: a finished artifact exists; use it.
	GuideReady
	// GuideProcessing: another caller is building; poll for ready.
	GuideProcessing
)

// TryLockGuide runs the canonical cache transaction for a fingerprint:
// ready records are returned as-is; a processing record with recent activity
// defers to the other caller; anything else (absent, failed, stale
// processing) is claimed by writing status=processing.
func (s *Store) TryLockGuide(rec *GuideRecord, stale time.Duration) (GuideLockOutcome, *GuideRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	tx, err := s.db.Begin()
	if err != nil {
		return 0, nil, fmt.Errorf("begin guide transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(guideSelect+` WHERE fingerprint = ?`, rec.Fingerprint)
	cur, err := scanGuide(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		cur = nil
	case err != nil:
		return 0, nil, fmt.Errorf("read guide %s: %w", rec.Fingerprint, err)
	}

	if cur != nil && cur.Version >= SchemaVersion {
		switch cur.Status {
		case StatusReady:
			return GuideReady, cur, nil
		case StatusProcessing:
			if cur.UpdatedAt.After(now.Add(-stale)) {
				return GuideProcessing, cur, nil
			}
			// Stale lock: fall through and take over.
		}
	}

	nowMs := millis(now)
	_, err = tx.Exec(`INSERT INTO guides
		(fingerprint, status, section, chapter, paragraph, corpora, version,
		 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (fingerprint) DO UPDATE SET
		 status = excluded.status,
		 version = excluded.version,
		 error = '',
		 updated_at = excluded.updated_at`,
		rec.Fingerprint, StatusProcessing, string(rec.Section), rec.Chapter,
		rec.Paragraph, corporaCSV(rec.Corpora), SchemaVersion, nowMs, nowMs)
	if err != nil {
		return 0, nil, fmt.Errorf("claim guide %s: %w", rec.Fingerprint, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("commit guide claim %s: %w", rec.Fingerprint, err)
	}
	return GuideAcquired, nil, nil
}

// TouchGuide bumps updated_at on a processing record so other callers do not
// judge it stale mid-build.
func (s *Store) TouchGuide(fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE guides SET updated_at = ? WHERE fingerprint = ?`,
		millis(s.now()), fingerprint)
	if err != nil {
		return fmt.Errorf("touch guide %s: %w", fingerprint, err)
	}
	return nil
}

// GetGuide loads a guide record. Returns (nil, nil) when absent or written
// by an older schema.
func (s *Store) GetGuide(fingerprint string) (*GuideRecord, error) {
	row := s.db.QueryRow(guideSelect+` WHERE fingerprint = ?`, fingerprint)
	rec, err := scanGuide(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load guide %s: %w", fingerprint, err)
	}
	if rec.Version < SchemaVersion {
		return nil, nil
	}
	return rec, nil
}

// FinalizeGuide atomically replaces the guide's chunk sub-records and
// promotes the record to ready: delete chunks, insert chunks, promote — all
// in one transaction, so readers never observe a half-written artifact.
func (s *Store) FinalizeGuide(rec *GuideRecord, chunks []GuideChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := millis(s.now())
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin finalize transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM guide_chunks WHERE fingerprint = ?`, rec.Fingerprint); err != nil {
		return fmt.Errorf("clear guide chunks %s: %w", rec.Fingerprint, err)
	}
	for _, ch := range chunks {
		_, err := tx.Exec(`INSERT INTO guide_chunks
			(fingerprint, corpus, ordinal, chunk_id, raw_text, explanation,
			 model_name, validated, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.Fingerprint, string(ch.Corpus), ch.Ordinal, ch.ChunkID,
			ch.RawText, ch.Explanation, ch.ModelName, boolInt(ch.Validated), now)
		if err != nil {
			return fmt.Errorf("store guide chunk %s/%s/%d: %w",
				rec.Fingerprint, ch.Corpus, ch.Ordinal, err)
		}
	}
	res, err := tx.Exec(`UPDATE guides SET status = ?, summary_text = ?,
		summary_model = ?, validated = ?, chunk_count = ?, error = '',
		updated_at = ? WHERE fingerprint = ?`,
		StatusReady, rec.SummaryText, rec.SummaryModel, boolInt(rec.Validated),
		len(chunks), now, rec.Fingerprint)
	if err != nil {
		return fmt.Errorf("promote guide %s: %w", rec.Fingerprint, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("promote guide %s: record vanished", rec.Fingerprint)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit guide %s: %w", rec.Fingerprint, err)
	}
	rec.Status = StatusReady
	rec.ChunkCount = len(chunks)
	return nil
}

// FailGuide marks the canonical record failed with a reason, releasing the
// processing lock by that status transition.
func (s *Store) FailGuide(fingerprint, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE guides SET status = ?, error = ?, updated_at = ?
		WHERE fingerprint = ?`,
		StatusFailed, reason, millis(s.now()), fingerprint)
	if err != nil {
		return fmt.Errorf("fail guide %s: %w", fingerprint, err)
	}
	return nil
}

// GetGuideChunks loads a guide's chunk sub-records ordered by corpus then
// ordinal.
func (s *Store) GetGuideChunks(fingerprint string) ([]GuideChunk, error) {
	rows, err := s.db.Query(`SELECT fingerprint, corpus, ordinal, chunk_id,
		raw_text, explanation, model_name, validated, created_at
		FROM guide_chunks WHERE fingerprint = ? ORDER BY corpus, ordinal`, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("load guide chunks %s: %w", fingerprint, err)
	}
	defer rows.Close()

	var out []GuideChunk
	for rows.Next() {
		var ch GuideChunk
		var cid string
		var validated int
		var createdAt int64
		if err := rows.Scan(&ch.Fingerprint, &cid, &ch.Ordinal, &ch.ChunkID,
			&ch.RawText, &ch.Explanation, &ch.ModelName, &validated, &createdAt); err != nil {
			return nil, fmt.Errorf("scan guide chunk: %w", err)
		}
		ch.Corpus = corpus.ID(cid)
		ch.Validated = validated != 0
		ch.CreatedAt = fromMillis(createdAt)
		out = append(out, ch)
	}
	return out, rows.Err()
}

const guideSelect = `SELECT fingerprint, status, section, chapter, paragraph,
	corpora, summary_text, summary_model, validated, version, chunk_count,
	error, created_at, updated_at FROM guides`

func scanGuide(row rowScanner) (*GuideRecord, error) {
	var rec GuideRecord
	var section, corpora string
	var validated int
	var createdAt, updatedAt int64
	err := row.Scan(&rec.Fingerprint, &rec.Status, &section, &rec.Chapter,
		&rec.Paragraph, &corpora, &rec.SummaryText, &rec.SummaryModel,
		&validated, &rec.Version, &rec.ChunkCount, &rec.Error,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	rec.Section = corpus.Section(section)
	rec.Validated = validated != 0
	rec.CreatedAt = fromMillis(createdAt)
	rec.UpdatedAt = fromMillis(updatedAt)
	for _, c := range strings.Split(corpora, ",") {
		if c != "" {
			rec.Corpora = append(rec.Corpora, corpus.ID(c))
		}
	}
	return &rec, nil
}

func corporaCSV(ids []corpus.ID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ",")
}
