package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// GetExplanation loads the structured-key record for one chunk. Returns
// (nil, nil) when absent. Hit semantics (content hash and prompt version
// matching) are enforced by the caller, which knows what it is asking for.
func (s *Store) GetExplanation(k ExplanationKey) (*ExplanationRecord, error) {
	row := s.db.QueryRow(`SELECT raw_text, explanation, content_hash,
		model_name, prompt_version, validated, created_at, updated_at
		FROM explanations
		WHERE section = ? AND chapter = ? AND paragraph = ? AND corpus = ? AND ordinal = ?`,
		string(k.Section), k.Chapter, k.Paragraph, string(k.Corpus), k.Ordinal)

	rec := ExplanationRecord{Key: k}
	var validated int
	var createdAt, updatedAt int64
	err := row.Scan(&rec.RawText, &rec.Explanation, &rec.ContentHash,
		&rec.ModelName, &rec.PromptVersion, &validated, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load explanation %v: %w", k, err)
	}
	rec.Validated = validated != 0
	rec.CreatedAt = fromMillis(createdAt)
	rec.UpdatedAt = fromMillis(updatedAt)
	return &rec, nil
}

// PutExplanation upserts the structured-key record with server-side
// timestamps; created_at survives overwrites.
func (s *Store) PutExplanation(rec *ExplanationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := millis(s.now())
	k := rec.Key
	_, err := s.db.Exec(`INSERT INTO explanations
		(section, chapter, paragraph, corpus, ordinal, raw_text, explanation,
		 content_hash, model_name, prompt_version, validated, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (section, chapter, paragraph, corpus, ordinal) DO UPDATE SET
		 raw_text = excluded.raw_text,
		 explanation = excluded.explanation,
		 content_hash = excluded.content_hash,
		 model_name = excluded.model_name,
		 prompt_version = excluded.prompt_version,
		 validated = excluded.validated,
		 updated_at = excluded.updated_at`,
		string(k.Section), k.Chapter, k.Paragraph, string(k.Corpus), k.Ordinal,
		rec.RawText, rec.Explanation, rec.ContentHash, rec.ModelName,
		rec.PromptVersion, boolInt(rec.Validated), now, now)
	if err != nil {
		return fmt.Errorf("store explanation %v: %w", k, err)
	}
	return nil
}

// GetLegacyExplanation probes the opaque-hash legacy collection. Returns
// (nil, nil) on miss.
func (s *Store) GetLegacyExplanation(cacheKey string) (*LegacyExplanation, error) {
	row := s.db.QueryRow(`SELECT cache_key, explanation, model_name, created_at
		FROM legacy_explanations WHERE cache_key = ?`, cacheKey)
	var rec LegacyExplanation
	var createdAt int64
	err := row.Scan(&rec.CacheKey, &rec.Explanation, &rec.ModelName, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load legacy explanation %s: %w", cacheKey, err)
	}
	rec.CreatedAt = fromMillis(createdAt)
	return &rec, nil
}

// PutLegacyExplanation writes a legacy-key entry. Used for forward
// deflection: after a generation, the legacy keys for both the model used and
// the originally preferred model point at the result.
func (s *Store) PutLegacyExplanation(cacheKey, explanation, modelName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT OR REPLACE INTO legacy_explanations
		(cache_key, explanation, model_name, created_at) VALUES (?, ?, ?, ?)`,
		cacheKey, explanation, modelName, millis(s.now()))
	if err != nil {
		return fmt.Errorf("store legacy explanation %s: %w", cacheKey, err)
	}
	return nil
}

// MigrateLegacyExplanation copies a legacy hit into the structured key so
// future lookups short-circuit. Unlike PutExplanation it preserves the
// legacy record's created_at, so the migrated row still reports when the
// explanation was originally produced.
func (s *Store) MigrateLegacyExplanation(rec *ExplanationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := millis(s.now())
	created := now
	if !rec.CreatedAt.IsZero() {
		created = millis(rec.CreatedAt)
	}
	k := rec.Key
	_, err := s.db.Exec(`INSERT INTO explanations
		(section, chapter, paragraph, corpus, ordinal, raw_text, explanation,
		 content_hash, model_name, prompt_version, validated, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (section, chapter, paragraph, corpus, ordinal) DO UPDATE SET
		 raw_text = excluded.raw_text,
		 explanation = excluded.explanation,
		 content_hash = excluded.content_hash,
		 model_name = excluded.model_name,
		 prompt_version = excluded.prompt_version,
		 validated = excluded.validated,
		 updated_at = excluded.updated_at`,
		string(k.Section), k.Chapter, k.Paragraph, string(k.Corpus), k.Ordinal,
		rec.RawText, rec.Explanation, rec.ContentHash, rec.ModelName,
		rec.PromptVersion, boolInt(rec.Validated), created, now)
	if err != nil {
		return fmt.Errorf("migrate explanation %v: %w", k, err)
	}
	return nil
}
