package store

import (
	"testing"
	"time"

	"shiurgen/internal/corpus"
)

func testExplanationKey() ExplanationKey {
	return ExplanationKey{
		Section:   corpus.OrachChayim,
		Chapter:   24,
		Paragraph: 1,
		Corpus:    corpus.ShulchanAruch,
		Ordinal:   1,
	}
}

func TestExplanationPutGet(t *testing.T) {
	s := newTestStore(t)
	k := testExplanationKey()

	got, err := s.GetExplanation(k)
	if err != nil || got != nil {
		t.Fatalf("miss should be (nil, nil), got %v, %v", got, err)
	}

	rec := &ExplanationRecord{
		Key:           k,
		RawText:       "חייב אדם",
		Explanation:   "ביאור",
		ContentHash:   "deadbeef",
		ModelName:     "gemini-2.5-pro",
		PromptVersion: "v3.4-rabbanut",
		Validated:     true,
	}
	if err := s.PutExplanation(rec); err != nil {
		t.Fatalf("PutExplanation: %v", err)
	}

	got, err = s.GetExplanation(k)
	if err != nil {
		t.Fatalf("GetExplanation: %v", err)
	}
	if got == nil {
		t.Fatal("expected a record")
	}
	if got.Explanation != "ביאור" || got.ContentHash != "deadbeef" || !got.Validated {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestExplanationUpsertKeepsCreatedAt(t *testing.T) {
	s := newTestStore(t)
	base := time.Now()
	s.SetClock(func() time.Time { return base })

	rec := &ExplanationRecord{Key: testExplanationKey(), Explanation: "first", ContentHash: "h1"}
	if err := s.PutExplanation(rec); err != nil {
		t.Fatal(err)
	}

	s.SetClock(func() time.Time { return base.Add(time.Hour) })
	rec.Explanation = "second"
	rec.ContentHash = "h2"
	if err := s.PutExplanation(rec); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetExplanation(rec.Key)
	if err != nil {
		t.Fatal(err)
	}
	if got.Explanation != "second" {
		t.Errorf("explanation = %q, want overwrite", got.Explanation)
	}
	if !got.CreatedAt.Equal(time.UnixMilli(base.UnixMilli())) {
		t.Errorf("created_at changed on upsert: %v", got.CreatedAt)
	}
	if !got.UpdatedAt.After(got.CreatedAt) {
		t.Errorf("updated_at should advance: %v vs %v", got.UpdatedAt, got.CreatedAt)
	}
}

func TestLegacyExplanationRoundTrip(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetLegacyExplanation("abc")
	if err != nil || got != nil {
		t.Fatalf("miss should be (nil, nil), got %v, %v", got, err)
	}
	if err := s.PutLegacyExplanation("abc", "ביאור ישן", "gemini-2.5-flash"); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetLegacyExplanation("abc")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Explanation != "ביאור ישן" || got.ModelName != "gemini-2.5-flash" {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestMigrateLegacyExplanation(t *testing.T) {
	s := newTestStore(t)
	rec := &ExplanationRecord{
		Key:           testExplanationKey(),
		Explanation:   "מהמטמון הישן",
		ContentHash:   "h",
		PromptVersion: "v3.4-rabbanut",
		ModelName:     "gemini-2.5-pro",
		Validated:     true,
	}
	if err := s.MigrateLegacyExplanation(rec); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetExplanation(rec.Key)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Explanation != "מהמטמון הישן" {
		t.Errorf("migration did not land in the structured key: %+v", got)
	}
}

func TestMigrateLegacyExplanationPreservesOrigin(t *testing.T) {
	s := newTestStore(t)
	base := time.Now()
	s.SetClock(func() time.Time { return base })

	if err := s.PutLegacyExplanation("key1", "ביאור ישן", "gemini-2.5-flash"); err != nil {
		t.Fatal(err)
	}
	legacy, err := s.GetLegacyExplanation("key1")
	if err != nil || legacy == nil {
		t.Fatalf("legacy record: %v, %v", legacy, err)
	}

	// Migration two days later keeps the original production time.
	s.SetClock(func() time.Time { return base.Add(48 * time.Hour) })
	rec := &ExplanationRecord{
		Key:           testExplanationKey(),
		Explanation:   legacy.Explanation,
		ModelName:     legacy.ModelName,
		ContentHash:   "h1",
		PromptVersion: "v3.4-rabbanut",
		CreatedAt:     legacy.CreatedAt,
	}
	if err := s.MigrateLegacyExplanation(rec); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetExplanation(rec.Key)
	if err != nil || got == nil {
		t.Fatalf("migrated record: %v, %v", got, err)
	}
	if !got.CreatedAt.Equal(legacy.CreatedAt) {
		t.Errorf("created_at = %v, want the legacy origin %v", got.CreatedAt, legacy.CreatedAt)
	}
	if !got.UpdatedAt.After(got.CreatedAt) {
		t.Errorf("updated_at should reflect the migration: %v vs %v", got.UpdatedAt, got.CreatedAt)
	}
}
