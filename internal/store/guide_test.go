package store

import (
	"testing"
	"time"

	"shiurgen/internal/corpus"
)

func testGuideRecord() *GuideRecord {
	return &GuideRecord{
		Fingerprint: "fp-test-1",
		Section:     corpus.OrachChayim,
		Chapter:     24,
		Paragraph:   1,
		Corpora:     []corpus.ID{corpus.ShulchanAruch, corpus.Tur},
	}
}

func TestGuideLockAbsentAcquires(t *testing.T) {
	s := newTestStore(t)
	outcome, cur, err := s.TryLockGuide(testGuideRecord(), 10*time.Minute)
	if err != nil {
		t.Fatalf("TryLockGuide: %v", err)
	}
	if outcome != GuideAcquired || cur != nil {
		t.Fatalf("absent record must be acquired, got %v %v", outcome, cur)
	}

	got, err := s.GetGuide("fp-test-1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Status != StatusProcessing {
		t.Fatalf("claim must write a processing record, got %+v", got)
	}
}

func TestGuideLockDefersToActiveProcessing(t *testing.T) {
	s := newTestStore(t)
	if outcome, _, _ := s.TryLockGuide(testGuideRecord(), 10*time.Minute); outcome != GuideAcquired {
		t.Fatal("setup acquire failed")
	}
	outcome, cur, err := s.TryLockGuide(testGuideRecord(), 10*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != GuideProcessing || cur == nil {
		t.Fatalf("second caller must defer to a live build, got %v %v", outcome, cur)
	}
}

func TestGuideLockTakesOverStaleProcessing(t *testing.T) {
	s := newTestStore(t)
	base := time.Now()
	s.SetClock(func() time.Time { return base })
	if outcome, _, _ := s.TryLockGuide(testGuideRecord(), 10*time.Minute); outcome != GuideAcquired {
		t.Fatal("setup acquire failed")
	}
	s.SetClock(func() time.Time { return base.Add(11 * time.Minute) })
	outcome, _, err := s.TryLockGuide(testGuideRecord(), 10*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != GuideAcquired {
		t.Fatalf("stale processing record must be claimable, got %v", outcome)
	}
}

func TestGuideLockReturnsReady(t *testing.T) {
	s := newTestStore(t)
	rec := testGuideRecord()
	if outcome, _, _ := s.TryLockGuide(rec, 10*time.Minute); outcome != GuideAcquired {
		t.Fatal("setup acquire failed")
	}
	rec.SummaryText = "סיכום"
	rec.SummaryModel = "gemini-2.5-pro"
	rec.Validated = true
	if err := s.FinalizeGuide(rec, nil); err != nil {
		t.Fatal(err)
	}

	outcome, cur, err := s.TryLockGuide(testGuideRecord(), 10*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != GuideReady {
		t.Fatalf("ready record must short-circuit, got %v", outcome)
	}
	if cur == nil || cur.SummaryText != "סיכום" || !cur.Validated {
		t.Errorf("ready record content: %+v", cur)
	}
}

func TestGuideTouchKeepsLockFresh(t *testing.T) {
	s := newTestStore(t)
	base := time.Now()
	s.SetClock(func() time.Time { return base })
	if outcome, _, _ := s.TryLockGuide(testGuideRecord(), 10*time.Minute); outcome != GuideAcquired {
		t.Fatal("setup acquire failed")
	}

	// Build heartbeats at +9m; a contender at +12m still sees a live build.
	s.SetClock(func() time.Time { return base.Add(9 * time.Minute) })
	if err := s.TouchGuide("fp-test-1"); err != nil {
		t.Fatal(err)
	}
	s.SetClock(func() time.Time { return base.Add(12 * time.Minute) })
	outcome, _, err := s.TryLockGuide(testGuideRecord(), 10*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != GuideProcessing {
		t.Fatalf("touched record must stay live, got %v", outcome)
	}
}

func TestFinalizeGuideReplacesChunks(t *testing.T) {
	s := newTestStore(t)
	rec := testGuideRecord()
	if outcome, _, _ := s.TryLockGuide(rec, 10*time.Minute); outcome != GuideAcquired {
		t.Fatal("setup acquire failed")
	}

	first := []GuideChunk{
		{Fingerprint: rec.Fingerprint, Corpus: corpus.ShulchanAruch, Ordinal: 1, ChunkID: "a", RawText: "אחד", Explanation: "ביאור א", ModelName: "m", Validated: true},
		{Fingerprint: rec.Fingerprint, Corpus: corpus.Tur, Ordinal: 1, ChunkID: "b", RawText: "שנים", Explanation: "ביאור ב", ModelName: "m", Validated: true},
	}
	if err := s.FinalizeGuide(rec, first); err != nil {
		t.Fatal(err)
	}

	// Refinalizing with one chunk must fully replace the old set.
	second := first[:1]
	if err := s.FinalizeGuide(rec, second); err != nil {
		t.Fatal(err)
	}

	chunks, err := s.GetGuideChunks(rec.Fingerprint)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1 after replacement", len(chunks))
	}
	if chunks[0].ChunkID != "a" || chunks[0].Explanation != "ביאור א" {
		t.Errorf("chunk content: %+v", chunks[0])
	}

	got, err := s.GetGuide(rec.Fingerprint)
	if err != nil {
		t.Fatal(err)
	}
	if got.ChunkCount != 1 || got.Status != StatusReady {
		t.Errorf("guide record after finalize: %+v", got)
	}
	if len(got.Corpora) != 2 || got.Corpora[0] != corpus.ShulchanAruch {
		t.Errorf("corpora round trip: %v", got.Corpora)
	}
}

func TestFailGuideReleasesLock(t *testing.T) {
	s := newTestStore(t)
	if outcome, _, _ := s.TryLockGuide(testGuideRecord(), 10*time.Minute); outcome != GuideAcquired {
		t.Fatal("setup acquire failed")
	}
	if err := s.FailGuide("fp-test-1", "cancelled"); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetGuide("fp-test-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusFailed || got.Error != "cancelled" {
		t.Errorf("failed record: %+v", got)
	}
	// Failed records are immediately reclaimable.
	outcome, _, err := s.TryLockGuide(testGuideRecord(), 10*time.Minute)
	if err != nil || outcome != GuideAcquired {
		t.Errorf("failed guide must be reclaimable: %v %v", outcome, err)
	}
}

func TestProgressLifecycle(t *testing.T) {
	s := newTestStore(t)
	fp := "fp-progress"

	if p, err := s.GetProgress(fp); err != nil || p != nil {
		t.Fatalf("absent progress should be (nil, nil), got %v, %v", p, err)
	}
	if err := s.InitProgress(fp, 5); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := s.StepProgress(fp); err != nil {
			t.Fatal(err)
		}
	}
	p, err := s.GetProgress(fp)
	if err != nil {
		t.Fatal(err)
	}
	if p.Total != 5 || p.Done != 3 || p.Status != ProgressRunning {
		t.Errorf("progress = %+v", p)
	}
	if err := s.FinishProgress(fp); err != nil {
		t.Fatal(err)
	}
	p, _ = s.GetProgress(fp)
	if p.Status != ProgressDone {
		t.Errorf("status = %q, want done", p.Status)
	}
}

func TestCancelFlag(t *testing.T) {
	s := newTestStore(t)
	fp := "fp-cancel"

	cancelled, err := s.IsCancelled(fp)
	if err != nil || cancelled {
		t.Fatalf("fresh request must not be cancelled: %v %v", cancelled, err)
	}

	// Cancel before any progress record exists.
	if err := s.Cancel(fp); err != nil {
		t.Fatal(err)
	}
	cancelled, err = s.IsCancelled(fp)
	if err != nil || !cancelled {
		t.Fatalf("cancel flag not observed: %v %v", cancelled, err)
	}

	// A new run resets the flag.
	if err := s.InitProgress(fp, 4); err != nil {
		t.Fatal(err)
	}
	cancelled, err = s.IsCancelled(fp)
	if err != nil || cancelled {
		t.Errorf("InitProgress must clear the cancellation flag: %v %v", cancelled, err)
	}
}
