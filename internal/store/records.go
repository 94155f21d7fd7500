package store

import (
	"strconv"
	"time"

	"shiurgen/internal/corpus"
)

// Status values shared by alignment and guide records.
const (
	StatusBuilding   = "building"
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusFailed     = "failed"
)

// MatchMode describes how a paragraph's secondary refs were found.
type MatchMode string

const (
	ModeLinked     MatchMode = "linked-passages"
	ModeSimilarity MatchMode = "fallback-similarity"
	ModeNone       MatchMode = "none"
)

// RefSet is the alignment of one paragraph against one secondary corpus:
// the ordered, deduplicated provider refs and the score of the match
// (1 for link-graph matches, the best similarity score otherwise).
type RefSet struct {
	Refs  []string  `json:"refs"`
	Mode  MatchMode `json:"mode"`
	Score float64   `json:"score"`
}

// ParagraphAlignment holds the per-corpus ref sets for one paragraph of the
// primary, plus the mean confidence across the secondary corpora, rounded to
// 3 decimals.
type ParagraphAlignment struct {
	Tur        RefSet  `json:"tur"`
	BeitYosef  RefSet  `json:"beit_yosef"`
	Confidence float64 `json:"confidence"`
}

// AlignmentRecord is the per-chapter alignment document. Status transitions:
// absent → building → ready|failed; building records hold the cross-process
// lock until LockExpiresAt.
type AlignmentRecord struct {
	Key     string
	Section corpus.Section
	Chapter int
	Status  string
	Version int

	LockExpiresAt time.Time

	// SourceHash maps each fetched corpus to the content hash of its
	// upstream chapter payload; a mismatch at revalidation forces a rebuild.
	SourceHash map[corpus.ID]string

	// ParagraphMap maps the paragraph number (as a string) to its alignment.
	ParagraphMap map[string]ParagraphAlignment

	Error           string
	SourceCheckedAt time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AlignmentKey is the store key for a chapter: "<section-slug>_<chapter>".
func AlignmentKey(section corpus.Section, chapter int) string {
	return section.Slug() + "_" + strconv.Itoa(chapter)
}

// ExplanationKey addresses one memoized chunk explanation.
type ExplanationKey struct {
	Section   corpus.Section
	Chapter   int
	Paragraph int
	Corpus    corpus.ID
	Ordinal   int
}

// ExplanationRecord is one memoized per-chunk explanation. A read is a hit
// only when both ContentHash and PromptVersion match the requester's.
type ExplanationRecord struct {
	Key           ExplanationKey
	RawText       string
	Explanation   string
	ContentHash   string
	ModelName     string
	PromptVersion string
	Validated     bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// LegacyExplanation is the read-only migration source: explanations keyed by
// an opaque hash over (corpus|ref|ordinal|contentHash|promptVersion|model).
type LegacyExplanation struct {
	CacheKey    string
	Explanation string
	ModelName   string
	CreatedAt   time.Time
}

// GuideRecord is the canonical per-request artifact, keyed by the request
// fingerprint. Chunk sub-records live in guide_chunks.
type GuideRecord struct {
	Fingerprint  string
	Status       string
	Section      corpus.Section
	Chapter      int
	Paragraph    int
	Corpora      []corpus.ID // sorted
	SummaryText  string
	SummaryModel string
	Validated    bool
	Version      int
	ChunkCount   int
	Error        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// GuideChunk is one per-fragment output attached to a guide.
type GuideChunk struct {
	Fingerprint string
	Corpus      corpus.ID
	Ordinal     int
	ChunkID     string
	RawText     string
	Explanation string
	ModelName   string
	Validated   bool
	CreatedAt   time.Time
}

// ProgressStatus values for the progress/cancellation record.
const (
	ProgressRunning   = "running"
	ProgressCancelled = "cancelled"
	ProgressDone      = "done"
)

// Progress is the client-observable counter surface for one request.
type Progress struct {
	Fingerprint string
	Total       int
	Done        int
	Status      string
	UpdatedAt   time.Time
}
