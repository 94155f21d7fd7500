package guide

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"shiurgen/internal/corpus"
)

// Request names one guide: a location plus the corpora to draw from.
type Request struct {
	Section   corpus.Section
	Chapter   int
	Paragraph int
	Corpora   []corpus.ID
}

// Validate rejects malformed requests with the user-facing Hebrew messages
// the presentation layer shows verbatim.
func (r Request) Validate() error {
	if err := (corpus.Location{Section: r.Section, Chapter: r.Chapter, Paragraph: r.Paragraph}).Validate(); err != nil {
		return fmt.Errorf("%s: %w", MsgMissingIdentifiers, err)
	}
	if len(r.Corpora) == 0 {
		return fmt.Errorf("%s", MsgNoSourceSelected)
	}
	return nil
}

// SortedCorpora returns the request corpora sorted and deduplicated, the
// canonical order used by the fingerprint and the stored record.
func (r Request) SortedCorpora() []corpus.ID {
	seen := make(map[corpus.ID]struct{}, len(r.Corpora))
	out := make([]corpus.ID, 0, len(r.Corpora))
	for _, id := range r.Corpora {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Has reports whether the request includes a corpus.
func (r Request) Has(id corpus.ID) bool {
	for _, c := range r.Corpora {
		if c == id {
			return true
		}
	}
	return false
}

// Fingerprint is the canonical cache key: SHA-256 over the normalized
// request tuple. Paragraph-less requests hash an empty paragraph field.
func (r Request) Fingerprint() string {
	paragraph := ""
	if r.Paragraph > 0 {
		paragraph = strconv.Itoa(r.Paragraph)
	}
	ids := r.SortedCorpora()
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	payload := strings.Join([]string{
		"v1",
		r.Section.Slug(),
		strconv.Itoa(r.Chapter),
		paragraph,
		strings.Join(parts, ","),
	}, "|")
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// User-facing failure messages. Internal errors are logged with component
// tags and never surfaced raw.
const (
	MsgMissingIdentifiers = "חסרים פרטי הסימן המבוקש"
	MsgNoSourceSelected   = "לא נבחר מקור ללימוד"
	MsgNoContent          = "לא נמצא תוכן במקורות שנבחרו"
	MsgUnexpected         = "אירעה שגיאה בלתי צפויה בהכנת דף הלימוד"
)
