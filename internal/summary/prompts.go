package summary

import (
	"fmt"
	"strings"

	"shiurgen/internal/corpus"
)

// CorpusBlock is one corpus's material for the combined summary: the display
// label and the concatenated chunk explanations in order.
type CorpusBlock struct {
	Corpus       corpus.ID
	Explanations []string
}

const summaryInstructions = `אתה עורך סיכום הלכתי מתוך ביאורי המקורות שלפניך.
הנחיות מחייבות:
- כתוב בעברית בלבד.
- כל סעיף ייכתב בשורת נקודה המתחילה במקף.
- שמות הפוסקים יודגשו בין ** ל-**.
- אין לפתוח במילות הקדמה כגון הנה, להלן, סיכום, אלא להתחיל מיד בגוף הדברים.`

// BuildSummaryPrompt assembles the combined input under per-corpus headers
// and names the required output sections: the spread of opinions (when at
// least two corpora including the primary are present), the primary's
// decision, the later commentary's additions, and a closing practical
// ruling.
func BuildSummaryPrompt(blocks []CorpusBlock) string {
	var b strings.Builder
	b.WriteString(summaryInstructions)
	b.WriteString("\n\nמבנה הסיכום:\n")

	hasPrimary := false
	hasMB := false
	for _, blk := range blocks {
		if blk.Corpus == corpus.ShulchanAruch {
			hasPrimary = true
		}
		if blk.Corpus == corpus.MishnahBerurah {
			hasMB = true
		}
	}
	if hasPrimary && len(blocks) >= 2 {
		b.WriteString("- ריבוי הדעות: הדעות העולות מן המקורות וההבדלים ביניהן.\n")
	}
	if hasPrimary {
		b.WriteString("- פסק השולחן ערוך: ההכרעה שבדברי המחבר.\n")
	}
	if hasMB {
		b.WriteString("- תוספות המשנה ברורה: מה שהוסיף על דברי המחבר.\n")
	}
	b.WriteString("- הלכה למעשה: שורת סיכום מעשית.\n\n")

	for _, blk := range blocks {
		fmt.Fprintf(&b, "== %s ==\n", corpus.Meta(blk.Corpus).Label)
		for _, e := range blk.Explanations {
			b.WriteString(e)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("הסיכום:")
	return b.String()
}

// BuildRepairPrompt asks for a re-emission that respects the validator's
// complaints.
func BuildRepairPrompt(original string, problems []string) string {
	var b strings.Builder
	b.WriteString("הסיכום הבא אינו עומד בדרישות: ")
	b.WriteString(strings.Join(problems, "; "))
	b.WriteString("\nכתוב אותו מחדש בעברית בלבד, בשורות נקודה המתחילות במקף, בלא כל הקדמה.\n\n")
	b.WriteString(original)
	return b.String()
}
