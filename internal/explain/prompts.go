package explain

import (
	"fmt"
	"strings"
)

// PromptVersion invalidates every cached explanation when any prompt text
// changes. Bump it together with any edit to the templates below.
const PromptVersion = "v3.4-rabbanut"

const explanationInstructions = `אתה תלמיד חכם המבאר דברי הפוסקים לציבור הרחב.
הנחיות מחייבות:
- כתוב בעברית בלבד.
- העתק כל מילה ומילה מלשון המקור כסדרה, והדגש אותה בין ** ל-**, ובין מילה למילה שלב את דברי הביאור.
- מילים קשות יבוארו מיד בתוך רצף הדברים, בלא סוגריים.
- דברי ארמית יתורגמו לעברית.
- ראשי תיבות ייכתבו במלואם בתוך הביאור.
- כל דעה תיוחס לבעליה בשמו, ושם הפוסק יודגש.
- במקום שנחלקו הפוסקים, תיכתב ההכרעה למעשה בסוף הדברים.
- אין לכתוב הקדמה ואין לכתוב סיום, אלא הביאור בלבד.`

// BuildExplanationPrompt assembles the per-chunk prompt: fixed instructions,
// the optional previous-segment context, the optional companion commentary,
// the labeled source text, and the trailing explanation marker.
func BuildExplanationPrompt(corpusLabel, chunkText, prevText, prevExplanation, companionText string) string {
	var b strings.Builder
	b.WriteString(explanationInstructions)
	b.WriteString("\n\n")

	if prevText != "" && prevExplanation != "" {
		b.WriteString("הקטע הקודם ופירושו, להקשר בלבד:\n")
		b.WriteString("מקור: ")
		b.WriteString(prevText)
		b.WriteString("\nביאור: ")
		b.WriteString(prevExplanation)
		b.WriteString("\n\n")
	}
	if companionText != "" {
		b.WriteString("דברי המשנה ברורה על סעיף זה, לעיון בעת הביאור:\n")
		b.WriteString(companionText)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "המקור לביאור (%s):\n%s\n\nביאור:", corpusLabel, chunkText)
	return b.String()
}

// BuildRepairPrompt asks for a Hebrew rewrite of a failed output, preserving
// the source order and the bolded source spans.
func BuildRepairPrompt(original string) string {
	var b strings.Builder
	b.WriteString(`הטקסט הבא אמור להיות ביאור בעברית בלבד, אך אינו עומד בדרישות.
כתוב אותו מחדש בעברית בלבד, תוך שמירה על סדר מילות המקור ועל ההדגשות שבין ** ל-**.
אל תוסיף הקדמה או סיום.

`)
	b.WriteString(original)
	return b.String()
}
