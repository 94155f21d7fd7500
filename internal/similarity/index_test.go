package similarity

import (
	"testing"
)

func TestSelectEmptyIndex(t *testing.T) {
	ix := New(nil, nil)
	matches, best := ix.Select("חייב אדם לברך")
	if matches != nil || best != 0 {
		t.Errorf("empty index should select nothing, got %v best=%f", matches, best)
	}
}

func TestSelectExactMatchWins(t *testing.T) {
	refs := []string{"a", "b", "c"}
	texts := []string{
		"חייב אדם לברך על הרעה כשם שמברך על הטובה",
		"דיני ציצית וקשירת הציצית בבגד",
		"הלכות תפילין של ראש ושל יד",
	}
	ix := New(refs, texts)
	matches, best := ix.Select("חייב אדם לברך על הרעה כשם שמברך על הטובה")
	if len(matches) == 0 {
		t.Fatal("expected at least one match")
	}
	if matches[0].Ref != "a" {
		t.Errorf("top match = %q, want a", matches[0].Ref)
	}
	if best < 0.9 {
		t.Errorf("identical text should score near 1, got %f", best)
	}
}

func TestSelectRejectsBelowFloor(t *testing.T) {
	ix := New([]string{"a"}, []string{"הלכות ציצית ותפילין ומזוזה"})
	matches, best := ix.Select("mathematics and geometry lectures entirely unrelated")
	if matches != nil {
		t.Errorf("disjoint query must select nothing, got %v", matches)
	}
	if best >= bestFloor {
		t.Errorf("best = %f, expected below floor", best)
	}
}

func TestSelectMonotonicity(t *testing.T) {
	// With query length fixed, swapping a non-shared token for a shared one
	// can only raise the score.
	candidate := "ראשון שני שלישי רביעי חמישי"
	ix := New([]string{"c"}, []string{candidate})

	_, low := ix.Select("ראשון אחר זולת נוסף שונה")
	_, mid := ix.Select("ראשון שני זולת נוסף שונה")
	_, high := ix.Select("ראשון שני שלישי נוסף שונה")
	if !(low < mid && mid < high) {
		t.Errorf("score must grow with overlap: %f, %f, %f", low, mid, high)
	}
}

func TestSelectReadingOrderAndDedup(t *testing.T) {
	shared := "חייב אדם לברך על הרעה כשם שמברך על הטובה"
	refs := []string{"r2", "r1", "r1"}
	texts := []string{shared, shared, shared}
	ix := New(refs, texts)
	matches, _ := ix.Select(shared)
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2 after dedup", len(matches))
	}
	if matches[0].Ref != "r2" || matches[1].Ref != "r1" {
		t.Errorf("matches must keep upstream order: %v", matches)
	}
}

func TestSelectRelativeThreshold(t *testing.T) {
	// A candidate far weaker than the best must fall below 0.6·best.
	strong := "חייב אדם לברך על הרעה כשם שמברך על הטובה בשמחה"
	weak := "חייב שניים מקרא ואחד תרגום בכל שבוע"
	ix := New([]string{"strong", "weak"}, []string{strong, weak})
	matches, _ := ix.Select(strong)
	for _, m := range matches {
		if m.Ref == "weak" {
			t.Errorf("weak candidate (score %f) should be cut by the relative threshold", m.Score)
		}
	}
}

func TestSelectCap(t *testing.T) {
	shared := "חייב אדם לברך על הרעה כשם שמברך על הטובה"
	n := maxSelected + 8
	refs := make([]string, n)
	texts := make([]string, n)
	for i := range refs {
		refs[i] = string(rune('a' + i))
		texts[i] = shared
	}
	ix := New(refs, texts)
	matches, _ := ix.Select(shared)
	if len(matches) > maxSelected {
		t.Errorf("got %d matches, cap is %d", len(matches), maxSelected)
	}
}
