package hebrew

import (
	"testing"
)

func TestStripMarkup(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"NoMarkup", "שלום עולם", "שלום עולם"},
		{"Bold", "<b>חייב</b> אדם", "חייב אדם"},
		{"Nested", "<small><i>הגה</i></small> ויש אומרים", "הגה ויש אומרים"},
		{"SelfClosing", "ראשון<br/>שני", "ראשוןשני"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripMarkup(tt.in); got != tt.want {
				t.Errorf("StripMarkup(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestStripCantillation(t *testing.T) {
	// בְּרֵאשִׁית with niqqud reduces to bare letters.
	in := "בְּרֵאשִׁית"
	want := "בראשית"
	if got := StripCantillation(in); got != want {
		t.Errorf("StripCantillation(%q) = %q, want %q", in, got, want)
	}
}

func TestCleanShortParens(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"Siglum", "חייב (ב) אדם", "חייב  אדם"},
		{"Sham", "כמו שכתב (שם) הרמב\"ם", "כמו שכתב  הרמב\"ם"},
		{"LongParenKept", "דבר (הסבר ארוך מאוד כאן) אחר", "דבר (הסבר ארוך מאוד כאן) אחר"},
		{"Unclosed", "דבר (לא סגור", "דבר (לא סגור"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripShortParens(tt.in); got != tt.want {
				t.Errorf("stripShortParens(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeForSimilarity(t *testing.T) {
	in := "<b>חייב</b> אדם, לברך! על־הרעה"
	got := NormalizeForSimilarity(in)
	want := "חייב אדם לברך על הרעה"
	if got != want {
		t.Errorf("NormalizeForSimilarity(%q) = %q, want %q", in, got, want)
	}
}

func TestTokensMinLength(t *testing.T) {
	got := Tokens("א בב גגג")
	if len(got) != 2 || got[0] != "בב" || got[1] != "גגג" {
		t.Errorf("Tokens dropped wrong entries: %v", got)
	}
}

func TestCountWords(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"חייב אדם לברך", 3},
		{"- - -", 0},
		{"one 2 שלוש", 3},
		{"word, (punct!) stays", 3},
	}
	for _, tt := range tests {
		if got := CountWords(tt.in); got != tt.want {
			t.Errorf("CountWords(%q) = %d, want %d", tt.in, got, tt.want)
		}
		if got := len(Words(tt.in)); got != tt.want {
			t.Errorf("len(Words(%q)) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestRatio(t *testing.T) {
	tests := []struct {
		name string
		in   string
		min  float64
		max  float64
	}{
		{"Empty", "", 0, 0},
		{"AllHebrew", "שלום", 1, 1},
		{"AllLatin", "hello", 0, 0},
		{"Mixed", "אב12", 0.5, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Ratio(tt.in)
			if got < tt.min || got > tt.max {
				t.Errorf("Ratio(%q) = %f, want in [%f, %f]", tt.in, got, tt.min, tt.max)
			}
		})
	}
}
