package guide

import (
	"strings"
	"testing"
)

func TestBoundaryMarker(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "PlainOpening",
			in:   "חייב אדם לברך על הרעה כשם שמברך",
			want: "חייב אדם לברך על",
		},
		{
			name: "SkipsNonHebrewTokens",
			in:   "(שם) חייב אדם לברך על הרעה",
			want: "חייב אדם לברך על",
		},
		{
			name: "TooShort",
			in:   "חייב אדם",
			want: "",
		},
		{
			name: "Empty",
			in:   "",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BoundaryMarker(tt.in); got != tt.want {
				t.Errorf("BoundaryMarker(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSliceBetween(t *testing.T) {
	monolith := "פתיחת הסימן בדברי הטור חייב אדם לברך על הרעה ודברים רבים אחרים המתפלל צריך שיכוין סוף הסימן"

	t.Run("StartAndEnd", func(t *testing.T) {
		got, ok := SliceBetween(monolith, "חייב אדם לברך על", "המתפלל צריך שיכוין")
		if !ok {
			t.Fatal("expected a slice")
		}
		if !strings.HasPrefix(got, "חייב אדם") {
			t.Errorf("slice start: %q", got)
		}
		if strings.Contains(got, "המתפלל") {
			t.Errorf("slice must stop before the end marker: %q", got)
		}
	})

	t.Run("StartOnly", func(t *testing.T) {
		got, ok := SliceBetween(monolith, "המתפלל צריך שיכוין", "")
		if !ok {
			t.Fatal("expected a slice")
		}
		if !strings.HasSuffix(got, "סוף הסימן") {
			t.Errorf("empty end marker must slice to the end: %q", got)
		}
	})

	t.Run("MissingStart", func(t *testing.T) {
		if _, ok := SliceBetween(monolith, "איננו במקור כלל וכלל", ""); ok {
			t.Error("absent start marker must fail")
		}
	})

	t.Run("EmptyStart", func(t *testing.T) {
		if _, ok := SliceBetween(monolith, "", "המתפלל"); ok {
			t.Error("empty start marker must fail")
		}
	})

	t.Run("MissingEndSlicesToEnd", func(t *testing.T) {
		got, ok := SliceBetween(monolith, "חייב אדם", "מרקר שאיננו")
		if !ok || !strings.HasSuffix(got, "סוף הסימן") {
			t.Errorf("absent end marker must fall back to the end: %q ok=%v", got, ok)
		}
	})
}
