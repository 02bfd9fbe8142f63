package telegram

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func assertWithinLimit(t *testing.T, parts []string) {
	t.Helper()
	for i, part := range parts {
		if n := utf8.RuneCountInString(part); n > messageLimit {
			t.Fatalf("part %d exceeds limit: %d", i, n)
		}
	}
}

func TestSplitPrefersParagraphBreak(t *testing.T) {
	text := strings.Repeat("a", 3000) + "\n\n" + strings.Repeat("b", 500) + "\n" + strings.Repeat("c", 1000)

	parts := SplitMessage(text)
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
	assertWithinLimit(t, parts)
	if parts[0] != strings.Repeat("a", 3000) {
		t.Fatal("first part must end at the paragraph break")
	}
	if parts[1] != strings.Repeat("b", 500)+"\n"+strings.Repeat("c", 1000) {
		t.Fatal("second part must keep the item and its line together")
	}
}

func TestSplitFallsBackToLineBreak(t *testing.T) {
	text := strings.Repeat("x", 4000) + "\n" + strings.Repeat("y", 200)

	parts := SplitMessage(text)
	if len(parts) != 2 || parts[0] != strings.Repeat("x", 4000) || parts[1] != strings.Repeat("y", 200) {
		t.Fatalf("unexpected split: %d parts", len(parts))
	}
}

func TestSplitFallsBackToWords(t *testing.T) {
	text := strings.TrimSpace(strings.Repeat("word ", 1000))

	parts := SplitMessage(text)
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
	assertWithinLimit(t, parts)
	for i, part := range parts {
		if strings.HasPrefix(part, " ") || strings.HasSuffix(part, " ") || strings.HasSuffix(part, "wor") {
			t.Fatalf("part %d is cut mid-word or keeps padding", i)
		}
	}
	if strings.Join(parts, " ") != text {
		t.Fatal("joined parts must restore the text")
	}
}

func TestSplitHardCutsSolidText(t *testing.T) {
	parts := SplitMessage(strings.Repeat("z", 9000))
	if len(parts) != 3 {
		t.Fatalf("expected 3 parts, got %d", len(parts))
	}
	if len(parts[0]) != messageLimit || len(parts[1]) != messageLimit || len(parts[2]) != 9000-2*messageLimit {
		t.Fatalf("unexpected sizes %d/%d/%d", len(parts[0]), len(parts[1]), len(parts[2]))
	}
}

func TestSplitCountsRunes(t *testing.T) {
	text := strings.Repeat("я", messageLimit)
	if parts := SplitMessage(text); len(parts) != 1 {
		t.Fatalf("expected one part for %d runes, got %d", messageLimit, len(parts))
	}
}

func TestSplitEmpty(t *testing.T) {
	if parts := SplitMessage("   \n  "); len(parts) != 0 {
		t.Fatalf("expected no parts, got %d", len(parts))
	}
}

func TestSplitSmallLimit(t *testing.T) {
	parts := splitAt("• one\n\n• two\n\n• three", 12)
	want := []string{"• one\n\n• two", "• three"}
	if len(parts) != len(want) {
		t.Fatalf("expected %q, got %q", want, parts)
	}
	for i := range want {
		if parts[i] != want[i] {
			t.Fatalf("expected %q, got %q", want, parts)
		}
	}
}
