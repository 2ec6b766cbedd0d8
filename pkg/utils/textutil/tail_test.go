package textutil

import "testing"

func TestTailLines(t *testing.T) {
	in := "a\nb\nc\nd\ne\nf\ng"
	if got := TailLines(in, 5); got != "c\nd\ne\nf\ng" {
		t.Fatalf("unexpected tail: %q", got)
	}
	if got := TailLines("one", 5); got != "one" {
		t.Fatalf("short input should be returned whole, got %q", got)
	}
	if got := TailLines("", 5); got != "" {
		t.Fatalf("empty input should stay empty, got %q", got)
	}
	if got := TailLines("x\ny", 0); got != "" {
		t.Fatalf("zero line count should yield empty, got %q", got)
	}
	if got := TailLines("  \n\nx\n  ", 3); got != "x" {
		t.Fatalf("surrounding whitespace should be trimmed, got %q", got)
	}
}
