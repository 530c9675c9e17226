package services

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateBounds(t *testing.T) {
	for _, n := range []int{0, 1, 1999, 2000, 2001, 10000} {
		s := strings.Repeat("é", n)
		got := Truncate(s, ClassificationTextLimit)
		want := min(n, ClassificationTextLimit)
		if utf8.RuneCountInString(got) != want {
			t.Fatalf("len %d: truncated to %d characters, want %d", n, utf8.RuneCountInString(got), want)
		}
		if !utf8.ValidString(got) {
			t.Fatalf("len %d: truncation split a character", n)
		}
	}
	if Truncate("abc", 0) != "" {
		t.Fatalf("zero limit should give an empty string")
	}
}

func TestPromptsEmbedBoundedText(t *testing.T) {
	long := strings.Repeat("§", 5000)

	cls := BuildClassificationPrompt(long)
	if got := strings.Count(cls, "§"); got != ClassificationTextLimit {
		t.Fatalf("classification prompt carries %d text characters, want %d", got, ClassificationTextLimit)
	}
	for _, c := range Categories {
		if !strings.Contains(cls, "- "+c) {
			t.Fatalf("classification prompt is missing label %q", c)
		}
	}

	sum := BuildSummaryPrompt(long)
	if got := strings.Count(sum, "§"); got != SummaryTextLimit {
		t.Fatalf("summary prompt carries %d text characters, want %d", got, SummaryTextLimit)
	}

	short := BuildSummaryPrompt("tiny")
	if !strings.Contains(short, "\ntiny\n") {
		t.Fatalf("short text not embedded verbatim: %q", short)
	}
}

func TestNormalizeCategory(t *testing.T) {
	tests := map[string]string{
		"Invoice":            "Invoice",
		"  contract\n":       "Contract",
		"REPORT.":            "Report",
		`"Letter"`:           "Letter",
		"form":               "Form",
		"Other":              "Other",
		"Receipt":            "Other",
		"This is an invoice": "Other",
		"":                   "Other",
	}
	for in, want := range tests {
		if got := NormalizeCategory(in); got != want {
			t.Errorf("NormalizeCategory(%q) = %q, want %q", in, got, want)
		}
	}
}
