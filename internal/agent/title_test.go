package agent

import (
	"strings"
	"testing"
)

func TestSummarize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"short", "Buy milk", "Buy milk"},
		{
			"exactly fifty",
			strings.Repeat("a", 50),
			strings.Repeat("a", 50),
		},
		{
			"truncates at word boundary",
			"The quick brown fox jumps over the lazy dog today and tomorrow",
			"The quick brown fox jumps over the lazy dog today...",
		},
		{
			"no space in prefix",
			strings.Repeat("a", 60),
			strings.Repeat("a", 50) + "...",
		},
		{
			"space only at position zero",
			" " + strings.Repeat("b", 60),
			" " + strings.Repeat("b", 49) + "...",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Summarize(tt.in); got != tt.want {
				t.Errorf("Summarize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSummarize_NeverTooLong(t *testing.T) {
	long := strings.Repeat("word ", 40)
	got := Summarize(long)
	if n := len([]rune(got)); n > titleMaxLength+3 {
		t.Errorf("title length = %d, want <= %d", n, titleMaxLength+3)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("truncated title should end with ellipsis, got %q", got)
	}
}
