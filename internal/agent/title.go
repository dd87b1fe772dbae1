package agent

import "strings"

// titleMaxLength is the longest conversation title we derive.
const titleMaxLength = 50

// Summarize derives a conversation title from its first user message.
// Short messages are used as-is; longer ones are truncated at the last
// word boundary within the limit and marked with an ellipsis. Pure and
// deterministic.
func Summarize(text string) string {
	runes := []rune(text)
	if len(runes) <= titleMaxLength {
		return text
	}

	truncated := string(runes[:titleMaxLength])
	if i := strings.LastIndex(truncated, " "); i > 0 {
		truncated = truncated[:i]
	}

	return truncated + "..."
}
