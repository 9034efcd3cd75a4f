package logging

import (
	"regexp"
	"strings"
)

// MaxStackLogLength bounds the scrubbed failure detail stored with a log event.
const MaxStackLogLength = 2000

var (
	// Characters that break the quoted CSV rows the log table is flushed into.
	unsafeTextPattern = regexp.MustCompile(`['",\r\n;\t\\\[\]]`)
	multiSpacePattern = regexp.MustCompile(`\s{2,}`)
)

// CleanText strips quotes, separators, control whitespace and brackets from
// recognized or diagnostic text, then collapses runs of whitespace.
func CleanText(s string) string {
	if s == "" {
		return ""
	}
	cleaned := unsafeTextPattern.ReplaceAllString(s, " ")
	cleaned = multiSpacePattern.ReplaceAllString(cleaned, " ")
	return strings.TrimSpace(cleaned)
}

// ScrubStackTrace renders an error and an optional goroutine stack as a single
// CSV-safe line: credentials redacted, newlines collapsed, length bounded.
func ScrubStackTrace(err error, stack []byte) string {
	var b strings.Builder
	b.WriteString(SanitizeError(err))
	if len(stack) > 0 {
		b.WriteString(" | ")
		b.WriteString(SanitizeMessage(string(stack)))
	}
	return TruncateString(CleanText(b.String()), MaxStackLogLength)
}
