package nl2sql

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	openingFence = regexp.MustCompile("(?i)^```(?:sql|mysql|postgres(?:ql)?)?(?:\\s|$)")
	selectToken  = regexp.MustCompile(`(?i)\bselect\b`)
)

// Extract turns free-form model output into one statement. It drops code
// fences and backticks and keeps the text from the first SELECT up to the
// first semicolon. Output without a SELECT is returned trimmed, for the
// statement policy to reject. Extract(Extract(x)) == Extract(x).
func Extract(output string) string {
	text := strings.TrimSpace(output)
	if strings.HasPrefix(text, "```") {
		text = openingFence.ReplaceAllString(text, "")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	text = strings.TrimSpace(strings.ReplaceAll(text, "`", ""))

	if loc := selectToken.FindStringIndex(text); loc != nil {
		statement := text[loc[0]:]
		if end := strings.IndexByte(statement, ';'); end >= 0 {
			statement = statement[:end]
		}
		return strings.TrimSpace(statement)
	}
	return strings.TrimRightFunc(text, func(r rune) bool {
		return r == ';' || unicode.IsSpace(r)
	})
}
