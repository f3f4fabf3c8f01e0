// Package clean strips list boilerplate from text blocks and extracts
// key:value pair lines from what remains.
//
// All functions are pure and safe for concurrent use.
package clean

import (
	"regexp"
	"strings"
	"unicode"
)

// headerPattern matches one boilerplate header block: a title line, a
// Generated date line, a Total count line, a Format line and an optional
// separator rule on the following line. Keywords are case-sensitive and the
// gaps between them are matched lazily, so the block may sit anywhere.
var headerPattern = regexp.MustCompile(
	`(?sm)(?:🔑)?[ \t]*PREMIUM\s+ACCOUNTS\s+FOR\s+\d+.*?` +
		`Generated:\s*\d{4}-\d{2}-\d{2}.*?` +
		`Total:\s*\d+.*?` +
		`Format:\s*User:Pass\s*Format[^\n]*` +
		`(?:[ \t]*\r?\n[ \t]*(?:━+|_+|-+)[ \t]*$)?`,
)

// blankRun matches a newline followed by any whitespace-only lines.
var blankRun = regexp.MustCompile(`\n\s*\n`)

// StripBoilerplate removes every recognized header block from text, drops
// the blank lines left behind and trims the result.
func StripBoilerplate(text string) string {
	cleaned := headerPattern.ReplaceAllString(text, "")
	cleaned = blankRun.ReplaceAllString(cleaned, "\n")
	return strings.TrimSpace(cleaned)
}

// ExtractPairs returns the trimmed lines of text that look like key:value
// pairs: two non-empty tokens joined by one colon, with no whitespace and
// no further colons. Everything else is dropped without error.
func ExtractPairs(text string) []string {
	var pairs []string
	for _, line := range strings.FieldsFunc(text, isLineBreak) {
		line = strings.TrimFunc(line, isSpace)
		key, value, ok := strings.Cut(line, ":")
		if ok && isToken(key) && isToken(value) {
			pairs = append(pairs, line)
		}
	}
	return pairs
}

func isToken(s string) bool {
	return s != "" && !strings.ContainsFunc(s, func(r rune) bool {
		return r == ':' || isSpace(r)
	})
}

// isSpace extends unicode.IsSpace with the ASCII information separators
// U+001C..U+001F, which are also treated as whitespace.
func isSpace(r rune) bool {
	return unicode.IsSpace(r) || (r >= 0x1c && r <= 0x1f)
}

// isLineBreak reports the runes that end a line: LF, CR (alone or before
// LF), VT, FF, FS, GS, RS, NEL and the Unicode line and paragraph
// separators.
func isLineBreak(r rune) bool {
	switch r {
	case '\n', '\r', '\v', '\f', 0x1c, 0x1d, 0x1e, 0x85, 0x2028, 0x2029:
		return true
	}
	return false
}
