package openai

import (
	"strings"
	"unicode"
)

// cleanTag lowercases a tag, drops punctuation and collapses inner whitespace.
func cleanTag(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return unicode.ToLower(r)
		case unicode.IsSpace(r), r == '-', r == '_':
			return ' '
		}
		return -1
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// isKeyRune reports whether r may start an unquoted JSON key.
func isKeyRune(r rune) bool {
	return unicode.IsLetter(r) && r < unicode.MaxASCII
}
