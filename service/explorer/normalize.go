package explorer

import (
	"regexp"
	"strings"
)

var (
	tagRe        = regexp.MustCompile(`<[^>]+>`)
	// \s is ASCII-only; \p{Zs} adds NBSP and the ideographic space.
	whitespaceRe = regexp.MustCompile(`[\s\p{Zs}]+`)
)

// StripTags removes every tag-like substring from s and trims the result.
func StripTags(s string) string {
	if s == "" {
		return ""
	}
	return strings.TrimSpace(tagRe.ReplaceAllString(s, ""))
}

// plainText replaces tags with spaces and collapses runs of whitespace, so
// adjacent cells or inline elements don't glue their words together.
func plainText(s string) string {
	s = tagRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// optional returns nil for the empty string.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
