package explorer

import (
	"regexp"
	"strings"
)

// Scanner turns a transaction page into a FieldMap.
type Scanner interface {
	Scan(html string) FieldMap
}

// fieldRowRe matches a two-cell row. The label cell holds text only; the value
// cell is matched lazily so it may contain nested tags but ends at the first </td>.
// Padding between cells may include NBSP or the ideographic space.
var fieldRowRe = regexp.MustCompile(`(?is)<tr>[\s\p{Zs}]*<td[^>]*>[\s\p{Zs}]*([^<]+)[\s\p{Zs}]*</td>[\s\p{Zs}]*<td[^>]*>(.*?)</td>[\s\p{Zs}]*</tr>`)

// PatternScanner is a Scanner that pattern-matches table rows instead of
// building a DOM. Rows that don't fit the two-cell shape are skipped.
type PatternScanner struct{}

// Scan collects every labeled row in document order. When a label repeats,
// the later row wins.
func (PatternScanner) Scan(html string) FieldMap {
	fields := make(FieldMap)
	for _, m := range fieldRowRe.FindAllStringSubmatch(html, -1) {
		label := strings.TrimSpace(m[1])
		if label == "" {
			continue
		}
		fields[label] = strings.TrimSpace(m[2])
	}
	return fields
}
