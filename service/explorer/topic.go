package explorer

import (
	"regexp"
	"strconv"
)

// topicRe is deliberately not anchored on word boundaries: memos are typed by
// hand and "topic" may be glued to the surrounding text.
var topicRe = regexp.MustCompile(`(?i)topic[\s\p{Zs}]*[:\-]?[\s\p{Zs}]*(\d+)`)

// ExtractTopicID returns the topic id referenced in a memo, e.g. "topic:12345".
func ExtractTopicID(memo string) *int64 {
	m := topicRe.FindStringSubmatch(memo)
	if m == nil {
		return nil
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return nil
	}
	return &n
}
