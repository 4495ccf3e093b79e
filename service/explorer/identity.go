package explorer

import (
	"regexp"
	"strings"
)

var (
	imgTagRe = regexp.MustCompile(`(?i)<img[^>]*>`)
	imgSrcRe = regexp.MustCompile(`(?i)\bsrc="([^"]+)"`)
	imgAltRe = regexp.MustCompile(`(?i)\balt="([^"]+)"`)
	imgUIDRe = regexp.MustCompile(`data-uid="([^"]+)"`)
)

// ExtractIdentity reads a sender or receiver cell.
//
// The avatar widget is an <img> whose alt is the username, src the avatar and
// data-uid the platform user id. Without a usable alt the username falls back
// to the last word of the cell's text, since the handle is rendered after any
// prefix. Avatar and UID only ever come from the image tag.
func ExtractIdentity(fragment string) Identity {
	var id Identity

	if tag := imgTagRe.FindString(fragment); tag != "" {
		id.Username = attr(imgAltRe, tag)
		id.Avatar = attr(imgSrcRe, tag)
		id.UID = attr(imgUIDRe, tag)
	}

	if id.Username == nil {
		if parts := strings.Fields(plainText(fragment)); len(parts) > 0 {
			id.Username = optional(parts[len(parts)-1])
		}
	}

	return id
}

func attr(re *regexp.Regexp, tag string) *string {
	m := re.FindStringSubmatch(tag)
	if m == nil {
		return nil
	}
	return optional(strings.TrimSpace(m[1]))
}
