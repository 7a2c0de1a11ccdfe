package dispatch

import (
	"regexp"
	"strings"
)

var (
	headingRe = regexp.MustCompile(`(?is)<h[1-6][^>]*>(.*?)</h[1-6]>`)
	tagRe     = regexp.MustCompile(`<(/?)([a-zA-Z][a-zA-Z0-9-]*)\b[^>]*>`)

	// Telegram HTML parse mode accepts only these.
	allowedTags = map[string]bool{
		"b": true, "strong": true, "i": true, "em": true, "u": true, "ins": true,
		"s": true, "strike": true, "del": true, "code": true, "pre": true,
		"a": true, "blockquote": true, "tg-spoiler": true,
	}
)

// Sanitize rewrites model output into markup Telegram can render:
// headings become bold and every other unsupported tag is removed with its
// contents kept.
func Sanitize(text string) string {
	text = headingRe.ReplaceAllString(text, "<b>$1</b>")
	return tagRe.ReplaceAllStringFunc(text, func(tag string) string {
		m := tagRe.FindStringSubmatch(tag)
		if allowedTags[strings.ToLower(m[2])] {
			return tag
		}
		return ""
	})
}
