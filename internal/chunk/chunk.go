// Package chunk splits long bot replies into pieces that fit the transport's
// per-message limit.
package chunk

import (
	"iter"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxMessage is Telegram's text limit, in characters.
const MaxMessage = 4096

// Split returns the segments of text, each at most max characters (runes).
// Text that already fits is returned unchanged as the sole segment.
func Split(text string, max int) []string {
	var out []string
	for s := range Segments(text, max) {
		out = append(out, s)
	}
	return out
}

// Segments lazily yields the segments Split would return.
//
// Each window of max characters is cut after its last newline, else after its
// last space, else at the window boundary. Trailing whitespace is trimmed from
// every cut segment and whitespace-only segments are dropped. The sequence is
// a pure function of its inputs and may be ranged over any number of times.
func Segments(text string, max int) iter.Seq[string] {
	if max <= 0 {
		max = MaxMessage
	}
	return func(yield func(string) bool) {
		if text == "" {
			return
		}
		if utf8.RuneCountInString(text) <= max {
			yield(text)
			return
		}
		rest := text
		for rest != "" {
			end := byteOffset(rest, max)
			if end == len(rest) {
				yield(rest)
				return
			}
			window := rest[:end]
			cut := end
			if i := strings.LastIndexByte(window, '\n'); i > 0 {
				cut = i + 1
			} else if i := strings.LastIndexByte(window, ' '); i > 0 {
				cut = i + 1
			}
			seg := strings.TrimRightFunc(rest[:cut], unicode.IsSpace)
			rest = rest[cut:]
			if seg == "" {
				continue
			}
			if !yield(seg) {
				return
			}
		}
	}
}

// byteOffset returns the byte index just past the first n runes of s,
// or len(s) when s is shorter.
func byteOffset(s string, n int) int {
	for i := range s {
		if n == 0 {
			return i
		}
		n--
	}
	return len(s)
}
