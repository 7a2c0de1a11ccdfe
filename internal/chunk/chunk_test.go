package chunk

import (
	"math/rand/v2"
	"strings"
	"testing"
	"unicode"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestSplitShortTextUnchanged(t *testing.T) {
	for _, s := range []string{"a", "hello world", strings.Repeat("x", 4096), "  padded  \n"} {
		require.Equal(t, []string{s}, Split(s, 4096))
	}
	require.Empty(t, Split("", 10))
}

func TestSplitHardBreak(t *testing.T) {
	parts := Split(strings.Repeat("A", 5000), 4096)
	require.Len(t, parts, 2)
	require.Len(t, parts[0], 4096)
	require.Len(t, parts[1], 904)
}

func TestSplitPrefersNewlineThenSpace(t *testing.T) {
	text := "alpha beta\ngamma delta epsilon"
	require.Equal(t, []string{"alpha beta", "gamma delta", "epsilon"}, Split(text, 12))

	require.Equal(t, []string{"one two", "three"}, Split("one two three", 10))
}

func TestSplitCountsRunes(t *testing.T) {
	text := strings.Repeat("ж", 10)
	parts := Split(text, 4)
	require.Equal(t, []string{"жжжж", "жжжж", "жж"}, parts)
}

func TestSegmentsRestartable(t *testing.T) {
	seq := Segments("a b c d e f g", 3)
	var first, second []string
	for s := range seq {
		first = append(first, s)
	}
	for s := range seq {
		second = append(second, s)
	}
	require.Equal(t, first, second)
	require.NotEmpty(t, first)
}

func TestSegmentsStopEarly(t *testing.T) {
	n := 0
	for range Segments(strings.Repeat("word ", 100), 10) {
		n++
		if n == 2 {
			break
		}
	}
	require.Equal(t, 2, n)
}

func TestSplitProperties(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	alphabet := []rune("abcdeé  \n\tЖ")
	for iter := 0; iter < 500; iter++ {
		n := r.IntN(300)
		rs := make([]rune, n)
		for i := range rs {
			rs[i] = alphabet[r.IntN(len(alphabet))]
		}
		text := string(rs)
		limit := 1 + r.IntN(40)

		parts := Split(text, limit)
		pos := 0
		for _, p := range parts {
			require.NotEmpty(t, p)
			require.LessOrEqual(t, utf8.RuneCountInString(p), limit)

			idx := strings.Index(text[pos:], p)
			require.GreaterOrEqual(t, idx, 0, "segment %q out of order", p)
			require.Empty(t, strings.TrimFunc(text[pos:pos+idx], unicode.IsSpace), "non-whitespace dropped before %q", p)
			pos += idx + len(p)
		}
		require.Empty(t, strings.TrimFunc(text[pos:], unicode.IsSpace), "non-whitespace dropped at tail")
	}
}
