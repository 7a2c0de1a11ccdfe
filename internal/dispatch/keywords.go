package dispatch

import "strings"

// freshKeywords mark questions that need current information. Matching is a
// case-insensitive substring test, so stems cover inflected forms.
var freshKeywords = []string{
	"новости", "курс", "погода", "время", "дата", "актуально",
	"сейчас", "сегодня", "последние", "обновление", "поиск",
	"news", "weather", "today", "right now", "latest", "current",
	"exchange rate", "what date", "what time", "search",
}

// NeedsFreshInfo reports whether text mentions any time-sensitive keyword.
func NeedsFreshInfo(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range freshKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
