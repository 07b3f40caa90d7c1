package textutil

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var strict = bluemonday.StrictPolicy()

// CleanText strips markup, unescapes entities, collapses whitespace and caps
// the result at limit runes. A limit of 0 means no cap.
func CleanText(value string, limit int) string {
	value = html.UnescapeString(strict.Sanitize(value))
	value = strings.Join(strings.Fields(value), " ")
	if limit > 0 && utf8.RuneCountInString(value) > limit {
		runes := []rune(value)
		value = strings.TrimSpace(string(runes[:limit]))
	}
	return value
}
