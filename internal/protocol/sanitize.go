package protocol

import (
	"strings"
	"unicode/utf8"
)

const DefaultMaxMessageRunes = 2000

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&#34;",
	"'", "&#39;",
)

// SanitizeContent HTML-escapes a chat line, trims surrounding whitespace and
// caps it at maxRunes runes. The cap never splits an escape sequence. An
// empty result means the line must be dropped.
func SanitizeContent(content string, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = DefaultMaxMessageRunes
	}
	escaped := strings.TrimSpace(htmlEscaper.Replace(content))
	if utf8.RuneCountInString(escaped) <= maxRunes {
		return escaped
	}
	cut := truncateRunes(escaped, maxRunes)
	// Back off a partially kept entity such as "&am".
	if amp := strings.LastIndexByte(cut, '&'); amp >= 0 && !strings.Contains(cut[amp:], ";") {
		cut = cut[:amp]
	}
	return strings.TrimSpace(cut)
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
