package telegram

import (
	"strings"
	"unicode"
)

// messageLimit — предел длины сообщения Bot API в символах.
const messageLimit = 4096

// SplitMessage делит текст дайджеста на части не длиннее лимита Telegram.
func SplitMessage(text string) []string {
	return splitAt(text, messageLimit)
}

// splitAt режет сначала по пустой строке между пунктами, затем по переводу строки,
// затем по пробелу. Жёсткий разрез только для сплошного текста без разделителей.
func splitAt(text string, limit int) []string {
	rest := []rune(strings.TrimSpace(text))
	var parts []string
	for len(rest) > 0 {
		if len(rest) <= limit {
			parts = append(parts, string(rest))
			break
		}
		cut := breakPoint(rest, limit)
		if chunk := strings.TrimRightFunc(string(rest[:cut]), unicode.IsSpace); chunk != "" {
			parts = append(parts, chunk)
		}
		rest = trimLeftSpace(rest[cut:])
	}
	return parts
}

// breakPoint возвращает позицию разреза не дальше limit; r длиннее limit.
func breakPoint(r []rune, limit int) int {
	for i := limit; i > 0; i-- {
		if r[i] == '\n' && i+1 < len(r) && r[i+1] == '\n' {
			return i
		}
	}
	for _, sep := range []rune{'\n', ' '} {
		for i := limit; i > 0; i-- {
			if r[i] == sep {
				return i
			}
		}
	}
	return limit
}

func trimLeftSpace(r []rune) []rune {
	i := 0
	for i < len(r) && unicode.IsSpace(r[i]) {
		i++
	}
	return r[i:]
}
