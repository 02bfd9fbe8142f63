package summarizer

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"ezra-digest/internal/domain"
)

// SimpleSummarizer строит дайджест без LLM: по одному пункту на каждое сообщение.
type SimpleSummarizer struct{}

func NewSimple() *SimpleSummarizer {
	return &SimpleSummarizer{}
}

// Summarize берёт первые слова каждого сообщения и ссылку на источник.
// Пропускать сообщения нельзя: после цикла весь набор помечается обработанным.
func (*SimpleSummarizer) Summarize(_ context.Context, messages []domain.Message) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("simple summarizer: нет сообщений")
	}
	var b strings.Builder
	b.WriteString("*Дайджест*\n\n")
	for _, m := range messages {
		b.WriteString("• ")
		b.WriteString(headline(m.Content))
		if m.Link != "" {
			fmt.Fprintf(&b, " [источник](%s)", m.Link)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func headline(text string) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return "Без текста"
	}
	return truncate(strings.Join(words[:min(len(words), 20)], " "), 160)
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "…"
}
