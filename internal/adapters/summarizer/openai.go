package summarizer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ezra-digest/internal/domain"
)

type completer interface {
	Complete(ctx context.Context, model, system, user string, temperature float64) (string, error)
}

// OpenAI строит дайджест через Chat Completions.
type OpenAI struct {
	client   completer
	model    string
	timeout  time.Duration
	maxInput int
}

// NewOpenAI создаёт провайдер суммаризации.
func NewOpenAI(client completer, model string, timeout time.Duration) *OpenAI {
	if model == "" {
		model = "gpt-4.1-mini"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAI{client: client, model: model, timeout: timeout, maxInput: 60000}
}

const systemPrompt = `Ты редактор ежедневного дайджеста Telegram-каналов.
Сохраняй факты из сообщений и не выдумывай ничего нового.
Объединяй повторяющиеся новости, группируй по темам, самое важное ставь первым.
Пиши по-русски в разметке Telegram Markdown: *жирный* для заголовков тем, "• " для пунктов.
После пункта указывай источник ссылкой вида [источник](url), если ссылка есть.`

// Summarize превращает сообщения в текст дайджеста. Сообщения передаются новыми первыми.
// Если набор не помещается в один запрос, он делится на части, и ответы склеиваются
// в порядке частей: в дайджест попадает каждое сообщение.
func (s *OpenAI) Summarize(ctx context.Context, messages []domain.Message) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("openai summarizer: нет сообщений")
	}
	prompts := buildPrompts(messages, s.maxInput)
	parts := make([]string, 0, len(prompts))
	for i, prompt := range prompts {
		text, err := s.complete(ctx, prompt)
		if err != nil {
			return "", fmt.Errorf("openai completion %d/%d: %w", i+1, len(prompts), err)
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n\n"), nil
}

func (s *OpenAI) complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Complete(ctx, s.model, systemPrompt, prompt, 0.3)
}

const perMessageRunes = 2000

// buildPrompts раскладывает сообщения по запросам не длиннее limit байт.
// Сообщение не делится между запросами; limit <= 0 означает один запрос.
func buildPrompts(messages []domain.Message, limit int) []string {
	var (
		prompts []string
		chunk   []string
		size    int
	)
	flush := func() {
		if len(chunk) == 0 {
			return
		}
		header := fmt.Sprintf("Собери дайджест из %d сообщений.\n\n", len(chunk))
		prompts = append(prompts, strings.TrimSpace(header+strings.Join(chunk, "")))
		chunk, size = nil, 0
	}
	for i, m := range messages {
		var entry strings.Builder
		fmt.Fprintf(&entry, "[%d] %s\n", i+1, m.AuthoredAt.UTC().Format("2006-01-02 15:04"))
		if m.Link != "" {
			fmt.Fprintf(&entry, "Ссылка: %s\n", m.Link)
		}
		entry.WriteString(clipRunes(strings.TrimSpace(m.Content), perMessageRunes))
		entry.WriteString("\n\n")
		if limit > 0 && size+entry.Len() > limit {
			flush()
		}
		chunk = append(chunk, entry.String())
		size += entry.Len()
	}
	flush()
	return prompts
}

func clipRunes(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
