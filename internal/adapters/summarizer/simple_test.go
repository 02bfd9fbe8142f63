package summarizer

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"ezra-digest/internal/domain"
)

func TestSimpleSummarize(t *testing.T) {
	s := NewSimple()
	messages := []domain.Message{
		{Content: strings.Repeat("слово ", 50), Link: "https://t.me/ai/1"},
		{Content: "вторая новость"},
		{Content: "третья"},
	}
	text, err := s.Summarize(context.Background(), messages)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !strings.Contains(text, "[источник](https://t.me/ai/1)") {
		t.Fatalf("ожидали ссылку на источник: %q", text)
	}
	if !strings.Contains(text, "• вторая новость") {
		t.Fatalf("ожидали второй пункт: %q", text)
	}
	if !strings.Contains(text, "• третья") {
		t.Fatalf("ожидали пункт для каждого сообщения: %q", text)
	}
}

func TestSimpleSummarizeCoversLargeBacklog(t *testing.T) {
	messages := make([]domain.Message, 75)
	for i := range messages {
		messages[i] = domain.Message{Content: fmt.Sprintf("новость %d", i)}
	}
	text, err := NewSimple().Summarize(context.Background(), messages)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got := strings.Count(text, "• "); got != len(messages) {
		t.Fatalf("ожидали %d пунктов, получили %d", len(messages), got)
	}
}

func TestSimpleSummarizeEmpty(t *testing.T) {
	if _, err := NewSimple().Summarize(context.Background(), nil); err == nil {
		t.Fatal("ожидали ошибку для пустого набора")
	}
}
