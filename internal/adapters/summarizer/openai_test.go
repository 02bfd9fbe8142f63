package summarizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"ezra-digest/internal/domain"
)

type fakeCompleter struct {
	model   string
	prompt  string
	prompts []string
	reply   string
	err     error
}

func (f *fakeCompleter) Complete(_ context.Context, model, _, user string, _ float64) (string, error) {
	f.model = model
	f.prompt = user
	f.prompts = append(f.prompts, user)
	return f.reply, f.err
}

func TestOpenAISummarizeBuildsPromptInOrder(t *testing.T) {
	client := &fakeCompleter{reply: "*Итоги*"}
	s := NewOpenAI(client, "", time.Second)
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	text, err := s.Summarize(context.Background(), []domain.Message{
		{Content: "новое", AuthoredAt: at.Add(time.Hour), Link: "https://t.me/a/2"},
		{Content: "старое", AuthoredAt: at},
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if text != "*Итоги*" || client.model != "gpt-4.1-mini" {
		t.Fatalf("неожиданный ответ %q модель %q", text, client.model)
	}
	first := strings.Index(client.prompt, "новое")
	second := strings.Index(client.prompt, "старое")
	if first < 0 || second < 0 || first > second {
		t.Fatalf("ожидали порядок сообщений как во входе: %q", client.prompt)
	}
	if !strings.Contains(client.prompt, "Ссылка: https://t.me/a/2") {
		t.Fatalf("ожидали ссылку в промпте: %q", client.prompt)
	}
}

func TestOpenAISummarizeError(t *testing.T) {
	s := NewOpenAI(&fakeCompleter{err: errors.New("down")}, "m", time.Second)
	if _, err := s.Summarize(context.Background(), []domain.Message{{Content: "x"}}); err == nil {
		t.Fatal("ожидали ошибку")
	}
}

func TestBuildPromptsSplitsByLimit(t *testing.T) {
	messages := []domain.Message{
		{Content: strings.Repeat("x", 100)},
		{Content: strings.Repeat("y", 100)},
		{Content: strings.Repeat("z", 100)},
	}
	prompts := buildPrompts(messages, 250)
	if len(prompts) != 2 {
		t.Fatalf("ожидали 2 запроса, получили %d: %q", len(prompts), prompts)
	}
	if !strings.Contains(prompts[0], "xxxx") || !strings.Contains(prompts[0], "yyyy") || strings.Contains(prompts[0], "zzzz") {
		t.Fatalf("первый запрос должен вместить два сообщения: %q", prompts[0])
	}
	if !strings.Contains(prompts[1], "zzzz") || !strings.Contains(prompts[1], "из 1 сообщений") {
		t.Fatalf("второй запрос должен нести остаток: %q", prompts[1])
	}
}

func TestBuildPromptsKeepsOversizedMessage(t *testing.T) {
	prompts := buildPrompts([]domain.Message{{Content: strings.Repeat("w", 500)}}, 100)
	if len(prompts) != 1 || !strings.Contains(prompts[0], "wwww") {
		t.Fatalf("сообщение больше лимита должно уйти отдельным запросом: %q", prompts)
	}
}

func TestOpenAISummarizeCoversEveryMessage(t *testing.T) {
	client := &fakeCompleter{reply: "часть"}
	s := NewOpenAI(client, "m", time.Second)
	s.maxInput = 300

	messages := make([]domain.Message, 10)
	for i := range messages {
		messages[i] = domain.Message{Content: fmt.Sprintf("новость-%02d %s", i, strings.Repeat(".", 80))}
	}
	text, err := s.Summarize(context.Background(), messages)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(client.prompts) < 2 {
		t.Fatalf("ожидали несколько запросов, получили %d", len(client.prompts))
	}
	joined := strings.Join(client.prompts, "\n")
	for i := range messages {
		if !strings.Contains(joined, fmt.Sprintf("новость-%02d", i)) {
			t.Fatalf("сообщение %d не попало ни в один запрос", i)
		}
	}
	if strings.Count(text, "часть") != len(client.prompts) {
		t.Fatalf("ожидали ответ каждой части в дайджесте: %q", text)
	}
}
