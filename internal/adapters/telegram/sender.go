package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"ezra-digest/internal/domain"
	"ezra-digest/internal/infra/metrics"
)

// BotSender — часть *tgbotapi.BotAPI, нужная для отправки.
type BotSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Sender доставляет текст в чат через Bot API.
type Sender struct {
	bot BotSender
}

var _ domain.Sender = (*Sender)(nil)

// NewSender создаёт отправителя.
func NewSender(bot BotSender) *Sender {
	return &Sender{bot: bot}
}

// Send отправляет текст частями в разметке Markdown.
// Если Telegram не разобрал разметку, часть отправляется простым текстом.
// При истечении ctx ожидание ответа прекращается.
func (s *Sender) Send(ctx context.Context, chatID int64, text string) error {
	parts := SplitMessage(text)
	if len(parts) == 0 {
		return nil
	}
	for i, part := range parts {
		if err := s.sendPart(ctx, chatID, part); err != nil {
			return fmt.Errorf("часть %d/%d: %w", i+1, len(parts), err)
		}
	}
	return nil
}

func (s *Sender) sendPart(ctx context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true
	err := s.do(ctx, msg)
	if err != nil && IsParseError(err) {
		msg.ParseMode = ""
		err = s.do(ctx, msg)
	}
	return err
}

func (s *Sender) do(ctx context.Context, msg tgbotapi.MessageConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	start := time.Now()
	go func() {
		_, err := s.bot.Send(msg)
		done <- err
	}()
	select {
	case err := <-done:
		metrics.ObserveNetworkRequest("telegram", "send_message", "bot_api", start, err)
		return err
	case <-ctx.Done():
		metrics.ObserveNetworkRequest("telegram", "send_message", "bot_api", start, ctx.Err())
		return ctx.Err()
	}
}

// IsParseError сообщает, что Bot API отверг разметку сообщения.
func IsParseError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "can't parse entities")
}
