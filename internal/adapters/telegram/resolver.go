package telegram

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"ezra-digest/internal/domain"
	"ezra-digest/internal/infra/metrics"
	"ezra-digest/internal/usecase/channels"
)

// ChatGetter — часть *tgbotapi.BotAPI для getChat.
type ChatGetter interface {
	GetChat(config tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error)
}

// Resolver получает сведения о канале через getChat.
type Resolver struct {
	bot ChatGetter
}

var _ channels.Resolver = (*Resolver)(nil)

// NewResolver создаёт резолвер.
func NewResolver(bot ChatGetter) *Resolver {
	return &Resolver{bot: bot}
}

// ResolveChat возвращает название и алиас канала.
func (r *Resolver) ResolveChat(_ context.Context, ref channels.ChatRef) (domain.SourceChat, error) {
	cfg := tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: ref.ID}}
	if ref.Alias != "" {
		cfg = tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{SuperGroupUsername: "@" + ref.Alias}}
	}
	start := time.Now()
	chat, err := r.bot.GetChat(cfg)
	metrics.ObserveNetworkRequest("telegram", "get_chat", "bot_api", start, err)
	if err != nil {
		return domain.SourceChat{}, fmt.Errorf("%w: %v", domain.ErrResolution, err)
	}
	if !chat.IsChannel() && !chat.IsSuperGroup() {
		return domain.SourceChat{}, fmt.Errorf("%w: чат %d не является каналом", domain.ErrResolution, chat.ID)
	}
	return domain.SourceChat{ID: chat.ID, Title: chat.Title, Handle: chat.UserName}, nil
}
