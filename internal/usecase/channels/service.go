package channels

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"ezra-digest/internal/domain"
)

var (
	ErrChannelRefInvalid = errors.New("некорректный идентификатор канала")
	ErrAliasInvalid      = errors.New("некорректный алиас")
)

var aliasRegex = regexp.MustCompile(`(?i)^(?:@|https?://t\.me/|t\.me/)?([a-z0-9_]{5,})$`)

// ChatRef — ссылка на канал: числовой идентификатор Bot API или публичный алиас.
type ChatRef struct {
	ID    int64
	Alias string
}

func (r ChatRef) String() string {
	if r.Alias != "" {
		return "@" + r.Alias
	}
	return strconv.FormatInt(r.ID, 10)
}

// Resolver получает сведения о канале через Bot API.
type Resolver interface {
	ResolveChat(ctx context.Context, ref ChatRef) (domain.SourceChat, error)
}

// Service управляет списком каналов-источников.
type Service struct {
	repo     domain.ChannelRepo
	resolver Resolver
}

// NewService создаёт новый сервис каналов.
func NewService(repo domain.ChannelRepo, resolver Resolver) *Service {
	return &Service{repo: repo, resolver: resolver}
}

// ParseAlias приводит ввод пользователя к каноничному алиасу.
func ParseAlias(input string) (string, error) {
	trim := strings.TrimSpace(input)
	matches := aliasRegex.FindStringSubmatch(trim)
	if len(matches) < 2 {
		return "", ErrAliasInvalid
	}
	return strings.ToLower(matches[1]), nil
}

// ParseChatRef разбирает аргумент команды: число или алиас.
func ParseChatRef(input string) (ChatRef, error) {
	trim := strings.TrimSpace(input)
	if trim == "" {
		return ChatRef{}, ErrChannelRefInvalid
	}
	if id, err := strconv.ParseInt(trim, 10, 64); err == nil {
		if id == 0 {
			return ChatRef{}, ErrChannelRefInvalid
		}
		return ChatRef{ID: id}, nil
	}
	alias, err := ParseAlias(trim)
	if err != nil {
		return ChatRef{}, ErrChannelRefInvalid
	}
	return ChatRef{Alias: alias}, nil
}

// ParseChannelID разбирает числовой идентификатор канала.
func ParseChannelID(input string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(input), 10, 64)
	if err != nil || id == 0 {
		return 0, ErrChannelRefInvalid
	}
	return id, nil
}

// AddChannel находит канал через Bot API и сохраняет его.
func (s *Service) AddChannel(ctx context.Context, addedBy int64, ref ChatRef) (domain.Channel, bool, error) {
	chat, err := s.resolver.ResolveChat(ctx, ref)
	if err != nil {
		return domain.Channel{}, false, fmt.Errorf("резолв канала %s: %w", ref, err)
	}
	ch := domain.Channel{
		ID:      chat.ID,
		Name:    chat.Title,
		Handle:  strings.TrimPrefix(chat.Handle, "@"),
		AddedBy: addedBy,
	}
	created, err := s.repo.UpsertChannel(ctx, ch)
	if err != nil {
		return domain.Channel{}, false, fmt.Errorf("сохранение канала: %w", err)
	}
	return ch, created, nil
}

// RemoveChannel удаляет канал. Сообщения канала остаются.
func (s *Service) RemoveChannel(ctx context.Context, id int64) (bool, error) {
	removed, err := s.repo.RemoveChannel(ctx, id)
	if err != nil {
		return false, fmt.Errorf("удаление канала: %w", err)
	}
	return removed, nil
}

// ListChannels возвращает все каналы.
func (s *Service) ListChannels(ctx context.Context) ([]domain.Channel, error) {
	return s.repo.ListChannels(ctx)
}

// FormatList формирует список каналов для ответа в чате.
func FormatList(channels []domain.Channel) string {
	if len(channels) == 0 {
		return "Каналы не настроены."
	}
	var b strings.Builder
	b.WriteString("*Каналы:*\n")
	for _, ch := range channels {
		handle := "без алиаса"
		if ch.Handle != "" {
			handle = "@" + ch.Handle
		}
		name := ch.Name
		if name == "" {
			name = "без названия"
		}
		fmt.Fprintf(&b, "• %s (%s) `%d`\n", name, handle, ch.ID)
	}
	return strings.TrimRight(b.String(), "\n")
}
