package mtproto

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"

	"ezra-digest/internal/domain"
	"ezra-digest/internal/infra/metrics"
)

// ErrNotAuthorized возвращается, если сессия не авторизована. Интерактивного входа нет.
var ErrNotAuthorized = errors.New("MTProto-сессия не авторизована")

// Смещение идентификаторов каналов в «маркированной» форме Bot API.
const channelIDOffset int64 = 1_000_000_000_000

// API — часть методов tg.Client, нужная для сбора.
type API interface {
	MessagesGetDialogFilters(ctx context.Context) (*tg.MessagesDialogFilters, error)
	ChannelsGetChannels(ctx context.Context, id []tg.InputChannelClass) (tg.MessagesChatsClass, error)
	MessagesGetChats(ctx context.Context, id []int64) (tg.MessagesChatsClass, error)
	UsersGetUsers(ctx context.Context, id []tg.InputUserClass) ([]tg.UserClass, error)
	MessagesGetHistory(ctx context.Context, request *tg.MessagesGetHistoryRequest) (tg.MessagesMessagesClass, error)
}

// Source реализует domain.ScrapeSource поверх MTProto.
type Source struct {
	api API
	log zerolog.Logger

	mu    sync.Mutex
	peers map[int64]tg.InputPeerClass
}

// NewSource создаёт источник сбора.
func NewSource(api API, logger zerolog.Logger) *Source {
	return &Source{api: api, log: logger, peers: make(map[int64]tg.InputPeerClass)}
}

// ClientConfig описывает подключение пользовательского клиента.
type ClientConfig struct {
	APIID       int
	APIHash     string
	SessionFile string
}

// Run подключается к Telegram, проверяет авторизацию сессии и вызывает fn с источником.
// Соединение закрывается после возврата fn.
func Run(ctx context.Context, cfg ClientConfig, logger zerolog.Logger, fn func(context.Context, *Source) error) error {
	client := telegram.NewClient(cfg.APIID, cfg.APIHash, telegram.Options{
		SessionStorage: &FileSession{Path: cfg.SessionFile},
		NoUpdates:      true,
	})
	return client.Run(ctx, func(ctx context.Context) error {
		status, err := client.Auth().Status(ctx)
		if err != nil {
			return fmt.Errorf("статус авторизации: %w", err)
		}
		if !status.Authorized {
			return ErrNotAuthorized
		}
		logger.Info().Msg("MTProto-сессия авторизована")
		return fn(ctx, NewSource(client.API(), logger))
	})
}

// ResolveCollection возвращает чаты папки name. Имя сравнивается без учёта регистра
// и крайних пробелов. Неизвестная папка даёт domain.ErrResolution.
func (s *Source) ResolveCollection(ctx context.Context, name string) ([]domain.SourceChat, error) {
	start := time.Now()
	res, err := s.api.MessagesGetDialogFilters(ctx)
	metrics.ObserveNetworkRequest("mtproto", "get_dialog_filters", "", start, err)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrResolution, err)
	}

	want := strings.TrimSpace(name)
	var peers []tg.InputPeerClass
	found := false
	for _, f := range res.Filters {
		title, include, ok := folderInfo(f)
		if !ok {
			continue
		}
		s.log.Debug().Str("folder", title).Msg("папка")
		if strings.EqualFold(strings.TrimSpace(title), want) {
			peers, found = include, true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: папка %q не найдена", domain.ErrResolution, want)
	}
	return s.describe(ctx, peers), nil
}

// FetchRecent возвращает до limit последних сообщений чата, новые первыми.
// Служебные сообщения пропускаются.
func (s *Source) FetchRecent(ctx context.Context, chat domain.SourceChat, limit int) ([]domain.RawItem, error) {
	peer, ok := s.peer(chat.ID)
	if !ok {
		return nil, fmt.Errorf("чат %d отсутствует в папке", chat.ID)
	}

	start := time.Now()
	res, err := s.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{Peer: peer, Limit: limit})
	metrics.ObserveNetworkRequest("mtproto", "get_history", "", start, err)
	if err != nil {
		return nil, fmt.Errorf("история чата %d: %w", chat.ID, err)
	}

	var raw []tg.MessageClass
	switch r := res.(type) {
	case *tg.MessagesMessages:
		raw = r.Messages
	case *tg.MessagesMessagesSlice:
		raw = r.Messages
	case *tg.MessagesChannelMessages:
		raw = r.Messages
	}

	items := make([]domain.RawItem, 0, len(raw))
	for _, m := range raw {
		msg, ok := m.(*tg.Message)
		if !ok {
			continue
		}
		items = append(items, domain.RawItem{
			MessageID:  msg.ID,
			Text:       msg.Message,
			AuthoredAt: time.Unix(int64(msg.Date), 0).UTC(),
		})
	}
	return items, nil
}

func folderInfo(f tg.DialogFilterClass) (string, []tg.InputPeerClass, bool) {
	switch v := f.(type) {
	case *tg.DialogFilter:
		return v.Title.Text, v.IncludePeers, true
	case *tg.DialogFilterChatlist:
		return v.Title.Text, v.IncludePeers, true
	default:
		return "", nil, false
	}
}

// describe запоминает пиры и подтягивает названия чатов. Ошибка метаданных не
// исключает чат: без username ссылка строится по идентификатору.
// Личные чаты и боты тоже собираются, но без handle: ссылок на их сообщения нет.
func (s *Source) describe(ctx context.Context, peers []tg.InputPeerClass) []domain.SourceChat {
	var (
		order    []int64
		channels []tg.InputChannelClass
		chatIDs  []int64
		users    []tg.InputUserClass
	)
	s.mu.Lock()
	for _, p := range peers {
		switch v := p.(type) {
		case *tg.InputPeerChannel:
			id := MarkedChannelID(v.ChannelID)
			s.peers[id] = v
			order = append(order, id)
			channels = append(channels, &tg.InputChannel{ChannelID: v.ChannelID, AccessHash: v.AccessHash})
		case *tg.InputPeerChat:
			id := MarkedChatID(v.ChatID)
			s.peers[id] = v
			order = append(order, id)
			chatIDs = append(chatIDs, v.ChatID)
		case *tg.InputPeerUser:
			s.peers[v.UserID] = v
			order = append(order, v.UserID)
			users = append(users, &tg.InputUser{UserID: v.UserID, AccessHash: v.AccessHash})
		default:
			s.log.Debug().Str("peer", fmt.Sprintf("%T", p)).Msg("пир не является чатом или каналом, пропускаем")
		}
	}
	s.mu.Unlock()

	meta := make(map[int64]domain.SourceChat, len(order))
	if len(channels) > 0 {
		start := time.Now()
		res, err := s.api.ChannelsGetChannels(ctx, channels)
		metrics.ObserveNetworkRequest("mtproto", "get_channels", "", start, err)
		if err != nil {
			s.log.Warn().Err(err).Msg("не удалось получить описание каналов")
		} else {
			collectMeta(meta, res.GetChats())
		}
	}
	if len(chatIDs) > 0 {
		start := time.Now()
		res, err := s.api.MessagesGetChats(ctx, chatIDs)
		metrics.ObserveNetworkRequest("mtproto", "get_chats", "", start, err)
		if err != nil {
			s.log.Warn().Err(err).Msg("не удалось получить описание чатов")
		} else {
			collectMeta(meta, res.GetChats())
		}
	}

	if len(users) > 0 {
		start := time.Now()
		res, err := s.api.UsersGetUsers(ctx, users)
		metrics.ObserveNetworkRequest("mtproto", "get_users", "", start, err)
		if err != nil {
			s.log.Warn().Err(err).Msg("не удалось получить описание пользователей")
		} else {
			collectUsers(meta, res)
		}
	}

	out := make([]domain.SourceChat, 0, len(order))
	for _, id := range order {
		chat, ok := meta[id]
		if !ok {
			chat = domain.SourceChat{ID: id}
		}
		out = append(out, chat)
	}
	return out
}

func collectMeta(dst map[int64]domain.SourceChat, chats []tg.ChatClass) {
	for _, c := range chats {
		switch v := c.(type) {
		case *tg.Channel:
			id := MarkedChannelID(v.ID)
			dst[id] = domain.SourceChat{ID: id, Title: v.Title, Handle: v.Username}
		case *tg.ChannelForbidden:
			id := MarkedChannelID(v.ID)
			dst[id] = domain.SourceChat{ID: id, Title: v.Title}
		case *tg.Chat:
			id := MarkedChatID(v.ID)
			dst[id] = domain.SourceChat{ID: id, Title: v.Title}
		}
	}
}

func collectUsers(dst map[int64]domain.SourceChat, users []tg.UserClass) {
	for _, u := range users {
		v, ok := u.(*tg.User)
		if !ok {
			continue
		}
		title := strings.TrimSpace(v.FirstName + " " + v.LastName)
		if title == "" {
			title = v.Username
		}
		dst[v.ID] = domain.SourceChat{ID: v.ID, Title: title}
	}
}

func (s *Source) peer(id int64) (tg.InputPeerClass, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[id]
	return p, ok
}

// MarkedChannelID переводит идентификатор канала MTProto в форму Bot API (-100…).
func MarkedChannelID(id int64) int64 {
	return -(channelIDOffset + id)
}

// MarkedChatID переводит идентификатор обычной группы в форму Bot API.
func MarkedChatID(id int64) int64 {
	return -id
}

var _ domain.ScrapeSource = (*Source)(nil)
