package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"ezra-digest/internal/adapters/telegram"
	"ezra-digest/internal/domain"
	"ezra-digest/internal/infra/metrics"
	"ezra-digest/internal/usecase/channels"
	"ezra-digest/internal/usecase/ingest"
	"ezra-digest/internal/usecase/schedule"
)

// BotAPI — часть *tgbotapi.BotAPI, которой пользуется обработчик.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Forwarder принимает пересланные сообщения каналов.
type Forwarder interface {
	IngestForwarded(ctx context.Context, f ingest.Forwarded) ingest.ForwardReport
}

// Deps — зависимости обработчика.
type Deps struct {
	Channels  *channels.Service
	Forwarder Forwarder
	Users     domain.UserRepo
	Digests   domain.DigestRepo
	Jobs      domain.DigestQueue
	Policy    domain.AuthPolicy
	DigestAt  schedule.DailyTime
	Location  *time.Location
}

// Handler обслуживает апдейты бота.
type Handler struct {
	bot  BotAPI
	log  zerolog.Logger
	deps Deps
	now  func() time.Time
}

// NewHandler создаёт обработчик.
func NewHandler(bot BotAPI, log zerolog.Logger, deps Deps) *Handler {
	if deps.Location == nil {
		deps.Location = time.Local
	}
	return &Handler{bot: bot, log: log, deps: deps, now: time.Now}
}

// HandleUpdate обрабатывает входящий апдейт.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message != nil {
		h.handleMessage(ctx, upd.Message)
	} else if upd.CallbackQuery != nil {
		h.handleCallback(ctx, upd.CallbackQuery)
	}
}

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.ForwardFromChat != nil {
		h.handleForwarded(ctx, msg)
		return
	}
	if !msg.IsCommand() {
		return
	}
	args := strings.TrimSpace(msg.CommandArguments())
	switch msg.Command() {
	case "start":
		h.handleStart(ctx, msg)
	case "stop":
		h.handleStop(ctx, msg)
	case "digest":
		h.handleDigest(ctx, msg.Chat.ID)
	case "help":
		h.handleHelp(msg.Chat.ID, h.privileged(msg.From))
	case "list_channels":
		if h.requirePrivilege(msg) {
			h.handleListChannels(ctx, msg.Chat.ID)
		}
	case "add_channel":
		if h.requirePrivilege(msg) {
			h.handleAddChannel(ctx, msg.Chat.ID, msg.From.ID, args)
		}
	case "remove_channel":
		if h.requirePrivilege(msg) {
			h.handleRemoveChannel(ctx, msg.Chat.ID, args)
		}
	case "regenerate":
		if h.requirePrivilege(msg) {
			h.handleRegenerate(ctx, msg.Chat.ID, msg.From.ID)
		}
	default:
		h.reply(msg.Chat.ID, "Неизвестная команда. Используйте /help", nil)
	}
}

func (h *Handler) privileged(from *tgbotapi.User) bool {
	if from == nil {
		return false
	}
	return h.deps.Policy.IsPrivileged(from.ID, from.UserName)
}

func (h *Handler) requirePrivilege(msg *tgbotapi.Message) bool {
	if h.privileged(msg.From) {
		return true
	}
	h.reply(msg.Chat.ID, "Команда доступна только администраторам.", nil)
	return false
}

func (h *Handler) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		h.reply(msg.Chat.ID, "Не удалось определить пользователя", nil)
		return
	}
	if _, err := h.deps.Users.UpsertUser(ctx, msg.From.ID, msg.From.UserName); err != nil {
		h.log.Error().Err(err).Int64("user_id", msg.From.ID).Msg("не удалось сохранить пользователя")
		h.reply(msg.Chat.ID, "Не удалось сохранить профиль, попробуйте позже.", nil)
		return
	}
	if err := h.deps.Users.SetSubscribed(ctx, msg.From.ID, true); err != nil {
		h.log.Error().Err(err).Int64("user_id", msg.From.ID).Msg("не удалось оформить подписку")
		h.reply(msg.Chat.ID, "Не удалось оформить подписку, попробуйте позже.", nil)
		return
	}
	h.reply(msg.Chat.ID, h.buildStartMessage(), h.mainKeyboard())
}

func (h *Handler) handleStop(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		h.reply(msg.Chat.ID, "Не удалось определить пользователя", nil)
		return
	}
	if err := h.deps.Users.SetSubscribed(ctx, msg.From.ID, false); err != nil {
		h.log.Error().Err(err).Int64("user_id", msg.From.ID).Msg("не удалось отменить подписку")
		h.reply(msg.Chat.ID, "Не удалось отменить подписку, попробуйте позже.", nil)
		return
	}
	h.reply(msg.Chat.ID, "Вы отписались от ежедневного дайджеста. Чтобы подписаться снова, отправьте /start.", nil)
}

func (h *Handler) handleDigest(ctx context.Context, chatID int64) {
	d, err := h.deps.Digests.LatestDigest(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		h.reply(chatID, fmt.Sprintf("Дайджеста пока нет. Ежедневный дайджест формируется в %s.", h.deps.DigestAt), nil)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("не удалось получить дайджест")
		h.reply(chatID, "Не удалось получить дайджест, попробуйте позже.", nil)
		return
	}
	h.replyMarkdown(chatID, d.Content)
}

func (h *Handler) handleHelp(chatID int64, privileged bool) {
	h.reply(chatID, h.buildHelpMessage(privileged), h.mainKeyboard())
}

func (h *Handler) handleListChannels(ctx context.Context, chatID int64) {
	list, err := h.deps.Channels.ListChannels(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("не удалось получить каналы")
		h.reply(chatID, "Не удалось получить список каналов.", nil)
		return
	}
	h.replyMarkdown(chatID, channels.FormatList(list))
}

func (h *Handler) handleAddChannel(ctx context.Context, chatID, userID int64, args string) {
	if args == "" {
		h.reply(chatID, "Использование: /add_channel <id канала или @алиас>", nil)
		return
	}
	ref, err := channels.ParseChatRef(args)
	if err != nil {
		h.reply(chatID, "❌ Некорректный идентификатор канала.", nil)
		return
	}
	ch, created, err := h.deps.Channels.AddChannel(ctx, userID, ref)
	if err != nil {
		h.log.Warn().Err(err).Str("ref", ref.String()).Msg("не удалось добавить канал")
		h.reply(chatID, "❌ Не удалось добавить канал: "+err.Error(), nil)
		return
	}
	if created {
		h.reply(chatID, "✅ Канал добавлен: "+ch.Name, nil)
		return
	}
	h.reply(chatID, "Канал уже отслеживается, данные обновлены: "+ch.Name, nil)
}

func (h *Handler) handleRemoveChannel(ctx context.Context, chatID int64, args string) {
	if args == "" {
		h.reply(chatID, "Использование: /remove_channel <id канала>", nil)
		return
	}
	id, err := channels.ParseChannelID(args)
	if err != nil {
		h.reply(chatID, "❌ Некорректный идентификатор канала.", nil)
		return
	}
	removed, err := h.deps.Channels.RemoveChannel(ctx, id)
	if err != nil {
		h.log.Error().Err(err).Int64("channel_id", id).Msg("не удалось удалить канал")
		h.reply(chatID, fmt.Sprintf("❌ Не удалось удалить канал %d", id), nil)
		return
	}
	if !removed {
		h.reply(chatID, fmt.Sprintf("Канал %d не найден.", id), nil)
		return
	}
	h.reply(chatID, fmt.Sprintf("✅ Канал %d удалён", id), nil)
}

func (h *Handler) handleRegenerate(ctx context.Context, chatID, userID int64) {
	now := h.now().In(h.deps.Location)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, h.deps.Location)
	job := schedule.NewRegenerateJob(chatID, userID, today)
	if err := h.deps.Jobs.Enqueue(ctx, job); err != nil {
		h.log.Error().Err(err).Str("job_id", job.ID).Msg("не удалось поставить задачу в очередь")
		h.reply(chatID, "❌ Не удалось запустить пересборку, попробуйте позже.", nil)
		return
	}
	h.log.Info().Str("job_id", job.ID).Int64("requested_by", userID).Msg("пересборка дайджеста поставлена в очередь")
	h.reply(chatID, "🔄 Пересобираю дайджест за сегодня…", nil)
}

func (h *Handler) handleForwarded(ctx context.Context, msg *tgbotapi.Message) {
	if !h.privileged(msg.From) {
		return
	}
	origin := msg.ForwardFromChat
	if !origin.IsChannel() && !origin.IsSuperGroup() {
		return
	}
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	var original time.Time
	if msg.ForwardDate != 0 {
		original = time.Unix(int64(msg.ForwardDate), 0)
	}
	report := h.deps.Forwarder.IngestForwarded(ctx, ingest.Forwarded{
		ChannelID:     origin.ID,
		ChannelTitle:  origin.Title,
		ChannelHandle: origin.UserName,
		MessageID:     msg.ForwardFromMessageID,
		Text:          text,
		OriginalDate:  original,
		ReceivedAt:    msg.Time(),
		SenderID:      msg.From.ID,
	})
	h.reply(msg.Chat.ID, forwardReply(origin.Title, report), nil)
}

func forwardReply(title string, r ingest.ForwardReport) string {
	var content string
	if r.HasContent {
		switch r.Admission.Outcome {
		case ingest.OutcomeAccepted:
			content = "📝 Сообщение сохранено!"
		case ingest.OutcomeDuplicate:
			content = "Такое сообщение уже есть."
		case ingest.OutcomeStoreError:
			content = "❌ Не удалось сохранить сообщение."
		}
	}
	switch {
	case r.ChannelErr != nil && content == "":
		return "❌ Не удалось сохранить канал."
	case r.ChannelErr != nil:
		return "❌ Не удалось сохранить канал.\n" + content
	case r.ChannelCreated:
		text := "✅ Канал добавлен: " + title
		if content != "" {
			text += "\n" + content
		}
		return text + "\n\nПересылайте ещё сообщения из этого канала, чтобы наполнить дайджест!"
	case content == "":
		return "Канал уже отслеживается."
	case r.Admission.Outcome == ingest.OutcomeAccepted:
		return "📝 Сообщение из известного канала сохранено!"
	default:
		return content
	}
}

func (h *Handler) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if _, err := h.bot.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		h.log.Warn().Err(err).Msg("не удалось ответить на callback")
	}
	if cb.Message == nil {
		return
	}
	switch cb.Data {
	case "digest":
		h.handleDigest(ctx, cb.Message.Chat.ID)
	case "help":
		h.handleHelp(cb.Message.Chat.ID, h.privileged(cb.From))
	}
}

func (h *Handler) reply(chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) {
	h.send(chatID, text, "", keyboard)
}

func (h *Handler) replyMarkdown(chatID int64, text string) {
	h.send(chatID, text, tgbotapi.ModeMarkdown, nil)
}

func (h *Handler) send(chatID int64, text, parseMode string, keyboard *tgbotapi.InlineKeyboardMarkup) {
	parts := telegram.SplitMessage(text)
	for i, part := range parts {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = parseMode
		msg.DisableWebPagePreview = true
		if i == 0 && keyboard != nil {
			msg.ReplyMarkup = keyboard
		}
		start := time.Now()
		_, err := h.bot.Send(msg)
		if err != nil && parseMode != "" && telegram.IsParseError(err) {
			msg.ParseMode = ""
			_, err = h.bot.Send(msg)
		}
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(chatID, 10), start, err)
		if err != nil {
			h.log.Error().Err(err).Msg("не удалось отправить сообщение")
			return
		}
	}
}

func (h *Handler) mainKeyboard() *tgbotapi.InlineKeyboardMarkup {
	buttons := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📰 Дайджест", "digest"),
			tgbotapi.NewInlineKeyboardButtonData("ℹ️ Помощь", "help"),
		),
	)
	return &buttons
}

func (h *Handler) buildStartMessage() string {
	return fmt.Sprintf("Добро пожаловать в Ezra! 🤖\n\n"+
		"Вы подписаны на ежедневный дайджест в %s.\n"+
		"/digest — последний дайджест в любое время.\n"+
		"/stop — отписаться от рассылки.", h.deps.DigestAt)
}

func (h *Handler) buildHelpMessage(privileged bool) string {
	lines := []string{
		"Команды:",
		"/start — подписаться на ежедневный дайджест",
		"/stop — отписаться",
		"/digest — последний дайджест",
		"/help — эта справка",
	}
	if privileged {
		lines = append(lines,
			"",
			"Администрирование:",
			"/list_channels — список каналов",
			"/add_channel <id или @алиас> — добавить канал",
			"/remove_channel <id> — удалить канал",
			"/regenerate — пересобрать и разослать дайджест за сегодня",
			"Перешлите сообщение из канала, чтобы добавить канал и сохранить текст.",
		)
	}
	return strings.Join(lines, "\n")
}
