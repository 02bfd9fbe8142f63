package bot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"ezra-digest/internal/domain"
	"ezra-digest/internal/infra/queue"
	"ezra-digest/internal/usecase/channels"
	"ezra-digest/internal/usecase/ingest"
	"ezra-digest/internal/usecase/schedule"
)

type fakeBot struct {
	sent []tgbotapi.MessageConfig
	// failures отдаются по одной на каждый Send.
	failures []error
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return tgbotapi.Message{}, err
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeBot) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeBot) last() string {
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1].Text
}

type stubStore struct {
	users    map[int64]domain.User
	channels map[int64]domain.Channel
	latest   *domain.Digest
}

func newStubStore() *stubStore {
	return &stubStore{users: map[int64]domain.User{}, channels: map[int64]domain.Channel{}}
}

func (s *stubStore) UpsertUser(_ context.Context, id int64, username string) (domain.User, error) {
	u := s.users[id]
	u.ID = id
	if username != "" {
		u.Username = username
	}
	s.users[id] = u
	return u, nil
}
func (s *stubStore) GetUser(_ context.Context, id int64) (domain.User, error) {
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}
func (s *stubStore) SetSubscribed(_ context.Context, id int64, v bool) error {
	if u, ok := s.users[id]; ok {
		u.Subscribed = v
		s.users[id] = u
	}
	return nil
}
func (s *stubStore) ListSubscribed(context.Context) ([]domain.User, error) { return nil, nil }
func (s *stubStore) SaveDigest(context.Context, time.Time, string) (domain.Digest, error) {
	return domain.Digest{}, nil
}
func (s *stubStore) LatestDigest(context.Context) (domain.Digest, error) {
	if s.latest == nil {
		return domain.Digest{}, domain.ErrNotFound
	}
	return *s.latest, nil
}
func (s *stubStore) UpsertChannel(_ context.Context, ch domain.Channel) (bool, error) {
	_, ok := s.channels[ch.ID]
	s.channels[ch.ID] = ch
	return !ok, nil
}
func (s *stubStore) RemoveChannel(_ context.Context, id int64) (bool, error) {
	_, ok := s.channels[id]
	delete(s.channels, id)
	return ok, nil
}
func (s *stubStore) ListChannels(context.Context) ([]domain.Channel, error) {
	var out []domain.Channel
	for _, ch := range s.channels {
		out = append(out, ch)
	}
	return out, nil
}

type stubResolver struct{}

func (stubResolver) ResolveChat(_ context.Context, ref channels.ChatRef) (domain.SourceChat, error) {
	return domain.SourceChat{ID: ref.ID, Title: "Resolved"}, nil
}

type fakeForwarder struct {
	got    []ingest.Forwarded
	report ingest.ForwardReport
}

func (f *fakeForwarder) IngestForwarded(_ context.Context, fw ingest.Forwarded) ingest.ForwardReport {
	f.got = append(f.got, fw)
	return f.report
}

type fixture struct {
	bot   *fakeBot
	store *stubStore
	fwd   *fakeForwarder
	jobs  *queue.MemoryDigestQueue
	h     *Handler
}

func newFixture() *fixture {
	f := &fixture{
		bot:   &fakeBot{},
		store: newStubStore(),
		fwd:   &fakeForwarder{},
		jobs:  queue.NewMemoryDigestQueue(4),
	}
	f.h = NewHandler(f.bot, zerolog.Nop(), Deps{
		Channels:  channels.NewService(f.store, stubResolver{}),
		Forwarder: f.fwd,
		Users:     f.store,
		Digests:   f.store,
		Jobs:      f.jobs,
		Policy:    domain.NewAuthPolicy(nil, []string{"admin"}),
		DigestAt:  schedule.DailyTime{Hour: 8},
		Location:  time.UTC,
	})
	return f
}

func command(text string, userID int64, username string) tgbotapi.Update {
	name := strings.SplitN(text, " ", 2)[0]
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Text:     text,
		Chat:     &tgbotapi.Chat{ID: userID},
		From:     &tgbotapi.User{ID: userID, UserName: username},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}},
	}}
}

func TestStartSubscribes(t *testing.T) {
	f := newFixture()
	f.h.HandleUpdate(context.Background(), command("/start", 42, "alice"))

	if !f.store.users[42].Subscribed {
		t.Fatal("ожидали подписку после /start")
	}
	if !strings.Contains(f.bot.last(), "08:00") {
		t.Fatalf("ожидали время рассылки в приветствии: %q", f.bot.last())
	}

	f.h.HandleUpdate(context.Background(), command("/stop", 42, "alice"))
	if f.store.users[42].Subscribed {
		t.Fatal("ожидали отписку после /stop")
	}
}

func TestDigestWithoutDigestExplainsSchedule(t *testing.T) {
	f := newFixture()
	f.h.HandleUpdate(context.Background(), command("/digest", 1, ""))
	if !strings.Contains(f.bot.last(), "Дайджеста пока нет") {
		t.Fatalf("неожиданный ответ %q", f.bot.last())
	}

	f.store.latest = &domain.Digest{Content: "*итоги*"}
	f.h.HandleUpdate(context.Background(), command("/digest", 1, ""))
	last := f.bot.sent[len(f.bot.sent)-1]
	if last.Text != "*итоги*" || last.ParseMode != tgbotapi.ModeMarkdown {
		t.Fatalf("ожидали дайджест в Markdown, получили %+v", last)
	}
}

func TestMarkdownReplyFallsBackOnlyOnParseError(t *testing.T) {
	f := newFixture()
	f.store.latest = &domain.Digest{Content: "*итоги"}
	f.bot.failures = []error{errors.New("Bad Request: can't parse entities: can't find end of the entity")}
	f.h.HandleUpdate(context.Background(), command("/digest", 1, ""))
	if len(f.bot.sent) != 2 || f.bot.sent[1].ParseMode != "" {
		t.Fatalf("ожидали повтор без разметки, отправлено %+v", f.bot.sent)
	}

	f = newFixture()
	f.store.latest = &domain.Digest{Content: "*итоги*"}
	f.bot.failures = []error{errors.New("Post \"https://api.telegram.org\": i/o timeout")}
	f.h.HandleUpdate(context.Background(), command("/digest", 1, ""))
	if len(f.bot.sent) != 1 {
		t.Fatalf("сетевая ошибка не должна приводить к повторной отправке, отправлено %d", len(f.bot.sent))
	}
}

func TestPrivilegedCommandsRequirePolicy(t *testing.T) {
	f := newFixture()
	f.h.HandleUpdate(context.Background(), command("/add_channel -1001", 5, "mallory"))
	if !strings.Contains(f.bot.last(), "только администраторам") {
		t.Fatalf("ожидали отказ, получили %q", f.bot.last())
	}
	if len(f.store.channels) != 0 {
		t.Fatal("канал не должен добавляться")
	}
}

func TestAddAndRemoveChannel(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.h.HandleUpdate(ctx, command("/add_channel -1001", 5, "Admin"))
	if f.store.channels[-1001].Name != "Resolved" || f.store.channels[-1001].AddedBy != 5 {
		t.Fatalf("ожидали сохранённый канал, получили %+v", f.store.channels)
	}
	f.h.HandleUpdate(ctx, command("/remove_channel -1001", 5, "admin"))
	if _, ok := f.store.channels[-1001]; ok {
		t.Fatal("ожидали удаление канала")
	}
	f.h.HandleUpdate(ctx, command("/remove_channel abc", 5, "admin"))
	if !strings.Contains(f.bot.last(), "Некорректный") {
		t.Fatalf("неожиданный ответ %q", f.bot.last())
	}
}

func TestRegenerateEnqueuesJob(t *testing.T) {
	f := newFixture()
	f.h.now = func() time.Time { return time.Date(2024, 5, 1, 15, 0, 0, 0, time.UTC) }
	f.h.HandleUpdate(context.Background(), command("/regenerate", 5, "admin"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	job, _, err := f.jobs.Receive(ctx)
	if err != nil {
		t.Fatalf("ожидали задачу в очереди: %v", err)
	}
	if job.Kind != domain.DigestJobRegenerate || job.ChatID != 5 || domain.DateKey(job.Date) != "2024-05-01" {
		t.Fatalf("неожиданная задача %+v", job)
	}
}

func forwarded(username string, chatType string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Date:                 1714550400,
		Text:                 "новость",
		Chat:                 &tgbotapi.Chat{ID: 5},
		From:                 &tgbotapi.User{ID: 5, UserName: username},
		ForwardFromChat:      &tgbotapi.Chat{ID: -1001234, Type: chatType, Title: "AI", UserName: "ai"},
		ForwardFromMessageID: 77,
		ForwardDate:          1714546800,
	}}
}

func TestForwardedFromAdminIsIngested(t *testing.T) {
	f := newFixture()
	f.fwd.report = ingest.ForwardReport{ChannelCreated: true, HasContent: true, Admission: ingest.Admission{Outcome: ingest.OutcomeAccepted}}
	f.h.HandleUpdate(context.Background(), forwarded("admin", "channel"))

	if len(f.fwd.got) != 1 {
		t.Fatalf("ожидали один вызов, получили %d", len(f.fwd.got))
	}
	got := f.fwd.got[0]
	if got.ChannelID != -1001234 || got.MessageID != 77 || got.ChannelHandle != "ai" || got.SenderID != 5 {
		t.Fatalf("неожиданные поля %+v", got)
	}
	if got.OriginalDate.Unix() != 1714546800 || got.ReceivedAt.Unix() != 1714550400 {
		t.Fatalf("неожиданные даты %+v", got)
	}
	if !strings.Contains(f.bot.last(), "Канал добавлен: AI") {
		t.Fatalf("неожиданный ответ %q", f.bot.last())
	}
}

func TestForwardedIgnoredForOthers(t *testing.T) {
	f := newFixture()
	f.h.HandleUpdate(context.Background(), forwarded("mallory", "channel"))
	f.h.HandleUpdate(context.Background(), forwarded("admin", "private"))
	if len(f.fwd.got) != 0 || len(f.bot.sent) != 0 {
		t.Fatal("сообщение не должно обрабатываться")
	}
}

func TestForwardReply(t *testing.T) {
	cases := []struct {
		report ingest.ForwardReport
		want   string
	}{
		{ingest.ForwardReport{ChannelCreated: true}, "✅ Канал добавлен: AI\n\nПересылайте"},
		{ingest.ForwardReport{}, "Канал уже отслеживается."},
		{ingest.ForwardReport{HasContent: true, Admission: ingest.Admission{Outcome: ingest.OutcomeAccepted}}, "📝 Сообщение из известного канала сохранено!"},
		{ingest.ForwardReport{HasContent: true, Admission: ingest.Admission{Outcome: ingest.OutcomeDuplicate}}, "Такое сообщение уже есть."},
		{ingest.ForwardReport{HasContent: true, Admission: ingest.Admission{Outcome: ingest.OutcomeStoreError}}, "❌ Не удалось сохранить сообщение."},
	}
	for _, tc := range cases {
		if got := forwardReply("AI", tc.report); !strings.HasPrefix(got, tc.want) {
			t.Fatalf("forwardReply(%+v) = %q, want prefix %q", tc.report, got, tc.want)
		}
	}
}
