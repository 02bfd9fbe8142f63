package schedule

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ezra-digest/internal/domain"
	"ezra-digest/internal/infra/queue"
	"ezra-digest/internal/usecase/delivery"
	"ezra-digest/internal/usecase/digest"
)

type stubStore struct {
	mu          sync.Mutex
	unprocessed []domain.Message
	forDate     []domain.Message
	marked      []int64
	saved       []domain.Digest
	slots       map[string]bool
	subscribers []domain.User
}

func newStubStore() *stubStore { return &stubStore{slots: map[string]bool{}} }

func (s *stubStore) InsertMessageIfNew(context.Context, domain.Message) (domain.Message, bool, error) {
	return domain.Message{}, false, nil
}
func (s *stubStore) ListUnprocessed(context.Context) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Message
	for _, m := range s.unprocessed {
		if !m.Processed {
			out = append(out, m)
		}
	}
	return out, nil
}
func (s *stubStore) ListMessagesForDate(context.Context, time.Time) ([]domain.Message, error) {
	return s.forDate, nil
}
func (s *stubStore) MarkProcessed(_ context.Context, ids []int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, ids...)
	for i := range s.unprocessed {
		for _, id := range ids {
			if s.unprocessed[i].ID == id {
				s.unprocessed[i].Processed = true
			}
		}
	}
	return int64(len(ids)), nil
}
func (s *stubStore) SaveDigest(_ context.Context, date time.Time, content string) (domain.Digest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := domain.Digest{ID: int64(len(s.saved) + 1), Date: date, Content: content}
	s.saved = append(s.saved, d)
	return d, nil
}
func (s *stubStore) LatestDigest(context.Context) (domain.Digest, error) {
	return domain.Digest{}, domain.ErrNotFound
}
func (s *stubStore) AcquireScheduleSlot(_ context.Context, slot string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.slots[slot] {
		return false, nil
	}
	s.slots[slot] = true
	return true, nil
}
func (s *stubStore) UpsertUser(context.Context, int64, string) (domain.User, error) {
	return domain.User{}, nil
}
func (s *stubStore) GetUser(context.Context, int64) (domain.User, error) { return domain.User{}, nil }
func (s *stubStore) SetSubscribed(context.Context, int64, bool) error     { return nil }
func (s *stubStore) ListSubscribed(context.Context) ([]domain.User, error) {
	return s.subscribers, nil
}

type echoSummarizer struct{}

func (echoSummarizer) Summarize(_ context.Context, messages []domain.Message) (string, error) {
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, "|"), nil
}

type recordingSender struct {
	mu   sync.Mutex
	sent map[int64][]string
}

func (r *recordingSender) Send(_ context.Context, chatID int64, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sent == nil {
		r.sent = map[int64][]string{}
	}
	r.sent[chatID] = append(r.sent[chatID], text)
	return nil
}

func newScheduler(store *stubStore, sender *recordingSender, now time.Time) *Service {
	digestSvc := digest.NewService(store, store, echoSummarizer{}, nil, time.UTC, zerolog.Nop())
	deliverySvc := delivery.NewService(store, sender, time.Second, zerolog.Nop())
	svc := NewService(digestSvc, deliverySvc, store, DailyTime{Hour: 8}, time.UTC, zerolog.Nop())
	svc.now = func() time.Time { return now }
	return svc
}

func TestParseDailyTime(t *testing.T) {
	at, err := ParseDailyTime(" 08:05 ")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if at.Hour != 8 || at.Minute != 5 || at.String() != "08:05" {
		t.Fatalf("неожиданное время %+v", at)
	}
	for _, raw := range []string{"8", "24:00", "08:60", "aa:bb", ""} {
		if _, err := ParseDailyTime(raw); err == nil {
			t.Fatalf("ожидали ошибку для %q", raw)
		}
	}
}

func TestParseLocationNormalizes(t *testing.T) {
	loc, err := ParseLocation("europe/moscow")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if loc.String() != "Europe/Moscow" {
		t.Fatalf("ожидали Europe/Moscow, получили %s", loc)
	}
	if _, err := ParseLocation("Mars/Base"); err == nil {
		t.Fatal("ожидали ошибку для неизвестной зоны")
	}
}

func TestDueWindow(t *testing.T) {
	svc := newScheduler(newStubStore(), &recordingSender{}, time.Time{})
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		at   time.Time
		want bool
	}{
		{day.Add(7*time.Hour + 59*time.Minute), false},
		{day.Add(8 * time.Hour), true},
		{day.Add(8*time.Hour + 4*time.Minute), true},
		{day.Add(8*time.Hour + 5*time.Minute), false},
	}
	for _, tc := range cases {
		if _, ok := svc.due(tc.at); ok != tc.want {
			t.Fatalf("due(%s) = %v, want %v", tc.at.Format("15:04"), ok, tc.want)
		}
	}
}

func TestTickFiresOncePerDay(t *testing.T) {
	store := newStubStore()
	store.unprocessed = []domain.Message{{ID: 1, Content: "a", AuthoredAt: time.Now()}}
	store.subscribers = []domain.User{{ID: 10}, {ID: 11}}
	sender := &recordingSender{}
	svc := newScheduler(store, sender, time.Date(2024, 5, 1, 8, 1, 0, 0, time.UTC))

	svc.tick(context.Background())
	svc.tick(context.Background())

	if len(store.saved) != 1 {
		t.Fatalf("ожидали один дайджест, получили %d", len(store.saved))
	}
	if len(sender.sent[10]) != 1 || len(sender.sent[11]) != 1 {
		t.Fatalf("ожидали одну доставку каждому, получили %v", sender.sent)
	}
	if !store.slots["daily:2024-05-01"] {
		t.Fatal("ожидали занятый слот")
	}
}

func TestTriggerEmptyDoesNotBroadcast(t *testing.T) {
	store := newStubStore()
	store.subscribers = []domain.User{{ID: 10}}
	sender := &recordingSender{}
	svc := newScheduler(store, sender, time.Now())

	report, err := svc.Trigger(context.Background(), digest.Unprocessed())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !report.Cycle.Empty || len(sender.sent) != 0 {
		t.Fatalf("пустой цикл не должен рассылать: %+v", report)
	}
}

func TestWorkerRegenerateNotifiesRequester(t *testing.T) {
	store := newStubStore()
	store.forDate = []domain.Message{{ID: 1, Content: "a", AuthoredAt: time.Now(), Processed: true}}
	store.subscribers = []domain.User{{ID: 10}, {ID: 11}}
	sender := &recordingSender{}
	svc := newScheduler(store, sender, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	q := queue.NewMemoryDigestQueue(1)
	worker := NewWorker(q, svc, sender, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := q.Enqueue(ctx, NewRegenerateJob(99, 7, time.Time{})); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		sender.mu.Lock()
		n := len(sender.sent[99])
		sender.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("не дождались уведомления")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done

	if len(store.marked) != 0 {
		t.Fatal("пересборка не должна помечать сообщения")
	}
	if domain.DateKey(store.saved[0].Date) != "2024-05-01" {
		t.Fatalf("ожидали сегодняшнюю дату, получили %s", store.saved[0].Date)
	}
	if !strings.Contains(sender.sent[99][0], "2 из 2") {
		t.Fatalf("неожиданное уведомление %q", sender.sent[99][0])
	}
}
