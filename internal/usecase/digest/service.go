package digest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"ezra-digest/internal/domain"
	"ezra-digest/internal/infra/lock"
	"ezra-digest/internal/infra/metrics"
)

type selectionKind int

const (
	selectUnprocessed selectionKind = iota
	selectCalendarDay
)

// Selection определяет, какие сообщения попадут в дайджест.
type Selection struct {
	kind selectionKind
	day  time.Time
}

// Unprocessed выбирает все необработанные сообщения. После сохранения они помечаются обработанными.
func Unprocessed() Selection {
	return Selection{kind: selectUnprocessed}
}

// CalendarDay выбирает все сообщения календарного дня независимо от статуса и ничего не помечает.
func CalendarDay(day time.Time) Selection {
	return Selection{kind: selectCalendarDay, day: day}
}

// String возвращает метку выборки для логов и метрик.
func (s Selection) String() string {
	if s.kind == selectCalendarDay {
		return "calendar_day"
	}
	return "unprocessed"
}

// MarksProcessed сообщает, помечает ли выборка сообщения обработанными.
func (s Selection) MarksProcessed() bool {
	return s.kind == selectUnprocessed
}

// Result — итог цикла построения.
type Result struct {
	Digest   domain.Digest
	Empty    bool
	Messages int
	Marked   int64
}

// Service строит дайджест из накопленных сообщений.
type Service struct {
	messages   domain.MessageRepo
	digests    domain.DigestRepo
	summarizer domain.Summarizer
	locker     domain.DateLocker
	loc        *time.Location
	now        func() time.Time
	log        zerolog.Logger
}

// NewService создаёт сервис дайджестов. Без locker используется блокировка в памяти процесса.
func NewService(messages domain.MessageRepo, digests domain.DigestRepo, summarizer domain.Summarizer, locker domain.DateLocker, loc *time.Location, logger zerolog.Logger) *Service {
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		messages:   messages,
		digests:    digests,
		summarizer: summarizer,
		locker:     locker,
		loc:        loc,
		now:        time.Now,
		log:        logger,
	}
}

// Today возвращает текущую дату в зоне сервиса.
func (s *Service) Today() time.Time {
	now := s.now().In(s.loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
}

func (s *Service) digestDate(sel Selection) time.Time {
	if sel.kind == selectCalendarDay {
		d := sel.day.In(s.loc)
		return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, s.loc)
	}
	return s.Today()
}

// RunCycle выполняет один цикл: выборка, суммаризация, сохранение и, для Unprocessed, отметка.
// Циклы за одну дату выполняются последовательно. Любая ошибка прерывает оставшиеся шаги.
func (s *Service) RunCycle(ctx context.Context, sel Selection) (res Result, err error) {
	start := time.Now()
	date := s.digestDate(sel)
	logger := s.log.With().Str("selection", sel.String()).Str("date", domain.DateKey(date)).Logger()
	defer func() {
		metrics.ObserveDigestCycle(sel.String(), start, err)
		if err != nil {
			logger.Error().Err(err).Msg("построение дайджеста не удалось")
		}
	}()

	unlock, err := s.locker.Lock(ctx, "digest:"+domain.DateKey(date))
	if err != nil {
		return Result{}, fmt.Errorf("блокировка даты: %w", err)
	}
	defer unlock()

	var messages []domain.Message
	if sel.kind == selectCalendarDay {
		messages, err = s.messages.ListMessagesForDate(ctx, date)
	} else {
		messages, err = s.messages.ListUnprocessed(ctx)
	}
	if err != nil {
		return Result{}, fmt.Errorf("получение сообщений: %w", err)
	}
	if len(messages) == 0 {
		logger.Info().Msg("нет сообщений для дайджеста")
		return Result{Empty: true}, nil
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].AuthoredAt.After(messages[j].AuthoredAt)
	})

	text, err := s.summarizer.Summarize(ctx, messages)
	if err != nil {
		return Result{}, fmt.Errorf("суммаризация: %w", err)
	}

	saved, err := s.digests.SaveDigest(ctx, date, text)
	if err != nil {
		return Result{}, fmt.Errorf("сохранение дайджеста: %w", err)
	}
	res = Result{Digest: saved, Messages: len(messages)}

	if sel.MarksProcessed() {
		ids := make([]int64, 0, len(messages))
		for _, m := range messages {
			ids = append(ids, m.ID)
		}
		marked, err := s.messages.MarkProcessed(ctx, ids)
		if err != nil {
			return Result{}, fmt.Errorf("отметка обработанных: %w", err)
		}
		res.Marked = marked
	}

	logger.Info().Int("messages", res.Messages).Int64("marked", res.Marked).Msg("дайджест построен")
	return res, nil
}
