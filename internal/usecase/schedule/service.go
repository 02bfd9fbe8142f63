package schedule

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ezra-digest/internal/domain"
	"ezra-digest/internal/usecase/delivery"
	"ezra-digest/internal/usecase/digest"
)

// ErrInvalidTimezone возвращается, если указан некорректный часовой пояс.
var ErrInvalidTimezone = errors.New("invalid timezone")

// ErrInvalidDailyTime возвращается, если время не в формате HH:MM.
var ErrInvalidDailyTime = errors.New("invalid daily time")

// triggerWindow — сколько минут после назначенного времени ещё допускается плановый запуск.
const triggerWindow = 5 * time.Minute

// DailyTime — время суток ежедневного запуска.
type DailyTime struct {
	Hour   int
	Minute int
}

func (d DailyTime) String() string {
	return fmt.Sprintf("%02d:%02d", d.Hour, d.Minute)
}

// ParseDailyTime разбирает строку HH:MM.
func ParseDailyTime(raw string) (DailyTime, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 2 {
		return DailyTime{}, ErrInvalidDailyTime
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return DailyTime{}, ErrInvalidDailyTime
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return DailyTime{}, ErrInvalidDailyTime
	}
	return DailyTime{Hour: h, Minute: m}, nil
}

// ParseLocation загружает часовой пояс, допуская вольное написание вроде "europe/moscow".
func ParseLocation(raw string) (*time.Location, error) {
	name, err := normalizeTimezone(raw)
	if err != nil {
		return nil, err
	}
	return time.LoadLocation(name)
}

// TriggerReport — итог запуска: построение и рассылка.
type TriggerReport struct {
	Cycle    digest.Result
	Delivery delivery.Report
}

// Service запускает построение и рассылку по расписанию и по запросу.
type Service struct {
	digests  *digest.Service
	delivery *delivery.Service
	slots    domain.ScheduleRepo
	at       DailyTime
	loc      *time.Location
	now      func() time.Time
	log      zerolog.Logger
}

// NewService создаёт планировщик.
func NewService(digests *digest.Service, deliverySvc *delivery.Service, slots domain.ScheduleRepo, at DailyTime, loc *time.Location, logger zerolog.Logger) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		digests:  digests,
		delivery: deliverySvc,
		slots:    slots,
		at:       at,
		loc:      loc,
		now:      time.Now,
		log:      logger,
	}
}

// Today возвращает текущую дату в зоне планировщика.
func (s *Service) Today() time.Time {
	now := s.now().In(s.loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
}

// Trigger строит дайджест по выборке и рассылает его подписчикам.
// Пустой цикл ничего не рассылает.
func (s *Service) Trigger(ctx context.Context, sel digest.Selection) (TriggerReport, error) {
	res, err := s.digests.RunCycle(ctx, sel)
	if err != nil {
		return TriggerReport{}, err
	}
	report := TriggerReport{Cycle: res}
	if res.Empty {
		return report, nil
	}
	report.Delivery, err = s.delivery.Broadcast(ctx, res.Digest.Content)
	if err != nil {
		return report, fmt.Errorf("рассылка: %w", err)
	}
	return report, nil
}

// RunDaily раз в минуту проверяет, пора ли строить плановый дайджест. Блокируется до отмены ctx.
func (s *Service) RunDaily(ctx context.Context) error {
	s.log.Info().Str("at", s.at.String()).Str("tz", s.loc.String()).Msg("ежедневный запуск включён")
	s.tick(ctx)
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// due сообщает, попадает ли момент в окно запуска, и возвращает дату слота.
func (s *Service) due(now time.Time) (time.Time, bool) {
	local := now.In(s.loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), s.at.Hour, s.at.Minute, 0, 0, s.loc)
	if local.Before(start) || !local.Before(start.Add(triggerWindow)) {
		return time.Time{}, false
	}
	return start, true
}

func (s *Service) tick(ctx context.Context) {
	slotTime, ok := s.due(s.now())
	if !ok {
		return
	}
	slot := "daily:" + domain.DateKey(slotTime)
	acquired, err := s.slots.AcquireScheduleSlot(ctx, slot)
	if err != nil {
		s.log.Error().Err(err).Str("slot", slot).Msg("не удалось занять слот расписания")
		return
	}
	if !acquired {
		return
	}
	report, err := s.Trigger(ctx, digest.Unprocessed())
	if err != nil {
		s.log.Error().Err(err).Str("slot", slot).Msg("плановый дайджест не построен")
		return
	}
	s.log.Info().
		Str("slot", slot).
		Bool("empty", report.Cycle.Empty).
		Int("delivered", report.Delivery.Delivered).
		Int("recipients", report.Delivery.Recipients).
		Msg("плановый дайджест выполнен")
}

func normalizeTimezone(raw string) (string, error) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return "", ErrInvalidTimezone
	}
	candidate = strings.ReplaceAll(candidate, " ", "_")
	if _, err := time.LoadLocation(candidate); err == nil {
		return candidate, nil
	}

	lower := strings.ToLower(candidate)
	parts := strings.Split(lower, "/")
	for i, part := range parts {
		segments := strings.Split(part, "_")
		for j, segment := range segments {
			pieces := strings.Split(segment, "-")
			for k, piece := range pieces {
				if piece == "" {
					continue
				}
				pieces[k] = strings.ToUpper(piece[:1]) + piece[1:]
			}
			segments[j] = strings.Join(pieces, "-")
		}
		parts[i] = strings.Join(segments, "_")
	}
	normalized := strings.Join(parts, "/")
	if _, err := time.LoadLocation(normalized); err == nil {
		return normalized, nil
	}
	return "", ErrInvalidTimezone
}
