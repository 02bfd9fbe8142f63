package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"ezra-digest/internal/domain"
	"ezra-digest/internal/infra/metrics"
)

const defaultTimeout = 10 * time.Second

// Failure описывает неудачную доставку одному получателю.
type Failure struct {
	UserID int64
	Err    error
}

// Report — итог рассылки.
type Report struct {
	Recipients int
	Delivered  int
	Failures   []Failure
}

// Service рассылает текст всем подписчикам.
type Service struct {
	users   domain.UserRepo
	sender  domain.Sender
	timeout time.Duration
	log     zerolog.Logger
}

// NewService создаёт сервис рассылки. timeout ограничивает одну попытку доставки.
func NewService(users domain.UserRepo, sender domain.Sender, timeout time.Duration, logger zerolog.Logger) *Service {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Service{users: users, sender: sender, timeout: timeout, log: logger}
}

// Broadcast делает одну попытку доставки каждому подписчику из снимка.
// Ошибка одного получателя не прерывает рассылку.
func (s *Service) Broadcast(ctx context.Context, text string) (Report, error) {
	users, err := s.users.ListSubscribed(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("получение подписчиков: %w", err)
	}
	report := Report{Recipients: len(users)}
	for _, u := range users {
		if ctx.Err() != nil {
			report.Failures = append(report.Failures, Failure{UserID: u.ID, Err: ctx.Err()})
			continue
		}
		err := s.deliver(ctx, u.ID, text)
		metrics.ObserveDelivery(err)
		if err != nil {
			s.log.Warn().Err(err).Int64("user_id", u.ID).Msg("не удалось доставить дайджест")
			report.Failures = append(report.Failures, Failure{UserID: u.ID, Err: err})
			continue
		}
		report.Delivered++
	}
	s.log.Info().Int("recipients", report.Recipients).Int("delivered", report.Delivered).Msg("рассылка завершена")
	return report, nil
}

func (s *Service) deliver(ctx context.Context, chatID int64, text string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.sender.Send(ctx, chatID, text)
}
