package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ezra-digest/internal/domain"
	"ezra-digest/internal/usecase/digest"
)

// NewRegenerateJob формирует задачу ручной пересборки дайджеста за день.
func NewRegenerateJob(chatID, requestedBy int64, date time.Time) domain.DigestJob {
	return domain.DigestJob{
		ID:          uuid.NewString(),
		Kind:        domain.DigestJobRegenerate,
		Date:        date,
		ChatID:      chatID,
		RequestedBy: requestedBy,
		RequestedAt: time.Now().UTC(),
	}
}

// Worker выполняет задачи из очереди дайджестов и сообщает результат запросившему чату.
type Worker struct {
	queue     domain.DigestQueue
	scheduler *Service
	notifier  domain.Sender
	log       zerolog.Logger
	backoff   time.Duration
}

// NewWorker создаёт обработчик очереди. notifier может быть nil.
func NewWorker(queue domain.DigestQueue, scheduler *Service, notifier domain.Sender, logger zerolog.Logger) *Worker {
	return &Worker{queue: queue, scheduler: scheduler, notifier: notifier, log: logger, backoff: time.Second}
}

// Run читает очередь до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, ack, err := w.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Msg("ошибка чтения очереди")
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.backoff):
			}
			continue
		}

		jobLog := w.log.With().
			Str("job_id", job.ID).
			Str("kind", string(job.Kind)).
			Int64("requested_by", job.RequestedBy).
			Logger()

		err = w.Handle(ctx, job)
		// Задача, прерванная остановкой процесса, возвращается в очередь.
		if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
			jobLog.Warn().Msg("задача прервана, возвращаем в очередь")
			if ackErr := ack(false); ackErr != nil {
				jobLog.Error().Err(ackErr).Msg("не удалось вернуть задачу в очередь")
			}
			return
		}
		if err := ack(true); err != nil {
			jobLog.Error().Err(err).Msg("не удалось подтвердить задачу")
		}
	}
}

// Handle выполняет одну задачу.
func (w *Worker) Handle(ctx context.Context, job domain.DigestJob) error {
	var sel digest.Selection
	switch job.Kind {
	case domain.DigestJobRegenerate:
		date := job.Date
		if date.IsZero() {
			date = w.scheduler.Today()
		}
		sel = digest.CalendarDay(date)
	case domain.DigestJobScheduled:
		sel = digest.Unprocessed()
	default:
		w.log.Warn().Str("job_id", job.ID).Str("kind", string(job.Kind)).Msg("неизвестный тип задачи, пропускаем")
		return nil
	}

	report, err := w.scheduler.Trigger(ctx, sel)
	if err != nil {
		w.log.Error().Err(err).Str("job_id", job.ID).Msg("задача завершилась ошибкой")
		w.notify(ctx, job.ChatID, "❌ Не удалось пересобрать дайджест: "+err.Error())
		return err
	}
	switch {
	case report.Cycle.Empty:
		w.notify(ctx, job.ChatID, "За выбранный день сообщений нет, дайджест не построен.")
	default:
		w.notify(ctx, job.ChatID, fmt.Sprintf("✅ Дайджест пересобран и отправлен подписчикам: %d из %d.",
			report.Delivery.Delivered, report.Delivery.Recipients))
	}
	return nil
}

func (w *Worker) notify(ctx context.Context, chatID int64, text string) {
	if w.notifier == nil || chatID == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := w.notifier.Send(ctx, chatID, text); err != nil {
		w.log.Warn().Err(err).Int64("chat_id", chatID).Msg("не удалось уведомить о результате задачи")
	}
}
