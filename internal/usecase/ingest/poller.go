package ingest

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ezra-digest/internal/domain"
	"ezra-digest/internal/infra/metrics"
)

// PollerConfig задаёт параметры периодического сбора.
type PollerConfig struct {
	Collection string
	Limit      int
	Pause      time.Duration
}

// BatchReport — итог одного прохода сбора.
type BatchReport struct {
	Chats       int
	Fetched     int
	Accepted    int
	Duplicates  int
	StoreErrors int
	ChatErrors  int
}

// Poller проходит по чатам коллекции и передаёт их последние сообщения в шлюз.
type Poller struct {
	gate  *Gate
	cfg   PollerConfig
	log   zerolog.Logger
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPoller создаёт сборщик.
func NewPoller(gate *Gate, cfg PollerConfig, logger zerolog.Logger) *Poller {
	if cfg.Limit <= 0 {
		cfg.Limit = 10
	}
	return &Poller{gate: gate, cfg: cfg, log: logger, sleep: sleepCtx}
}

// RunBatch выполняет один проход и возвращается после последнего чата.
// Если коллекцию не удалось найти, проход завершается без чатов.
func (p *Poller) RunBatch(ctx context.Context, src domain.ScrapeSource) BatchReport {
	var report BatchReport

	chats, err := src.ResolveCollection(ctx, p.cfg.Collection)
	if err != nil {
		metrics.ObserveScrapeError("resolve")
		p.log.Error().Err(err).Str("collection", p.cfg.Collection).Msg("не удалось получить список чатов")
		return report
	}
	if len(chats) == 0 {
		p.log.Warn().Str("collection", p.cfg.Collection).Msg("в коллекции нет чатов")
		return report
	}
	report.Chats = len(chats)

	for i, chat := range chats {
		if ctx.Err() != nil {
			p.log.Warn().Err(ctx.Err()).Int("done", i).Msg("сбор прерван")
			return report
		}
		if i > 0 && p.cfg.Pause > 0 {
			if err := p.sleep(ctx, p.cfg.Pause); err != nil {
				return report
			}
		}
		p.collectChat(ctx, src, chat, &report)
	}
	p.log.Info().
		Int("chats", report.Chats).
		Int("fetched", report.Fetched).
		Int("accepted", report.Accepted).
		Int("duplicates", report.Duplicates).
		Int("errors", report.ChatErrors+report.StoreErrors).
		Msg("сбор завершён")
	return report
}

func (p *Poller) collectChat(ctx context.Context, src domain.ScrapeSource, chat domain.SourceChat, report *BatchReport) {
	logger := p.log.With().Int64("chat_id", chat.ID).Str("title", chat.Title).Logger()
	items, err := src.FetchRecent(ctx, chat, p.cfg.Limit)
	if err != nil {
		metrics.ObserveScrapeError("fetch")
		report.ChatErrors++
		logger.Error().Err(err).Msg("не удалось получить сообщения чата")
		return
	}
	for _, item := range items {
		if strings.TrimSpace(item.Text) == "" {
			continue
		}
		report.Fetched++
		adm := p.gate.Admit(ctx, Candidate{
			ChannelID:  chat.ID,
			Content:    item.Text,
			AuthoredAt: item.AuthoredAt,
			Source:     domain.SourceScraped,
			Link:       domain.BuildPermalink(chat.ID, chat.Handle, item.MessageID),
		})
		switch adm.Outcome {
		case OutcomeAccepted:
			report.Accepted++
		case OutcomeDuplicate:
			report.Duplicates++
		case OutcomeStoreError:
			report.StoreErrors++
		}
	}
	logger.Debug().Int("items", len(items)).Msg("чат обработан")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
