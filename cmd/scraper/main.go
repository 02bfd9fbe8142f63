package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"ezra-digest/internal/adapters/mtproto"
	"ezra-digest/internal/app"
	"ezra-digest/internal/infra/config"
	"ezra-digest/internal/infra/log"
	"ezra-digest/internal/usecase/ingest"
)

// Один проход сбора по папке Telegram. Процесс завершается после последнего чата;
// периодичность задаёт внешний планировщик (cron, CronJob).
func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)
	if err := cfg.ValidateScraper(); err != nil {
		logger.Fatal().Err(err).Msg("scraper: некорректная конфигурация")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := app.OpenStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("scraper: не удалось открыть хранилище")
	}
	defer store.Close()

	poller := ingest.NewPoller(
		ingest.NewGate(store, log.Component(logger, "gate")),
		ingest.PollerConfig{
			Collection: cfg.MTProto.FolderName,
			Limit:      cfg.MTProto.Limit,
			Pause:      cfg.MTProto.Pause,
		},
		log.Component(logger, "poller"),
	)

	started := time.Now()
	var report ingest.BatchReport
	err = mtproto.Run(ctx, mtproto.ClientConfig{
		APIID:       cfg.Telegram.APIID,
		APIHash:     cfg.Telegram.APIHash,
		SessionFile: cfg.MTProto.SessionFile,
	}, log.Component(logger, "mtproto"), func(ctx context.Context, src *mtproto.Source) error {
		report = poller.RunBatch(ctx, src)
		return nil
	})
	switch {
	case errors.Is(err, mtproto.ErrNotAuthorized):
		logger.Fatal().Str("session", cfg.MTProto.SessionFile).Msg("scraper: сессия не авторизована, импортируйте её через mtproto-session-importer")
	case err != nil && ctx.Err() == nil:
		logger.Fatal().Err(err).Msg("scraper: ошибка MTProto-клиента")
	}

	logger.Info().
		Str("folder", cfg.MTProto.FolderName).
		Int("chats", report.Chats).
		Int("accepted", report.Accepted).
		Int("duplicates", report.Duplicates).
		Dur("took", time.Since(started)).
		Msg("scraper: проход завершён")
}
