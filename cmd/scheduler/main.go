package main

import (
	"context"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"

	"ezra-digest/internal/adapters/telegram"
	"ezra-digest/internal/app"
	"ezra-digest/internal/infra/config"
	"ezra-digest/internal/infra/log"
	"ezra-digest/internal/infra/metrics"
	"ezra-digest/internal/usecase/schedule"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)
	if err := cfg.ValidateBot(); err != nil {
		logger.Fatal().Err(err).Msg("scheduler: некорректная конфигурация")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.Bootstrap(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: не удалось инициализировать окружение")
	}
	defer rt.Close()

	metrics.MustRegister(prometheus.DefaultRegisterer)
	metrics.StartServer(ctx, logger, cfg.MetricsAddr)

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: не удалось создать бота")
	}
	jobs, err := rt.Queue()
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: не удалось подключить очередь задач")
	}
	if !rt.SharedQueue() {
		logger.Warn().Msg("scheduler: очередь задач в памяти, запросы /regenerate от бота сюда не попадут")
	}

	sender := telegram.NewSender(botAPI)
	scheduler := rt.Scheduler(sender)
	go schedule.NewWorker(jobs, scheduler, sender, log.Component(logger, "worker")).Run(ctx)

	logger.Info().Str("at", rt.DigestAt.String()).Str("tz", rt.Location.String()).Msg("scheduler: запущен")
	if err := scheduler.RunDaily(ctx); err != nil && ctx.Err() == nil {
		logger.Error().Err(err).Msg("scheduler: остановлен с ошибкой")
	}
	logger.Info().Msg("scheduler: остановлен")
}
