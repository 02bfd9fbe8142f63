package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"

	"ezra-digest/internal/adapters/bot"
	"ezra-digest/internal/adapters/telegram"
	"ezra-digest/internal/app"
	"ezra-digest/internal/infra/config"
	apphttp "ezra-digest/internal/infra/http"
	"ezra-digest/internal/infra/log"
	"ezra-digest/internal/infra/metrics"
	"ezra-digest/internal/usecase/channels"
	"ezra-digest/internal/usecase/ingest"
	"ezra-digest/internal/usecase/schedule"
)

const defaultWebhookPath = "/bot/webhook"

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)
	if err := cfg.ValidateBot(); err != nil {
		logger.Fatal().Err(err).Msg("некорректная конфигурация бота")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.Bootstrap(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось инициализировать окружение")
	}
	defer rt.Close()
	metrics.MustRegister(prometheus.DefaultRegisterer)

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось создать бота")
	}
	logger.Info().Str("bot", botAPI.Self.UserName).Msg("бот авторизован")

	jobs, err := rt.Queue()
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось подключить очередь задач")
	}
	if !cfg.Schedule.Embedded && !rt.SharedQueue() {
		logger.Warn().Msg("планировщик вынесен, но очередь задач в памяти: /regenerate не дойдёт до воркера")
	}

	sender := telegram.NewSender(botAPI)
	gate := ingest.NewGate(rt.Store, log.Component(logger, "gate"))
	h := bot.NewHandler(botAPI, log.Component(logger, "bot"), bot.Deps{
		Channels:  channels.NewService(rt.Store, telegram.NewResolver(botAPI)),
		Forwarder: ingest.NewService(rt.Store, gate, log.Component(logger, "forward")),
		Users:     rt.Store,
		Digests:   rt.Store,
		Jobs:      jobs,
		Policy:    cfg.AuthPolicy(),
		DigestAt:  rt.DigestAt,
		Location:  rt.Location,
	})

	if cfg.Schedule.Embedded {
		scheduler := rt.Scheduler(sender)
		go func() {
			if err := scheduler.RunDaily(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("планировщик остановлен")
			}
		}()
		go schedule.NewWorker(jobs, scheduler, sender, log.Component(logger, "worker")).Run(ctx)
		logger.Info().Str("at", rt.DigestAt.String()).Msg("встроенный планировщик запущен")
	}

	srv := apphttp.NewServer(logger, apphttp.WithReadiness(rt.Ready))
	if cfg.Telegram.WebhookURL != "" {
		path, err := setWebhook(botAPI, cfg.Telegram.WebhookURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("не удалось установить webhook")
		}
		srv.Router.Post(path, func(w http.ResponseWriter, r *http.Request) {
			update, err := botAPI.HandleUpdate(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			h.HandleUpdate(r.Context(), *update)
			w.WriteHeader(http.StatusOK)
		})
		logger.Info().Str("path", path).Msg("режим webhook")
	} else {
		if _, err := botAPI.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			logger.Warn().Err(err).Msg("не удалось снять webhook")
		}
		go poll(ctx, botAPI, h)
		logger.Info().Msg("режим long polling")
	}

	go func() {
		if err := srv.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("HTTP сервер остановлен")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("остановка бота")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func setWebhook(botAPI *tgbotapi.BotAPI, link string) (string, error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("TG_WEBHOOK_URL: %w", err)
	}
	wh, err := tgbotapi.NewWebhook(link)
	if err != nil {
		return "", err
	}
	if _, err := botAPI.Request(wh); err != nil {
		return "", err
	}
	if u.Path == "" || u.Path == "/" {
		return defaultWebhookPath, nil
	}
	return u.Path, nil
}

func poll(ctx context.Context, botAPI *tgbotapi.BotAPI, h *bot.Handler) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := botAPI.GetUpdatesChan(u)
	for {
		select {
		case <-ctx.Done():
			botAPI.StopReceivingUpdates()
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			h.HandleUpdate(ctx, upd)
		}
	}
}
