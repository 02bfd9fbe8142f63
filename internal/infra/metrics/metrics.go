package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const namespace = "ezra"

var (
	MessagesAdmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_admitted_total",
		Help:      "Результаты допуска сообщений через дедупликацию",
	}, []string{"source", "outcome"})

	ScrapeErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scrape_errors_total",
		Help:      "Ошибки сбора по этапам: resolve (папка), fetch (история чата)",
	}, []string{"stage"})

	DigestCycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "digest_cycles_total",
		Help:      "Запуски построения дайджеста",
	}, []string{"selection", "status"})

	DigestBuildSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "digest_build_seconds",
		Help:      "Время построения дайджеста",
		Buckets:   prometheus.DefBuckets,
	})

	DigestDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "digest_deliveries_total",
		Help:      "Доставки дайджеста подписчикам",
	}, []string{"status"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "network_request_duration_seconds",
		Help:      "Длительность сетевых запросов",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 45, 60, 90, 120},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "network_request_total",
		Help:      "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	LLMGenerationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "llm_generation_duration_seconds",
		Help:      "Длительность генерации ответа LLM",
		Buckets:   prometheus.DefBuckets,
	}, []string{"model"})

	LLMTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "llm_tokens_total",
		Help:      "Количество токенов, использованных LLM",
	}, []string{"model", "type"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		MessagesAdmitted,
		ScrapeErrors,
		DigestCycles,
		DigestBuildSeconds,
		DigestDeliveries,
		NetworkRequestDuration,
		NetworkRequestTotal,
		LLMGenerationDuration,
		LLMTokensTotal,
	)
}

// StartServer отдаёт /metrics на addr в фоне и останавливается вместе с ctx.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		logger.Info().Str("addr", addr).Msg("metrics: listening")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: listener failed")
		}
	}()
	go func() {
		select {
		case <-stopped:
			return
		case <-ctx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("metrics: shutdown")
		}
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	labels := []string{orUnknown(component), orUnknown(operation), orUnknown(target), statusOf(err)}
	NetworkRequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
	NetworkRequestTotal.WithLabelValues(labels...).Inc()
}

// ObserveLLMGeneration записывает длительность и токены генерации LLM.
func ObserveLLMGeneration(model string, duration time.Duration, promptTokens, completionTokens, totalTokens int) {
	model = orUnknown(model)
	LLMGenerationDuration.WithLabelValues(model).Observe(duration.Seconds())
	if promptTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
	if totalTokens <= 0 {
		totalTokens = promptTokens + completionTokens
	}
	if totalTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "total").Add(float64(totalTokens))
	}
}

// ObserveAdmission учитывает результат допуска сообщения.
func ObserveAdmission(source, outcome string) {
	MessagesAdmitted.WithLabelValues(source, outcome).Inc()
}

// ObserveScrapeError учитывает ошибку сбора на этапе stage.
func ObserveScrapeError(stage string) {
	ScrapeErrors.WithLabelValues(stage).Inc()
}

// ObserveDigestCycle учитывает запуск построения дайджеста.
func ObserveDigestCycle(selection string, start time.Time, err error) {
	DigestCycles.WithLabelValues(selection, statusOf(err)).Inc()
	DigestBuildSeconds.Observe(time.Since(start).Seconds())
}

// ObserveDelivery учитывает попытку доставки дайджеста.
func ObserveDelivery(err error) {
	DigestDeliveries.WithLabelValues(statusOf(err)).Inc()
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
