// Package app собирает общие зависимости процессов из конфигурации.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"ezra-digest/internal/adapters/repo"
	"ezra-digest/internal/adapters/summarizer"
	"ezra-digest/internal/domain"
	"ezra-digest/internal/infra/config"
	"ezra-digest/internal/infra/db"
	"ezra-digest/internal/infra/lock"
	applog "ezra-digest/internal/infra/log"
	"ezra-digest/internal/infra/openai"
	"ezra-digest/internal/infra/queue"
	"ezra-digest/internal/usecase/delivery"
	"ezra-digest/internal/usecase/digest"
	"ezra-digest/internal/usecase/schedule"
)

const (
	lockPrefix = "ezra:lock:"
	memoryJobs = 64
)

// Runtime держит хранилище и разобранные параметры расписания.
type Runtime struct {
	Cfg      config.AppConfig
	Log      zerolog.Logger
	Store    domain.Store
	Location *time.Location
	DigestAt schedule.DailyTime

	redis   *redis.Client
	closers []func()
}

// Bootstrap разбирает TZ и DIGEST_TIME, открывает хранилище и, если задан REDIS_ADDR,
// подключается к Redis. Ошибки этого этапа считаются ошибками конфигурации.
func Bootstrap(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) (*Runtime, error) {
	loc, err := schedule.ParseLocation(cfg.TZ)
	if err != nil {
		return nil, fmt.Errorf("TZ: %w", err)
	}
	at, err := schedule.ParseDailyTime(cfg.Schedule.DailyTime)
	if err != nil {
		return nil, fmt.Errorf("DIGEST_TIME: %w", err)
	}

	rt := &Runtime{Cfg: cfg, Log: logger, Location: loc, DigestAt: at}
	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rt.Store = store
	rt.closers = append(rt.closers, store.Close)

	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			rt.Close()
			return nil, fmt.Errorf("redis %s: %w", addr, err)
		}
		rt.redis = client
		rt.closers = append(rt.closers, func() { _ = client.Close() })
	}
	return rt, nil
}

// OpenStore открывает хранилище по STORAGE_DRIVER и применяет схему.
func OpenStore(ctx context.Context, cfg config.AppConfig) (domain.Store, error) {
	if err := cfg.ValidateStorage(); err != nil {
		return nil, err
	}
	switch strings.ToLower(cfg.Storage.Driver) {
	case "postgres":
		pool, err := db.Connect(cfg.Storage.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		if err := db.MigratePostgres(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		return repo.NewPostgres(pool), nil
	default:
		conn, err := db.OpenSQLite(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		return repo.NewSQLite(conn), nil
	}
}

// Close освобождает ресурсы в обратном порядке.
func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

// Ready проверяет, что хранилище отвечает и Redis, если подключён, доступен.
func (r *Runtime) Ready(ctx context.Context) error {
	if _, err := r.Store.LatestDigest(ctx); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("store: %w", err)
	}
	if r.redis != nil {
		if err := r.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Locker возвращает блокировку дат: Redis, если он подключён, иначе аренду в хранилище,
// общую для всех процессов над той же базой.
func (r *Runtime) Locker() domain.DateLocker {
	if r.redis != nil {
		return lock.NewRedisLocker(r.redis, lockPrefix, 0)
	}
	return lock.NewStoreLocker(r.Store, lockPrefix, 0)
}

// Summarizer возвращает OpenAI-суммаризатор при наличии ключа, иначе простой.
func (r *Runtime) Summarizer() domain.Summarizer {
	oa := r.Cfg.OpenAI
	if strings.TrimSpace(oa.APIKey) == "" {
		r.Log.Warn().Msg("OPENAI_API_KEY не задан, дайджест строится без LLM")
		return summarizer.NewSimple()
	}
	client := openai.NewClient(oa.APIKey, oa.BaseURL, oa.Timeout)
	return summarizer.NewOpenAI(client, oa.Model, oa.Timeout)
}

// Queue выбирает очередь задач: RabbitMQ, затем Redis, затем память процесса.
// Очередь в памяти работает только внутри одного процесса.
func (r *Runtime) Queue() (domain.DigestQueue, error) {
	key := r.Cfg.Queues.Digest
	switch {
	case strings.TrimSpace(r.Cfg.RabbitURL) != "":
		q, err := queue.NewRabbitDigestQueue(r.Cfg.RabbitURL, key)
		if err != nil {
			return nil, fmt.Errorf("rabbitmq: %w", err)
		}
		r.closers = append(r.closers, func() { _ = q.Close() })
		return q, nil
	case r.redis != nil:
		return queue.NewRedisDigestQueue(r.redis, key), nil
	default:
		return queue.NewMemoryDigestQueue(memoryJobs), nil
	}
}

// SharedQueue сообщает, видят ли очередь другие процессы.
func (r *Runtime) SharedQueue() bool {
	return strings.TrimSpace(r.Cfg.RabbitURL) != "" || r.redis != nil
}

// Digests собирает батчер дайджестов.
func (r *Runtime) Digests() *digest.Service {
	return digest.NewService(r.Store, r.Store, r.Summarizer(), r.Locker(), r.Location, applog.Component(r.Log, "digest"))
}

// Scheduler собирает цепочку: батчер, рассылка, планировщик.
func (r *Runtime) Scheduler(sender domain.Sender) *schedule.Service {
	digests := r.Digests()
	fanout := delivery.NewService(r.Store, sender, r.Cfg.Delivery.Timeout, applog.Component(r.Log, "delivery"))
	return schedule.NewService(digests, fanout, r.Store, r.DigestAt, r.Location, applog.Component(r.Log, "schedule"))
}

