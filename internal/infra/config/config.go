package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"ezra-digest/internal/domain"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	TZ     string `envconfig:"TZ" default:"Europe/Amsterdam"`
	Port   int    `envconfig:"PORT" default:"8080"`

	Telegram struct {
		Token      string `envconfig:"TG_BOT_TOKEN"`
		WebhookURL string `envconfig:"TG_WEBHOOK_URL"`
		APIID      int    `envconfig:"TG_API_ID"`
		APIHash    string `envconfig:"TG_API_HASH"`
	} `envconfig:""`

	MTProto struct {
		SessionFile string        `envconfig:"MTPROTO_SESSION_FILE" default:"userbot.session.json"`
		FolderName  string        `envconfig:"TELEGRAM_FOLDER_NAME" default:"AI"`
		Limit       int           `envconfig:"SCRAPE_LIMIT" default:"10"`
		Pause       time.Duration `envconfig:"SCRAPE_PAUSE" default:"1s"`
	} `envconfig:""`

	Storage struct {
		Driver string `envconfig:"STORAGE_DRIVER" default:"sqlite"`
		Path   string `envconfig:"DATABASE_PATH" default:"ezra.db"`
		PGDSN  string `envconfig:"PG_DSN"`
	} `envconfig:""`

	RedisAddr string `envconfig:"REDIS_ADDR"`
	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Queues struct {
		Digest string `envconfig:"DIGEST_QUEUE_KEY" default:"digest_jobs"`
	} `envconfig:""`

	Schedule struct {
		DailyTime string `envconfig:"DIGEST_TIME" default:"08:00"`
		Embedded  bool   `envconfig:"SCHEDULER_EMBEDDED" default:"true"`
	} `envconfig:""`

	Admin struct {
		IDs       []int64  `envconfig:"ADMIN_IDS"`
		Usernames []string `envconfig:"ADMIN_USERNAMES"`
	} `envconfig:""`

	OpenAI struct {
		APIKey  string        `envconfig:"OPENAI_API_KEY"`
		BaseURL string        `envconfig:"OPENAI_BASE_URL"`
		Model   string        `envconfig:"OPENAI_MODEL" default:"gpt-4.1-mini"`
		Timeout time.Duration `envconfig:"OPENAI_TIMEOUT" default:"60s"`
	} `envconfig:""`

	Delivery struct {
		Timeout time.Duration `envconfig:"DELIVERY_TIMEOUT" default:"10s"`
	} `envconfig:""`

	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

// ValidateStorage проверяет параметры хранилища.
func (c AppConfig) ValidateStorage() error {
	switch strings.ToLower(c.Storage.Driver) {
	case "sqlite":
		if strings.TrimSpace(c.Storage.Path) == "" {
			return missing("DATABASE_PATH")
		}
	case "postgres":
		if strings.TrimSpace(c.Storage.PGDSN) == "" {
			return missing("PG_DSN")
		}
	default:
		return fmt.Errorf("неизвестный STORAGE_DRIVER %q", c.Storage.Driver)
	}
	return nil
}

// ValidateBot проверяет параметры, без которых бот не может стартовать.
func (c AppConfig) ValidateBot() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return missing("TG_BOT_TOKEN")
	}
	return c.ValidateStorage()
}

// ValidateScraper проверяет параметры MTProto-сборщика.
func (c AppConfig) ValidateScraper() error {
	if c.Telegram.APIID == 0 {
		return missing("TG_API_ID")
	}
	if strings.TrimSpace(c.Telegram.APIHash) == "" {
		return missing("TG_API_HASH")
	}
	if strings.TrimSpace(c.MTProto.SessionFile) == "" {
		return missing("MTPROTO_SESSION_FILE")
	}
	return c.ValidateStorage()
}

// AuthPolicy строит политику доступа из списка администраторов.
func (c AppConfig) AuthPolicy() domain.AuthPolicy {
	return domain.NewAuthPolicy(c.Admin.IDs, c.Admin.Usernames)
}

func missing(key string) error {
	return fmt.Errorf("%w: %s", domain.ErrConfigurationMissing, key)
}
