package ingest

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"time"

	"github.com/rs/zerolog"

	"ezra-digest/internal/domain"
	"ezra-digest/internal/infra/metrics"
)

// Outcome — результат допуска сообщения.
type Outcome int

const (
	// OutcomeAccepted — сообщение сохранено.
	OutcomeAccepted Outcome = iota
	// OutcomeDuplicate — такой текст уже есть в хранилище, запись не выполнялась.
	OutcomeDuplicate
	// OutcomeStoreError — хранилище вернуло ошибку.
	OutcomeStoreError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeStoreError:
		return "store_error"
	default:
		return "unknown"
	}
}

// Candidate — сообщение до дедупликации.
type Candidate struct {
	ChannelID  int64
	Content    string
	AuthoredAt time.Time
	Source     domain.Source
	Link       string
}

// Admission описывает итог допуска.
type Admission struct {
	Outcome Outcome
	Message domain.Message
	Err     error
}

// ContentHash возвращает md5 текста в hex.
func ContentHash(content string) string {
	sum := md5.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Gate пропускает в хранилище только сообщения с ранее не встречавшимся текстом.
// Уникальность обеспечивает условная вставка хранилища, отдельной проверки нет.
type Gate struct {
	messages domain.MessageRepo
	log      zerolog.Logger
}

// NewGate создаёт шлюз дедупликации.
func NewGate(messages domain.MessageRepo, logger zerolog.Logger) *Gate {
	return &Gate{messages: messages, log: logger}
}

// Admit пытается сохранить кандидата. Ошибка хранилища не повторяется.
func (g *Gate) Admit(ctx context.Context, c Candidate) Admission {
	msg := domain.Message{
		ChannelID:   c.ChannelID,
		Content:     c.Content,
		AuthoredAt:  c.AuthoredAt,
		ContentHash: ContentHash(c.Content),
		Source:      c.Source,
		Link:        c.Link,
	}
	stored, inserted, err := g.messages.InsertMessageIfNew(ctx, msg)
	var adm Admission
	switch {
	case err != nil:
		g.log.Error().Err(err).Int64("channel_id", c.ChannelID).Str("hash", msg.ContentHash).Msg("не удалось сохранить сообщение")
		adm = Admission{Outcome: OutcomeStoreError, Message: msg, Err: err}
	case !inserted:
		g.log.Debug().Int64("channel_id", c.ChannelID).Str("hash", msg.ContentHash).Msg("дубликат сообщения")
		adm = Admission{Outcome: OutcomeDuplicate, Message: msg}
	default:
		adm = Admission{Outcome: OutcomeAccepted, Message: stored}
	}
	metrics.ObserveAdmission(string(c.Source), adm.Outcome.String())
	return adm
}
