package ingest

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ezra-digest/internal/domain"
)

// Forwarded — пересланное боту сообщение канала без привязки к транспорту.
type Forwarded struct {
	ChannelID     int64
	ChannelTitle  string
	ChannelHandle string
	MessageID     int
	Text          string
	OriginalDate  time.Time
	ReceivedAt    time.Time
	SenderID      int64
}

// ForwardReport — итог обработки пересланного сообщения.
// Регистрация канала и сохранение текста не зависят друг от друга.
type ForwardReport struct {
	ChannelCreated bool
	ChannelErr     error
	HasContent     bool
	Admission      Admission
}

// Service принимает пересланные сообщения.
type Service struct {
	channels domain.ChannelRepo
	gate     *Gate
	log      zerolog.Logger
}

// NewService создаёт сервис приёма пересланных сообщений.
func NewService(channels domain.ChannelRepo, gate *Gate, logger zerolog.Logger) *Service {
	return &Service{channels: channels, gate: gate, log: logger}
}

// IngestForwarded регистрирует канал-источник и сохраняет текст сообщения.
func (s *Service) IngestForwarded(ctx context.Context, f Forwarded) ForwardReport {
	var report ForwardReport

	created, err := s.channels.UpsertChannel(ctx, domain.Channel{
		ID:      f.ChannelID,
		Name:    f.ChannelTitle,
		Handle:  strings.TrimPrefix(f.ChannelHandle, "@"),
		AddedBy: f.SenderID,
	})
	if err != nil {
		s.log.Error().Err(err).Int64("channel_id", f.ChannelID).Msg("не удалось сохранить канал")
		report.ChannelErr = err
	}
	report.ChannelCreated = created

	text := strings.TrimSpace(f.Text)
	if text == "" {
		return report
	}
	report.HasContent = true

	authored := f.OriginalDate
	if authored.IsZero() {
		authored = f.ReceivedAt
	}
	report.Admission = s.gate.Admit(ctx, Candidate{
		ChannelID:  f.ChannelID,
		Content:    f.Text,
		AuthoredAt: authored,
		Source:     domain.SourceInteractive,
		Link:       domain.BuildPermalink(f.ChannelID, f.ChannelHandle, f.MessageID),
	})
	return report
}
