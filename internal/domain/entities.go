package domain

import "time"

// Source описывает происхождение сообщения.
type Source string

const (
	// SourceInteractive — сообщение переслано боту администратором.
	SourceInteractive Source = "interactive"
	// SourceScraped — сообщение получено периодическим сбором через MTProto.
	SourceScraped Source = "scraped"
)

// Valid сообщает, входит ли значение в допустимый набор.
func (s Source) Valid() bool {
	return s == SourceInteractive || s == SourceScraped
}

// User описывает пользователя Telegram в системе.
type User struct {
	ID         int64
	Username   string
	Subscribed bool
	CreatedAt  time.Time
}

// Channel описывает канал-источник. ID совпадает с идентификатором Bot API.
type Channel struct {
	ID        int64
	Name      string
	Handle    string
	AddedBy   int64
	CreatedAt time.Time
}

// Message представляет сообщение канала, прошедшее дедупликацию.
type Message struct {
	ID          int64
	ChannelID   int64
	Content     string
	AuthoredAt  time.Time
	ContentHash string
	Source      Source
	Link        string
	Processed   bool
	CreatedAt   time.Time
}

// Digest представляет собой итоговый дайджест за дату.
type Digest struct {
	ID        int64
	Date      time.Time
	Content   string
	CreatedAt time.Time
}

// DateKey возвращает дату в формате YYYY-MM-DD.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// DayBounds возвращает полуинтервал [начало дня, начало следующего дня) в зоне t.
func DayBounds(t time.Time) (time.Time, time.Time) {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 0, 1)
}

// SourceChat описывает чат, найденный источником сбора.
type SourceChat struct {
	ID     int64
	Title  string
	Handle string
}

// RawItem — сырое сообщение из источника сбора.
type RawItem struct {
	MessageID  int
	Text       string
	AuthoredAt time.Time
}
