package domain

import (
	"context"
	"time"
)

// UserRepo управляет пользователями и подпиской на дайджест.
type UserRepo interface {
	UpsertUser(ctx context.Context, id int64, username string) (User, error)
	GetUser(ctx context.Context, id int64) (User, error)
	SetSubscribed(ctx context.Context, id int64, subscribed bool) error
	ListSubscribed(ctx context.Context) ([]User, error)
}

// ChannelRepo управляет каналами-источниками.
type ChannelRepo interface {
	// UpsertChannel сохраняет канал и возвращает true, если он создан впервые.
	UpsertChannel(ctx context.Context, ch Channel) (bool, error)
	// RemoveChannel удаляет канал. Сообщения канала остаются в хранилище.
	RemoveChannel(ctx context.Context, id int64) (bool, error)
	ListChannels(ctx context.Context) ([]Channel, error)
}

// MessageRepo хранит сообщения и их статус обработки.
type MessageRepo interface {
	// InsertMessageIfNew атомарно вставляет сообщение, если его content_hash ещё не встречался.
	// Второе значение false означает дубликат; запись при этом не выполняется.
	InsertMessageIfNew(ctx context.Context, msg Message) (Message, bool, error)
	// ListUnprocessed возвращает необработанные сообщения, новые первыми.
	ListUnprocessed(ctx context.Context) ([]Message, error)
	// ListMessagesForDate возвращает все сообщения, написанные в календарный день day (в зоне day).
	ListMessagesForDate(ctx context.Context, day time.Time) ([]Message, error)
	// MarkProcessed помечает обработанными ровно переданные идентификаторы.
	MarkProcessed(ctx context.Context, ids []int64) (int64, error)
}

// DigestRepo сохраняет и возвращает дайджесты.
type DigestRepo interface {
	// SaveDigest создаёт или заменяет дайджест за дату.
	SaveDigest(ctx context.Context, date time.Time, content string) (Digest, error)
	// LatestDigest возвращает дайджест с наибольшим created_at.
	LatestDigest(ctx context.Context) (Digest, error)
}

// ScheduleRepo отвечает за идемпотентное срабатывание расписания.
type ScheduleRepo interface {
	// AcquireScheduleSlot помечает слот занятым и возвращает true, если запись была создана.
	// При конфликте возвращает false без ошибки.
	AcquireScheduleSlot(ctx context.Context, slot string) (bool, error)
}

// LeaseRepo выдаёт аренды ключей, общие для всех процессов над одним хранилищем.
type LeaseRepo interface {
	// AcquireLease занимает key для owner на ttl. Занятый чужой неистёкшей арендой ключ
	// возвращает false без ошибки.
	AcquireLease(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	// ReleaseLease снимает аренду, если она всё ещё принадлежит owner.
	ReleaseLease(ctx context.Context, key, owner string) error
}

// Store объединяет все репозитории единого хранилища.
type Store interface {
	UserRepo
	ChannelRepo
	MessageRepo
	DigestRepo
	ScheduleRepo
	LeaseRepo
	Close()
}

// Summarizer превращает упорядоченный набор сообщений в текст дайджеста.
type Summarizer interface {
	Summarize(ctx context.Context, messages []Message) (string, error)
}

// Sender доставляет текст одному получателю.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// ScrapeSource выдаёт чаты именованной коллекции и их последние сообщения.
type ScrapeSource interface {
	ResolveCollection(ctx context.Context, name string) ([]SourceChat, error)
	FetchRecent(ctx context.Context, chat SourceChat, limit int) ([]RawItem, error)
}

// DateLocker выдаёт взаимоисключающую блокировку по ключу.
type DateLocker interface {
	// Lock ждёт освобождения ключа и возвращает функцию снятия блокировки.
	Lock(ctx context.Context, key string) (func(), error)
}
