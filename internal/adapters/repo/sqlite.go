package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"ezra-digest/internal/domain"
	"ezra-digest/internal/infra/metrics"
)

// SQLite реализует хранилище поверх файла SQLite.
// Время хранится как unix-секунды, дата дайджеста как строка YYYY-MM-DD.
type SQLite struct {
	db  *sql.DB
	sb  sq.StatementBuilderType
	now func() time.Time
}

var _ domain.Store = (*SQLite)(nil)

// SQLiteOption настраивает SQLite.
type SQLiteOption func(*SQLite)

// WithClock подменяет источник времени для created_at.
func WithClock(now func() time.Time) SQLiteOption {
	return func(s *SQLite) { s.now = now }
}

// NewSQLite создаёт хранилище на открытой базе. Схема должна быть применена заранее.
func NewSQLite(db *sql.DB, opts ...SQLiteOption) *SQLite {
	s := &SQLite{
		db:  db,
		sb:  sq.StatementBuilder.PlaceholderFormat(sq.Question),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close закрывает базу.
func (s *SQLite) Close() {
	_ = s.db.Close()
}

func (s *SQLite) exec(ctx context.Context, op, table string, b sq.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", op, err)
	}
	start := time.Now()
	res, err := s.db.ExecContext(ctx, query, args...)
	metrics.ObserveNetworkRequest("sqlite", op, table, start, err)
	return res, err
}

func (s *SQLite) query(ctx context.Context, op, table string, b sq.Sqlizer) (*sql.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", op, err)
	}
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	metrics.ObserveNetworkRequest("sqlite", op, table, start, err)
	return rows, err
}

// UpsertUser реализует domain.UserRepo.
func (s *SQLite) UpsertUser(ctx context.Context, id int64, username string) (domain.User, error) {
	ins := s.sb.Insert("users").
		Columns("id", "username", "subscribed", "created_at").
		Values(id, nullString(username), 0, s.now().Unix()).
		Suffix("ON CONFLICT(id) DO UPDATE SET username = COALESCE(excluded.username, users.username)")
	if _, err := s.exec(ctx, "users_upsert", "users", ins); err != nil {
		return domain.User{}, err
	}
	return s.GetUser(ctx, id)
}

// GetUser возвращает пользователя по Telegram ID.
func (s *SQLite) GetUser(ctx context.Context, id int64) (domain.User, error) {
	rows, err := s.query(ctx, "users_get", "users", s.userSelect().Where(sq.Eq{"id": id}))
	if err != nil {
		return domain.User{}, err
	}
	users, err := scanUsers(rows)
	if err != nil {
		return domain.User{}, err
	}
	if len(users) == 0 {
		return domain.User{}, domain.ErrNotFound
	}
	return users[0], nil
}

// SetSubscribed переключает подписку. Повторный вызов ничего не меняет.
func (s *SQLite) SetSubscribed(ctx context.Context, id int64, subscribed bool) error {
	upd := s.sb.Update("users").Set("subscribed", boolInt(subscribed)).Where(sq.Eq{"id": id})
	_, err := s.exec(ctx, "users_set_subscribed", "users", upd)
	return err
}

// ListSubscribed возвращает снимок подписчиков.
func (s *SQLite) ListSubscribed(ctx context.Context) ([]domain.User, error) {
	rows, err := s.query(ctx, "users_list_subscribed", "users",
		s.userSelect().Where(sq.Eq{"subscribed": 1}).OrderBy("id"))
	if err != nil {
		return nil, err
	}
	return scanUsers(rows)
}

func (s *SQLite) userSelect() sq.SelectBuilder {
	return s.sb.Select("id", "COALESCE(username, '')", "subscribed", "created_at").From("users")
}

func scanUsers(rows *sql.Rows) ([]domain.User, error) {
	defer rows.Close()
	var users []domain.User
	for rows.Next() {
		var (
			u          domain.User
			subscribed int
			created    int64
		)
		if err := rows.Scan(&u.ID, &u.Username, &subscribed, &created); err != nil {
			return nil, err
		}
		u.Subscribed = subscribed != 0
		u.CreatedAt = time.Unix(created, 0)
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpsertChannel сохраняет канал и сообщает, был ли он создан.
func (s *SQLite) UpsertChannel(ctx context.Context, ch domain.Channel) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM channels WHERE id = ?`, ch.ID).Scan(&exists)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}
	created := errors.Is(err, sql.ErrNoRows)

	query, args, err := s.sb.Insert("channels").
		Columns("id", "name", "handle", "added_by", "created_at").
		Values(ch.ID, ch.Name, nullString(ch.Handle), ch.AddedBy, s.now().Unix()).
		Suffix("ON CONFLICT(id) DO UPDATE SET name = excluded.name, handle = excluded.handle, added_by = excluded.added_by").
		ToSql()
	if err != nil {
		return false, err
	}
	start := time.Now()
	_, err = tx.ExecContext(ctx, query, args...)
	metrics.ObserveNetworkRequest("sqlite", "channels_upsert", "channels", start, err)
	if err != nil {
		return false, err
	}
	return created, tx.Commit()
}

// RemoveChannel удаляет канал, не трогая его сообщения.
func (s *SQLite) RemoveChannel(ctx context.Context, id int64) (bool, error) {
	res, err := s.exec(ctx, "channels_delete", "channels", s.sb.Delete("channels").Where(sq.Eq{"id": id}))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListChannels возвращает все каналы.
func (s *SQLite) ListChannels(ctx context.Context) ([]domain.Channel, error) {
	sel := s.sb.Select("id", "name", "COALESCE(handle, '')", "COALESCE(added_by, 0)", "created_at").
		From("channels").OrderBy("created_at", "id")
	rows, err := s.query(ctx, "channels_list", "channels", sel)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var channels []domain.Channel
	for rows.Next() {
		var (
			ch      domain.Channel
			created int64
		)
		if err := rows.Scan(&ch.ID, &ch.Name, &ch.Handle, &ch.AddedBy, &created); err != nil {
			return nil, err
		}
		ch.CreatedAt = time.Unix(created, 0)
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

// InsertMessageIfNew вставляет сообщение одной условной записью по уникальному content_hash.
func (s *SQLite) InsertMessageIfNew(ctx context.Context, msg domain.Message) (domain.Message, bool, error) {
	now := s.now()
	ins := s.sb.Insert("messages").
		Columns("channel_id", "content", "authored_at", "processed", "content_hash", "source", "link", "created_at").
		Values(msg.ChannelID, msg.Content, msg.AuthoredAt.Unix(), 0, msg.ContentHash, string(msg.Source), nullString(msg.Link), now.Unix()).
		Suffix("ON CONFLICT(content_hash) DO NOTHING")
	res, err := s.exec(ctx, "messages_insert", "messages", ins)
	if err != nil {
		return domain.Message{}, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Message{}, false, err
	}
	if n == 0 {
		return domain.Message{}, false, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Message{}, false, err
	}
	msg.ID = id
	msg.Processed = false
	msg.CreatedAt = time.Unix(now.Unix(), 0)
	return msg, true, nil
}

func (s *SQLite) messageSelect() sq.SelectBuilder {
	return s.sb.Select("id", "channel_id", "content", "authored_at", "processed", "content_hash", "source", "COALESCE(link, '')", "created_at").
		From("messages").
		OrderBy("authored_at DESC", "id DESC")
}

// ListUnprocessed возвращает необработанные сообщения, новые первыми.
func (s *SQLite) ListUnprocessed(ctx context.Context) ([]domain.Message, error) {
	rows, err := s.query(ctx, "messages_list_unprocessed", "messages", s.messageSelect().Where(sq.Eq{"processed": 0}))
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// ListMessagesForDate возвращает сообщения календарного дня независимо от статуса.
func (s *SQLite) ListMessagesForDate(ctx context.Context, day time.Time) ([]domain.Message, error) {
	from, to := domain.DayBounds(day)
	sel := s.messageSelect().Where(sq.And{
		sq.GtOrEq{"authored_at": from.Unix()},
		sq.Lt{"authored_at": to.Unix()},
	})
	rows, err := s.query(ctx, "messages_list_for_date", "messages", sel)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]domain.Message, error) {
	defer rows.Close()
	var messages []domain.Message
	for rows.Next() {
		var (
			m                 domain.Message
			authored, created int64
			processed         int
			source            string
		)
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.Content, &authored, &processed, &m.ContentHash, &source, &m.Link, &created); err != nil {
			return nil, err
		}
		m.AuthoredAt = time.Unix(authored, 0)
		m.CreatedAt = time.Unix(created, 0)
		m.Processed = processed != 0
		m.Source = domain.Source(source)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// MarkProcessed помечает обработанными ровно переданные сообщения. Неизвестные id пропускаются.
func (s *SQLite) MarkProcessed(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	upd := s.sb.Update("messages").Set("processed", 1).Where(sq.Eq{"id": ids})
	res, err := s.exec(ctx, "messages_mark_processed", "messages", upd)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SaveDigest создаёт или заменяет дайджест за дату.
func (s *SQLite) SaveDigest(ctx context.Context, date time.Time, content string) (domain.Digest, error) {
	key := domain.DateKey(date)
	ins := s.sb.Insert("digests").
		Columns("date", "content", "created_at").
		Values(key, content, s.now().Unix()).
		Suffix("ON CONFLICT(date) DO UPDATE SET content = excluded.content, created_at = excluded.created_at")
	if _, err := s.exec(ctx, "digests_upsert", "digests", ins); err != nil {
		return domain.Digest{}, err
	}
	rows, err := s.query(ctx, "digests_get", "digests", s.digestSelect().Where(sq.Eq{"date": key}))
	if err != nil {
		return domain.Digest{}, err
	}
	digests, err := scanDigests(rows, date.Location())
	if err != nil {
		return domain.Digest{}, err
	}
	if len(digests) == 0 {
		return domain.Digest{}, domain.ErrNotFound
	}
	return digests[0], nil
}

// LatestDigest возвращает последний созданный дайджест.
func (s *SQLite) LatestDigest(ctx context.Context) (domain.Digest, error) {
	sel := s.digestSelect().OrderBy("created_at DESC", "id DESC").Limit(1)
	rows, err := s.query(ctx, "digests_latest", "digests", sel)
	if err != nil {
		return domain.Digest{}, err
	}
	digests, err := scanDigests(rows, time.Local)
	if err != nil {
		return domain.Digest{}, err
	}
	if len(digests) == 0 {
		return domain.Digest{}, domain.ErrNotFound
	}
	return digests[0], nil
}

func (s *SQLite) digestSelect() sq.SelectBuilder {
	return s.sb.Select("id", "date", "content", "created_at").From("digests")
}

func scanDigests(rows *sql.Rows, loc *time.Location) ([]domain.Digest, error) {
	defer rows.Close()
	var digests []domain.Digest
	for rows.Next() {
		var (
			d       domain.Digest
			date    string
			created int64
		)
		if err := rows.Scan(&d.ID, &date, &d.Content, &created); err != nil {
			return nil, err
		}
		parsed, err := time.ParseInLocation("2006-01-02", date, loc)
		if err != nil {
			return nil, fmt.Errorf("parse digest date %q: %w", date, err)
		}
		d.Date = parsed
		d.CreatedAt = time.Unix(created, 0)
		digests = append(digests, d)
	}
	return digests, rows.Err()
}

// AcquireScheduleSlot вставляет запись о срабатывании и возвращает true, если удалось.
func (s *SQLite) AcquireScheduleSlot(ctx context.Context, slot string) (bool, error) {
	ins := s.sb.Insert("schedule_runs").
		Columns("slot", "created_at").
		Values(slot, s.now().Unix()).
		Suffix("ON CONFLICT(slot) DO NOTHING")
	res, err := s.exec(ctx, "schedule_runs_acquire", "schedule_runs", ins)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// AcquireLease вставляет аренду или перехватывает истёкшую одной командой.
func (s *SQLite) AcquireLease(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	now := s.now()
	ins := s.sb.Insert("leases").
		Columns("lease_key", "owner", "expires_at").
		Values(key, owner, now.Add(ttl).UnixMilli()).
		Suffix("ON CONFLICT(lease_key) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at WHERE leases.expires_at <= ?", now.UnixMilli())
	res, err := s.exec(ctx, "leases_acquire", "leases", ins)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLite) ReleaseLease(ctx context.Context, key, owner string) error {
	del := s.sb.Delete("leases").Where(sq.Eq{"lease_key": key, "owner": owner})
	_, err := s.exec(ctx, "leases_release", "leases", del)
	return err
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
