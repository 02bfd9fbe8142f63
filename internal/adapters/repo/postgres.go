package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ezra-digest/internal/domain"
	"ezra-digest/internal/infra/metrics"
)

// Postgres реализует хранилище на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ domain.Store = (*Postgres)(nil)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Close закрывает пул соединений.
func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// UpsertUser реализует domain.UserRepo.
func (p *Postgres) UpsertUser(ctx context.Context, id int64, username string) (domain.User, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		user     domain.User
		nickname *string
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO users (id, username)
VALUES ($1, NULLIF($2::text, ''))
ON CONFLICT (id) DO UPDATE SET username = COALESCE(EXCLUDED.username, users.username)
RETURNING id, username, subscribed, created_at
`, id, username).Scan(&user.ID, &nickname, &user.Subscribed, &user.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "users_upsert", "users", start, err)
	if err != nil {
		return domain.User{}, err
	}
	if nickname != nil {
		user.Username = *nickname
	}
	return user, nil
}

// GetUser возвращает пользователя по Telegram ID.
func (p *Postgres) GetUser(ctx context.Context, id int64) (domain.User, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		user     domain.User
		nickname *string
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT id, username, subscribed, created_at FROM users WHERE id=$1`, id).
		Scan(&user.ID, &nickname, &user.Subscribed, &user.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "users_get", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.User{}, err
	}
	if nickname != nil {
		user.Username = *nickname
	}
	return user, nil
}

// SetSubscribed переключает подписку. Повторный вызов ничего не меняет.
func (p *Postgres) SetSubscribed(ctx context.Context, id int64, subscribed bool) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `UPDATE users SET subscribed=$2 WHERE id=$1`, id, subscribed)
	metrics.ObserveNetworkRequest("postgres", "users_set_subscribed", "users", start, err)
	return err
}

// ListSubscribed возвращает снимок подписчиков.
func (p *Postgres) ListSubscribed(ctx context.Context) ([]domain.User, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT id, username, subscribed, created_at FROM users WHERE subscribed ORDER BY id`)
	metrics.ObserveNetworkRequest("postgres", "users_list_subscribed", "users", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []domain.User
	for rows.Next() {
		var (
			u        domain.User
			nickname *string
		)
		if err := rows.Scan(&u.ID, &nickname, &u.Subscribed, &u.CreatedAt); err != nil {
			return nil, err
		}
		if nickname != nil {
			u.Username = *nickname
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpsertChannel сохраняет канал.
func (p *Postgres) UpsertChannel(ctx context.Context, ch domain.Channel) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var inserted bool
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO channels (id, name, handle, added_by)
VALUES ($1, $2, NULLIF($3::text, ''), $4)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, handle = EXCLUDED.handle, added_by = EXCLUDED.added_by
RETURNING (xmax = 0) AS inserted
`, ch.ID, ch.Name, ch.Handle, ch.AddedBy).Scan(&inserted)
	metrics.ObserveNetworkRequest("postgres", "channels_upsert", "channels", start, err)
	return inserted, err
}

// RemoveChannel удаляет канал, не трогая его сообщения.
func (p *Postgres) RemoveChannel(ctx context.Context, id int64) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `DELETE FROM channels WHERE id=$1`, id)
	metrics.ObserveNetworkRequest("postgres", "channels_delete", "channels", start, err)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListChannels возвращает все каналы.
func (p *Postgres) ListChannels(ctx context.Context) ([]domain.Channel, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT id, name, COALESCE(handle, ''), COALESCE(added_by, 0), created_at FROM channels ORDER BY created_at, id`)
	metrics.ObserveNetworkRequest("postgres", "channels_list", "channels", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var channels []domain.Channel
	for rows.Next() {
		var ch domain.Channel
		if err := rows.Scan(&ch.ID, &ch.Name, &ch.Handle, &ch.AddedBy, &ch.CreatedAt); err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

// InsertMessageIfNew вставляет сообщение одной условной записью по уникальному content_hash.
func (p *Postgres) InsertMessageIfNew(ctx context.Context, msg domain.Message) (domain.Message, bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO messages (channel_id, content, authored_at, content_hash, source, link)
VALUES ($1, $2, $3, $4, $5, NULLIF($6::text, ''))
ON CONFLICT (content_hash) DO NOTHING
RETURNING id, processed, created_at
`, msg.ChannelID, msg.Content, msg.AuthoredAt, msg.ContentHash, string(msg.Source), msg.Link).Scan(&msg.ID, &msg.Processed, &msg.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "messages_insert", "messages", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Message{}, false, nil
	}
	if err != nil {
		return domain.Message{}, false, err
	}
	return msg, true, nil
}

const messageColumns = `id, channel_id, content, authored_at, processed, content_hash, source, COALESCE(link, ''), created_at`

// ListUnprocessed возвращает необработанные сообщения, новые первыми.
func (p *Postgres) ListUnprocessed(ctx context.Context) ([]domain.Message, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT `+messageColumns+` FROM messages WHERE NOT processed ORDER BY authored_at DESC, id DESC`)
	metrics.ObserveNetworkRequest("postgres", "messages_list_unprocessed", "messages", start, err)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

// ListMessagesForDate возвращает сообщения календарного дня независимо от статуса.
func (p *Postgres) ListMessagesForDate(ctx context.Context, day time.Time) ([]domain.Message, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	from, to := domain.DayBounds(day)
	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+messageColumns+` FROM messages
WHERE authored_at >= $1 AND authored_at < $2
ORDER BY authored_at DESC, id DESC
`, from, to)
	metrics.ObserveNetworkRequest("postgres", "messages_list_for_date", "messages", start, err)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

func collectMessages(rows pgx.Rows) ([]domain.Message, error) {
	defer rows.Close()
	var messages []domain.Message
	for rows.Next() {
		var (
			m      domain.Message
			source string
		)
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.Content, &m.AuthoredAt, &m.Processed, &m.ContentHash, &source, &m.Link, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Source = domain.Source(source)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// MarkProcessed помечает обработанными ровно переданные сообщения.
func (p *Postgres) MarkProcessed(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `UPDATE messages SET processed = TRUE WHERE id = ANY($1)`, ids)
	metrics.ObserveNetworkRequest("postgres", "messages_mark_processed", "messages", start, err)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// SaveDigest создаёт или заменяет дайджест за дату.
func (p *Postgres) SaveDigest(ctx context.Context, date time.Time, content string) (domain.Digest, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	d := domain.Digest{Content: content}
	var stored time.Time
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO digests (date, content)
VALUES ($1::date, $2)
ON CONFLICT (date) DO UPDATE SET content = EXCLUDED.content, created_at = now()
RETURNING id, date, created_at
`, domain.DateKey(date), content).Scan(&d.ID, &stored, &d.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "digests_upsert", "digests", start, err)
	if err != nil {
		return domain.Digest{}, err
	}
	d.Date = time.Date(stored.Year(), stored.Month(), stored.Day(), 0, 0, 0, 0, date.Location())
	return d, nil
}

// LatestDigest возвращает последний созданный дайджест.
func (p *Postgres) LatestDigest(ctx context.Context) (domain.Digest, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var d domain.Digest
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT id, date, content, created_at FROM digests ORDER BY created_at DESC, id DESC LIMIT 1`).
		Scan(&d.ID, &d.Date, &d.Content, &d.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "digests_latest", "digests", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Digest{}, domain.ErrNotFound
	}
	return d, err
}

// AcquireScheduleSlot вставляет запись о срабатывании и возвращает true, если удалось.
func (p *Postgres) AcquireScheduleSlot(ctx context.Context, slot string) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `INSERT INTO schedule_runs (slot) VALUES ($1) ON CONFLICT (slot) DO NOTHING`, slot)
	metrics.ObserveNetworkRequest("postgres", "schedule_runs_acquire", "schedule_runs", start, err)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// AcquireLease считает срок аренды по часам базы, чтобы процессы не зависели от своих часов.
func (p *Postgres) AcquireLease(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
		INSERT INTO leases (lease_key, owner, expires_at) VALUES ($1, $2, now() + make_interval(secs => $3))
		ON CONFLICT (lease_key) DO UPDATE SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at
		WHERE leases.expires_at <= now()`, key, owner, ttl.Seconds())
	metrics.ObserveNetworkRequest("postgres", "leases_acquire", "leases", start, err)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) ReleaseLease(ctx context.Context, key, owner string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `DELETE FROM leases WHERE lease_key = $1 AND owner = $2`, key, owner)
	metrics.ObserveNetworkRequest("postgres", "leases_release", "leases", start, err)
	return err
}
