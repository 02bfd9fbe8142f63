package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect создаёт пул подключений к Postgres.
func Connect(dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 5
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
	id          BIGINT PRIMARY KEY,
	username    TEXT,
	subscribed  BOOLEAN NOT NULL DEFAULT FALSE,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS channels (
	id          BIGINT PRIMARY KEY,
	name        TEXT NOT NULL DEFAULT '',
	handle      TEXT,
	added_by    BIGINT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS messages (
	id            BIGSERIAL PRIMARY KEY,
	channel_id    BIGINT NOT NULL,
	content       TEXT NOT NULL,
	authored_at   TIMESTAMPTZ NOT NULL,
	processed     BOOLEAN NOT NULL DEFAULT FALSE,
	content_hash  TEXT NOT NULL,
	source        TEXT NOT NULL CHECK (source IN ('interactive', 'scraped')),
	link          TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_content_hash ON messages (content_hash);
CREATE INDEX IF NOT EXISTS idx_messages_processed ON messages (processed);
CREATE INDEX IF NOT EXISTS idx_messages_authored_at ON messages (authored_at);

CREATE TABLE IF NOT EXISTS digests (
	id          BIGSERIAL PRIMARY KEY,
	date        DATE NOT NULL UNIQUE,
	content     TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS schedule_runs (
	slot        TEXT PRIMARY KEY,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS leases (
	lease_key   TEXT PRIMARY KEY,
	owner       TEXT NOT NULL,
	expires_at  TIMESTAMPTZ NOT NULL
);
`

// MigratePostgres применяет схему. DDL идемпотентен.
func MigratePostgres(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}
	return nil
}
