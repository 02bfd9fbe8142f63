package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion — последняя версия схемы SQLite.
const CurrentSchemaVersion = 2

// OpenSQLite открывает файл базы, включает WAL и применяет миграции.
// Транзакции записи начинаются как IMMEDIATE, поэтому конкурентные писатели сериализуются движком.
func OpenSQLite(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrateSQLite(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func migrateSQLite(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS users (
		  id          INTEGER PRIMARY KEY,
		  username    TEXT,
		  subscribed  INTEGER NOT NULL DEFAULT 0,
		  created_at  INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS channels (
		  id          INTEGER PRIMARY KEY,
		  name        TEXT NOT NULL DEFAULT '',
		  handle      TEXT,
		  added_by    INTEGER,
		  created_at  INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS messages (
		  id            INTEGER PRIMARY KEY AUTOINCREMENT,
		  channel_id    INTEGER NOT NULL,
		  content       TEXT NOT NULL,
		  authored_at   INTEGER NOT NULL,
		  processed     INTEGER NOT NULL DEFAULT 0,
		  content_hash  TEXT NOT NULL,
		  source        TEXT NOT NULL CHECK (source IN ('interactive', 'scraped')),
		  link          TEXT,
		  created_at    INTEGER NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_content_hash ON messages(content_hash);
		CREATE INDEX IF NOT EXISTS idx_messages_processed ON messages(processed);
		CREATE INDEX IF NOT EXISTS idx_messages_authored_at ON messages(authored_at);

		CREATE TABLE IF NOT EXISTS digests (
		  id          INTEGER PRIMARY KEY AUTOINCREMENT,
		  date        TEXT NOT NULL UNIQUE,
		  content     TEXT NOT NULL,
		  created_at  INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS schedule_runs (
		  slot        TEXT PRIMARY KEY,
		  created_at  INTEGER NOT NULL
		);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	if version < 2 {
		schema := `
		CREATE TABLE IF NOT EXISTS leases (
		  lease_key   TEXT PRIMARY KEY,
		  owner       TEXT NOT NULL,
		  expires_at  INTEGER NOT NULL
		);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 2 failed: %w", err)
		}
		if err := SetUserVersion(db, 2); err != nil {
			return err
		}
	}

	return nil
}

func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion возвращает текущую версию схемы (PRAGMA user_version).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion выставляет версию схемы.
func SetUserVersion(db *sql.DB, version int) error {
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version)); err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
