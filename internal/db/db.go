package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Connect opens the database for driver ("postgres" or "sqlite3") and runs migrations.
func Connect(driver, dsn string, maxOpenConns int, log *zap.Logger) (*sqlx.DB, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	// sqlite serializes writers anyway; one connection avoids SQLITE_BUSY under concurrent writes.
	if driver == "sqlite3" {
		maxOpenConns = 1
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	log.Info("database migrations applied", zap.String("driver", driver))
	return db, nil
}

// Migrate creates the schema for the connected driver if it does not exist.
func Migrate(db *sqlx.DB) error {
	migrations := postgresMigrations
	if db.DriverName() == "sqlite3" {
		migrations = sqliteMigrations
	}
	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
            id BIGSERIAL PRIMARY KEY,
            username VARCHAR(64) NOT NULL UNIQUE,
            full_name VARCHAR(100) NOT NULL DEFAULT '',
            last_seen TIMESTAMPTZ,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
	`CREATE TABLE IF NOT EXISTS conversations (
            id BIGSERIAL PRIMARY KEY,
            user1_id BIGINT NOT NULL,
            user2_id BIGINT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            UNIQUE(user1_id, user2_id),
            CHECK (user1_id < user2_id)
        );`,
	`CREATE TABLE IF NOT EXISTS messages (
            id BIGSERIAL PRIMARY KEY,
            conversation_id BIGINT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
            sender_id BIGINT NOT NULL,
            type VARCHAR(20) NOT NULL DEFAULT 'text',
            content TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            delivered BOOLEAN NOT NULL DEFAULT FALSE,
            read BOOLEAN NOT NULL DEFAULT FALSE
        );`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);`,
	`CREATE TABLE IF NOT EXISTS call_logs (
            id BIGSERIAL PRIMARY KEY,
            caller_id BIGINT NOT NULL,
            receiver_id BIGINT NOT NULL,
            status VARCHAR(20) NOT NULL,
            start_time TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            end_time TIMESTAMPTZ,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
}

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            username TEXT NOT NULL UNIQUE,
            full_name TEXT NOT NULL DEFAULT '',
            last_seen TIMESTAMP,
            created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
        );`,
	`CREATE TABLE IF NOT EXISTS conversations (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            user1_id INTEGER NOT NULL,
            user2_id INTEGER NOT NULL,
            created_at TIMESTAMP NOT NULL,
            UNIQUE(user1_id, user2_id),
            CHECK (user1_id < user2_id)
        );`,
	`CREATE TABLE IF NOT EXISTS messages (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            conversation_id INTEGER NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
            sender_id INTEGER NOT NULL,
            type TEXT NOT NULL DEFAULT 'text',
            content TEXT NOT NULL,
            created_at TIMESTAMP NOT NULL,
            delivered BOOLEAN NOT NULL DEFAULT FALSE,
            read BOOLEAN NOT NULL DEFAULT FALSE
        );`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);`,
	`CREATE TABLE IF NOT EXISTS call_logs (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            caller_id INTEGER NOT NULL,
            receiver_id INTEGER NOT NULL,
            status TEXT NOT NULL,
            start_time TIMESTAMP NOT NULL,
            end_time TIMESTAMP,
            created_at TIMESTAMP NOT NULL
        );`,
}
