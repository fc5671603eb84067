package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

// Connect initializes the database connection and runs migrations.
func Connect(dsn string, logger zerolog.Logger) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	logger.Info().Msg("database migrations applied")
	return db, nil
}

func runMigrations(db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS groups (
            id SERIAL PRIMARY KEY,
            name TEXT NOT NULL,
            owner_id INT NOT NULL,
            is_active BOOLEAN NOT NULL DEFAULT TRUE,
            created_at TIMESTAMPTZ DEFAULT NOW()
        );`,
		`CREATE TABLE IF NOT EXISTS group_members (
            group_id INT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
            user_id INT NOT NULL,
            active BOOLEAN NOT NULL DEFAULT TRUE,
            PRIMARY KEY(group_id, user_id)
        );`,
		`CREATE TABLE IF NOT EXISTS messages (
            id SERIAL PRIMARY KEY,
            sender_id INT NOT NULL,
            receiver_id INT,
            group_id INT REFERENCES groups(id) ON DELETE CASCADE,
            content TEXT NOT NULL,
            translated_content TEXT,
            detected_lang TEXT,
            client_message_id TEXT,
            status TEXT NOT NULL DEFAULT 'sent',
            scheduled_for TIMESTAMPTZ,
            sent_at TIMESTAMPTZ,
            delivered_at TIMESTAMPTZ,
            seen_at TIMESTAMPTZ,
            created_at TIMESTAMPTZ DEFAULT NOW(),
            CHECK ((receiver_id IS NULL) <> (group_id IS NULL))
        );`,
		`CREATE UNIQUE INDEX IF NOT EXISTS messages_sender_client_id
            ON messages (sender_id, client_message_id)
            WHERE client_message_id IS NOT NULL;`,
		`CREATE INDEX IF NOT EXISTS messages_due
            ON messages (scheduled_for)
            WHERE status = 'scheduled';`,
		`CREATE TABLE IF NOT EXISTS message_receipts (
            message_id INT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
            member_id INT NOT NULL,
            delivered_at TIMESTAMPTZ,
            seen_at TIMESTAMPTZ,
            PRIMARY KEY(message_id, member_id)
        );`,
		`CREATE TABLE IF NOT EXISTS call_sessions (
            id UUID PRIMARY KEY,
            caller_id INT NOT NULL,
            receiver_id INT NOT NULL,
            status TEXT NOT NULL DEFAULT 'ringing',
            started_at TIMESTAMPTZ DEFAULT NOW(),
            ended_at TIMESTAMPTZ
        );`,
		`CREATE TABLE IF NOT EXISTS notifications (
            id SERIAL PRIMARY KEY,
            user_id INT NOT NULL,
            kind TEXT NOT NULL,
            payload JSONB NOT NULL DEFAULT '{}',
            created_at TIMESTAMPTZ DEFAULT NOW()
        );`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}
