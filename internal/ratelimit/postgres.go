package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the part of *pgxpool.Pool the Postgres store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

const schema = `
CREATE TABLE IF NOT EXISTS rate_limit_events (
	key TEXT NOT NULL,
	at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS rate_limit_events_key_at ON rate_limit_events (key, at);`

// PostgresStore shares limits across instances. Each decision runs in a
// transaction holding an advisory lock on the key.
type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate rate limit table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Allow(ctx context.Context, key string, rule Rule, now time.Time) (Decision, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return Decision{}, fmt.Errorf("lock: %w", err)
	}
	cutoff := now.Add(-rule.Window)
	if _, err := tx.Exec(ctx, `DELETE FROM rate_limit_events WHERE key = $1 AND at <= $2`, key, cutoff); err != nil {
		return Decision{}, fmt.Errorf("prune: %w", err)
	}

	var count int
	var oldest *time.Time
	if err := tx.QueryRow(ctx,
		`SELECT count(*), min(at) FROM rate_limit_events WHERE key = $1`, key,
	).Scan(&count, &oldest); err != nil {
		return Decision{}, fmt.Errorf("count: %w", err)
	}

	if count >= rule.Limit {
		d := Decision{RetryAfter: rule.Window}
		if oldest != nil {
			d.RetryAfter = oldest.Add(rule.Window).Sub(now)
		}
		return d, tx.Commit(ctx)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO rate_limit_events (key, at) VALUES ($1, $2)`, key, now); err != nil {
		return Decision{}, fmt.Errorf("record: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Decision{}, fmt.Errorf("commit: %w", err)
	}
	return Decision{Allowed: true, Remaining: rule.Limit - count - 1}, nil
}
