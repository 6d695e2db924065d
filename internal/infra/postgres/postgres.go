// Package postgres provides a PostgreSQL implementation of domain.Store for
// deployments that share counters and streaks across several API nodes.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tutu-network/engage/internal/domain"
	"github.com/tutu-network/engage/internal/infra/metrics"
)

// PgConnection is the subset of *pgxpool.Pool the store uses.
type PgConnection interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store persists counters, streaks and the inbox in PostgreSQL.
type Store struct {
	conn  PgConnection
	clock domain.Clock
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for counter expiry.
func WithClock(c domain.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// Open connects a pool to dsn, pings it and applies the schema.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	s, err := NewWithConn(ctx, pool, opts...)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewWithConn wraps an existing connection. It pings but does not migrate.
func NewWithConn(ctx context.Context, conn PgConnection, opts ...Option) (*Store, error) {
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &Store{conn: conn, clock: domain.SystemClock{}}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, m := range migrations {
		if _, err := s.conn.Exec(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS counters (
		key        TEXT PRIMARY KEY,
		value      BIGINT NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_counters_expires ON counters(expires_at)`,
	`CREATE TABLE IF NOT EXISTS streak_states (
		user_id             TEXT PRIMARY KEY,
		current_streak      INTEGER NOT NULL DEFAULT 0,
		best_streak         INTEGER NOT NULL DEFAULT 0,
		last_check_in       BIGINT NOT NULL DEFAULT 0,
		freeze_tokens       INTEGER NOT NULL DEFAULT 0,
		grace_used          BOOLEAN NOT NULL DEFAULT FALSE,
		total_practice_days INTEGER NOT NULL DEFAULT 0,
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id            TEXT PRIMARY KEY,
		user_id       TEXT NOT NULL,
		type          TEXT NOT NULL,
		priority      TEXT NOT NULL,
		channel       TEXT NOT NULL,
		title         TEXT NOT NULL,
		body          TEXT NOT NULL,
		action_url    TEXT NOT NULL DEFAULT '',
		scheduled_for TIMESTAMPTZ NOT NULL,
		expires_at    TIMESTAMPTZ NOT NULL,
		local_day     TEXT NOT NULL,
		reason        JSONB NOT NULL DEFAULT '{}',
		created_at    TIMESTAMPTZ NOT NULL,
		shown         BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notif_user ON notifications(user_id, shown, created_at)`,
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() error {
	s.conn.Close()
	return nil
}

// ─── Counters ───────────────────────────────────────────────────────────────

const (
	getCounterSQL  = `SELECT value FROM counters WHERE key = $1 AND expires_at > $2`
	incrCounterSQL = `INSERT INTO counters (key, value, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET
			value = CASE WHEN counters.expires_at > $4 THEN counters.value + EXCLUDED.value ELSE EXCLUDED.value END,
			expires_at = CASE WHEN counters.expires_at > $4 THEN counters.expires_at ELSE EXCLUDED.expires_at END
		RETURNING value`
	setCounterSQL = `INSERT INTO counters (key, value, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`
	purgeCountersSQL = `DELETE FROM counters WHERE expires_at <= $1`
)

// GetCounter returns the live value for key.
func (s *Store) GetCounter(ctx context.Context, key string) (int64, bool, error) {
	defer observe("get", time.Now())

	var value int64
	err := s.conn.QueryRow(ctx, getCounterSQL, key, s.clock.Now()).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get counter %s: %w", key, err)
	}
	return value, true, nil
}

// IncrCounter adds delta atomically. An expired row restarts at zero.
func (s *Store) IncrCounter(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	defer observe("incr", time.Now())

	now := s.clock.Now()
	var value int64
	if err := s.conn.QueryRow(ctx, incrCounterSQL, key, delta, now.Add(ttl), now).Scan(&value); err != nil {
		return 0, fmt.Errorf("incr counter %s: %w", key, err)
	}
	return value, nil
}

// SetCounter overwrites key with a fresh expiry.
func (s *Store) SetCounter(ctx context.Context, key string, value int64, ttl time.Duration) error {
	defer observe("set", time.Now())

	if _, err := s.conn.Exec(ctx, setCounterSQL, key, value, s.clock.Now().Add(ttl)); err != nil {
		return fmt.Errorf("set counter %s: %w", key, err)
	}
	return nil
}

// PurgeExpiredCounters deletes expired rows.
func (s *Store) PurgeExpiredCounters(ctx context.Context) (int64, error) {
	defer observe("purge", time.Now())

	tag, err := s.conn.Exec(ctx, purgeCountersSQL, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("purge counters: %w", err)
	}
	return tag.RowsAffected(), nil
}

func observe(op string, start time.Time) {
	metrics.StoreLatency.WithLabelValues("postgres", op).Observe(time.Since(start).Seconds())
}
