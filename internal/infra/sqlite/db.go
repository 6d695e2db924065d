// Package sqlite provides SQLite-based persistent storage for the
// engagement engine: rolling counters, streak snapshots and the in-app inbox.
// Uses WAL mode for concurrent reads and crash-safe writes.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)

	"github.com/tutu-network/engage/internal/domain"
	"github.com/tutu-network/engage/internal/infra/metrics"
)

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	db    *sql.DB
	clock domain.Clock
}

// Option configures a DB.
type Option func(*DB)

// WithClock sets the clock used for counter expiry.
func WithClock(c domain.Clock) Option {
	return func(d *DB) { d.clock = c }
}

// Open creates or opens the SQLite database at dir/engage.db.
// Enables WAL mode and a 5-second busy timeout.
func Open(dir string, opts ...Option) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "engage.db")
	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Connection pool settings for SQLite
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	d := &DB{db: db, clock: domain.SystemClock{}}
	for _, o := range opts {
		o(d)
	}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		// Rolling counters: rewardcount, cooldown, dailycount
		`CREATE TABLE IF NOT EXISTS counters (
			key        TEXT PRIMARY KEY,
			value      INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_counters_expires ON counters(expires_at)`,

		// Streak snapshots, one row per user
		`CREATE TABLE IF NOT EXISTS streak_states (
			user_id             TEXT PRIMARY KEY,
			current_streak      INTEGER NOT NULL DEFAULT 0,
			best_streak         INTEGER NOT NULL DEFAULT 0,
			last_check_in       INTEGER,
			freeze_tokens       INTEGER NOT NULL DEFAULT 0,
			grace_used          BOOLEAN NOT NULL DEFAULT 0,
			total_practice_days INTEGER NOT NULL DEFAULT 0,
			updated_at          INTEGER NOT NULL
		)`,

		// In-app inbox
		`CREATE TABLE IF NOT EXISTS notifications (
			id            TEXT PRIMARY KEY,
			user_id       TEXT NOT NULL,
			type          TEXT NOT NULL,
			priority      TEXT NOT NULL,
			channel       TEXT NOT NULL,
			title         TEXT NOT NULL,
			body          TEXT NOT NULL,
			action_url    TEXT NOT NULL DEFAULT '',
			scheduled_for INTEGER NOT NULL,
			expires_at    INTEGER NOT NULL,
			local_day     TEXT NOT NULL,
			reason        TEXT NOT NULL DEFAULT '{}',
			created_at    INTEGER NOT NULL,
			shown         BOOLEAN NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notif_user ON notifications(user_id, shown, created_at)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// observe records the duration of a storage call.
func observe(op string, start time.Time) {
	metrics.StoreLatency.WithLabelValues("sqlite", op).Observe(time.Since(start).Seconds())
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func nullableUnix(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}
