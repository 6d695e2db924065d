package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Expiry is stored in Unix milliseconds.

// GetCounter returns the live value for key.
func (d *DB) GetCounter(ctx context.Context, key string) (int64, bool, error) {
	defer observe("get", time.Now())

	var value int64
	err := d.db.QueryRowContext(ctx,
		`SELECT value FROM counters WHERE key = ? AND expires_at > ?`,
		key, d.clock.Now().UnixMilli(),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return value, true, nil
}

// IncrCounter adds delta in a single statement. An expired row is reset as
// if it were missing; a live row keeps its expiry.
func (d *DB) IncrCounter(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	defer observe("incr", time.Now())

	now := d.clock.Now()
	var value int64
	err := d.db.QueryRowContext(ctx,
		`INSERT INTO counters (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
			value = CASE WHEN counters.expires_at > ? THEN counters.value + excluded.value ELSE excluded.value END,
			expires_at = CASE WHEN counters.expires_at > ? THEN counters.expires_at ELSE excluded.expires_at END
		 RETURNING value`,
		key, delta, now.Add(ttl).UnixMilli(), now.UnixMilli(), now.UnixMilli(),
	).Scan(&value)
	return value, err
}

// SetCounter overwrites key with value and a fresh expiry.
func (d *DB) SetCounter(ctx context.Context, key string, value int64, ttl time.Duration) error {
	defer observe("set", time.Now())

	_, err := d.db.ExecContext(ctx,
		`INSERT INTO counters (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, expires_at=excluded.expires_at`,
		key, value, d.clock.Now().Add(ttl).UnixMilli(),
	)
	return err
}

// PurgeExpiredCounters deletes expired rows and returns how many went.
func (d *DB) PurgeExpiredCounters(ctx context.Context) (int64, error) {
	defer observe("purge", time.Now())

	res, err := d.db.ExecContext(ctx,
		`DELETE FROM counters WHERE expires_at <= ?`, d.clock.Now().UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
