package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tutu-network/engage/internal/domain"
)

// GetStreak retrieves a user's streak snapshot.
func (d *DB) GetStreak(ctx context.Context, userID string) (*domain.StreakState, error) {
	defer observe("get_streak", time.Now())

	row := d.db.QueryRowContext(ctx,
		`SELECT user_id, current_streak, best_streak, last_check_in, freeze_tokens, grace_used, total_practice_days
		 FROM streak_states WHERE user_id = ?`, userID,
	)
	s, err := scanStreak(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrStreakNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan streak: %w", err)
	}
	return s, nil
}

// SaveStreak inserts or replaces a user's streak snapshot.
func (d *DB) SaveStreak(ctx context.Context, s domain.StreakState) error {
	defer observe("save_streak", time.Now())

	_, err := d.db.ExecContext(ctx,
		`INSERT INTO streak_states (user_id, current_streak, best_streak, last_check_in, freeze_tokens, grace_used, total_practice_days, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			current_streak=excluded.current_streak,
			best_streak=excluded.best_streak,
			last_check_in=excluded.last_check_in,
			freeze_tokens=excluded.freeze_tokens,
			grace_used=excluded.grace_used,
			total_practice_days=excluded.total_practice_days,
			updated_at=excluded.updated_at`,
		s.UserID, s.CurrentStreak, s.BestStreak, nullableUnix(s.LastCheckIn),
		s.FreezeTokens, s.GracePeriodUsedThisStreak, s.TotalPracticeDays,
		d.clock.Now().Unix(),
	)
	return err
}

func scanStreak(sc scanner) (*domain.StreakState, error) {
	var s domain.StreakState
	var last sql.NullInt64
	err := sc.Scan(&s.UserID, &s.CurrentStreak, &s.BestStreak, &last,
		&s.FreezeTokens, &s.GracePeriodUsedThisStreak, &s.TotalPracticeDays)
	if err != nil {
		return nil, err
	}
	if last.Valid {
		t := time.Unix(last.Int64, 0)
		s.LastCheckIn = &t
	}
	return &s, nil
}
