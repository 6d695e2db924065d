package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tutu-network/engage/internal/domain"
)

const (
	getStreakSQL = `SELECT user_id, current_streak, best_streak, last_check_in, freeze_tokens, grace_used, total_practice_days
		FROM streak_states WHERE user_id = $1`
	saveStreakSQL = `INSERT INTO streak_states
			(user_id, current_streak, best_streak, last_check_in, freeze_tokens, grace_used, total_practice_days, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO UPDATE SET
			current_streak = EXCLUDED.current_streak,
			best_streak = EXCLUDED.best_streak,
			last_check_in = EXCLUDED.last_check_in,
			freeze_tokens = EXCLUDED.freeze_tokens,
			grace_used = EXCLUDED.grace_used,
			total_practice_days = EXCLUDED.total_practice_days,
			updated_at = EXCLUDED.updated_at`
)

// GetStreak returns a user's snapshot or domain.ErrStreakNotFound.
// last_check_in is Unix seconds; 0 means never.
func (s *Store) GetStreak(ctx context.Context, userID string) (*domain.StreakState, error) {
	defer observe("get_streak", time.Now())

	var (
		st   domain.StreakState
		last int64
	)
	err := s.conn.QueryRow(ctx, getStreakSQL, userID).Scan(
		&st.UserID, &st.CurrentStreak, &st.BestStreak, &last,
		&st.FreezeTokens, &st.GracePeriodUsedThisStreak, &st.TotalPracticeDays,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrStreakNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get streak %s: %w", userID, err)
	}
	if last > 0 {
		t := time.Unix(last, 0)
		st.LastCheckIn = &t
	}
	return &st, nil
}

// SaveStreak upserts a user's snapshot.
func (s *Store) SaveStreak(ctx context.Context, st domain.StreakState) error {
	defer observe("save_streak", time.Now())

	var last int64
	if st.LastCheckIn != nil {
		last = st.LastCheckIn.Unix()
	}
	_, err := s.conn.Exec(ctx, saveStreakSQL,
		st.UserID, st.CurrentStreak, st.BestStreak, last,
		st.FreezeTokens, st.GracePeriodUsedThisStreak, st.TotalPracticeDays,
		s.clock.Now(),
	)
	if err != nil {
		return fmt.Errorf("save streak %s: %w", st.UserID, err)
	}
	return nil
}
