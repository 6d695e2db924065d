// Package engagement implements the behavioral engagement engine:
// streak tracking with forgiveness rules, variable rewards, and smart
// notification scheduling.
// Decisions are pure functions over a snapshot plus the current time; the
// services in this package apply their side effects (store writes, metrics,
// structured logs) around those decisions.
package engagement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tutu-network/engage/internal/domain"
	"github.com/tutu-network/engage/internal/infra/metrics"
)

// StreakConfig holds the forgiveness constants.
type StreakConfig struct {
	FreezeEarnRate    int // a continued streak landing on a multiple earns one token
	ComebackThreshold int // broken with Δ ≥ this flags a comeback
	FreezeWindowDays  int // largest Δ a freeze token can bridge
}

// DefaultStreakConfig returns the production constants.
func DefaultStreakConfig() StreakConfig {
	return StreakConfig{
		FreezeEarnRate:    7,
		ComebackThreshold: 3,
		FreezeWindowDays:  3,
	}
}

// StreakTracker is the pure check-in state machine.
type StreakTracker struct {
	cfg StreakConfig
}

// NewStreakTracker creates a tracker. Zero fields fall back to defaults.
func NewStreakTracker(cfg StreakConfig) *StreakTracker {
	def := DefaultStreakConfig()
	if cfg.FreezeEarnRate <= 0 {
		cfg.FreezeEarnRate = def.FreezeEarnRate
	}
	if cfg.ComebackThreshold <= 0 {
		cfg.ComebackThreshold = def.ComebackThreshold
	}
	if cfg.FreezeWindowDays < 2 {
		cfg.FreezeWindowDays = def.FreezeWindowDays
	}
	return &StreakTracker{cfg: cfg}
}

// CheckIn applies one check-in at now to state and returns the outcome and
// the state to persist. Δ counts calendar days in now's location.
//
//	Δ=0                       maintained, nothing changes
//	Δ=1                       continued, +1, token on every FreezeEarnRate-th day
//	Δ=2, grace unused         grace_period_used, +1
//	Δ≤FreezeWindowDays, token frozen, length preserved, one token spent
//	otherwise                 broken, reset to 1, comeback if Δ ≥ threshold
func (t *StreakTracker) CheckIn(state domain.StreakState, now time.Time) (domain.StreakCheckInResult, domain.StreakState) {
	next := state
	res := domain.StreakCheckInResult{DaysSinceLast: -1}

	if state.LastCheckIn == nil {
		// First check-in ever
		next.CurrentStreak = 1
		next.GracePeriodUsedThisStreak = false
		res.Status = domain.StreakContinued
	} else {
		delta := calendarDays(*state.LastCheckIn, now)
		res.DaysSinceLast = delta

		switch {
		case delta == 0:
			// Same day, already counted
			res.Status = domain.StreakMaintained
			res.NewStreakLength = state.CurrentStreak
			res.FreezeTokensRemaining = state.FreezeTokens
			return res, state

		case delta == 1:
			next.CurrentStreak++
			res.Status = domain.StreakContinued
			if next.CurrentStreak%t.cfg.FreezeEarnRate == 0 {
				next.FreezeTokens++
				res.TokenEarned = true
			}

		case delta == 2 && !state.GracePeriodUsedThisStreak:
			// Once per streak, free, and the day still counts
			next.CurrentStreak++
			next.GracePeriodUsedThisStreak = true
			res.Status = domain.StreakGracePeriodUsed

		case delta <= t.cfg.FreezeWindowDays && state.FreezeTokens > 0:
			// Freeze preserves the streak but does not grow it
			next.FreezeTokens--
			res.Status = domain.StreakFrozen

		default:
			next.CurrentStreak = 1
			next.GracePeriodUsedThisStreak = false
			res.Status = domain.StreakBroken
			res.ComebackBonus = delta >= t.cfg.ComebackThreshold
		}
	}

	at := now
	next.LastCheckIn = &at
	next.TotalPracticeDays++
	if next.CurrentStreak > next.BestStreak {
		next.BestStreak = next.CurrentStreak
	}

	res.NewStreakLength = next.CurrentStreak
	res.FreezeTokensRemaining = next.FreezeTokens
	return res, next
}

// ─── StreakService ──────────────────────────────────────────────────────────

// StreakService runs check-ins against stored snapshots.
// It owns the per-user lock, the repository round trip, metrics and logs;
// the transition itself is StreakTracker's.
type StreakService struct {
	repo    domain.StreakRepository
	tracker *StreakTracker
	locks   *UserLocks
	clock   domain.Clock
	logger  *slog.Logger
}

// NewStreakService creates a streak service.
func NewStreakService(repo domain.StreakRepository, tracker *StreakTracker, locks *UserLocks, clock domain.Clock, logger *slog.Logger) *StreakService {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StreakService{
		repo:    repo,
		tracker: tracker,
		locks:   locks,
		clock:   clock,
		logger:  logger.With(slog.String("component", "streak")),
	}
}

// Current loads the stored state. Unknown users get a zero state.
func (s *StreakService) Current(ctx context.Context, userID string) (domain.StreakState, error) {
	state, err := s.repo.GetStreak(ctx, userID)
	if errors.Is(err, domain.ErrStreakNotFound) {
		return domain.StreakState{UserID: userID}, nil
	}
	if err != nil {
		return domain.StreakState{}, fmt.Errorf("get streak %s: %w", userID, err)
	}
	return *state, nil
}

// CheckIn records a check-in at `at` (zero = now). Pass `at` in the user's
// timezone: day boundaries are taken from its location.
func (s *StreakService) CheckIn(ctx context.Context, userID string, at time.Time) (domain.StreakCheckInResult, domain.StreakState, error) {
	if at.IsZero() {
		at = s.clock.Now()
	}
	logger := s.logger.With(slog.String("user_id", userID))

	release, err := s.locks.Acquire(ctx, userID)
	if err != nil {
		return domain.StreakCheckInResult{}, domain.StreakState{}, fmt.Errorf("lock user %s: %w", userID, err)
	}
	defer release()

	prev, err := s.Current(ctx, userID)
	if err != nil {
		logger.Error("check-in failed", slog.String("stage", "load"), slog.String("error", err.Error()))
		return domain.StreakCheckInResult{}, domain.StreakState{}, err
	}

	res, next := s.tracker.CheckIn(prev, at)
	metrics.StreakCheckIns.WithLabelValues(string(res.Status)).Inc()

	if res.Status == domain.StreakMaintained {
		return res, prev, nil
	}

	if err := s.repo.SaveStreak(ctx, next); err != nil {
		logger.Error("check-in failed", slog.String("stage", "save"), slog.String("error", err.Error()))
		return domain.StreakCheckInResult{}, domain.StreakState{}, fmt.Errorf("save streak %s: %w", userID, err)
	}

	if res.TokenEarned {
		metrics.FreezeTokenEvents.WithLabelValues("earned").Inc()
	}
	if res.Status == domain.StreakFrozen {
		metrics.FreezeTokenEvents.WithLabelValues("consumed").Inc()
	}
	if res.ComebackBonus {
		metrics.Comebacks.Inc()
	}

	logger.Info("streak check-in",
		slog.String("status", string(res.Status)),
		slog.Int("streak", res.NewStreakLength),
		slog.Int("days_since_last", res.DaysSinceLast),
		slog.Int("freeze_tokens", res.FreezeTokensRemaining),
		slog.Bool("comeback", res.ComebackBonus),
	)
	return res, next, nil
}
