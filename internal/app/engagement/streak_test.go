package engagement_test

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/tutu-network/engage/internal/app/engagement"
	"github.com/tutu-network/engage/internal/domain"
	"github.com/tutu-network/engage/internal/infra/memstore"
)

var today = time.Date(2025, 7, 10, 12, 0, 0, 0, time.UTC) // Thursday

func daysAgo(n int) *time.Time {
	return ptr(today.AddDate(0, 0, -n))
}

func tracker() *engagement.StreakTracker {
	return engagement.NewStreakTracker(engagement.DefaultStreakConfig())
}

// ═══════════════════════════════════════════════════════════════════════════
// Check-in scenarios
// ═══════════════════════════════════════════════════════════════════════════

func TestCheckIn_Scenarios(t *testing.T) {
	tests := []struct {
		name       string
		state      domain.StreakState
		wantLen    int
		wantStatus domain.StreakStatus
		wantTokens int
		comeback   bool
	}{
		{
			name:       "first check-in",
			state:      domain.StreakState{FreezeTokens: 3},
			wantLen:    1,
			wantStatus: domain.StreakContinued,
			wantTokens: 3,
		},
		{
			name:       "consecutive day",
			state:      domain.StreakState{CurrentStreak: 5, LastCheckIn: daysAgo(1), FreezeTokens: 3},
			wantLen:    6,
			wantStatus: domain.StreakContinued,
			wantTokens: 3,
		},
		{
			name:       "same day",
			state:      domain.StreakState{CurrentStreak: 5, LastCheckIn: daysAgo(0)},
			wantLen:    5,
			wantStatus: domain.StreakMaintained,
		},
		{
			name:       "two days with grace",
			state:      domain.StreakState{CurrentStreak: 10, LastCheckIn: daysAgo(2), FreezeTokens: 3},
			wantLen:    11,
			wantStatus: domain.StreakGracePeriodUsed,
			wantTokens: 3,
		},
		{
			name:       "three days with token",
			state:      domain.StreakState{CurrentStreak: 15, LastCheckIn: daysAgo(3), FreezeTokens: 2, GracePeriodUsedThisStreak: true},
			wantLen:    15,
			wantStatus: domain.StreakFrozen,
			wantTokens: 1,
		},
		{
			name:       "four days unprotected",
			state:      domain.StreakState{CurrentStreak: 20, LastCheckIn: daysAgo(4), GracePeriodUsedThisStreak: true},
			wantLen:    1,
			wantStatus: domain.StreakBroken,
			comeback:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, _ := tracker().CheckIn(tt.state, today)
			if res.NewStreakLength != tt.wantLen {
				t.Errorf("length = %d, want %d", res.NewStreakLength, tt.wantLen)
			}
			if res.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", res.Status, tt.wantStatus)
			}
			if res.FreezeTokensRemaining != tt.wantTokens {
				t.Errorf("tokens = %d, want %d", res.FreezeTokensRemaining, tt.wantTokens)
			}
			if res.ComebackBonus != tt.comeback {
				t.Errorf("comeback = %v, want %v", res.ComebackBonus, tt.comeback)
			}
		})
	}
}

func TestCheckIn_SameDayIdempotent(t *testing.T) {
	tr := tracker()
	state := domain.StreakState{UserID: "u1", CurrentStreak: 5, BestStreak: 8, LastCheckIn: daysAgo(1), TotalPracticeDays: 20}

	_, state = tr.CheckIn(state, today)
	for i := 0; i < 5; i++ {
		at := today.Add(time.Duration(i) * time.Hour)
		res, next := tr.CheckIn(state, at)
		if res.Status != domain.StreakMaintained {
			t.Fatalf("call %d: status = %s, want maintained", i, res.Status)
		}
		if res.NewStreakLength != 6 {
			t.Fatalf("call %d: length = %d, want 6", i, res.NewStreakLength)
		}
		if next.TotalPracticeDays != state.TotalPracticeDays || !next.LastCheckIn.Equal(*state.LastCheckIn) {
			t.Fatalf("call %d: state changed on maintained check-in", i)
		}
	}
}

func TestCheckIn_EarnsTokenOnSeventhDay(t *testing.T) {
	res, next := tracker().CheckIn(domain.StreakState{CurrentStreak: 6, LastCheckIn: daysAgo(1)}, today)
	if !res.TokenEarned || next.FreezeTokens != 1 {
		t.Errorf("expected token on day 7, got earned=%v tokens=%d", res.TokenEarned, next.FreezeTokens)
	}

	res, _ = tracker().CheckIn(domain.StreakState{CurrentStreak: 7, LastCheckIn: daysAgo(1)}, today)
	if res.TokenEarned {
		t.Error("no token expected on day 8")
	}
}

func TestCheckIn_GracePrecedesFreeze(t *testing.T) {
	tr := tracker()
	state := domain.StreakState{CurrentStreak: 10, LastCheckIn: daysAgo(2), FreezeTokens: 2}

	res, state := tr.CheckIn(state, today)
	if res.Status != domain.StreakGracePeriodUsed {
		t.Fatalf("first gap: status = %s, want grace_period_used", res.Status)
	}
	if res.FreezeTokensRemaining != 2 {
		t.Fatalf("grace must not spend a token, got %d", res.FreezeTokensRemaining)
	}

	later := today.AddDate(0, 0, 2)
	res, _ = tr.CheckIn(state, later)
	if res.Status != domain.StreakFrozen || res.FreezeTokensRemaining != 1 || res.NewStreakLength != 11 {
		t.Errorf("second gap with tokens: got %+v", res)
	}

	state.FreezeTokens = 0
	res, _ = tr.CheckIn(state, later)
	if res.Status != domain.StreakBroken || res.ComebackBonus {
		t.Errorf("second gap without tokens: got %+v", res)
	}
}

func TestCheckIn_ComebackOnlyAfterThreeDays(t *testing.T) {
	tr := tracker()
	for gap := 2; gap <= 10; gap++ {
		state := domain.StreakState{CurrentStreak: 4, LastCheckIn: daysAgo(gap), GracePeriodUsedThisStreak: true}
		res, _ := tr.CheckIn(state, today)
		if res.Status != domain.StreakBroken {
			t.Fatalf("gap %d: status = %s, want broken", gap, res.Status)
		}
		if want := gap >= 3; res.ComebackBonus != want {
			t.Errorf("gap %d: comeback = %v, want %v", gap, res.ComebackBonus, want)
		}
	}
}

func TestCheckIn_BrokenResetsGrace(t *testing.T) {
	state := domain.StreakState{CurrentStreak: 9, BestStreak: 9, LastCheckIn: daysAgo(5), GracePeriodUsedThisStreak: true}
	_, next := tracker().CheckIn(state, today)
	if next.GracePeriodUsedThisStreak {
		t.Error("grace flag should reset on a broken streak")
	}
	if next.BestStreak != 9 {
		t.Errorf("best streak = %d, want 9", next.BestStreak)
	}
}

func TestCheckIn_FirstCheckInClearsGrace(t *testing.T) {
	state := domain.StreakState{UserID: "u1", GracePeriodUsedThisStreak: true}
	res, next := tracker().CheckIn(state, today)
	if res.Status != domain.StreakContinued || next.CurrentStreak != 1 {
		t.Errorf("first check-in: status = %s, streak = %d", res.Status, next.CurrentStreak)
	}
	if next.GracePeriodUsedThisStreak {
		t.Error("grace flag should reset when a new streak starts")
	}
}

func TestCheckIn_CalendarDaysInLocalZone(t *testing.T) {
	zone := time.FixedZone("UTC-5", -5*3600)
	last := time.Date(2025, 7, 9, 23, 30, 0, 0, zone)
	now := time.Date(2025, 7, 10, 0, 30, 0, 0, zone)

	res, _ := tracker().CheckIn(domain.StreakState{CurrentStreak: 3, LastCheckIn: &last}, now)
	if res.Status != domain.StreakContinued || res.DaysSinceLast != 1 {
		t.Errorf("an hour across local midnight should continue, got %+v", res)
	}
}

func TestCheckIn_FutureLastCheckInMaintains(t *testing.T) {
	res, _ := tracker().CheckIn(domain.StreakState{CurrentStreak: 3, LastCheckIn: daysAgo(-2)}, today)
	if res.Status != domain.StreakMaintained {
		t.Errorf("future last check-in: status = %s, want maintained", res.Status)
	}
}

func TestCheckIn_TokenMonotonicity(t *testing.T) {
	tr := tracker()
	rng := rand.New(rand.NewPCG(7, 11))
	state := domain.StreakState{UserID: "u1"}
	now := today

	for i := 0; i < 2000; i++ {
		now = now.AddDate(0, 0, rng.IntN(5))
		before := state.FreezeTokens
		res, next := tr.CheckIn(state, now)

		switch diff := next.FreezeTokens - before; {
		case diff == -1:
			if res.Status != domain.StreakFrozen {
				t.Fatalf("step %d: token spent on %s", i, res.Status)
			}
		case diff == 1:
			if res.Status != domain.StreakContinued || next.CurrentStreak%7 != 0 {
				t.Fatalf("step %d: token earned on %s at length %d", i, res.Status, next.CurrentStreak)
			}
		case diff != 0:
			t.Fatalf("step %d: tokens jumped by %d", i, diff)
		default:
			if res.Status == domain.StreakFrozen {
				t.Fatalf("step %d: frozen without spending a token", i)
			}
		}
		if next.BestStreak < next.CurrentStreak {
			t.Fatalf("step %d: best %d < current %d", i, next.BestStreak, next.CurrentStreak)
		}
		state = next
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Milestones & protection
// ═══════════════════════════════════════════════════════════════════════════

func TestCalculateMilestone(t *testing.T) {
	p := engagement.CalculateMilestone(5)
	if p.IsMilestone || p.NextMilestone != 7 || p.DaysUntilNextMilestone != 2 {
		t.Errorf("milestone(5) = %+v", p)
	}

	p = engagement.CalculateMilestone(7)
	if !p.IsMilestone || p.Name != "Week Warrior" || p.NextMilestone != 14 {
		t.Errorf("milestone(7) = %+v", p)
	}

	p = engagement.CalculateMilestone(100)
	if !p.IsMilestone || p.Name != "Century Club" {
		t.Errorf("milestone(100) = %+v", p)
	}

	p = engagement.CalculateMilestone(1000)
	if !p.IsMilestone || p.NextMilestone != 0 {
		t.Errorf("milestone(1000) = %+v", p)
	}

	p = engagement.CalculateMilestone(1200)
	if p.IsMilestone || p.NextMilestone != 0 || p.DaysUntilNextMilestone != 0 {
		t.Errorf("milestone(1200) = %+v", p)
	}
}

func TestMilestones_Ascending(t *testing.T) {
	ms := engagement.Milestones()
	if len(ms) != 9 {
		t.Fatalf("expected 9 milestones, got %d", len(ms))
	}
	for i := 1; i < len(ms); i++ {
		if ms[i].Days <= ms[i-1].Days {
			t.Errorf("milestones not ascending at %d", i)
		}
	}
}

func TestGetProtectionStatus(t *testing.T) {
	tests := []struct {
		tokens int
		used   bool
		want   domain.ProtectionLevel
	}{
		{2, false, domain.ProtectionBoth},
		{1, true, domain.ProtectionFreeze},
		{0, false, domain.ProtectionGrace},
		{0, true, domain.ProtectionNone},
	}
	for _, tt := range tests {
		s := engagement.GetProtectionStatus(tt.tokens, tt.used)
		if s.Level != tt.want {
			t.Errorf("protection(%d, %v) = %s, want %s", tt.tokens, tt.used, s.Level, tt.want)
		}
		if s.Summary == "" {
			t.Errorf("protection(%d, %v) has no summary", tt.tokens, tt.used)
		}
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// StreakService
// ═══════════════════════════════════════════════════════════════════════════

func newStreakService(clock domain.Clock) (*engagement.StreakService, *memstore.Store) {
	store := memstore.New(clock)
	svc := engagement.NewStreakService(store, tracker(), engagement.NewUserLocks(), clock, nil)
	return svc, store
}

func TestStreakService_PersistsState(t *testing.T) {
	clock := newClock(today)
	svc, _ := newStreakService(clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, _, err := svc.CheckIn(ctx, "u1", today.AddDate(0, 0, i)); err != nil {
			t.Fatalf("check-in %d: %v", i, err)
		}
	}

	state, err := svc.Current(ctx, "u1")
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if state.CurrentStreak != 3 || state.BestStreak != 3 || state.TotalPracticeDays != 3 {
		t.Errorf("unexpected state %+v", state)
	}
}

func TestStreakService_UnknownUserIsZero(t *testing.T) {
	svc, _ := newStreakService(newClock(today))
	state, err := svc.Current(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if state.UserID != "nobody" || state.CurrentStreak != 0 || state.LastCheckIn != nil {
		t.Errorf("unexpected state %+v", state)
	}
}

func TestStreakService_ZeroTimeUsesClock(t *testing.T) {
	clock := newClock(today)
	svc, _ := newStreakService(clock)

	_, state, err := svc.CheckIn(context.Background(), "u1", time.Time{})
	if err != nil {
		t.Fatalf("check-in: %v", err)
	}
	if state.LastCheckIn == nil || !state.LastCheckIn.Equal(today) {
		t.Errorf("last check-in = %v, want %v", state.LastCheckIn, today)
	}
}

func TestStreakService_ConcurrentSameDay(t *testing.T) {
	clock := newClock(today)
	svc, _ := newStreakService(clock)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		continued int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, _, err := svc.CheckIn(ctx, "u1", today)
			if err != nil {
				t.Errorf("check-in: %v", err)
				return
			}
			if res.Status == domain.StreakContinued {
				mu.Lock()
				continued++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if continued != 1 {
		t.Errorf("expected exactly one counted check-in, got %d", continued)
	}
	state, _ := svc.Current(ctx, "u1")
	if state.TotalPracticeDays != 1 {
		t.Errorf("total practice days = %d, want 1", state.TotalPracticeDays)
	}
}
