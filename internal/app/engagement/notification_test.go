package engagement_test

import (
	"context"
	"errors"
	"testing"
	"time"

	_ "time/tzdata"

	"github.com/tutu-network/engage/internal/app/engagement"
	"github.com/tutu-network/engage/internal/domain"
	"github.com/tutu-network/engage/internal/infra/memstore"
)

// evening is 18:00 UTC on a Thursday.
var evening = time.Date(2025, 7, 10, 18, 0, 0, 0, time.UTC)

func userContext(t *testing.T, mutate func(*domain.UserContext)) domain.UserContext {
	t.Helper()
	uc := domain.UserContext{
		UserID:         "u1",
		Timezone:       "UTC",
		CurrentStreak:  12,
		BestStreak:     12,
		FreezeTokens:   1,
		LastPracticeAt: ptr(evening.AddDate(0, 0, -1)),
	}
	if mutate != nil {
		mutate(&uc)
	}
	built, err := engagement.NewUserContext(uc)
	if err != nil {
		t.Fatalf("build context: %v", err)
	}
	return built
}

func newScheduler(clock domain.Clock, counters domain.CounterStore, d domain.Dispatcher) *engagement.NotificationScheduler {
	return engagement.NewNotificationScheduler(engagement.DefaultNotificationConfig(), counters, d,
		engagement.WithSchedulerClock(clock))
}

func emptySnapshot() engagement.CounterSnapshot {
	return engagement.CounterSnapshot{}
}

func typesOf(ns []domain.SmartNotification) []domain.NotificationType {
	out := make([]domain.NotificationType, len(ns))
	for i, n := range ns {
		out[i] = n.Type
	}
	return out
}

func hasType(ns []domain.SmartNotification, t domain.NotificationType) bool {
	for _, n := range ns {
		if n.Type == t {
			return true
		}
	}
	return false
}

// ═══════════════════════════════════════════════════════════════════════════
// Plan
// ═══════════════════════════════════════════════════════════════════════════

func TestPlan_BatchShape(t *testing.T) {
	uc := userContext(t, func(uc *domain.UserContext) {
		uc.UnclaimedRewards = 2
		uc.PracticeWindows = []domain.TimeWindow{{Start: "19:00", End: "20:00"}}
	})
	s := newScheduler(newClock(evening), memstore.New(nil), nil)

	plan := s.Plan(uc, evening, emptySnapshot())
	ns := plan.Notifications
	if len(ns) != 3 {
		t.Fatalf("expected 3 notifications, got %v", typesOf(ns))
	}
	for i := 1; i < len(ns); i++ {
		a, b := ns[i-1], ns[i]
		if a.Priority.Rank() > b.Priority.Rank() ||
			(a.Priority.Rank() == b.Priority.Rank() && a.ScheduledFor.After(b.ScheduledFor)) {
			t.Errorf("notifications out of order at %d: %v", i, typesOf(ns))
		}
	}
	if ns[0].Type != domain.NotifyStreakAtRisk || ns[1].Type != domain.NotifyRewardUnclaimed {
		t.Errorf("unexpected head of batch: %v", typesOf(ns))
	}
	if plan.Skipped[domain.NotifyPracticeReminder] != engagement.SkipBatchLimit {
		t.Errorf("practice reminder skip = %q, want batch_limit", plan.Skipped[domain.NotifyPracticeReminder])
	}
}

func TestPlan_RemainingDailyQuotaBoundsBatch(t *testing.T) {
	uc := userContext(t, func(uc *domain.UserContext) {
		uc.UnclaimedRewards = 2
		uc.Frequency = domain.FrequencyMinimal
	})
	s := newScheduler(newClock(evening), memstore.New(nil), nil)

	plan := s.Plan(uc, evening, engagement.CounterSnapshot{DayCount: 1})
	if len(plan.Notifications) != 1 {
		t.Errorf("expected 1 notification with 1 of 2 sent, got %v", typesOf(plan.Notifications))
	}

	plan = s.Plan(uc, evening, engagement.CounterSnapshot{DayCount: 2})
	if len(plan.Notifications) != 0 {
		t.Errorf("expected none at the cap, got %v", typesOf(plan.Notifications))
	}
	if plan.Skipped[domain.NotifyStreakAtRisk] != engagement.SkipDailyCap {
		t.Errorf("skip = %q, want daily_cap", plan.Skipped[domain.NotifyStreakAtRisk])
	}
}

func TestPlan_DNDOverridesEverything(t *testing.T) {
	uc := userContext(t, func(uc *domain.UserContext) {
		uc.UnclaimedRewards = 3
		uc.DNDWindows = []domain.TimeWindow{{Start: "17:30", End: "07:00"}}
	})
	s := newScheduler(newClock(evening), memstore.New(nil), nil)

	plan := s.Plan(uc, evening, emptySnapshot())
	if len(plan.Notifications) != 0 {
		t.Errorf("expected empty result inside DND, got %v", typesOf(plan.Notifications))
	}
	if !plan.DND {
		t.Error("plan should report DND")
	}

	// 07:30 is outside the wrapped window.
	morning := time.Date(2025, 7, 11, 7, 30, 0, 0, time.UTC)
	plan = s.Plan(uc, morning, emptySnapshot())
	if plan.DND || len(plan.Notifications) == 0 {
		t.Errorf("expected notifications outside DND, got dnd=%v %v", plan.DND, typesOf(plan.Notifications))
	}
}

func TestPlan_CooldownSkipsType(t *testing.T) {
	uc := userContext(t, func(uc *domain.UserContext) { uc.UnclaimedRewards = 1 })
	s := newScheduler(newClock(evening), memstore.New(nil), nil)

	snap := engagement.CounterSnapshot{
		LastSent: map[domain.NotificationType]time.Time{
			domain.NotifyRewardUnclaimed: evening.Add(-10 * time.Minute),
		},
	}
	plan := s.Plan(uc, evening, snap)
	if hasType(plan.Notifications, domain.NotifyRewardUnclaimed) {
		t.Error("reward_unclaimed should be on cooldown")
	}
	if plan.Skipped[domain.NotifyRewardUnclaimed] != engagement.SkipCooldown {
		t.Errorf("skip = %q, want cooldown", plan.Skipped[domain.NotifyRewardUnclaimed])
	}

	snap.LastSent[domain.NotifyRewardUnclaimed] = evening.Add(-31 * time.Minute)
	if plan = s.Plan(uc, evening, snap); !hasType(plan.Notifications, domain.NotifyRewardUnclaimed) {
		t.Error("reward_unclaimed should be available after 30m")
	}
}

func TestPlan_ReadFailuresSuppress(t *testing.T) {
	uc := userContext(t, func(uc *domain.UserContext) { uc.UnclaimedRewards = 1 })
	s := newScheduler(newClock(evening), memstore.New(nil), nil)

	plan := s.Plan(uc, evening, engagement.CounterSnapshot{
		ReadFailed: map[domain.NotificationType]bool{domain.NotifyRewardUnclaimed: true},
	})
	if hasType(plan.Notifications, domain.NotifyRewardUnclaimed) {
		t.Error("unreadable cooldown should suppress the type")
	}

	plan = s.Plan(uc, evening, engagement.CounterSnapshot{DayCountFailed: true})
	if len(plan.Notifications) != 0 {
		t.Errorf("unreadable day count should suppress everything, got %v", typesOf(plan.Notifications))
	}
}

func TestPlan_UrgentStreakAtRiskGoesToPush(t *testing.T) {
	late := time.Date(2025, 7, 10, 21, 0, 0, 0, time.UTC)
	uc := userContext(t, func(uc *domain.UserContext) {
		uc.CurrentStreak = 45
		uc.FreezeTokens = 0
		uc.LastPracticeAt = ptr(late.AddDate(0, 0, -1))
		uc.ChannelPreferences = []domain.Channel{domain.ChannelEmail}
	})
	s := newScheduler(newClock(late), memstore.New(nil), nil)

	ns := s.Plan(uc, late, emptySnapshot()).Notifications
	if len(ns) == 0 || ns[0].Type != domain.NotifyStreakAtRisk {
		t.Fatalf("expected streak_at_risk first, got %v", typesOf(ns))
	}
	if ns[0].Priority != domain.PriorityUrgent || ns[0].Channel != domain.ChannelPush {
		t.Errorf("got priority %s channel %s, want urgent/push", ns[0].Priority, ns[0].Channel)
	}
	if ns[0].Content.Title != "Your 45-day streak ends at midnight" {
		t.Errorf("title = %q", ns[0].Content.Title)
	}
	if !ns[0].ExpiresAt.Equal(late.Add(2 * time.Hour)) {
		t.Errorf("expires at = %v", ns[0].ExpiresAt)
	}
}

func TestPlan_ChannelPreference(t *testing.T) {
	uc := userContext(t, func(uc *domain.UserContext) {
		uc.ChannelPreferences = []domain.Channel{domain.ChannelEmail, domain.ChannelPush}
	})
	s := newScheduler(newClock(evening), memstore.New(nil), nil)

	ns := s.Plan(uc, evening, emptySnapshot()).Notifications
	if len(ns) == 0 {
		t.Fatal("expected a notification")
	}
	if ns[0].Channel != domain.ChannelEmail {
		t.Errorf("channel = %s, want email", ns[0].Channel)
	}

	uc.ChannelPreferences = nil
	ns = s.Plan(uc, evening, emptySnapshot()).Notifications
	if ns[0].Channel != domain.ChannelInApp {
		t.Errorf("default channel = %s, want in_app", ns[0].Channel)
	}
}

func TestPlan_MilestoneContent(t *testing.T) {
	uc := userContext(t, nil) // 12 days, Fortnight Force at 14
	s := newScheduler(newClock(evening), memstore.New(nil), nil)

	for _, n := range s.Plan(uc, evening, emptySnapshot()).Notifications {
		if n.Type != domain.NotifyMilestoneApproaching {
			continue
		}
		if n.Content.Title != "2 days to Fortnight Force" {
			t.Errorf("title = %q", n.Content.Title)
		}
		return
	}
	t.Error("expected milestone_approaching")
}

func TestPlan_ComebackAfterAbsence(t *testing.T) {
	uc := userContext(t, func(uc *domain.UserContext) {
		uc.CurrentStreak = 0
		uc.LastPracticeAt = ptr(evening.AddDate(0, 0, -5))
	})
	s := newScheduler(newClock(evening), memstore.New(nil), nil)

	for _, n := range s.Plan(uc, evening, emptySnapshot()).Notifications {
		if n.Type == domain.NotifyComeback {
			if n.Context.UserState != "lapsed" {
				t.Errorf("user state = %q, want lapsed", n.Context.UserState)
			}
			return
		}
	}
	t.Error("expected comeback")
}

func TestPlan_PracticeReminderTiming(t *testing.T) {
	s := newScheduler(newClock(evening), memstore.New(nil), nil)

	// No windows: no reminder.
	uc := userContext(t, func(uc *domain.UserContext) { uc.CurrentStreak = 1 })
	plan := s.Plan(uc, evening, emptySnapshot())
	if plan.Skipped[domain.NotifyPracticeReminder] != engagement.SkipNoTiming {
		t.Errorf("skip = %q, want no_timing", plan.Skipped[domain.NotifyPracticeReminder])
	}

	// Next window 13h away: too far.
	uc.PracticeWindows = []domain.TimeWindow{{Start: "07:00", End: "08:00"}}
	if hasType(s.Plan(uc, evening, emptySnapshot()).Notifications, domain.NotifyPracticeReminder) {
		t.Error("reminder beyond 12h should not be scheduled")
	}

	// Next window in an hour.
	uc.PracticeWindows = []domain.TimeWindow{{Start: "19:00", End: "20:00"}}
	for _, n := range s.Plan(uc, evening, emptySnapshot()).Notifications {
		if n.Type == domain.NotifyPracticeReminder {
			if want := evening.Add(time.Hour); !n.ScheduledFor.Equal(want) {
				t.Errorf("scheduled for %v, want %v", n.ScheduledFor, want)
			}
			return
		}
	}
	t.Error("expected practice_reminder")
}

func TestPlan_WeeklyReflectionOnSunday(t *testing.T) {
	sunday := time.Date(2025, 7, 13, 18, 0, 0, 0, time.UTC)
	uc := userContext(t, func(uc *domain.UserContext) {
		uc.LastPracticeAt = ptr(sunday)
		uc.Frequency = domain.FrequencyFrequent
	})
	s := newScheduler(newClock(sunday), memstore.New(nil), nil)

	if !hasType(s.Plan(uc, sunday, emptySnapshot()).Notifications, domain.NotifyWeeklyReflection) {
		t.Error("expected weekly_reflection on Sunday evening")
	}
}

func TestPlan_LocalDayUsesUserTimezone(t *testing.T) {
	// 16:00 UTC is 01:00 the next day in Tokyo.
	now := time.Date(2025, 7, 10, 16, 0, 0, 0, time.UTC)
	uc := userContext(t, func(uc *domain.UserContext) {
		uc.Timezone = "Asia/Tokyo"
		uc.UnclaimedRewards = 1
	})
	s := newScheduler(newClock(now), memstore.New(nil), nil)

	for _, n := range s.Plan(uc, now, emptySnapshot()).Notifications {
		if n.Type == domain.NotifyRewardUnclaimed {
			if n.LocalDay != "2025-07-11" {
				t.Errorf("local day = %q, want 2025-07-11", n.LocalDay)
			}
			return
		}
	}
	t.Error("expected reward_unclaimed")
}

// ═══════════════════════════════════════════════════════════════════════════
// AnalyzeAndSchedule & Send
// ═══════════════════════════════════════════════════════════════════════════

func TestAnalyzeAndSchedule_CooldownAcrossPasses(t *testing.T) {
	clock := newClock(evening)
	store := memstore.New(clock)
	d := &recordingDispatcher{}
	s := newScheduler(clock, store, d)
	ctx := context.Background()
	uc := userContext(t, nil)

	first, err := s.AnalyzeAndSchedule(ctx, uc)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if !hasType(first, domain.NotifyStreakAtRisk) {
		t.Fatalf("expected streak_at_risk, got %v", typesOf(first))
	}
	for _, n := range first {
		if n.Type == domain.NotifyStreakAtRisk {
			if _, err := s.Send(ctx, n); err != nil {
				t.Fatalf("send: %v", err)
			}
		}
	}

	clock.Advance(10 * time.Minute)
	second, err := s.AnalyzeAndSchedule(ctx, uc)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if hasType(second, domain.NotifyStreakAtRisk) {
		t.Error("streak_at_risk scheduled twice within its cooldown")
	}

	clock.Advance(25 * time.Minute)
	third, _ := s.AnalyzeAndSchedule(ctx, uc)
	if !hasType(third, domain.NotifyStreakAtRisk) {
		t.Error("streak_at_risk should return after its cooldown")
	}
}

func TestAnalyzeAndSchedule_InvalidContext(t *testing.T) {
	s := newScheduler(newClock(evening), memstore.New(nil), nil)

	ns, err := s.AnalyzeAndSchedule(context.Background(), domain.UserContext{UserID: "u1", Timezone: "Mars/Olympus"})
	if !errors.Is(err, domain.ErrUnknownTimezone) {
		t.Errorf("err = %v, want ErrUnknownTimezone", err)
	}
	if ns == nil || len(ns) != 0 {
		t.Errorf("expected empty non-nil result, got %#v", ns)
	}
}

func TestAnalyzeAndSchedule_CounterFailureSuppresses(t *testing.T) {
	s := newScheduler(newClock(evening), &brokenCounters{failGet: true}, nil)
	uc := userContext(t, func(uc *domain.UserContext) { uc.UnclaimedRewards = 4 })

	ns, err := s.AnalyzeAndSchedule(context.Background(), uc)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if len(ns) != 0 {
		t.Errorf("expected nothing when counters are unreadable, got %v", typesOf(ns))
	}
}

func sampleNotification() domain.SmartNotification {
	return domain.SmartNotification{
		ID:           "n1",
		UserID:       "u1",
		Type:         domain.NotifyRewardUnclaimed,
		Priority:     domain.PriorityHigh,
		Channel:      domain.ChannelInApp,
		ScheduledFor: evening,
		ExpiresAt:    evening.Add(6 * time.Hour),
		LocalDay:     "2025-07-10",
	}
}

func TestSend_CommitsCounters(t *testing.T) {
	clock := newClock(evening)
	store := memstore.New(clock)
	d := &recordingDispatcher{}
	s := newScheduler(clock, store, d)
	ctx := context.Background()

	res, err := s.Send(ctx, sampleNotification())
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !res.Delivered || len(d.sent) != 1 {
		t.Errorf("expected delivery, got %+v", res)
	}

	last, ok, _ := store.GetCounter(ctx, engagement.CooldownKey("u1", domain.NotifyRewardUnclaimed))
	if !ok || last != evening.Unix() {
		t.Errorf("cooldown = %d (ok=%v), want %d", last, ok, evening.Unix())
	}
	count, ok, _ := store.GetCounter(ctx, engagement.DailyCountKey("u1", "2025-07-10"))
	if !ok || count != 1 {
		t.Errorf("daily count = %d (ok=%v), want 1", count, ok)
	}
}

func TestSend_DispatchFailureKeepsCounters(t *testing.T) {
	clock := newClock(evening)
	store := memstore.New(clock)
	s := newScheduler(clock, store, &recordingDispatcher{err: errors.New("gateway timeout")})
	ctx := context.Background()

	res, err := s.Send(ctx, sampleNotification())
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Delivered || res.Error == "" {
		t.Errorf("expected failed delivery, got %+v", res)
	}
	if count, _, _ := store.GetCounter(ctx, engagement.DailyCountKey("u1", "2025-07-10")); count != 1 {
		t.Errorf("daily count = %d, want 1", count)
	}
}

func TestSend_CounterFailureAborts(t *testing.T) {
	d := &recordingDispatcher{}
	s := newScheduler(newClock(evening), &brokenCounters{failSet: true}, d)

	if _, err := s.Send(context.Background(), sampleNotification()); err == nil {
		t.Fatal("expected error when cooldown cannot be committed")
	}
	if len(d.sent) != 0 {
		t.Error("dispatch must not run after a failed counter commit")
	}
}

func TestSend_ExpiredNotification(t *testing.T) {
	counters := &brokenCounters{}
	d := &recordingDispatcher{}
	s := newScheduler(newClock(evening.Add(7*time.Hour)), counters, d)

	_, err := s.Send(context.Background(), sampleNotification())
	if !errors.Is(err, domain.ErrNotificationExpired) {
		t.Errorf("err = %v, want ErrNotificationExpired", err)
	}
	if counters.sets != 0 || counters.incrs != 0 || len(d.sent) != 0 {
		t.Error("expired notification must not commit counters or dispatch")
	}
}

func TestSend_NotYetDueIsRejected(t *testing.T) {
	clock := newClock(evening.Add(3 * time.Hour))
	store := memstore.New(clock)
	d := &recordingDispatcher{}
	s := newScheduler(clock, store, d)
	ctx := context.Background()

	tomorrow := sampleNotification()
	tomorrow.ScheduledFor = time.Date(2025, 7, 11, 8, 0, 0, 0, time.UTC)
	tomorrow.ExpiresAt = tomorrow.ScheduledFor.Add(12 * time.Hour)
	tomorrow.LocalDay = "2025-07-11"

	for i := 0; i < 5; i++ {
		_, err := s.Send(ctx, tomorrow)
		if !errors.Is(err, domain.ErrNotificationNotDue) {
			t.Fatalf("attempt %d: err = %v, want ErrNotificationNotDue", i, err)
		}
	}
	if len(d.sent) != 0 {
		t.Errorf("dispatched %d notifications before they were due", len(d.sent))
	}
	for _, day := range []string{"2025-07-10", "2025-07-11"} {
		if count, ok, _ := store.GetCounter(ctx, engagement.DailyCountKey("u1", day)); ok {
			t.Errorf("daily count for %s = %d, want unset", day, count)
		}
	}
	if _, ok, _ := store.GetCounter(ctx, engagement.CooldownKey("u1", tomorrow.Type)); ok {
		t.Error("cooldown committed for a notification that was not due")
	}

	clock.Set(tomorrow.ScheduledFor)
	if _, err := s.Send(ctx, tomorrow); err != nil {
		t.Fatalf("send at scheduled time: %v", err)
	}
	if count, _, _ := store.GetCounter(ctx, engagement.DailyCountKey("u1", "2025-07-11")); count != 1 {
		t.Errorf("daily count = %d, want 1", count)
	}
}

func TestSend_UnknownTypeRejected(t *testing.T) {
	counters := &brokenCounters{}
	d := &recordingDispatcher{}
	s := newScheduler(newClock(evening), counters, d)

	n := sampleNotification()
	n.Type = "anything"
	if _, err := s.Send(context.Background(), n); !errors.Is(err, domain.ErrInvalidContext) {
		t.Errorf("err = %v, want ErrInvalidContext", err)
	}
	if counters.sets != 0 || counters.incrs != 0 || len(d.sent) != 0 {
		t.Error("unknown notification type must not commit counters or dispatch")
	}
}

func TestSend_WithoutDispatcher(t *testing.T) {
	s := newScheduler(newClock(evening), memstore.New(nil), nil)

	res, err := s.Send(context.Background(), sampleNotification())
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Delivered || res.Error != domain.ErrNoDispatcher.Error() {
		t.Errorf("unexpected result %+v", res)
	}
}
