package engagement

import (
	"strconv"
	"strings"
	"time"

	"github.com/tutu-network/engage/internal/domain"
)

// typePriority is the per-type priority used for cooldowns.
// Individual templates may carry a higher priority for sorting and channel.
var typePriority = map[domain.NotificationType]domain.Priority{
	domain.NotifyStreakAtRisk:         domain.PriorityHigh,
	domain.NotifyRewardUnclaimed:      domain.PriorityHigh,
	domain.NotifyMilestoneApproaching: domain.PriorityMedium,
	domain.NotifyComeback:             domain.PriorityMedium,
	domain.NotifyPracticeReminder:     domain.PriorityMedium,
	domain.NotifyHouseUpdate:          domain.PriorityLow,
	domain.NotifyWeeklyReflection:     domain.PriorityLow,
}

// TypePriority returns the cooldown priority of a notification type.
func TypePriority(t domain.NotificationType) domain.Priority {
	if p, ok := typePriority[t]; ok {
		return p
	}
	return domain.PriorityLow
}

// reminderHorizon bounds how far ahead a practice reminder may be scheduled.
const reminderHorizon = 12 * time.Hour

// DefaultTemplates returns the built-in templates. Within a type the first
// template whose condition holds wins, so stronger variants come first.
func DefaultTemplates() []domain.NotificationTemplate {
	return []domain.NotificationTemplate{
		{
			Type:     domain.NotifyStreakAtRisk,
			Priority: domain.PriorityUrgent,
			Reason:   "long streak ends at midnight and no freeze tokens remain",
			Condition: func(uc domain.UserContext) bool {
				return practicedDaysAgo(uc, 1) && uc.CurrentStreak >= 30 &&
					localNow(uc).Hour() >= 20 && uc.FreezeTokens == 0
			},
			Content: contentFunc(
				"Your {{streak}}-day streak ends at midnight",
				"No freeze tokens left. A short session keeps {{streak}} days alive.",
				"/practice",
			),
			Timing: timingNow,
		},
		{
			Type:     domain.NotifyStreakAtRisk,
			Priority: domain.PriorityHigh,
			Reason:   "streak not yet extended today",
			Condition: func(uc domain.UserContext) bool {
				return practicedDaysAgo(uc, 1) && uc.CurrentStreak >= 3 && localNow(uc).Hour() >= 17
			},
			Content: contentFunc(
				"Keep your {{streak}}-day streak going",
				"You have not practiced today yet. Freeze tokens left: {{tokens}}.",
				"/practice",
			),
			Timing: timingNow,
		},
		{
			Type:     domain.NotifyRewardUnclaimed,
			Priority: domain.PriorityHigh,
			Reason:   "rewards waiting to be claimed",
			Condition: func(uc domain.UserContext) bool {
				return uc.UnclaimedRewards > 0
			},
			Content: contentFunc(
				"You have rewards waiting",
				"{{rewards}} unclaimed rewards are ready for you.",
				"/rewards",
			),
			Timing: timingNow,
		},
		{
			Type:     domain.NotifyMilestoneApproaching,
			Priority: domain.PriorityMedium,
			Reason:   "next milestone within three days",
			Condition: func(uc domain.UserContext) bool {
				if uc.CurrentStreak == 0 {
					return false
				}
				p := CalculateMilestone(uc.CurrentStreak)
				return p.NextMilestone > 0 && p.DaysUntilNextMilestone <= 3
			},
			Content: contentFunc(
				"{{days_to_milestone}} days to {{next_milestone_name}}",
				"You are at {{streak}} days. {{next_milestone_name}} ({{next_milestone}} days) is within reach.",
				"/practice",
			),
			Timing: timingNextWindowOrNow,
		},
		{
			Type:     domain.NotifyComeback,
			Priority: domain.PriorityMedium,
			Reason:   "strong streak recently broken",
			Condition: func(uc domain.UserContext) bool {
				return uc.LastStreakStatus == domain.StreakBroken && uc.BestStreak >= 7
			},
			Content: contentFunc(
				"Your best was {{best}} days",
				"Streaks break. Practice today and start the climb back.",
				"/practice",
			),
			Timing: timingNextWindowOrNow,
		},
		{
			Type:     domain.NotifyComeback,
			Priority: domain.PriorityMedium,
			Reason:   "no practice for three or more days",
			Condition: func(uc domain.UserContext) bool {
				d, ok := daysSincePractice(uc)
				return ok && d >= 3
			},
			Content: contentFunc(
				"We saved your spot",
				"It has been a few days. One short session is all it takes to restart.",
				"/practice",
			),
			Timing: timingNextWindowOrNow,
		},
		{
			Type:     domain.NotifyPracticeReminder,
			Priority: domain.PriorityMedium,
			Reason:   "practice window approaching",
			Condition: func(uc domain.UserContext) bool {
				return !practicedDaysAgo(uc, 0)
			},
			Content: contentFunc(
				"Time to practice",
				"Your practice window is open. Current streak: {{streak}} days.",
				"/practice",
			),
			Timing: timingReminder,
		},
		{
			Type:     domain.NotifyHouseUpdate,
			Priority: domain.PriorityLow,
			Reason:   "practiced today as a house member",
			Condition: func(uc domain.UserContext) bool {
				return uc.House != "" && practicedDaysAgo(uc, 0)
			},
			Content: contentFunc(
				"{{house}} thanks you",
				"Your practice today counts toward {{house}}.",
				"/house",
			),
			Timing: timingNow,
		},
		{
			Type:     domain.NotifyWeeklyReflection,
			Priority: domain.PriorityLow,
			Reason:   "end of the week",
			Condition: func(uc domain.UserContext) bool {
				local := localNow(uc)
				return local.Weekday() == time.Sunday && local.Hour() >= 17
			},
			Content: contentFunc(
				"Your week in practice",
				"{{total}} practice days so far. Take a minute to reflect on this week.",
				"/reflect",
			),
			Timing: timingNow,
		},
	}
}

func localNow(uc domain.UserContext) time.Time {
	return uc.Local(uc.AsOf)
}

// daysSincePractice returns local calendar days since the last practice.
func daysSincePractice(uc domain.UserContext) (int, bool) {
	if uc.LastPracticeAt == nil {
		return 0, false
	}
	return calendarDays(*uc.LastPracticeAt, localNow(uc)), true
}

func practicedDaysAgo(uc domain.UserContext, n int) bool {
	d, ok := daysSincePractice(uc)
	return ok && d == n
}

// userState classifies the user for the notification reason.
func userState(uc domain.UserContext) string {
	d, ok := daysSincePractice(uc)
	switch {
	case !ok:
		return "new"
	case d == 0:
		return "active"
	case d == 1:
		return "at_risk"
	default:
		return "lapsed"
	}
}

// triggers lists the facts a candidate was derived from.
func triggers(uc domain.UserContext) []string {
	out := []string{
		"streak:" + strconv.Itoa(uc.CurrentStreak),
		"local_hour:" + strconv.Itoa(localNow(uc).Hour()),
	}
	if d, ok := daysSincePractice(uc); ok {
		out = append(out, "days_since_practice:"+strconv.Itoa(d))
	}
	if uc.LastStreakStatus != "" {
		out = append(out, "last_status:"+string(uc.LastStreakStatus))
	}
	if uc.UnclaimedRewards > 0 {
		out = append(out, "unclaimed_rewards:"+strconv.Itoa(uc.UnclaimedRewards))
	}
	return out
}

// ─── Timing ─────────────────────────────────────────────────────────────────

// outsideDND returns &t unless t falls in a do-not-disturb window.
func outsideDND(uc domain.UserContext, t time.Time) *time.Time {
	if inAnyWindow(uc.Local(t), uc.DNDWindows) {
		return nil
	}
	return &t
}

func timingNow(uc domain.UserContext) *time.Time {
	return outsideDND(uc, uc.AsOf)
}

func timingNextWindowOrNow(uc domain.UserContext) *time.Time {
	if t, ok := nextWindowStart(localNow(uc), uc.PracticeWindows); ok {
		return outsideDND(uc, t)
	}
	return timingNow(uc)
}

func timingReminder(uc domain.UserContext) *time.Time {
	t, ok := nextWindowStart(localNow(uc), uc.PracticeWindows)
	if !ok || t.Sub(uc.AsOf) > reminderHorizon {
		return nil
	}
	return outsideDND(uc, t)
}

// ─── Content ────────────────────────────────────────────────────────────────

func contentFunc(title, body, url string) func(domain.UserContext) domain.NotificationContent {
	return func(uc domain.UserContext) domain.NotificationContent {
		r := placeholders(uc)
		return domain.NotificationContent{
			Title:     r.Replace(title),
			Body:      r.Replace(body),
			ActionURL: url,
		}
	}
}

// placeholders builds the {{name}} substitutions for a context.
func placeholders(uc domain.UserContext) *strings.Replacer {
	p := CalculateMilestone(uc.CurrentStreak)
	return strings.NewReplacer(
		"{{streak}}", strconv.Itoa(uc.CurrentStreak),
		"{{best}}", strconv.Itoa(uc.BestStreak),
		"{{next_milestone}}", strconv.Itoa(p.NextMilestone),
		"{{next_milestone_name}}", p.NextMilestoneName,
		"{{days_to_milestone}}", strconv.Itoa(p.DaysUntilNextMilestone),
		"{{house}}", uc.House,
		"{{tokens}}", strconv.Itoa(uc.FreezeTokens),
		"{{rewards}}", strconv.Itoa(uc.UnclaimedRewards),
		"{{total}}", strconv.Itoa(uc.TotalPracticeDays),
	)
}
