package engagement

import (
	"fmt"

	"github.com/tutu-network/engage/internal/domain"
)

// milestones is the fixed ascending milestone set.
var milestones = []domain.Milestone{
	{Days: 7, Name: "Week Warrior"},
	{Days: 14, Name: "Fortnight Force"},
	{Days: 30, Name: "Monthly Master"},
	{Days: 60, Name: "Habit Builder"},
	{Days: 100, Name: "Century Club"},
	{Days: 180, Name: "Half-Year Hero"},
	{Days: 365, Name: "Year of Discipline"},
	{Days: 500, Name: "Unstoppable"},
	{Days: 1000, Name: "Legend of Practice"},
}

// Milestones returns a copy of the milestone set.
func Milestones() []domain.Milestone {
	out := make([]domain.Milestone, len(milestones))
	copy(out, milestones)
	return out
}

// CalculateMilestone reports whether streak is a milestone and how far the
// next strictly-greater one is. Past the last milestone NextMilestone is 0.
func CalculateMilestone(streak int) domain.MilestoneProgress {
	var p domain.MilestoneProgress
	for _, m := range milestones {
		if m.Days == streak {
			p.IsMilestone = true
			p.Name = m.Name
		}
		if m.Days > streak {
			p.NextMilestone = m.Days
			p.NextMilestoneName = m.Name
			p.DaysUntilNextMilestone = m.Days - streak
			break
		}
	}
	return p
}

// GetProtectionStatus describes which forgiveness rules are still available.
func GetProtectionStatus(freezeTokens int, gracePeriodUsed bool) domain.ProtectionStatus {
	grace := !gracePeriodUsed
	s := domain.ProtectionStatus{
		FreezeTokens:   freezeTokens,
		GraceAvailable: grace,
	}

	switch {
	case freezeTokens > 0 && grace:
		s.Level = domain.ProtectionBoth
		s.Summary = fmt.Sprintf("Fully protected: grace period available plus %s.", tokenPhrase(freezeTokens))
	case freezeTokens > 0:
		s.Level = domain.ProtectionFreeze
		s.Summary = fmt.Sprintf("Grace period used; %s left to protect your streak.", tokenPhrase(freezeTokens))
	case grace:
		s.Level = domain.ProtectionGrace
		s.Summary = "Grace period available; no freeze tokens. Keep a 7-day run going to earn one."
	default:
		s.Level = domain.ProtectionNone
		s.Summary = "No protection left. Missing a day will reset your streak."
	}
	return s
}

func tokenPhrase(n int) string {
	if n == 1 {
		return "1 freeze token"
	}
	return fmt.Sprintf("%d freeze tokens", n)
}
