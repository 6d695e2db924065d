package engagement

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tutu-network/engage/internal/domain"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// validatorInstance returns the shared validator with custom rules registered.
func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
			_, _, ok := parseHHMM(fl.Field().String())
			return ok
		})
	})
	return validate
}

// NewUserContext validates a caller-supplied snapshot and resolves its
// timezone. It is the only way a UserContext should enter the scheduler.
func NewUserContext(uc domain.UserContext) (domain.UserContext, error) {
	if err := validatorInstance().Struct(uc); err != nil {
		return domain.UserContext{}, fmt.Errorf("%w: %v", domain.ErrInvalidContext, err)
	}
	loc, err := time.LoadLocation(uc.Timezone)
	if err != nil {
		return domain.UserContext{}, fmt.Errorf("%w: %q", domain.ErrUnknownTimezone, uc.Timezone)
	}
	uc.Location = loc
	if uc.Frequency == "" {
		uc.Frequency = domain.FrequencyBalanced
	}
	if uc.BestStreak < uc.CurrentStreak {
		uc.BestStreak = uc.CurrentStreak
	}
	return uc, nil
}

// ValidateRewardContext checks a reward request at the boundary.
func ValidateRewardContext(rc domain.RewardContext) error {
	if err := validatorInstance().Struct(rc); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidContext, err)
	}
	return nil
}

// ValidateNotification checks a notification handed back for sending.
func ValidateNotification(n domain.SmartNotification) error {
	if err := validatorInstance().Struct(n); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidContext, err)
	}
	return nil
}

// parseHHMM parses "HH:MM" into hour and minute.
func parseHHMM(s string) (int, int, bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, false
	}
	return h, m, true
}

// inWindow reports whether local falls inside w. Start > End wraps midnight;
// Start == End is treated as empty.
func inWindow(local time.Time, w domain.TimeWindow) bool {
	startHour, startMin, ok1 := parseHHMM(w.Start)
	endHour, endMin, ok2 := parseHHMM(w.End)
	if !ok1 || !ok2 {
		return false
	}

	timeMinutes := local.Hour()*60 + local.Minute()
	startMinutes := startHour*60 + startMin
	endMinutes := endHour*60 + endMin

	if startMinutes > endMinutes {
		// Wraps midnight: e.g., 22:00 – 08:00
		return timeMinutes >= startMinutes || timeMinutes < endMinutes
	}
	return timeMinutes >= startMinutes && timeMinutes < endMinutes
}

// inAnyWindow reports whether local falls inside any of ws.
func inAnyWindow(local time.Time, ws []domain.TimeWindow) bool {
	for _, w := range ws {
		if inWindow(local, w) {
			return true
		}
	}
	return false
}

// nextWindowStart returns the earliest window start at or after local, within
// the next 24 hours. If local is already inside a window, local is returned.
func nextWindowStart(local time.Time, ws []domain.TimeWindow) (time.Time, bool) {
	var best time.Time
	found := false
	for _, w := range ws {
		if inWindow(local, w) {
			return local, true
		}
		h, m, ok := parseHHMM(w.Start)
		if !ok {
			continue
		}
		start := time.Date(local.Year(), local.Month(), local.Day(), h, m, 0, 0, local.Location())
		if start.Before(local) {
			start = start.AddDate(0, 0, 1)
		}
		if !found || start.Before(best) {
			best = start
			found = true
		}
	}
	return best, found
}

// calendarDays returns whole calendar days from a to b, both taken in b's
// location. Negative results clamp to 0.
func calendarDays(a, b time.Time) int {
	a = a.In(b.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	days := int(db.Sub(da).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}
