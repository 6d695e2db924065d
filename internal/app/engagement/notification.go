package engagement

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tutu-network/engage/internal/domain"
	"github.com/tutu-network/engage/internal/infra/metrics"
)

// Skip reasons recorded in a SchedulePlan.
const (
	SkipCooldown   = "cooldown"
	SkipDailyCap   = "daily_cap"
	SkipNoTemplate = "no_template"
	SkipNoTiming   = "no_timing"
	SkipDND        = "dnd"
	SkipBatchLimit = "batch_limit"
)

// NotificationConfig holds scheduler limits.
type NotificationConfig struct {
	MaxBatch   int           // candidates returned per pass
	CounterTTL time.Duration // TTL for cooldown and daily counters
}

// DefaultNotificationConfig returns the production limits.
func DefaultNotificationConfig() NotificationConfig {
	return NotificationConfig{
		MaxBatch:   3,
		CounterTTL: 24 * time.Hour,
	}
}

// expiryFor returns how long a notification stays sendable.
func expiryFor(p domain.Priority) time.Duration {
	switch p {
	case domain.PriorityUrgent:
		return 2 * time.Hour
	case domain.PriorityHigh:
		return 6 * time.Hour
	case domain.PriorityMedium:
		return 12 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// CounterSnapshot is the counter state a plan is computed from.
type CounterSnapshot struct {
	LastSent       map[domain.NotificationType]time.Time
	ReadFailed     map[domain.NotificationType]bool
	DayCount       int64
	DayCountFailed bool
}

// SchedulePlan is the pure outcome of a scheduling pass.
type SchedulePlan struct {
	Notifications []domain.SmartNotification
	Skipped       map[domain.NotificationType]string
	DND           bool
}

// NotificationScheduler picks and sends nudges.
type NotificationScheduler struct {
	cfg        NotificationConfig
	templates  []domain.NotificationTemplate
	counters   domain.CounterStore
	dispatcher domain.Dispatcher
	clock      domain.Clock
	logger     *slog.Logger
}

// SchedulerOption configures a NotificationScheduler.
type SchedulerOption func(*NotificationScheduler)

// WithTemplates replaces the default templates.
func WithTemplates(ts []domain.NotificationTemplate) SchedulerOption {
	return func(s *NotificationScheduler) { s.templates = ts }
}

// WithSchedulerClock sets the clock.
func WithSchedulerClock(c domain.Clock) SchedulerOption {
	return func(s *NotificationScheduler) { s.clock = c }
}

// WithSchedulerLogger sets the logger.
func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(s *NotificationScheduler) { s.logger = l }
}

// NewNotificationScheduler creates a scheduler. dispatcher may be nil, in
// which case Send commits counters and reports ErrNoDispatcher.
func NewNotificationScheduler(cfg NotificationConfig, counters domain.CounterStore, dispatcher domain.Dispatcher, opts ...SchedulerOption) *NotificationScheduler {
	def := DefaultNotificationConfig()
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = def.MaxBatch
	}
	if cfg.CounterTTL <= 0 {
		cfg.CounterTTL = def.CounterTTL
	}
	s := &NotificationScheduler{
		cfg:        cfg,
		templates:  DefaultTemplates(),
		counters:   counters,
		dispatcher: dispatcher,
		clock:      domain.SystemClock{},
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With(slog.String("component", "notifications"))
	return s
}

// Plan decides which notifications to schedule for uc at now, given a
// counter snapshot. It has no side effects.
func (s *NotificationScheduler) Plan(uc domain.UserContext, now time.Time, snap CounterSnapshot) SchedulePlan {
	uc.AsOf = now
	plan := SchedulePlan{Skipped: make(map[domain.NotificationType]string)}

	dailyCap := int64(uc.Frequency.DailyCap())
	if snap.DayCountFailed || snap.DayCount >= dailyCap {
		for _, t := range domain.NotificationTypes() {
			plan.Skipped[t] = SkipDailyCap
		}
		return plan
	}

	var candidates []domain.SmartNotification
	for _, t := range domain.NotificationTypes() {
		if snap.ReadFailed[t] {
			plan.Skipped[t] = SkipCooldown
			continue
		}
		if last, ok := snap.LastSent[t]; ok && now.Sub(last) < TypePriority(t).Cooldown() {
			plan.Skipped[t] = SkipCooldown
			continue
		}

		tpl, ok := s.match(t, uc)
		if !ok {
			plan.Skipped[t] = SkipNoTemplate
			continue
		}
		at := tpl.Timing(uc)
		if at == nil {
			plan.Skipped[t] = SkipNoTiming
			continue
		}
		candidates = append(candidates, s.build(tpl, uc, *at))
	}

	if inAnyWindow(uc.Local(now), uc.DNDWindows) {
		plan.DND = true
		for _, n := range candidates {
			plan.Skipped[n.Type] = SkipDND
		}
		return plan
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		ri, rj := candidates[i].Priority.Rank(), candidates[j].Priority.Rank()
		if ri != rj {
			return ri < rj
		}
		return candidates[i].ScheduledFor.Before(candidates[j].ScheduledFor)
	})

	limit := s.cfg.MaxBatch
	if remaining := int(dailyCap - snap.DayCount); remaining < limit {
		limit = remaining
	}
	if len(candidates) > limit {
		for _, n := range candidates[limit:] {
			plan.Skipped[n.Type] = SkipBatchLimit
		}
		candidates = candidates[:limit]
	}

	plan.Notifications = candidates
	return plan
}

// match returns the first template of type t whose condition holds.
func (s *NotificationScheduler) match(t domain.NotificationType, uc domain.UserContext) (domain.NotificationTemplate, bool) {
	for _, tpl := range s.templates {
		if tpl.Type != t || tpl.Condition == nil || tpl.Timing == nil {
			continue
		}
		if tpl.Condition(uc) {
			return tpl, true
		}
	}
	return domain.NotificationTemplate{}, false
}

func (s *NotificationScheduler) build(tpl domain.NotificationTemplate, uc domain.UserContext, at time.Time) domain.SmartNotification {
	n := domain.SmartNotification{
		ID:           uuid.NewString(),
		UserID:       uc.UserID,
		Type:         tpl.Type,
		Priority:     tpl.Priority,
		Channel:      channelFor(tpl.Priority, uc.ChannelPreferences),
		ScheduledFor: at,
		ExpiresAt:    at.Add(expiryFor(tpl.Priority)),
		LocalDay:     uc.Local(at).Format(time.DateOnly),
		Context: domain.NotificationReason{
			Reason:    tpl.Reason,
			UserState: userState(uc),
			Triggers:  triggers(uc),
		},
	}
	if tpl.Content != nil {
		n.Content = tpl.Content(uc)
	}
	return n
}

// channelFor routes urgent nudges to push, the rest to the first preference.
func channelFor(p domain.Priority, prefs []domain.Channel) domain.Channel {
	if p == domain.PriorityUrgent {
		return domain.ChannelPush
	}
	if len(prefs) > 0 {
		return prefs[0]
	}
	return domain.ChannelInApp
}

// Snapshot reads the counters Plan needs. Read errors are recorded in the
// snapshot rather than returned, so they resolve toward not notifying.
func (s *NotificationScheduler) Snapshot(ctx context.Context, uc domain.UserContext, now time.Time) CounterSnapshot {
	snap := CounterSnapshot{
		LastSent:   make(map[domain.NotificationType]time.Time),
		ReadFailed: make(map[domain.NotificationType]bool),
	}
	logger := s.logger.With(slog.String("user_id", uc.UserID))

	day := uc.Local(now).Format(time.DateOnly)
	count, _, err := s.counters.GetCounter(ctx, DailyCountKey(uc.UserID, day))
	if err != nil {
		logger.Warn("daily count read failed", slog.String("stage", "read_counter"), slog.String("error", err.Error()))
		metrics.CounterStoreErrors.WithLabelValues("get").Inc()
		snap.DayCountFailed = true
		return snap
	}
	snap.DayCount = count

	for _, t := range domain.NotificationTypes() {
		v, ok, err := s.counters.GetCounter(ctx, CooldownKey(uc.UserID, t))
		if err != nil {
			logger.Warn("cooldown read failed",
				slog.String("stage", "read_counter"),
				slog.String("type", string(t)),
				slog.String("error", err.Error()),
			)
			metrics.CounterStoreErrors.WithLabelValues("get").Inc()
			snap.ReadFailed[t] = true
			continue
		}
		if ok {
			snap.LastSent[t] = time.Unix(v, 0)
		}
	}
	return snap
}

// AnalyzeAndSchedule returns up to MaxBatch notifications for uc. A context
// not yet built by NewUserContext is validated here first.
func (s *NotificationScheduler) AnalyzeAndSchedule(ctx context.Context, uc domain.UserContext) ([]domain.SmartNotification, error) {
	if uc.Location == nil {
		var err error
		if uc, err = NewUserContext(uc); err != nil {
			return []domain.SmartNotification{}, err
		}
	}

	now := s.clock.Now()
	plan := s.Plan(uc, now, s.Snapshot(ctx, uc, now))

	for _, n := range plan.Notifications {
		metrics.NotificationsScheduled.WithLabelValues(string(n.Type), string(n.Priority)).Inc()
	}
	for _, reason := range plan.Skipped {
		metrics.NotificationsSuppressed.WithLabelValues(reason).Inc()
	}
	s.logger.Debug("notifications planned",
		slog.String("user_id", uc.UserID),
		slog.Int("scheduled", len(plan.Notifications)),
		slog.Int("skipped", len(plan.Skipped)),
		slog.Bool("dnd", plan.DND),
	)

	if plan.Notifications == nil {
		return []domain.SmartNotification{}, nil
	}
	return plan.Notifications, nil
}

// Send commits the cooldown and daily counters for n and dispatches it.
// It refuses notifications that are expired or not yet due.
// A failed counter commit aborts the send. A failed dispatch is reported
// in the result and leaves the counters committed.
func (s *NotificationScheduler) Send(ctx context.Context, n domain.SmartNotification) (domain.SendResult, error) {
	res := domain.SendResult{NotificationID: n.ID, Channel: n.Channel}
	if err := ValidateNotification(n); err != nil {
		return res, err
	}

	logger := s.logger.With(
		slog.String("user_id", n.UserID),
		slog.String("notification_id", n.ID),
		slog.String("type", string(n.Type)),
		slog.String("channel", string(n.Channel)),
	)

	now := s.clock.Now()
	if !n.ExpiresAt.IsZero() && !now.Before(n.ExpiresAt) {
		metrics.NotificationsSent.WithLabelValues(string(n.Channel), "expired").Inc()
		return res, fmt.Errorf("send %s: %w", n.ID, domain.ErrNotificationExpired)
	}
	// The daily counter is keyed by LocalDay, so sending early would charge
	// a future day's quota.
	if now.Before(n.ScheduledFor) {
		metrics.NotificationsSent.WithLabelValues(string(n.Channel), "not_due").Inc()
		return res, fmt.Errorf("send %s at %s: %w", n.ID, n.ScheduledFor.Format(time.RFC3339), domain.ErrNotificationNotDue)
	}

	if err := s.counters.SetCounter(ctx, CooldownKey(n.UserID, n.Type), now.Unix(), s.cfg.CounterTTL); err != nil {
		logger.Error("notification send failed", slog.String("stage", "set_cooldown"), slog.String("error", err.Error()))
		metrics.CounterStoreErrors.WithLabelValues("set").Inc()
		return res, fmt.Errorf("commit cooldown: %w", err)
	}
	if _, err := s.counters.IncrCounter(ctx, DailyCountKey(n.UserID, n.LocalDay), 1, s.cfg.CounterTTL); err != nil {
		logger.Error("notification send failed", slog.String("stage", "incr_daily"), slog.String("error", err.Error()))
		metrics.CounterStoreErrors.WithLabelValues("incr").Inc()
		return res, fmt.Errorf("commit daily count: %w", err)
	}

	err := domain.ErrNoDispatcher
	if s.dispatcher != nil {
		err = s.dispatcher.Dispatch(ctx, n)
	}
	if err != nil {
		res.Error = err.Error()
		metrics.NotificationsSent.WithLabelValues(string(n.Channel), "failed").Inc()
		logger.Error("notification delivery failed", slog.String("stage", "dispatch"), slog.String("error", err.Error()))
		return res, nil
	}

	res.Delivered = true
	metrics.NotificationsSent.WithLabelValues(string(n.Channel), "delivered").Inc()
	logger.Info("notification sent",
		slog.String("priority", string(n.Priority)),
		slog.String("local_day", n.LocalDay),
	)
	return res, nil
}
