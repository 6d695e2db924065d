// Package domain holds the engagement types shared by every layer.
// The engagement engine decides whether a streak survives a day, whether an
// action earns a variable reward, and which nudge (if any) goes out next.
// Types here are pure data; no infrastructure dependency.
package domain

import "time"

// ─── Streak Types ───────────────────────────────────────────────────────────

// StreakStatus is the outcome of a single check-in.
type StreakStatus string

const (
	StreakContinued       StreakStatus = "continued"
	StreakMaintained      StreakStatus = "maintained"
	StreakGracePeriodUsed StreakStatus = "grace_period_used"
	StreakFrozen          StreakStatus = "frozen"
	StreakBroken          StreakStatus = "broken"
)

// StreakState is the persisted per-user streak snapshot.
// Created on first check-in, mutated on every later one, never deleted.
type StreakState struct {
	UserID                    string     `json:"user_id"`
	CurrentStreak             int        `json:"current_streak"`
	BestStreak                int        `json:"best_streak"`
	LastCheckIn               *time.Time `json:"last_check_in,omitempty"`
	FreezeTokens              int        `json:"freeze_tokens"`
	GracePeriodUsedThisStreak bool       `json:"grace_period_used_this_streak"`
	TotalPracticeDays         int        `json:"total_practice_days"`
}

// StreakCheckInResult is returned once per check-in call.
type StreakCheckInResult struct {
	NewStreakLength       int          `json:"new_streak_length"`
	Status                StreakStatus `json:"status"`
	FreezeTokensRemaining int          `json:"freeze_tokens_remaining"`
	ComebackBonus         bool         `json:"comeback_bonus"`
	TokenEarned           bool         `json:"token_earned"`
	DaysSinceLast         int          `json:"days_since_last"` // -1 on first check-in
}

// Milestone is a named streak length.
type Milestone struct {
	Days int    `json:"days"`
	Name string `json:"name"`
}

// MilestoneProgress describes where a streak sits relative to the milestone set.
type MilestoneProgress struct {
	IsMilestone            bool   `json:"is_milestone"`
	Name                   string `json:"name,omitempty"`
	NextMilestone          int    `json:"next_milestone"` // 0 past the last milestone
	NextMilestoneName      string `json:"next_milestone_name,omitempty"`
	DaysUntilNextMilestone int    `json:"days_until_next_milestone"`
}

// ProtectionLevel summarizes which forgiveness rules remain available.
type ProtectionLevel string

const (
	ProtectionBoth   ProtectionLevel = "both"
	ProtectionFreeze ProtectionLevel = "freeze"
	ProtectionGrace  ProtectionLevel = "grace"
	ProtectionNone   ProtectionLevel = "none"
)

// ProtectionStatus is the composite view returned by GetProtectionStatus.
type ProtectionStatus struct {
	Level          ProtectionLevel `json:"level"`
	FreezeTokens   int             `json:"freeze_tokens"`
	GraceAvailable bool            `json:"grace_available"`
	Summary        string          `json:"summary"`
}

// ─── Reward Types ───────────────────────────────────────────────────────────

// Rarity is a probability class for variable rewards.
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityUncommon  Rarity = "uncommon"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// AllRarities returns all rarities in evaluation order, lowest first.
func AllRarities() []Rarity {
	return []Rarity{RarityCommon, RarityUncommon, RarityRare, RarityEpic, RarityLegendary}
}

// DisplayName returns a human-readable label for the rarity.
func (r Rarity) DisplayName() string {
	switch r {
	case RarityCommon:
		return "Common"
	case RarityUncommon:
		return "Uncommon"
	case RarityRare:
		return "Rare"
	case RarityEpic:
		return "Epic"
	case RarityLegendary:
		return "Legendary"
	default:
		return string(r)
	}
}

// RewardType identifies a reward pool.
type RewardType string

const (
	RewardBonusXP        RewardType = "bonus_xp"
	RewardPeerShoutout   RewardType = "peer_shoutout"
	RewardRareBadge      RewardType = "rare_badge"
	RewardCollectibleArt RewardType = "collectible_art"
	RewardFreezeToken    RewardType = "freeze_token"
	RewardHouseGift      RewardType = "house_gift"
	RewardSecretPractice RewardType = "secret_practice"
	RewardTitleUnlock    RewardType = "title_unlock"
)

// TimeOfDay buckets when an action happened, in the user's local time.
type TimeOfDay string

const (
	EarlyMorning TimeOfDay = "early_morning"
	Morning      TimeOfDay = "morning"
	Afternoon    TimeOfDay = "afternoon"
	Evening      TimeOfDay = "evening"
	LateNight    TimeOfDay = "late_night"
)

// TimeOfDayAt buckets a local clock time.
func TimeOfDayAt(t time.Time) TimeOfDay {
	switch h := t.Hour(); {
	case h >= 4 && h < 7:
		return EarlyMorning
	case h >= 7 && h < 12:
		return Morning
	case h >= 12 && h < 17:
		return Afternoon
	case h >= 17 && h < 22:
		return Evening
	default:
		return LateNight
	}
}

// RewardMetadata carries the optional action context used by modifiers.
type RewardMetadata struct {
	PracticeType    string    `json:"practice_type,omitempty"`
	StreakLength    int       `json:"streak_length,omitempty" validate:"gte=0"`
	TimeOfDay       TimeOfDay `json:"time_of_day,omitempty" validate:"omitempty,oneof=early_morning morning afternoon evening late_night"`
	House           string    `json:"house,omitempty"`
	ConsecutiveDays int       `json:"consecutive_days,omitempty" validate:"gte=0"`
}

// RewardContext is the input to a reward roll.
type RewardContext struct {
	UserID   string         `json:"user_id" validate:"required"`
	Action   string         `json:"action" validate:"required"`
	Metadata RewardMetadata `json:"metadata"`
}

// VariableReward is a single granted reward. Not persisted by the engine.
type VariableReward struct {
	ID            string     `json:"id"`
	Type          RewardType `json:"type"`
	Rarity        Rarity     `json:"rarity"`
	Value         float64    `json:"value"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	DecorativeArt string     `json:"decorative_art,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// RewardDef is one entry of a reward pool.
type RewardDef struct {
	ID            string
	Type          RewardType
	Rarity        Rarity
	Value         float64
	Title         string
	Description   string
	DecorativeArt string
	TTL           time.Duration            // 0 = never expires
	Condition     func(RewardContext) bool // nil = always eligible
}

// ─── Notification Types ─────────────────────────────────────────────────────

// NotificationType categorizes nudges. Scheduling walks them in a fixed order.
type NotificationType string

const (
	NotifyStreakAtRisk         NotificationType = "streak_at_risk"
	NotifyRewardUnclaimed      NotificationType = "reward_unclaimed"
	NotifyMilestoneApproaching NotificationType = "milestone_approaching"
	NotifyComeback             NotificationType = "comeback"
	NotifyPracticeReminder     NotificationType = "practice_reminder"
	NotifyHouseUpdate          NotificationType = "house_update"
	NotifyWeeklyReflection     NotificationType = "weekly_reflection"
)

// NotificationTypes returns every type in evaluation order.
func NotificationTypes() []NotificationType {
	return []NotificationType{
		NotifyStreakAtRisk,
		NotifyRewardUnclaimed,
		NotifyMilestoneApproaching,
		NotifyComeback,
		NotifyPracticeReminder,
		NotifyHouseUpdate,
		NotifyWeeklyReflection,
	}
}

// Priority orders notification candidates. Lower rank sorts first.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank returns the sort rank (urgent=0 … low=3).
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	default:
		return 3
	}
}

// Cooldown returns the minimum gap between two sends of a type at this priority.
func (p Priority) Cooldown() time.Duration {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 30 * time.Minute
	case PriorityMedium:
		return 2 * time.Hour
	default:
		return 4 * time.Hour
	}
}

// Channel is a delivery route.
type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
	ChannelInApp Channel = "in_app"
)

// FrequencyPreference caps notifications per local day.
type FrequencyPreference string

const (
	FrequencyMinimal  FrequencyPreference = "minimal"
	FrequencyBalanced FrequencyPreference = "balanced"
	FrequencyFrequent FrequencyPreference = "frequent"
)

// DailyCap returns the per-local-day notification cap. Unknown values are balanced.
func (f FrequencyPreference) DailyCap() int {
	switch f {
	case FrequencyMinimal:
		return 2
	case FrequencyFrequent:
		return 10
	default:
		return 5
	}
}

// TimeWindow is a local "HH:MM"–"HH:MM" range. Start > End wraps midnight.
type TimeWindow struct {
	Start string `json:"start" validate:"required,hhmm"`
	End   string `json:"end" validate:"required,hhmm"`
}

// UserContext is the per-user snapshot assembled by the caller.
// Build it with engagement.NewUserContext so Location is resolved and
// fields are validated once at the boundary.
type UserContext struct {
	UserID             string              `json:"user_id" validate:"required"`
	Timezone           string              `json:"timezone" validate:"required"`
	PracticeWindows    []TimeWindow        `json:"practice_windows" validate:"dive"`
	DNDWindows         []TimeWindow        `json:"dnd_windows" validate:"dive"`
	CurrentStreak      int                 `json:"current_streak" validate:"gte=0"`
	BestStreak         int                 `json:"best_streak" validate:"gte=0"`
	FreezeTokens       int                 `json:"freeze_tokens" validate:"gte=0"`
	GracePeriodUsed    bool                `json:"grace_period_used"`
	LastPracticeAt     *time.Time          `json:"last_practice_at,omitempty"`
	LastStreakStatus   StreakStatus        `json:"last_streak_status,omitempty"`
	UnclaimedRewards   int                 `json:"unclaimed_rewards" validate:"gte=0"`
	House              string              `json:"house,omitempty"`
	Frequency          FrequencyPreference `json:"frequency" validate:"omitempty,oneof=minimal balanced frequent"`
	ChannelPreferences []Channel           `json:"channel_preferences" validate:"dive,oneof=push email in_app"`
	TotalPracticeDays  int                 `json:"total_practice_days" validate:"gte=0"`

	// AsOf is the snapshot time. The scheduler stamps it before evaluating
	// templates so conditions and timings see the same instant.
	AsOf     time.Time      `json:"as_of"`
	Location *time.Location `json:"-"`
}

// Local returns t in the user's timezone (UTC if unresolved).
func (u UserContext) Local(t time.Time) time.Time {
	if u.Location == nil {
		return t.UTC()
	}
	return t.In(u.Location)
}

// NotificationContent is the rendered message.
type NotificationContent struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	ActionURL string `json:"action_url,omitempty"`
}

// NotificationTemplate is static configuration, loaded once.
type NotificationTemplate struct {
	Type      NotificationType
	Priority  Priority
	Reason    string
	Condition func(UserContext) bool
	Content   func(UserContext) NotificationContent
	Timing    func(UserContext) *time.Time // nil = no candidate this pass
}

// NotificationReason records why a candidate was produced.
type NotificationReason struct {
	Reason    string   `json:"reason"`
	UserState string   `json:"user_state"`
	Triggers  []string `json:"triggers"`
}

// SmartNotification is one scheduled nudge.
type SmartNotification struct {
	ID           string              `json:"id" validate:"required"`
	UserID       string              `json:"user_id" validate:"required"`
	Type         NotificationType    `json:"type" validate:"required,oneof=streak_at_risk reward_unclaimed milestone_approaching comeback practice_reminder house_update weekly_reflection"`
	Priority     Priority            `json:"priority" validate:"required,oneof=urgent high medium low"`
	Channel      Channel             `json:"channel" validate:"required,oneof=push email in_app"`
	Content      NotificationContent `json:"content"`
	ScheduledFor time.Time           `json:"scheduled_for"`
	ExpiresAt    time.Time           `json:"expires_at"`
	LocalDay     string              `json:"local_day" validate:"required"` // YYYY-MM-DD in the user's timezone
	Context      NotificationReason  `json:"context"`
}

// InboxNotification is an in-app notification persisted for display.
type InboxNotification struct {
	SmartNotification
	CreatedAt time.Time `json:"created_at"`
	Shown     bool      `json:"shown"`
}

// SendResult reports a delivery attempt. Counters are committed regardless.
type SendResult struct {
	NotificationID string  `json:"notification_id"`
	Channel        Channel `json:"channel"`
	Delivered      bool    `json:"delivered"`
	Error          string  `json:"error,omitempty"`
}
