package engagement

import "github.com/tutu-network/engage/internal/domain"

// Counter key families shared with whatever else reads the store.
//   rewardcount:{userId}          rolling granted-reward count (fatigue)
//   cooldown:{userId}:{type}      Unix seconds of the type's last send
//   dailycount:{userId}:{date}    notifications sent on a local day

// RewardCountKey returns the fatigue counter key for a user.
func RewardCountKey(userID string) string {
	return "rewardcount:" + userID
}

// CooldownKey returns the last-sent key for a user and notification type.
func CooldownKey(userID string, t domain.NotificationType) string {
	return "cooldown:" + userID + ":" + string(t)
}

// DailyCountKey returns the per-local-day notification counter key.
func DailyCountKey(userID, day string) string {
	return "dailycount:" + userID + ":" + day
}
