package engagement

import (
	"time"

	"github.com/tutu-network/engage/internal/domain"
)

// eligibleTypes maps a rarity tier to the reward pools it may draw from.
var eligibleTypes = map[domain.Rarity][]domain.RewardType{
	domain.RarityCommon:   {domain.RewardBonusXP, domain.RewardPeerShoutout},
	domain.RarityUncommon: {domain.RewardBonusXP, domain.RewardPeerShoutout},
	domain.RarityRare:     {domain.RewardRareBadge, domain.RewardCollectibleArt, domain.RewardFreezeToken},
	domain.RarityEpic: {
		domain.RewardRareBadge, domain.RewardCollectibleArt, domain.RewardFreezeToken,
		domain.RewardHouseGift, domain.RewardSecretPractice, domain.RewardTitleUnlock,
	},
	domain.RarityLegendary: {domain.RewardHouseGift, domain.RewardSecretPractice, domain.RewardTitleUnlock},
}

// EligibleTypes returns the reward types a tier may produce, in table order.
func EligibleTypes(r domain.Rarity) []domain.RewardType {
	ts := eligibleTypes[r]
	out := make([]domain.RewardType, len(ts))
	copy(out, ts)
	return out
}

func morningPractice(rc domain.RewardContext) bool {
	tod := rc.Metadata.TimeOfDay
	return tod == domain.EarlyMorning || tod == domain.Morning
}

func lateNightPractice(rc domain.RewardContext) bool {
	return rc.Metadata.TimeOfDay == domain.LateNight
}

func streakAtLeast(n int) func(domain.RewardContext) bool {
	return func(rc domain.RewardContext) bool { return rc.Metadata.StreakLength >= n }
}

func inHouse(rc domain.RewardContext) bool {
	return rc.Metadata.House != ""
}

// DefaultRewardPool returns the built-in reward definitions, grouped by type.
func DefaultRewardPool() map[domain.RewardType][]domain.RewardDef {
	return map[domain.RewardType][]domain.RewardDef{
		domain.RewardBonusXP: {
			{
				ID: "xp_small", Type: domain.RewardBonusXP, Rarity: domain.RarityCommon, Value: 1.5,
				Title: "Bonus XP", Description: "1.5x XP on your next session.",
				DecorativeArt: "✨", TTL: 24 * time.Hour,
			},
			{
				ID: "xp_medium", Type: domain.RewardBonusXP, Rarity: domain.RarityUncommon, Value: 2.0,
				Title: "Double XP", Description: "2x XP on your next session.",
				DecorativeArt: "💫", TTL: 24 * time.Hour,
			},
		},
		domain.RewardPeerShoutout: {
			{
				ID: "shoutout_kudos", Type: domain.RewardPeerShoutout, Rarity: domain.RarityCommon, Value: 1,
				Title: "Kudos", Description: "Someone noticed your practice today.",
				DecorativeArt: "👏",
			},
			{
				ID: "shoutout_featured", Type: domain.RewardPeerShoutout, Rarity: domain.RarityUncommon, Value: 1,
				Title: "Featured Practitioner", Description: "Your session is featured in the community feed.",
				DecorativeArt: "📣", TTL: 48 * time.Hour,
			},
		},
		domain.RewardRareBadge: {
			{
				ID: "badge_early_bird", Type: domain.RewardRareBadge, Rarity: domain.RarityRare, Value: 1,
				Title: "Early Bird", Description: "Practiced before the world woke up.",
				DecorativeArt: "🌅", Condition: morningPractice,
			},
			{
				ID: "badge_night_owl", Type: domain.RewardRareBadge, Rarity: domain.RarityRare, Value: 1,
				Title: "Night Owl", Description: "Kept the practice alive after dark.",
				DecorativeArt: "🦉", Condition: lateNightPractice,
			},
			{
				ID: "badge_steadfast", Type: domain.RewardRareBadge, Rarity: domain.RarityRare, Value: 1,
				Title: "Steadfast", Description: "A week of unbroken practice.",
				DecorativeArt: "🪨", Condition: streakAtLeast(7),
			},
			{
				ID: "badge_iron_will", Type: domain.RewardRareBadge, Rarity: domain.RarityEpic, Value: 1,
				Title: "Iron Will", Description: "Thirty days and counting.",
				DecorativeArt: "🛡️", Condition: streakAtLeast(30),
			},
			{
				ID: "badge_dawn_keeper", Type: domain.RewardRareBadge, Rarity: domain.RarityEpic, Value: 1,
				Title: "Dawn Keeper", Description: "Guardian of the quiet hours.",
				DecorativeArt: "🌄",
			},
		},
		domain.RewardCollectibleArt: {
			{
				ID: "art_lotus", Type: domain.RewardCollectibleArt, Rarity: domain.RarityRare, Value: 1,
				Title: "Lotus Print", Description: "A collectible print for your gallery.",
				DecorativeArt: "🪷",
			},
			{
				ID: "art_aurora", Type: domain.RewardCollectibleArt, Rarity: domain.RarityEpic, Value: 1,
				Title: "Aurora Print", Description: "A rare collectible print for your gallery.",
				DecorativeArt: "🌌",
			},
		},
		domain.RewardFreezeToken: {
			{
				ID: "freeze_single", Type: domain.RewardFreezeToken, Rarity: domain.RarityRare, Value: 1,
				Title: "Streak Freeze", Description: "Protects your streak for one missed day.",
				DecorativeArt: "🧊",
			},
			{
				ID: "freeze_double", Type: domain.RewardFreezeToken, Rarity: domain.RarityEpic, Value: 2,
				Title: "Double Freeze", Description: "Two freeze tokens for your streak.",
				DecorativeArt: "❄️",
			},
		},
		domain.RewardHouseGift: {
			{
				ID: "house_banner", Type: domain.RewardHouseGift, Rarity: domain.RarityEpic, Value: 1,
				Title: "House Banner", Description: "Raise a banner for your house.",
				DecorativeArt: "🚩", Condition: inHouse,
			},
			{
				ID: "house_relic", Type: domain.RewardHouseGift, Rarity: domain.RarityLegendary, Value: 1,
				Title: "House Relic", Description: "A relic your whole house will remember.",
				DecorativeArt: "🏺", Condition: inHouse,
			},
		},
		domain.RewardSecretPractice: {
			{
				ID: "secret_breath", Type: domain.RewardSecretPractice, Rarity: domain.RarityEpic, Value: 1,
				Title: "Hidden Breathwork", Description: "A secret breathing session unlocked.",
				DecorativeArt: "🌬️", TTL: 7 * 24 * time.Hour,
			},
			{
				ID: "secret_masterclass", Type: domain.RewardSecretPractice, Rarity: domain.RarityLegendary, Value: 1,
				Title: "Masterclass", Description: "A secret masterclass, yours to keep.",
				DecorativeArt: "🔮",
			},
		},
		domain.RewardTitleUnlock: {
			{
				ID: "title_devotee", Type: domain.RewardTitleUnlock, Rarity: domain.RarityEpic, Value: 1,
				Title: "Devotee", Description: "A new title for your profile.",
				DecorativeArt: "📜",
			},
			{
				ID: "title_sage", Type: domain.RewardTitleUnlock, Rarity: domain.RarityLegendary, Value: 1,
				Title: "Sage", Description: "The rarest title there is.",
				DecorativeArt: "👑",
			},
		},
	}
}
