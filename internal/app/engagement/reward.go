package engagement

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tutu-network/engage/internal/domain"
	"github.com/tutu-network/engage/internal/infra/metrics"
)

// RewardConfig holds the reward odds and fatigue settings.
type RewardConfig struct {
	BaseOdds         map[domain.Rarity]float64
	FatigueThreshold int64         // granted count above which odds halve
	FatigueWindow    time.Duration // TTL of the rewardcount key
	WeekendBonus     bool
}

// DefaultRewardConfig returns the production odds.
func DefaultRewardConfig() RewardConfig {
	return RewardConfig{
		BaseOdds: map[domain.Rarity]float64{
			domain.RarityCommon:    0.15,
			domain.RarityUncommon:  0.08,
			domain.RarityRare:      0.03,
			domain.RarityEpic:      0.01,
			domain.RarityLegendary: 0.001,
		},
		FatigueThreshold: 5,
		FatigueWindow:    24 * time.Hour,
		WeekendBonus:     true,
	}
}

// TierRoll records the draw for one rarity tier.
type TierRoll struct {
	Rarity    domain.Rarity `json:"rarity"`
	Threshold float64       `json:"threshold"`
	Draw      float64       `json:"draw"`
	Granted   bool          `json:"granted"`
}

// RewardDecision is the pure outcome of a roll. Increment is the amount the
// caller must add to the user's rewardcount key.
type RewardDecision struct {
	Rewards   []domain.VariableReward `json:"rewards"`
	Tiers     []TierRoll              `json:"tiers"`
	Modifier  float64                 `json:"modifier"`
	Increment int64                   `json:"increment"`
}

// RewardEngine decides and applies variable rewards.
type RewardEngine struct {
	cfg      RewardConfig
	pool     map[domain.RewardType][]domain.RewardDef
	counters domain.CounterStore
	clock    domain.Clock
	logger   *slog.Logger

	mu  sync.Mutex // guards rng
	rng domain.RandomSource
}

// RewardOption configures a RewardEngine.
type RewardOption func(*RewardEngine)

// WithRewardPool replaces the default reward pool.
func WithRewardPool(pool map[domain.RewardType][]domain.RewardDef) RewardOption {
	return func(e *RewardEngine) { e.pool = pool }
}

// WithRewardClock sets the clock.
func WithRewardClock(c domain.Clock) RewardOption {
	return func(e *RewardEngine) { e.clock = c }
}

// WithRewardRandom sets the random source.
func WithRewardRandom(r domain.RandomSource) RewardOption {
	return func(e *RewardEngine) { e.rng = r }
}

// WithRewardLogger sets the logger.
func WithRewardLogger(l *slog.Logger) RewardOption {
	return func(e *RewardEngine) { e.logger = l }
}

// NewRewardEngine creates a reward engine backed by counters.
func NewRewardEngine(cfg RewardConfig, counters domain.CounterStore, opts ...RewardOption) *RewardEngine {
	def := DefaultRewardConfig()
	if cfg.BaseOdds == nil {
		cfg.BaseOdds = def.BaseOdds
	}
	if cfg.FatigueWindow <= 0 {
		cfg.FatigueWindow = def.FatigueWindow
	}
	e := &RewardEngine{
		cfg:      cfg,
		pool:     DefaultRewardPool(),
		counters: counters,
		clock:    domain.SystemClock{},
		logger:   slog.Default(),
		rng:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
	}
	for _, o := range opts {
		o(e)
	}
	e.logger = e.logger.With(slog.String("component", "rewards"))
	return e
}

// Modifier returns the odds multiplier for a context and fatigue count.
func (e *RewardEngine) Modifier(rc domain.RewardContext, fatigueCount int64) float64 {
	m := 1.0
	md := rc.Metadata

	switch {
	case md.StreakLength >= 30:
		m *= 2.0
	case md.StreakLength >= 7:
		m *= 1.5
	}

	switch md.TimeOfDay {
	case domain.EarlyMorning:
		m *= 1.3
	case domain.LateNight:
		m *= 1.2
	}

	if md.ConsecutiveDays >= 3 {
		m *= 1.1
	}
	if fatigueCount > e.cfg.FatigueThreshold {
		m *= 0.5
	}
	return m
}

// Roll decides rewards for one action. It performs one Float64 draw per
// tier, lowest first; lower tiers stack, a legendary grant ends the roll.
// Each granted tier draws its reward type and then its pool entry with IntN.
func (e *RewardEngine) Roll(rc domain.RewardContext, fatigueCount int64, now time.Time, rng domain.RandomSource) RewardDecision {
	d := RewardDecision{Modifier: e.Modifier(rc, fatigueCount)}

	for _, rarity := range domain.AllRarities() {
		tr := TierRoll{
			Rarity:    rarity,
			Threshold: e.cfg.BaseOdds[rarity] * d.Modifier,
			Draw:      rng.Float64(),
		}
		tr.Granted = tr.Draw < tr.Threshold
		d.Tiers = append(d.Tiers, tr)
		if !tr.Granted {
			continue
		}

		if r, ok := e.pick(rarity, rc, now, rng); ok {
			d.Rewards = append(d.Rewards, r)
		}
		if rarity == domain.RarityLegendary {
			break
		}
	}

	if e.cfg.WeekendBonus && isWeekend(now) {
		applyWeekendBonus(d.Rewards)
	}
	d.Increment = int64(len(d.Rewards))
	return d
}

// pick selects a reward type for the tier, then an eligible entry of it.
func (e *RewardEngine) pick(rarity domain.Rarity, rc domain.RewardContext, now time.Time, rng domain.RandomSource) (domain.VariableReward, bool) {
	types := eligibleTypes[rarity]
	if len(types) == 0 {
		return domain.VariableReward{}, false
	}
	rt := types[rng.IntN(len(types))]

	var candidates []domain.RewardDef
	for _, def := range e.pool[rt] {
		if def.Rarity != rarity {
			continue
		}
		if def.Condition != nil && !def.Condition(rc) {
			continue
		}
		candidates = append(candidates, def)
	}
	if len(candidates) == 0 {
		return domain.VariableReward{}, false
	}

	def := candidates[rng.IntN(len(candidates))]
	r := domain.VariableReward{
		ID:            uuid.NewString(),
		Type:          def.Type,
		Rarity:        def.Rarity,
		Value:         def.Value,
		Title:         def.Title,
		Description:   def.Description,
		DecorativeArt: def.DecorativeArt,
	}
	if def.TTL > 0 {
		exp := now.Add(def.TTL)
		r.ExpiresAt = &exp
	}
	return r, true
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func applyWeekendBonus(rewards []domain.VariableReward) {
	for i := range rewards {
		if rewards[i].Type != domain.RewardBonusXP {
			continue
		}
		rewards[i].Value *= 2
		rewards[i].Title += " (Weekend Event Bonus)"
	}
}

// CheckForRewards rolls for rc and records granted rewards against the
// user's fatigue counter. It never fails: any error, including a panic,
// is logged and yields an empty list.
func (e *RewardEngine) CheckForRewards(ctx context.Context, rc domain.RewardContext) (rewards []domain.VariableReward) {
	logger := e.logger.With(
		slog.String("user_id", rc.UserID),
		slog.String("action", rc.Action),
	)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("reward check failed",
				slog.String("stage", "panic"),
				slog.String("error", fmt.Sprint(r)),
			)
			metrics.RewardCheckFailures.WithLabelValues("panic").Inc()
			rewards = []domain.VariableReward{}
		}
	}()

	if err := ValidateRewardContext(rc); err != nil {
		logger.Warn("reward check skipped", slog.String("stage", "validate"), slog.String("error", err.Error()))
		metrics.RewardCheckFailures.WithLabelValues("validate").Inc()
		return []domain.VariableReward{}
	}

	key := RewardCountKey(rc.UserID)
	fatigue, _, err := e.counters.GetCounter(ctx, key)
	if err != nil {
		// Unknown fatigue counts as fatigued
		logger.Warn("fatigue read failed", slog.String("stage", "read_counter"), slog.String("error", err.Error()))
		metrics.RewardCheckFailures.WithLabelValues("read_counter").Inc()
		fatigue = e.cfg.FatigueThreshold + 1
	}

	now := e.clock.Now()
	d := e.roll(rc, fatigue, now)

	for _, tr := range d.Tiers {
		if tr.Granted {
			metrics.RewardTierHits.WithLabelValues(string(tr.Rarity)).Inc()
		}
	}

	if d.Increment > 0 {
		if _, err := e.counters.IncrCounter(ctx, key, d.Increment, e.cfg.FatigueWindow); err != nil {
			logger.Error("reward check failed", slog.String("stage", "incr_counter"), slog.String("error", err.Error()))
			metrics.RewardCheckFailures.WithLabelValues("incr_counter").Inc()
			return []domain.VariableReward{}
		}
	}

	for _, r := range d.Rewards {
		metrics.RewardsGranted.WithLabelValues(string(r.Rarity), string(r.Type)).Inc()
		logger.Info("reward granted",
			slog.String("reward_id", r.ID),
			slog.String("type", string(r.Type)),
			slog.String("rarity", string(r.Rarity)),
			slog.Float64("value", r.Value),
			slog.Float64("modifier", d.Modifier),
		)
	}

	if d.Rewards == nil {
		return []domain.VariableReward{}
	}
	return d.Rewards
}

// roll runs Roll against the shared random source.
func (e *RewardEngine) roll(rc domain.RewardContext, fatigue int64, now time.Time) RewardDecision {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Roll(rc, fatigue, now, e.rng)
}
