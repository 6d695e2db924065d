// Package metrics provides Prometheus metrics for the engagement engine:
// counters, gauges and histograms for streaks, rewards, notifications,
// storage, the HTTP surface and health.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Streaks ────────────────────────────────────────────────────────────────

// StreakCheckIns tracks check-ins by outcome status.
var StreakCheckIns = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "engage",
	Name:      "streak_checkins_total",
	Help:      "Total streak check-ins by outcome.",
}, []string{"status"})

// FreezeTokenEvents tracks freeze tokens earned and consumed.
var FreezeTokenEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "engage",
	Name:      "freeze_token_events_total",
	Help:      "Freeze tokens earned or consumed.",
}, []string{"event"})

// Comebacks tracks broken streaks that qualified for a comeback bonus.
var Comebacks = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "engage",
	Name:      "comebacks_total",
	Help:      "Total comeback check-ins after a long gap.",
})

// ─── Rewards ────────────────────────────────────────────────────────────────

// RewardTierHits tracks tiers whose draw came in under the threshold.
var RewardTierHits = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "engage",
	Name:      "reward_tier_hits_total",
	Help:      "Reward tier draws that succeeded, by rarity.",
}, []string{"rarity"})

// RewardsGranted tracks rewards handed out.
var RewardsGranted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "engage",
	Name:      "rewards_granted_total",
	Help:      "Total rewards granted by rarity and type.",
}, []string{"rarity", "type"})

// RewardCheckFailures tracks reward checks that degraded to an empty result.
var RewardCheckFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "engage",
	Name:      "reward_check_failures_total",
	Help:      "Reward check failures by stage.",
}, []string{"stage"})

// ─── Notifications ──────────────────────────────────────────────────────────

// NotificationsScheduled tracks planned notifications.
var NotificationsScheduled = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "engage",
	Name:      "notifications_scheduled_total",
	Help:      "Notifications returned by a scheduling pass.",
}, []string{"type", "priority"})

// NotificationsSuppressed tracks candidates dropped during scheduling.
var NotificationsSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "engage",
	Name:      "notifications_suppressed_total",
	Help:      "Notification types skipped during scheduling, by reason.",
}, []string{"reason"})

// NotificationsSent tracks send attempts by channel and result.
var NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "engage",
	Name:      "notifications_sent_total",
	Help:      "Notification send attempts by channel and result.",
}, []string{"channel", "result"})

// ─── Storage ────────────────────────────────────────────────────────────────

// CounterStoreErrors tracks rolling-counter failures by operation.
var CounterStoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "engage",
	Name:      "counter_store_errors_total",
	Help:      "Counter store errors by operation.",
}, []string{"op"})

// StoreLatency tracks storage call duration in seconds.
var StoreLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "engage",
	Name:      "store_latency_seconds",
	Help:      "Storage call duration in seconds.",
	Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
}, []string{"driver", "op"})

// ─── Concurrency ────────────────────────────────────────────────────────────

// UserLocksActive tracks users with an in-flight locked operation.
var UserLocksActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "engage",
	Name:      "user_locks_active",
	Help:      "Users currently holding or waiting on a per-user lock.",
})

// ─── HTTP ───────────────────────────────────────────────────────────────────

// HTTPRequestDuration tracks API request duration in seconds.
var HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "engage",
	Name:      "http_request_duration_seconds",
	Help:      "API request duration in seconds.",
	Buckets:   prometheus.DefBuckets,
}, []string{"route", "code"})

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "engage",
	Name:      "health_check_status",
	Help:      "Health check result per component (1=healthy, 0=unhealthy).",
}, []string{"check"})

// HealthRecoveries tracks checks returning to healthy after a failure.
var HealthRecoveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "engage",
	Name:      "health_recoveries_total",
	Help:      "Total recoveries per check.",
}, []string{"check"})

// DeliveryRetries tracks the retry queue for failed deliveries.
var DeliveryRetries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "engage",
	Name:      "delivery_retries_total",
	Help:      "Delivery retry events (scheduled, delivered, failed, exhausted, expired).",
}, []string{"event"})
