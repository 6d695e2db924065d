// Package daemon manages the engage daemon lifecycle and configuration.
package daemon

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/tutu-network/engage/internal/app/engagement"
	"github.com/tutu-network/engage/internal/domain"
)

// Config holds all daemon configuration.
type Config struct {
	API           APIConfig          `toml:"api"`
	Store         StoreConfig        `toml:"store"`
	Streak        StreakConfig       `toml:"streak"`
	Rewards       RewardsConfig      `toml:"rewards"`
	Notifications NotificationConfig `toml:"notifications"`
	Logging       LoggingConfig      `toml:"logging"`
	Telemetry     TelemetryConfig    `toml:"telemetry"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host        string   `toml:"host"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// StoreConfig selects and configures the storage backend.
type StoreConfig struct {
	Driver      string `toml:"driver"` // sqlite | postgres | memory
	Dir         string `toml:"dir"`
	PostgresDSN string `toml:"postgres_dsn"`
}

// StreakConfig mirrors engagement.StreakConfig.
type StreakConfig struct {
	FreezeEarnRate    int `toml:"freeze_earn_rate"`
	ComebackThreshold int `toml:"comeback_threshold"`
	FreezeWindowDays  int `toml:"freeze_window_days"`
}

// RewardsConfig controls reward odds.
type RewardsConfig struct {
	Common           float64 `toml:"common"`
	Uncommon         float64 `toml:"uncommon"`
	Rare             float64 `toml:"rare"`
	Epic             float64 `toml:"epic"`
	Legendary        float64 `toml:"legendary"`
	FatigueThreshold int64   `toml:"fatigue_threshold"`
	FatigueWindow    string  `toml:"fatigue_window"`
	WeekendBonus     bool    `toml:"weekend_bonus"`
}

// NotificationConfig controls scheduling and delivery.
type NotificationConfig struct {
	MaxBatch       int    `toml:"max_batch"`
	CounterTTL     string `toml:"counter_ttl"`
	PushWebhookURL string `toml:"push_webhook_url"`
	PushToken      string `toml:"push_token"`
	WebhookTimeout string `toml:"webhook_timeout"`
	PushMaxRetries int    `toml:"push_max_retries"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `toml:"level"`  // debug | info | warn | error
	Format string `toml:"format"` // text | json
	File   string `toml:"file"`   // empty = stderr
}

// TelemetryConfig controls metrics export.
type TelemetryConfig struct {
	Prometheus bool `toml:"prometheus"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	homeDir := engageHome()
	return Config{
		API: APIConfig{
			Host:        "127.0.0.1",
			Port:        8088,
			CORSOrigins: []string{"*"},
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Dir:    homeDir,
		},
		Streak: StreakConfig{
			FreezeEarnRate:    7,
			ComebackThreshold: 3,
			FreezeWindowDays:  3,
		},
		Rewards: RewardsConfig{
			Common:           0.15,
			Uncommon:         0.08,
			Rare:             0.03,
			Epic:             0.01,
			Legendary:        0.001,
			FatigueThreshold: 5,
			FatigueWindow:    "24h",
			WeekendBonus:     true,
		},
		Notifications: NotificationConfig{
			MaxBatch:       3,
			CounterTTL:     "24h",
			WebhookTimeout: "5s",
			PushMaxRetries: 4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			Prometheus: true,
		},
	}
}

// LoadConfig reads $ENGAGE_HOME/config.toml, falling back to defaults, then
// applies $ENGAGE_HOME/.env and the process environment on top.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	home := engageHome()
	path := filepath.Join(home, "config.toml")

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	// .env never overrides variables already set in the process
	envPath := filepath.Join(home, ".env")
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load %s: %w", envPath, err)
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overlays ENGAGE_* variables onto cfg.
func applyEnv(cfg *Config) error {
	if v := os.Getenv("ENGAGE_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("ENGAGE_API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ENGAGE_API_PORT: %w", err)
		}
		cfg.API.Port = port
	}
	if v := os.Getenv("ENGAGE_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("ENGAGE_POSTGRES_DSN"); v != "" {
		cfg.Store.PostgresDSN = v
	}
	if v := os.Getenv("ENGAGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ENGAGE_PUSH_WEBHOOK_URL"); v != "" {
		cfg.Notifications.PushWebhookURL = v
	}
	return nil
}

// SaveConfig writes the config to $ENGAGE_HOME/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(engageHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// ─── Engine settings ────────────────────────────────────────────────────────

// StreakSettings converts the [streak] section.
func (c Config) StreakSettings() engagement.StreakConfig {
	return engagement.StreakConfig{
		FreezeEarnRate:    c.Streak.FreezeEarnRate,
		ComebackThreshold: c.Streak.ComebackThreshold,
		FreezeWindowDays:  c.Streak.FreezeWindowDays,
	}
}

// RewardSettings converts the [rewards] section.
func (c Config) RewardSettings() engagement.RewardConfig {
	r := c.Rewards
	return engagement.RewardConfig{
		BaseOdds: map[domain.Rarity]float64{
			domain.RarityCommon:    r.Common,
			domain.RarityUncommon:  r.Uncommon,
			domain.RarityRare:      r.Rare,
			domain.RarityEpic:      r.Epic,
			domain.RarityLegendary: r.Legendary,
		},
		FatigueThreshold: r.FatigueThreshold,
		FatigueWindow:    parseDuration(r.FatigueWindow, 24*time.Hour),
		WeekendBonus:     r.WeekendBonus,
	}
}

// NotificationSettings converts the [notifications] section.
func (c Config) NotificationSettings() engagement.NotificationConfig {
	return engagement.NotificationConfig{
		MaxBatch:   c.Notifications.MaxBatch,
		CounterTTL: parseDuration(c.Notifications.CounterTTL, 24*time.Hour),
	}
}

// ─── Logging ────────────────────────────────────────────────────────────────

// NewLogger builds the process logger from [logging]. The returned closer
// releases the log file, if any.
func NewLogger(cfg LoggingConfig) (*slog.Logger, io.Closer, error) {
	var (
		w      io.Writer = os.Stderr
		closer io.Closer = io.NopCloser(nil)
	)
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0700); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w, closer = f, f
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h), closer, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// parseDuration parses a duration string, returning a fallback on error.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// engageHome returns the engage data directory.
func engageHome() string {
	if env := os.Getenv("ENGAGE_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".engage")
}

// EngageHome is exported for use by other packages.
func EngageHome() string {
	return engageHome()
}
