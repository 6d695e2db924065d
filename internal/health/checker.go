// Package health runs periodic checks against the engine's dependencies and
// exposes the latest results to the API.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/tutu-network/engage/internal/domain"
	"github.com/tutu-network/engage/internal/infra/metrics"
)

// Check defines a single health check with optional recovery action.
type Check struct {
	Name      string
	CheckFn   func(ctx context.Context) error
	RecoverFn func(ctx context.Context) error
}

// Status represents the result of a health check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Purger is implemented by stores that can drop expired counters.
type Purger interface {
	PurgeExpiredCounters(ctx context.Context) (int64, error)
}

// Checker runs periodic health checks with auto-recovery.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
	logger   *slog.Logger
}

// NewChecker creates a checker for store. dataDir is checked when non-empty;
// expired counters are purged on every pass when the store supports it.
func NewChecker(store domain.Store, dataDir string, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Checker{
		interval: 60 * time.Second,
		logger:   logger.With(slog.String("component", "health")),
	}

	c.checks = append(c.checks, Check{
		Name: "store",
		CheckFn: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return store.Ping(ctx)
		},
	})

	if dataDir != "" {
		c.checks = append(c.checks, Check{
			Name: "data_dir",
			CheckFn: func(ctx context.Context) error {
				return checkDataDir(dataDir)
			},
			RecoverFn: func(ctx context.Context) error {
				return os.MkdirAll(dataDir, 0700)
			},
		})
	}

	if p, ok := store.(Purger); ok {
		c.checks = append(c.checks, Check{
			Name: "counter_purge",
			CheckFn: func(ctx context.Context) error {
				n, err := p.PurgeExpiredCounters(ctx)
				if err != nil {
					return fmt.Errorf("purge counters: %w", err)
				}
				if n > 0 {
					c.logger.Debug("expired counters purged", slog.Int64("count", n))
				}
				return nil
			},
		})
	}
	return c
}

// WithInterval overrides the check interval.
func (c *Checker) WithInterval(d time.Duration) *Checker {
	if d > 0 {
		c.interval = d
	}
	return c
}

// Run starts the health check loop. Call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	// Run immediately on start
	c.RunOnce(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce runs every check once and records the results.
func (c *Checker) RunOnce(ctx context.Context) {
	c.mu.RLock()
	prev := make(map[string]bool, len(c.statuses))
	for _, s := range c.statuses {
		prev[s.Name] = s.Healthy
	}
	c.mu.RUnlock()

	statuses := make([]Status, len(c.checks))
	for i, check := range c.checks {
		s := Status{
			Name:      check.Name,
			CheckedAt: time.Now(),
		}
		if err := check.CheckFn(ctx); err != nil {
			s.Error = err.Error()
			c.logger.Warn("health check failed", slog.String("check", check.Name), slog.String("error", s.Error))
			// Attempt recovery
			if check.RecoverFn != nil {
				if rerr := check.RecoverFn(ctx); rerr != nil {
					c.logger.Error("health recovery failed", slog.String("check", check.Name), slog.String("error", rerr.Error()))
				}
			}
			metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(0)
		} else {
			s.Healthy = true
			if healthy, seen := prev[check.Name]; seen && !healthy {
				metrics.HealthRecoveries.WithLabelValues(check.Name).Inc()
				c.logger.Info("health check recovered", slog.String("check", check.Name))
			}
			metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(1)
		}
		statuses[i] = s
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

// Statuses returns the latest health check results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy returns true if all checks pass.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}

// ─── Check Implementations ──────────────────────────────────────────────────

func checkDataDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("check data dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}
