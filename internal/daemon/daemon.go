package daemon

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tutu-network/engage/internal/api"
	"github.com/tutu-network/engage/internal/app/engagement"
	"github.com/tutu-network/engage/internal/domain"
	"github.com/tutu-network/engage/internal/health"
	"github.com/tutu-network/engage/internal/infra/dispatch"
	"github.com/tutu-network/engage/internal/infra/memstore"
	"github.com/tutu-network/engage/internal/infra/postgres"
	"github.com/tutu-network/engage/internal/infra/sqlite"
)

// Daemon is the engage runtime. It wires together all services.
type Daemon struct {
	Config Config
	Store  domain.Store
	Server *api.Server
	Logger *slog.Logger
	cancel context.CancelFunc
	logOut io.Closer

	Locks     *engagement.UserLocks
	Streak    *engagement.StreakService
	Rewards   *engagement.RewardEngine
	Scheduler *engagement.NotificationScheduler
	Dispatch  *dispatch.Router
	Retries   *dispatch.RetryDispatcher // nil without a push webhook
	Health    *health.Checker
}

// New creates and initializes a Daemon with all services wired.
func New(ctx context.Context) (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return NewWithConfig(ctx, cfg)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(ctx context.Context, cfg Config) (*Daemon, error) {
	logger, logOut, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	clock := domain.SystemClock{}

	store, err := OpenStore(ctx, cfg.Store, clock)
	if err != nil {
		_ = logOut.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	d := &Daemon{
		Config: cfg,
		Store:  store,
		Logger: logger,
		logOut: logOut,
		Locks:  engagement.NewUserLocks(),
	}

	// Delivery channels
	logDispatcher := dispatch.NewLogDispatcher(logger)
	d.Dispatch = dispatch.NewRouter(logDispatcher).
		Handle(domain.ChannelInApp, dispatch.NewInboxDispatcher(store))
	if url := cfg.Notifications.PushWebhookURL; url != "" {
		timeout := parseDuration(cfg.Notifications.WebhookTimeout, 5*time.Second)
		retryCfg := dispatch.DefaultRetryConfig()
		retryCfg.MaxRetries = cfg.Notifications.PushMaxRetries
		webhook := dispatch.NewWebhookDispatcher(url, cfg.Notifications.PushToken, timeout)
		d.Retries = dispatch.NewRetryDispatcher(webhook, retryCfg, clock, logger)
		d.Dispatch.Handle(domain.ChannelPush, d.Retries)
	}

	// Engagement engine
	tracker := engagement.NewStreakTracker(cfg.StreakSettings())
	d.Streak = engagement.NewStreakService(store, tracker, d.Locks, clock, logger)
	d.Rewards = engagement.NewRewardEngine(cfg.RewardSettings(), store,
		engagement.WithRewardClock(clock),
		engagement.WithRewardLogger(logger),
	)
	d.Scheduler = engagement.NewNotificationScheduler(cfg.NotificationSettings(), store, d.Dispatch,
		engagement.WithSchedulerClock(clock),
		engagement.WithSchedulerLogger(logger),
	)

	d.Health = health.NewChecker(store, cfg.Store.Dir, logger)

	d.Server = api.NewServer(api.Services{
		Streak:    d.Streak,
		Rewards:   d.Rewards,
		Scheduler: d.Scheduler,
		Inbox:     store,
		Locks:     d.Locks,
		Health:    d.Health,
		Logger:    logger,
	})
	if cfg.Telemetry.Prometheus {
		d.Server.EnableMetrics()
	}
	if len(cfg.API.CORSOrigins) > 0 {
		d.Server.SetCORSOrigins(cfg.API.CORSOrigins)
	}

	return d, nil
}

// OpenStore opens the backend named by cfg.Driver.
func OpenStore(ctx context.Context, cfg StoreConfig, clock domain.Clock) (domain.Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		dir := cfg.Dir
		if dir == "" {
			dir = engageHome()
		}
		db, err := sqlite.Open(dir, sqlite.WithClock(clock))
		if err != nil {
			return nil, err
		}
		return db, nil
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres driver requires postgres_dsn")
		}
		pg, err := postgres.Open(ctx, cfg.PostgresDSN, postgres.WithClock(clock))
		if err != nil {
			return nil, err
		}
		return pg, nil
	case "memory":
		return memstore.New(clock), nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownStoreDriver, cfg.Driver)
	}
}

// Serve starts the HTTP server and blocks until shutdown.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	go d.Health.Run(ctx)
	if d.Retries != nil {
		go d.Retries.Run(ctx)
	}

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	// Graceful shutdown on signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		_ = httpServer.Shutdown(shutdownCtx)
	}()

	fmt.Printf("engage serving on http://%s\n", addr)
	fmt.Printf("  Store: %s\n", d.Config.Store.Driver)
	if d.Config.Telemetry.Prometheus {
		fmt.Printf("  Metrics: http://%s/metrics\n", addr)
	}
	d.Logger.Info("daemon started", slog.String("component", "daemon"), slog.String("addr", addr))

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.Store != nil {
		_ = d.Store.Close()
	}
	if d.logOut != nil {
		_ = d.logOut.Close()
	}
}
