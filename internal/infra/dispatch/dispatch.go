// Package dispatch delivers scheduled notifications over their channel.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tutu-network/engage/internal/domain"
)

// Router sends each notification to the dispatcher registered for its channel.
type Router struct {
	routes   map[domain.Channel]domain.Dispatcher
	fallback domain.Dispatcher
}

// NewRouter creates a router. fallback handles channels with no route; nil
// means such notifications fail with domain.ErrNoDispatcher.
func NewRouter(fallback domain.Dispatcher) *Router {
	return &Router{routes: make(map[domain.Channel]domain.Dispatcher), fallback: fallback}
}

// Handle registers d for channel c.
func (r *Router) Handle(c domain.Channel, d domain.Dispatcher) *Router {
	r.routes[c] = d
	return r
}

// Dispatch implements domain.Dispatcher.
func (r *Router) Dispatch(ctx context.Context, n domain.SmartNotification) error {
	if d, ok := r.routes[n.Channel]; ok {
		return d.Dispatch(ctx, n)
	}
	if r.fallback != nil {
		return r.fallback.Dispatch(ctx, n)
	}
	return fmt.Errorf("channel %s: %w", n.Channel, domain.ErrNoDispatcher)
}

// ─── Log ────────────────────────────────────────────────────────────────────

// LogDispatcher writes notifications to a structured log. Used for channels
// with no real gateway configured.
type LogDispatcher struct {
	logger *slog.Logger
}

// NewLogDispatcher creates a log-only dispatcher.
func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogDispatcher{logger: logger.With(slog.String("component", "dispatch"))}
}

// Dispatch implements domain.Dispatcher.
func (d *LogDispatcher) Dispatch(_ context.Context, n domain.SmartNotification) error {
	d.logger.Info("notification delivered to log",
		slog.String("notification_id", n.ID),
		slog.String("user_id", n.UserID),
		slog.String("channel", string(n.Channel)),
		slog.String("title", n.Content.Title),
	)
	return nil
}

// ─── Inbox ──────────────────────────────────────────────────────────────────

// InboxDispatcher persists in-app notifications for later display.
type InboxDispatcher struct {
	store domain.InboxStore
}

// NewInboxDispatcher creates an inbox dispatcher.
func NewInboxDispatcher(store domain.InboxStore) *InboxDispatcher {
	return &InboxDispatcher{store: store}
}

// Dispatch implements domain.Dispatcher.
func (d *InboxDispatcher) Dispatch(ctx context.Context, n domain.SmartNotification) error {
	if err := d.store.InsertNotification(ctx, n); err != nil {
		return fmt.Errorf("inbox insert: %w", err)
	}
	return nil
}

// ─── Webhook ────────────────────────────────────────────────────────────────

// WebhookDispatcher POSTs notifications as JSON to a push gateway.
type WebhookDispatcher struct {
	url    string
	token  string
	client *http.Client
}

// NewWebhookDispatcher creates a webhook dispatcher. token, when set, is
// sent as a bearer token.
func NewWebhookDispatcher(url, token string, timeout time.Duration) *WebhookDispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookDispatcher{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: timeout},
	}
}

// Dispatch implements domain.Dispatcher. Any non-2xx status is an error.
func (d *WebhookDispatcher) Dispatch(ctx context.Context, n domain.SmartNotification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", n.ID)
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
