// Package api provides the HTTP server for engage.
// It exposes streaks, rewards and notifications as a JSON API under /api/v1.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tutu-network/engage/internal/app/engagement"
	"github.com/tutu-network/engage/internal/domain"
	"github.com/tutu-network/engage/internal/health"
)

// Services are the engine components the API exposes.
type Services struct {
	Streak    *engagement.StreakService
	Rewards   *engagement.RewardEngine
	Scheduler *engagement.NotificationScheduler
	Inbox     domain.InboxStore
	Locks     *engagement.UserLocks
	Health    *health.Checker // nil = always healthy
	Clock     domain.Clock    // nil = system clock
	Logger    *slog.Logger    // nil = slog.Default()
}

// Server is the engage HTTP API server.
type Server struct {
	svc            Services
	metricsEnabled bool
	corsOrigins    []string
}

// NewServer creates a new API server.
func NewServer(svc Services) *Server {
	if svc.Clock == nil {
		svc.Clock = domain.SystemClock{}
	}
	if svc.Logger == nil {
		svc.Logger = slog.Default()
	}
	if svc.Locks == nil {
		svc.Locks = engagement.NewUserLocks()
	}
	return &Server{svc: svc, corsOrigins: []string{"*"}}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetCORSOrigins restricts Access-Control-Allow-Origin to origins.
func (s *Server) SetCORSOrigins(origins []string) { s.corsOrigins = origins }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggerMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(s.corsMiddleware)
	r.Use(metricsMiddleware)

	r.Get("/health", s.handleHealth)

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/milestones", s.handleListMilestones)
		r.Get("/milestones/{days}", s.handleMilestone)

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Post("/checkin", s.handleCheckIn)
			r.Get("/streak", s.handleStreak)
			r.Post("/rewards/check", s.handleCheckRewards)
			r.Post("/notifications/schedule", s.handleSchedule)
			r.Get("/notifications", s.handleInbox)
		})

		r.Post("/notifications/send", s.handleSend)
		r.Post("/notifications/{id}/shown", s.handleShown)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.svc.Health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	status, code := "ok", http.StatusOK
	if !s.svc.Health.IsHealthy() {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status": status,
		"checks": s.svc.Health.Statuses(),
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errorType(status),
		},
	})
}

func errorType(status int) string {
	switch {
	case status >= 500:
		return "server_error"
	case status == http.StatusNotFound:
		return "not_found"
	default:
		return "invalid_request"
	}
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidContext), errors.Is(err, domain.ErrUnknownTimezone):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrStreakNotFound), errors.Is(err, domain.ErrNotificationNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNotificationExpired):
		return http.StatusGone
	case errors.Is(err, domain.ErrNotificationNotDue):
		return http.StatusTooEarly
	default:
		return http.StatusInternalServerError
	}
}

// corsMiddleware adds CORS headers for the configured origins.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := s.allowedOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowedOrigin(origin string) string {
	for _, o := range s.corsOrigins {
		if o == "*" {
			return "*"
		}
		if origin != "" && strings.EqualFold(o, origin) {
			return origin
		}
	}
	return ""
}
