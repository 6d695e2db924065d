package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tutu-network/engage/internal/app/engagement"
	"github.com/tutu-network/engage/internal/domain"
)

const (
	defaultInboxLimit = 20
	maxInboxLimit     = 100
	maxBodyBytes      = 1 << 20
)

// CheckInRequest is the optional body of POST /users/{userID}/checkin.
type CheckInRequest struct {
	At       *time.Time `json:"at,omitempty"`
	Timezone string     `json:"timezone,omitempty"`
}

// CheckInResponse pairs the check-in result with the resulting state.
type CheckInResponse struct {
	Result    domain.StreakCheckInResult `json:"result"`
	State     domain.StreakState         `json:"state"`
	Milestone domain.MilestoneProgress   `json:"milestone"`
}

// StreakResponse is returned by GET /users/{userID}/streak.
type StreakResponse struct {
	State      domain.StreakState       `json:"state"`
	Protection domain.ProtectionStatus  `json:"protection"`
	Milestone  domain.MilestoneProgress `json:"milestone"`
}

// RewardsResponse lists granted rewards, possibly empty.
type RewardsResponse struct {
	Rewards []domain.VariableReward `json:"rewards"`
}

// ScheduleResponse lists the planned notifications, possibly empty.
type ScheduleResponse struct {
	Notifications []domain.SmartNotification `json:"notifications"`
}

// InboxResponse lists pending in-app notifications.
type InboxResponse struct {
	Notifications []domain.InboxNotification `json:"notifications"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidContext, err)
	}
	return nil
}

// ─── Streaks ────────────────────────────────────────────────────────────────

func (s *Server) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	logger := loggerFrom(r.Context()).With(slog.String("user_id", userID))

	// the body is optional
	var req CheckInRequest
	if err := decodeBody(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		logger.Error("check-in error: invalid body")
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	at := s.svc.Clock.Now()
	if req.At != nil {
		at = *req.At
	}
	if req.Timezone != "" {
		loc, err := time.LoadLocation(req.Timezone)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown timezone %q", req.Timezone))
			return
		}
		at = at.In(loc)
	}

	res, state, err := s.svc.Streak.CheckIn(r.Context(), userID, at)
	if err != nil {
		logger.Error("check-in error: service error", slog.String("error", err.Error()))
		writeError(w, statusFor(err), "check-in failed")
		return
	}
	writeJSON(w, http.StatusOK, CheckInResponse{
		Result:    res,
		State:     state,
		Milestone: engagement.CalculateMilestone(res.NewStreakLength),
	})
}

func (s *Server) handleStreak(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	state, err := s.svc.Streak.Current(r.Context(), userID)
	if err != nil {
		loggerFrom(r.Context()).Error("streak lookup failed",
			slog.String("user_id", userID), slog.String("error", err.Error()))
		writeError(w, statusFor(err), "streak lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, StreakResponse{
		State:      state,
		Protection: engagement.GetProtectionStatus(state.FreezeTokens, state.GracePeriodUsedThisStreak),
		Milestone:  engagement.CalculateMilestone(state.CurrentStreak),
	})
}

func (s *Server) handleListMilestones(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"milestones": engagement.Milestones()})
}

func (s *Server) handleMilestone(w http.ResponseWriter, r *http.Request) {
	days, err := strconv.Atoi(chi.URLParam(r, "days"))
	if err != nil || days < 0 {
		writeError(w, http.StatusBadRequest, "days must be a non-negative integer")
		return
	}
	writeJSON(w, http.StatusOK, engagement.CalculateMilestone(days))
}

// ─── Rewards ────────────────────────────────────────────────────────────────

func (s *Server) handleCheckRewards(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	logger := loggerFrom(r.Context()).With(slog.String("user_id", userID))

	var rc domain.RewardContext
	if err := decodeBody(w, r, &rc); err != nil {
		logger.Error("reward check error: invalid body")
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rc.UserID = userID
	if err := engagement.ValidateRewardContext(rc); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	release, err := s.svc.Locks.Acquire(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
		return
	}
	rewards := s.svc.Rewards.CheckForRewards(r.Context(), rc)
	release()

	writeJSON(w, http.StatusOK, RewardsResponse{Rewards: rewards})
}

// ─── Notifications ──────────────────────────────────────────────────────────

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	logger := loggerFrom(r.Context()).With(slog.String("user_id", userID))

	var raw domain.UserContext
	if err := decodeBody(w, r, &raw); err != nil {
		logger.Error("schedule error: invalid body")
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	raw.UserID = userID
	uc, err := engagement.NewUserContext(raw)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	release, err := s.svc.Locks.Acquire(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
		return
	}
	defer release()

	planned, err := s.svc.Scheduler.AnalyzeAndSchedule(r.Context(), uc)
	if err != nil {
		logger.Error("schedule error: service error", slog.String("error", err.Error()))
		writeError(w, statusFor(err), "schedule failed")
		return
	}
	writeJSON(w, http.StatusOK, ScheduleResponse{Notifications: planned})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	logger := loggerFrom(r.Context())

	var n domain.SmartNotification
	if err := decodeBody(w, r, &n); err != nil {
		logger.Error("send error: invalid body")
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	release, err := s.svc.Locks.Acquire(r.Context(), n.UserID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
		return
	}
	defer release()

	res, err := s.svc.Scheduler.Send(r.Context(), n)
	if err != nil {
		status := statusFor(err)
		if status >= 500 {
			logger.Error("send error: service error",
				slog.String("notification_id", n.ID), slog.String("error", err.Error()))
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	limit := defaultInboxLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxInboxLimit)
	}

	items, err := s.svc.Inbox.ListPendingNotifications(r.Context(), userID, limit)
	if err != nil {
		loggerFrom(r.Context()).Error("inbox error",
			slog.String("user_id", userID), slog.String("error", err.Error()))
		writeError(w, statusFor(err), "inbox lookup failed")
		return
	}
	if items == nil {
		items = []domain.InboxNotification{}
	}
	writeJSON(w, http.StatusOK, InboxResponse{Notifications: items})
}

func (s *Server) handleShown(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.svc.Inbox.MarkNotificationShown(r.Context(), id); err != nil {
		if !errors.Is(err, domain.ErrNotificationNotFound) {
			loggerFrom(r.Context()).Error("mark shown error",
				slog.String("notification_id", id), slog.String("error", err.Error()))
		}
		writeError(w, statusFor(err), "mark shown failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "shown": true})
}
