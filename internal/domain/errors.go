package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors carry no infrastructure dependency.

var (
	// Context errors
	ErrInvalidContext  = errors.New("invalid engagement context")
	ErrUnknownTimezone = errors.New("unknown timezone")

	// Streak errors
	ErrStreakNotFound = errors.New("streak state not found")

	// Notification errors
	ErrNotificationNotFound = errors.New("notification not found")
	ErrNoDispatcher         = errors.New("no dispatcher registered for channel")
	ErrNotificationExpired  = errors.New("notification expired before send")
	ErrNotificationNotDue   = errors.New("notification not yet due")

	// Store errors
	ErrUnknownStoreDriver = errors.New("unknown store driver")
)
