package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tutu-network/engage/internal/domain"
)

const (
	insertNotificationSQL = `INSERT INTO notifications
			(id, user_id, type, priority, channel, title, body, action_url,
			 scheduled_for, expires_at, local_day, reason, created_at, shown)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, FALSE)
		ON CONFLICT (id) DO NOTHING`
	listPendingSQL = `SELECT id, user_id, type, priority, channel, title, body, action_url,
			scheduled_for, expires_at, local_day, reason, created_at, shown
		FROM notifications WHERE user_id = $1 AND shown = FALSE
		ORDER BY created_at DESC, id LIMIT $2`
	markShownSQL = `UPDATE notifications SET shown = TRUE WHERE id = $1`
)

// InsertNotification stores an in-app notification. Re-inserting an id is a no-op.
func (s *Store) InsertNotification(ctx context.Context, n domain.SmartNotification) error {
	defer observe("insert_notification", time.Now())

	reason, err := json.Marshal(n.Context)
	if err != nil {
		return fmt.Errorf("encode reason: %w", err)
	}
	_, err = s.conn.Exec(ctx, insertNotificationSQL,
		n.ID, n.UserID, string(n.Type), string(n.Priority), string(n.Channel),
		n.Content.Title, n.Content.Body, n.Content.ActionURL,
		n.ScheduledFor, n.ExpiresAt, n.LocalDay, reason, s.clock.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert notification %s: %w", n.ID, err)
	}
	return nil
}

// ListPendingNotifications returns unshown notifications, newest first.
func (s *Store) ListPendingNotifications(ctx context.Context, userID string, limit int) ([]domain.InboxNotification, error) {
	defer observe("list_notifications", time.Now())

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.conn.Query(ctx, listPendingSQL, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []domain.InboxNotification
	for rows.Next() {
		var (
			n                  domain.InboxNotification
			typ, prio, channel string
			reason             []byte
		)
		if err := rows.Scan(&n.ID, &n.UserID, &typ, &prio, &channel,
			&n.Content.Title, &n.Content.Body, &n.Content.ActionURL,
			&n.ScheduledFor, &n.ExpiresAt, &n.LocalDay, &reason, &n.CreatedAt, &n.Shown); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Type = domain.NotificationType(typ)
		n.Priority = domain.Priority(prio)
		n.Channel = domain.Channel(channel)
		if err := json.Unmarshal(reason, &n.Context); err != nil {
			return nil, fmt.Errorf("decode reason: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationShown flags a notification as displayed.
func (s *Store) MarkNotificationShown(ctx context.Context, id string) error {
	defer observe("mark_shown", time.Now())

	tag, err := s.conn.Exec(ctx, markShownSQL, id)
	if err != nil {
		return fmt.Errorf("mark shown %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotificationNotFound
	}
	return nil
}
