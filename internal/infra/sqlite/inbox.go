package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tutu-network/engage/internal/domain"
)

// InsertNotification stores an in-app notification. Re-inserting an id is a no-op.
func (d *DB) InsertNotification(ctx context.Context, n domain.SmartNotification) error {
	defer observe("insert_notification", time.Now())

	reason, err := json.Marshal(n.Context)
	if err != nil {
		return fmt.Errorf("encode reason: %w", err)
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, type, priority, channel, title, body, action_url,
			scheduled_for, expires_at, local_day, reason, created_at, shown)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		 ON CONFLICT(id) DO NOTHING`,
		n.ID, n.UserID, string(n.Type), string(n.Priority), string(n.Channel),
		n.Content.Title, n.Content.Body, n.Content.ActionURL,
		n.ScheduledFor.Unix(), n.ExpiresAt.Unix(), n.LocalDay, string(reason),
		d.clock.Now().Unix(),
	)
	return err
}

// ListPendingNotifications returns unshown notifications, newest first.
func (d *DB) ListPendingNotifications(ctx context.Context, userID string, limit int) ([]domain.InboxNotification, error) {
	defer observe("list_notifications", time.Now())

	if limit <= 0 {
		limit = 50
	}
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, user_id, type, priority, channel, title, body, action_url,
			scheduled_for, expires_at, local_day, reason, created_at, shown
		 FROM notifications WHERE user_id = ? AND shown = 0
		 ORDER BY created_at DESC, id LIMIT ?`, userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.InboxNotification
	for rows.Next() {
		n, err := scanInbox(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// MarkNotificationShown flags a notification as displayed.
func (d *DB) MarkNotificationShown(ctx context.Context, id string) error {
	defer observe("mark_shown", time.Now())

	res, err := d.db.ExecContext(ctx, `UPDATE notifications SET shown = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrNotificationNotFound
	}
	return nil
}

func scanInbox(sc scanner) (*domain.InboxNotification, error) {
	var (
		n                             domain.InboxNotification
		typ, prio, channel, reason    string
		scheduled, expires, createdAt int64
	)
	err := sc.Scan(&n.ID, &n.UserID, &typ, &prio, &channel,
		&n.Content.Title, &n.Content.Body, &n.Content.ActionURL,
		&scheduled, &expires, &n.LocalDay, &reason, &createdAt, &n.Shown)
	if err != nil {
		return nil, err
	}
	n.Type = domain.NotificationType(typ)
	n.Priority = domain.Priority(prio)
	n.Channel = domain.Channel(channel)
	n.ScheduledFor = time.Unix(scheduled, 0)
	n.ExpiresAt = time.Unix(expires, 0)
	n.CreatedAt = time.Unix(createdAt, 0)
	if err := json.Unmarshal([]byte(reason), &n.Context); err != nil {
		return nil, fmt.Errorf("decode reason: %w", err)
	}
	return &n, nil
}
