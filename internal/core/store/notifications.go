package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/socialrelay/socialrelay/internal/core"
	"github.com/socialrelay/socialrelay/internal/validate"
)

// CreateNotification stores an unread notification for userID.
func (s *Store) CreateNotification(ctx context.Context, userID string, input core.NotificationInput) (*core.Notification, error) {
	if s == nil || s.DB == nil {
		return nil, errNotInitialized
	}
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("user id is required")
	}
	if err := validate.Struct(input); err != nil {
		return nil, fmt.Errorf("invalid notification: %s", validate.Summary(err))
	}

	metadata, err := encodeJSON(input.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode notification metadata: %w", err)
	}

	n := &core.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      input.Type,
		Title:     input.Title,
		Message:   input.Message,
		ActionURL: input.ActionURL,
		Metadata:  input.Metadata,
		CreatedAt: s.clock().Truncate(time.Second),
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, title, message, action_url, metadata, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)
	`, n.ID, n.UserID, n.Type, n.Title, n.Message, nullString(n.ActionURL), metadata, n.CreatedAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("store notification: %w", err)
	}
	return n, nil
}

// ListNotifications returns the user's notifications, newest first.
func (s *Store) ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]core.Notification, error) {
	if s == nil || s.DB == nil {
		return nil, errNotInitialized
	}

	query := `
		SELECT id, user_id, type, title, message, action_url, metadata, is_read, created_at, read_at
		FROM notifications
		WHERE user_id = ?`
	if unreadOnly {
		query += ` AND is_read = 0`
	}
	query += ` ORDER BY created_at DESC, id ASC`

	rows, err := s.DB.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	var out []core.Notification
	for rows.Next() {
		var (
			n                   core.Notification
			actionURL, metadata sql.NullString
			isRead              int
			createdAt           int64
			readAt              sql.NullInt64
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &actionURL, &metadata,
			&isRead, &createdAt, &readAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.ActionURL = actionURL.String
		n.IsRead = isRead == 1
		n.CreatedAt = time.Unix(createdAt, 0).UTC()
		n.ReadAt = timeFromNull(readAt)
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &n.Metadata); err != nil {
				return nil, fmt.Errorf("decode notification metadata: %w", err)
			}
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}

// MarkNotificationRead marks a notification read. Marking it again keeps the
// original read time.
func (s *Store) MarkNotificationRead(ctx context.Context, id string) error {
	if s == nil || s.DB == nil {
		return errNotInitialized
	}

	res, err := s.DB.ExecContext(ctx, `
		UPDATE notifications SET is_read = 1, read_at = COALESCE(read_at, ?)
		WHERE id = ?
	`, s.clock().Unix(), id)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	return requireRow(res, core.ErrNotificationNotFound)
}
