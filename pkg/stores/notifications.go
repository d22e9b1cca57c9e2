package stores

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/fleetyard/fleetyard/pkg/orchestrator"
)

// Notification outbox. Writers append change events here; the serve loop
// polls pending entries in insertion order, routes them, and marks them
// handled. Redelivery after a crash is expected and handlers are
// idempotent, so marking is best-effort.

// AppendNotification appends a change event to the outbox. An empty
// delivery id is filled in.
func (s *SQLiteStore) AppendNotification(ctx context.Context, n orchestrator.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	var payload sql.NullString
	if len(n.Payload) > 0 {
		payload = sql.NullString{String: string(n.Payload), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, channel, payload) VALUES (?, ?, ?)`,
		n.ID, n.Channel, payload)
	if err != nil {
		return fmt.Errorf("failed to append notification: %w", err)
	}
	return nil
}

// ListPendingNotifications returns up to limit unhandled notifications in
// insertion order.
func (s *SQLiteStore) ListPendingNotifications(ctx context.Context, limit int) ([]orchestrator.Notification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel, payload FROM notifications
		WHERE handled_at IS NULL ORDER BY seq LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending notifications: %w", err)
	}
	defer rows.Close()

	var out []orchestrator.Notification
	for rows.Next() {
		var n orchestrator.Notification
		var payload sql.NullString
		if err := rows.Scan(&n.ID, &n.Channel, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		if payload.Valid {
			n.Payload = []byte(payload.String)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationHandled stamps a notification as delivered.
func (s *SQLiteStore) MarkNotificationHandled(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET handled_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark notification handled: %w", err)
	}
	return nil
}
