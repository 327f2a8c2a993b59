package store

import (
	"context"

	"github.com/cureliah/backend/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const notificationColumns = `id, user_id, title, message, type, read_at, related_booking_id,
	related_urgent_request_id, created_at`

func scanNotification(row pgx.Row) (*domain.Notification, error) {
	var (
		n   domain.Notification
		typ string
	)
	if err := row.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &typ, &n.ReadAt, &n.RelatedBookingID,
		&n.RelatedUrgentRequestID, &n.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	n.Type = domain.NotificationType(typ)
	return &n, nil
}

func (r *PostgresRepository) InsertNotification(ctx context.Context, in domain.NewNotification) (*domain.Notification, error) {
	return scanNotification(r.db.QueryRow(ctx, `
		INSERT INTO notifications (id, user_id, title, message, type, related_booking_id, related_urgent_request_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+notificationColumns,
		uuid.New(), in.UserID, in.Title, in.Message, string(in.Type), in.RelatedBookingID, in.RelatedUrgentRequestID))
}

func (r *PostgresRepository) ListNotifications(ctx context.Context, userID uuid.UUID, opts domain.NotificationListOptions) ([]domain.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE user_id = $1`
	if opts.UnreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, userID, clampLimit(opts.Limit, 50, 200), max(opts.Offset, 0))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *n)
	}
	return items, rows.Err()
}

func (r *PostgresRepository) CountUnreadNotifications(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read_at IS NULL
	`, userID).Scan(&count)
	return count, err
}

// MarkNotificationRead never clears read_at, so replays and races are harmless.
func (r *PostgresRepository) MarkNotificationRead(ctx context.Context, userID, id uuid.UUID) (*domain.Notification, bool, error) {
	var (
		n         domain.Notification
		typ       string
		wasUnread bool
	)
	err := r.db.QueryRow(ctx, `
		WITH prev AS (
			SELECT id, read_at IS NULL AS was_unread
			FROM notifications
			WHERE id = $1 AND user_id = $2
			FOR UPDATE
		)
		UPDATE notifications AS n
		SET read_at = COALESCE(n.read_at, NOW())
		FROM prev
		WHERE n.id = prev.id
		RETURNING n.id, n.user_id, n.title, n.message, n.type, n.read_at, n.related_booking_id,
			n.related_urgent_request_id, n.created_at, prev.was_unread
	`, id, userID).Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &typ, &n.ReadAt, &n.RelatedBookingID,
		&n.RelatedUrgentRequestID, &n.CreatedAt, &wasUnread)
	if err != nil {
		return nil, false, notFound(err)
	}
	n.Type = domain.NotificationType(typ)
	return &n, wasUnread, nil
}

func (r *PostgresRepository) MarkAllNotificationsRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE notifications
		SET read_at = COALESCE(read_at, NOW())
		WHERE user_id = $1 AND read_at IS NULL
	`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) DeleteNotification(ctx context.Context, userID, id uuid.UUID) (*domain.Notification, error) {
	return scanNotification(r.db.QueryRow(ctx, `
		DELETE FROM notifications
		WHERE id = $1 AND user_id = $2
		RETURNING `+notificationColumns, id, userID))
}
