package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/expense-workflow/internal/application/port"
	"github.com/garyjia/expense-workflow/internal/domain/entity"
	"github.com/garyjia/expense-workflow/internal/infrastructure/persistence/sqlite"
)

// NotificationRepository implements port.NotificationRepository
type NotificationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *sql.DB, logger *zap.Logger) port.NotificationRepository {
	return &NotificationRepository{
		db:     db,
		logger: logger,
	}
}

// Create stores an inbox notification
func (r *NotificationRepository) Create(ctx context.Context, n *entity.Notification) error {
	query := `
		INSERT INTO notifications (
			user_id, type, title, message, is_read, entity_type, entity_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		n.UserID,
		string(n.Type),
		n.Title,
		n.Message,
		n.IsRead,
		emptyAsNull(n.EntityType),
		nullInt64(n.EntityID),
		n.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create notification",
			zap.Int64("user_id", n.UserID),
			zap.Error(err))
		return fmt.Errorf("failed to create notification: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	n.ID = id
	return nil
}

// ListByUser returns a user's notifications, newest first
func (r *NotificationRepository) ListByUser(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]*entity.Notification, error) {
	query := `
		SELECT id, user_id, type, title, message, is_read,
			COALESCE(entity_type, ''), entity_id, created_at
		FROM notifications
		WHERE user_id = ?
	`
	args := []interface{}{userID}
	if unreadOnly {
		query += ` AND is_read = 0`
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list notifications", zap.Int64("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var items []*entity.Notification
	for rows.Next() {
		var n entity.Notification
		var kind string
		var entityID sql.NullInt64
		if err := rows.Scan(
			&n.ID,
			&n.UserID,
			&kind,
			&n.Title,
			&n.Message,
			&n.IsRead,
			&n.EntityType,
			&entityID,
			&n.CreatedAt,
		); err != nil {
			r.logger.Error("Failed to scan notification", zap.Error(err))
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.Type = entity.NotificationType(kind)
		if entityID.Valid {
			n.EntityID = &entityID.Int64
		}
		items = append(items, &n)
	}
	return items, rows.Err()
}

// MarkRead marks one of the user's notifications read
func (r *NotificationRepository) MarkRead(ctx context.Context, id, userID int64) (bool, error) {
	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx,
		`UPDATE notifications SET is_read = 1 WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		r.logger.Error("Failed to mark notification read", zap.Int64("id", id), zap.Error(err))
		return false, fmt.Errorf("failed to mark notification read: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// MarkAllRead marks every unread notification of the user read
func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx,
		`UPDATE notifications SET is_read = 1 WHERE user_id = ? AND is_read = 0`, userID)
	if err != nil {
		r.logger.Error("Failed to mark notifications read", zap.Int64("user_id", userID), zap.Error(err))
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return result.RowsAffected()
}

// CountUnread returns how many unread notifications the user has
func (r *NotificationRepository) CountUnread(ctx context.Context, userID int64) (int, error) {
	var count int
	err := sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = ? AND is_read = 0`, userID).Scan(&count)
	if err != nil {
		r.logger.Error("Failed to count unread notifications", zap.Int64("user_id", userID), zap.Error(err))
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

var _ port.NotificationRepository = (*NotificationRepository)(nil)
