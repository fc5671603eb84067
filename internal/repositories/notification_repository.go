package repositories

import (
	"context"
	"encoding/json"

	"github.com/jmoiron/sqlx"

	"chat-core/internal/models"
)

// NotificationRepository stores durable records (missed calls, messages that
// arrived while offline) the owner can query after reconnecting.
type NotificationRepository interface {
	Insert(ctx context.Context, userID int, kind string, payload any) (models.Notification, error)
	ListForUser(ctx context.Context, userID int, limit int) ([]models.Notification, error)
}

// NotificationRepo is a sqlx implementation.
type NotificationRepo struct {
	db *sqlx.DB
}

// NewNotificationRepo constructs a NotificationRepo.
func NewNotificationRepo(db *sqlx.DB) *NotificationRepo {
	return &NotificationRepo{db: db}
}

// Insert persists one notification record.
func (r *NotificationRepo) Insert(ctx context.Context, userID int, kind string, payload any) (models.Notification, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return models.Notification{}, err
	}
	var created models.Notification
	err = r.db.QueryRowxContext(ctx, `INSERT INTO notifications (user_id, kind, payload)
        VALUES ($1, $2, $3)
        RETURNING id, user_id, kind, payload, created_at`, userID, kind, body).StructScan(&created)
	return created, err
}

// ListForUser returns the newest notifications for the user.
func (r *NotificationRepo) ListForUser(ctx context.Context, userID int, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	var notifications []models.Notification
	err := r.db.SelectContext(ctx, &notifications, `SELECT id, user_id, kind, payload, created_at
        FROM notifications WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	return notifications, err
}
