package entity

import "time"

// NotificationType classifies in-app notifications
type NotificationType string

const (
	NotificationInfo    NotificationType = "INFO"
	NotificationSuccess NotificationType = "SUCCESS"
	NotificationWarning NotificationType = "WARNING"
	NotificationError   NotificationType = "ERROR"
)

// Notification is an in-app inbox message
type Notification struct {
	ID         int64            `json:"id"`
	UserID     int64            `json:"user_id"`
	Type       NotificationType `json:"type"`
	Title      string           `json:"title"`
	Message    string           `json:"message"`
	IsRead     bool             `json:"is_read"`
	EntityType string           `json:"entity_type,omitempty"`
	EntityID   *int64           `json:"entity_id,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}
