package models

import (
	"encoding/json"
	"time"
)

// Notification kinds persisted for later retrieval by the owner.
const (
	NotificationMissedCall = "missed_call"
	NotificationNewMessage = "new_message"
)

// Notification is a durable record a client can query after reconnecting.
type Notification struct {
	ID        int             `db:"id" json:"id"`
	UserID    int             `db:"user_id" json:"user_id"`
	Kind      string          `db:"kind" json:"kind"`
	Payload   json.RawMessage `db:"payload" json:"payload"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}
