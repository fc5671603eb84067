package models

import "time"

// Message status values. Status only moves forward along
// scheduled -> sent -> delivered -> seen, with the single
// scheduled -> cancelled branch.
const (
	StatusScheduled = "scheduled"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusSeen      = "seen"
	StatusCancelled = "cancelled"
)

// Message represents a 1:1 or group chat message. Exactly one of
// ReceiverID / GroupID is set.
type Message struct {
	ID                int        `db:"id" json:"id"`
	SenderID          int        `db:"sender_id" json:"sender_id"`
	ReceiverID        *int       `db:"receiver_id" json:"receiver_id,omitempty"`
	GroupID           *int       `db:"group_id" json:"group_id,omitempty"`
	Content           string     `db:"content" json:"content"`
	TranslatedContent *string    `db:"translated_content" json:"translated_content,omitempty"`
	DetectedLang      *string    `db:"detected_lang" json:"detected_lang,omitempty"`
	ClientMessageID   *string    `db:"client_message_id" json:"client_message_id,omitempty"`
	Status            string     `db:"status" json:"status"`
	ScheduledFor      *time.Time `db:"scheduled_for" json:"scheduled_for,omitempty"`
	SentAt            *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	DeliveredAt       *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
	SeenAt            *time.Time `db:"seen_at" json:"seen_at,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
}

// IsGroup reports whether the message targets a group.
func (m Message) IsGroup() bool {
	return m.GroupID != nil
}

// Receipt tracks one group member's delivery progress for a message.
type Receipt struct {
	MessageID   int        `db:"message_id" json:"message_id"`
	MemberID    int        `db:"member_id" json:"member_id"`
	DeliveredAt *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
	SeenAt      *time.Time `db:"seen_at" json:"seen_at,omitempty"`
}
